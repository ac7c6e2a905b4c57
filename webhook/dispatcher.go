// Package webhook is the event-driven half of the scheduler: a path-routed
// table of handlers invoked synchronously from inbound HTTP requests, with
// optional HMAC-SHA256 signature authentication.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"oss.nandlabs.io/dispatch/l3"
	"oss.nandlabs.io/dispatch/managers"
)

var logger = l3.Get()

// Dispatcher maps URL paths to handlers. The zero value is not usable;
// construct one with New.
type Dispatcher struct {
	cfg Config

	// mu serializes Register/Unregister so the path-conflict check and the
	// paired byPath/byID updates stay atomic; reads go straight to the
	// managers' own locking.
	mu     sync.Mutex
	byPath managers.ItemManager[*registration]
	byID   managers.ItemManager[*registration]
}

// New constructs a Dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Dispatcher{
		cfg:    cfg,
		byPath: managers.NewItemManager[*registration](),
		byID:   managers.NewItemManager[*registration](),
	}, nil
}

// Register adds a new webhook at path and returns its id. secret may be
// empty, in which case the Dispatcher falls back to cfg.Secret (itself
// possibly empty, meaning no signature is required).
func (d *Dispatcher) Register(path string, handler HandlerFunc, secret string, enabled bool) (string, error) {
	if !d.cfg.Enabled {
		return "", ErrDisabled
	}
	if handler == nil {
		return "", fmt.Errorf("webhook: handler must not be nil")
	}
	if secret == "" {
		secret = d.cfg.Secret
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.byPath.Get(path) != nil {
		return "", ErrPathConflict
	}

	id := uuid.NewString()
	reg := &registration{
		id:        id,
		path:      path,
		handler:   handler,
		secret:    secret,
		createdAt: time.Now(),
		enabled:   enabled,
	}
	d.byPath.Register(path, reg)
	d.byID.Register(id, reg)
	logger.InfoF("webhook: registered %s at path %q", id, path)
	return id, nil
}

// Unregister removes a webhook by id.
func (d *Dispatcher) Unregister(webhookID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	reg := d.byID.Get(webhookID)
	if reg == nil {
		return ErrNotFound
	}
	d.byID.Unregister(webhookID)
	d.byPath.Unregister(reg.path)
	logger.InfoF("webhook: unregistered %s (path %q)", webhookID, reg.path)
	return nil
}

// ListPaths returns the paths of every enabled webhook.
func (d *Dispatcher) ListPaths() []string {
	items := d.byPath.Items()
	paths := make([]string, 0, len(items))
	for _, reg := range items {
		reg.mu.Lock()
		enabled := reg.enabled
		reg.mu.Unlock()
		if enabled {
			paths = append(paths, reg.path)
		}
	}
	return paths
}

// Get returns a projection of a registration by id, or ErrNotFound.
func (d *Dispatcher) Get(webhookID string) (*RegisteredWebhook, error) {
	reg := d.byID.Get(webhookID)
	if reg == nil {
		return nil, ErrNotFound
	}
	return reg.snapshot(), nil
}

// Dispatch locates the enabled registration at path, validates its
// signature if one is configured, invokes the handler synchronously, and
// returns the handler's result. The returned Outcome classifies what
// happened; every outcome except OutcomeNotFound is recorded in the
// webhook's invocation log before Dispatch returns.
func (d *Dispatcher) Dispatch(path string, payload any, signature string) (result any, outcome Outcome, err error) {
	reg := d.byPath.Get(path)
	if reg == nil {
		return nil, OutcomeNotFound, ErrNotFound
	}

	reg.mu.Lock()
	enabled := reg.enabled
	secret := reg.secret
	handler := reg.handler
	reg.mu.Unlock()

	if !enabled {
		return nil, OutcomeNotFound, ErrNotFound
	}

	if d.cfg.ValidateSignatures && secret != "" {
		if !validSignature(secret, payload, signature) {
			reg.record(OutcomeUnauthorized)
			return nil, OutcomeUnauthorized, ErrUnauthorized
		}
	}

	result, err = invoke(handler, payload)
	if err != nil {
		reg.record(OutcomeHandlerError)
		return nil, OutcomeHandlerError, err
	}
	reg.record(OutcomeSuccess)
	return result, OutcomeSuccess, nil
}

// InvocationLog returns the recent dispatch outcomes for a webhook, oldest
// first.
func (d *Dispatcher) InvocationLog(webhookID string) ([]InvocationRecord, error) {
	reg := d.byID.Get(webhookID)
	if reg == nil {
		return nil, ErrNotFound
	}
	return reg.invocationLog(), nil
}

// invoke calls fn, converting a panic into an error.
func invoke(fn HandlerFunc, payload any) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn(payload)
}

// validSignature re-marshals payload into canonical JSON (no insignificant
// whitespace, map keys sorted — what encoding/json produces for the maps a
// decoded JSON object becomes; struct fields keep their declaration order)
// and compares its HMAC-SHA256 against the supplied hex signature using a
// constant-time comparison.
func validSignature(secret string, payload any, signature string) bool {
	if signature == "" {
		return false
	}
	canonical, err := json.Marshal(payload)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(canonical)
	expected := hex.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}
