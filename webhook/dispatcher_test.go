package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"testing"

	"oss.nandlabs.io/dispatch/testing/assert"
)

func newEnabled(t *testing.T) *Dispatcher {
	t.Helper()
	d, err := New(Config{Enabled: true, Path: "/webhooks", ValidateSignatures: true})
	assert.NoError(t, err)
	return d
}

func sign(t *testing.T, secret string, payload any) string {
	t.Helper()
	canonical, err := json.Marshal(payload)
	assert.NoError(t, err)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestDispatcher_RegisterDuplicatePath(t *testing.T) {
	d := newEnabled(t)
	_, err := d.Register("pay", func(p any) (any, error) { return p, nil }, "", true)
	assert.NoError(t, err)

	_, err = d.Register("pay", func(p any) (any, error) { return p, nil }, "", true)
	assert.Equal(t, ErrPathConflict, err)
}

func TestDispatcher_NoSecretAcceptsAnySignature(t *testing.T) {
	d := newEnabled(t)
	_, err := d.Register("open", func(p any) (any, error) { return p, nil }, "", true)
	assert.NoError(t, err)

	result, outcome, err := d.Dispatch("open", map[string]any{"x": 1}, "")
	assert.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, outcome)
	assert.NotNil(t, result)
}

func TestDispatcher_AuthenticatedRoundTrip(t *testing.T) {
	d := newEnabled(t)
	_, err := d.Register("pay", func(p any) (any, error) { return p, nil }, "s3cret", true)
	assert.NoError(t, err)

	payload := map[string]any{"amount": float64(100)}
	sig := sign(t, "s3cret", payload)

	result, outcome, err := d.Dispatch("pay", payload, sig)
	assert.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, outcome)
	assert.NotNil(t, result)
}

func TestDispatcher_BadSignatureUnauthorized(t *testing.T) {
	d := newEnabled(t)
	_, err := d.Register("pay", func(p any) (any, error) { return p, nil }, "s3cret", true)
	assert.NoError(t, err)

	payload := map[string]any{"amount": float64(100)}
	sig := sign(t, "s3cret", payload)
	// Flip the last hex character to corrupt the signature by one nibble.
	flipped := []byte(sig)
	if flipped[len(flipped)-1] == '0' {
		flipped[len(flipped)-1] = '1'
	} else {
		flipped[len(flipped)-1] = '0'
	}

	_, outcome, err := d.Dispatch("pay", payload, string(flipped))
	assert.Equal(t, ErrUnauthorized, err)
	assert.Equal(t, OutcomeUnauthorized, outcome)
}

func TestDispatcher_UnknownPathNotFound(t *testing.T) {
	d := newEnabled(t)
	_, outcome, err := d.Dispatch("missing", nil, "")
	assert.Equal(t, ErrNotFound, err)
	assert.Equal(t, OutcomeNotFound, outcome)
}

func TestDispatcher_DisabledWebhookActsNotFound(t *testing.T) {
	d := newEnabled(t)
	id, err := d.Register("pay", func(p any) (any, error) { return p, nil }, "", false)
	assert.NoError(t, err)
	assert.NotNil(t, id)

	_, outcome, err := d.Dispatch("pay", nil, "")
	assert.Equal(t, ErrNotFound, err)
	assert.Equal(t, OutcomeNotFound, outcome)
}

func TestDispatcher_HandlerErrorReflectedInOutcome(t *testing.T) {
	d := newEnabled(t)
	_, err := d.Register("fails", func(p any) (any, error) { return nil, errors.New("nope") }, "", true)
	assert.NoError(t, err)

	_, outcome, err := d.Dispatch("fails", nil, "")
	assert.Equal(t, OutcomeHandlerError, outcome)
	assert.Error(t, err)
}

func TestDispatcher_HandlerPanicBecomesHandlerError(t *testing.T) {
	d := newEnabled(t)
	_, err := d.Register("panics", func(p any) (any, error) { panic("boom") }, "", true)
	assert.NoError(t, err)

	_, outcome, err := d.Dispatch("panics", nil, "")
	assert.Equal(t, OutcomeHandlerError, outcome)
	assert.Error(t, err)
}

func TestDispatcher_UnregisterRemovesPath(t *testing.T) {
	d := newEnabled(t)
	id, err := d.Register("pay", func(p any) (any, error) { return p, nil }, "", true)
	assert.NoError(t, err)

	assert.NoError(t, d.Unregister(id))

	_, outcome, err := d.Dispatch("pay", nil, "")
	assert.Equal(t, ErrNotFound, err)
	assert.Equal(t, OutcomeNotFound, outcome)
}

func TestDispatcher_ListPathsOnlyEnabled(t *testing.T) {
	d := newEnabled(t)
	_, err := d.Register("on", func(p any) (any, error) { return p, nil }, "", true)
	assert.NoError(t, err)
	_, err = d.Register("off", func(p any) (any, error) { return p, nil }, "", false)
	assert.NoError(t, err)

	paths := d.ListPaths()
	assert.Equal(t, 1, len(paths))
	assert.Equal(t, "on", paths[0])
}

func TestDispatcher_MultiSegmentPath(t *testing.T) {
	d := newEnabled(t)
	_, err := d.Register("a/b", func(p any) (any, error) { return p, nil }, "", true)
	assert.NoError(t, err)

	_, outcome, err := d.Dispatch("a/b", nil, "")
	assert.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, outcome)
}

func TestDispatcher_InvocationLog(t *testing.T) {
	d := newEnabled(t)
	id, err := d.Register("pay", func(p any) (any, error) { return p, nil }, "", true)
	assert.NoError(t, err)

	_, _, err = d.Dispatch("pay", nil, "")
	assert.NoError(t, err)

	log, err := d.InvocationLog(id)
	assert.NoError(t, err)
	assert.Equal(t, 1, len(log))
	assert.Equal(t, OutcomeSuccess, log[0].Outcome)
}
