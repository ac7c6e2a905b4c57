package dispatch

import (
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/sync/errgroup"

	"oss.nandlabs.io/dispatch/cron"
	"oss.nandlabs.io/dispatch/l3"
	"oss.nandlabs.io/dispatch/registry"
	"oss.nandlabs.io/dispatch/turbo"
	"oss.nandlabs.io/dispatch/webhook"
)

var logger = l3.Get()

// Facade is the single construction point for the Job Registry, Cron
// Engine, and Webhook Dispatcher: one instance of each, a unified
// start/stop, and one composed HTTP handler.
type Facade struct {
	cfg *Config

	registry *registry.Registry
	engine   *cron.Engine
	webhooks *webhook.Dispatcher

	mux *http.ServeMux
}

// New constructs a Facade from cfg. Each subcomponent is built regardless of
// its Enabled flag; the flag governs whether its operations accept calls,
// not whether the handle exists.
func New(cfg *Config) (*Facade, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	reg, err := registry.New(cfg.API)
	if err != nil {
		return nil, fmt.Errorf("dispatch: building registry: %w", err)
	}
	engine, err := cron.NewFromConfig(&cfg.Cron.Config)
	if err != nil {
		return nil, fmt.Errorf("dispatch: building cron engine: %w", err)
	}
	hooks, err := webhook.New(cfg.Webhook)
	if err != nil {
		return nil, fmt.Errorf("dispatch: building webhook dispatcher: %w", err)
	}

	f := &Facade{
		cfg:      cfg,
		registry: reg,
		engine:   engine,
		webhooks: hooks,
	}
	f.buildRoutes()

	if cfg.Cron.Enabled && cfg.Cron.Expression != "" {
		expr := cfg.Cron.Expression
		if cfg.Cron.Timezone != "" {
			expr = "CRON_TZ=" + cfg.Cron.Timezone + " " + expr
		}
		if _, err := engine.Add(expr, func() error { return nil }, true, cfg.Cron.CatchUp); err != nil {
			return nil, fmt.Errorf("dispatch: seeding default cron schedule: %w", err)
		}
	}

	return f, nil
}

// Registry returns the handle the host uses to register/run/query jobs.
func (f *Facade) Registry() *registry.Registry { return f.registry }

// CronEngine returns the handle the host uses to add/remove/query
// scheduled jobs.
func (f *Facade) CronEngine() *cron.Engine { return f.engine }

// Webhooks returns the handle the host uses to register/unregister
// webhooks.
func (f *Facade) Webhooks() *webhook.Dispatcher { return f.webhooks }

// Start spawns the Cron Engine's tick loop. The Registry and Webhook
// Dispatcher are stateless with respect to background tasks and need no
// start step of their own.
func (f *Facade) Start() error {
	if !f.cfg.Cron.Enabled {
		return nil
	}
	if err := f.engine.Start(); err != nil {
		if err == cron.ErrAlreadyRunning {
			return nil
		}
		return err
	}
	logger.Info("dispatch: facade started")
	return nil
}

// Stop stops the Cron Engine. It does not cancel in-flight Registry
// executions; a production deployment is expected to quiesce traffic
// before calling Stop. The cron engine's stop runs inside an errgroup and is
// bounded by the engine's own grace period; no other subcomponent is stopped
// or drained.
func (f *Facade) Stop() error {
	var g errgroup.Group
	g.Go(func() error {
		if !f.cfg.Cron.Enabled {
			return nil
		}
		err := f.engine.Stop()
		if err == cron.ErrNotRunning {
			return nil
		}
		return err
	})
	err := g.Wait()
	logger.Info("dispatch: facade stopped")
	return err
}

// buildRoutes composes the Registry's job-management endpoints and the
// Webhook Dispatcher's endpoints into one http.Handler. The Registry uses
// turbo.Router for its path-variable routes; the Dispatcher's paths are
// arbitrary and runtime-registered, so it is mounted directly as a
// sub-handler under its configured prefix instead.
func (f *Facade) buildRoutes() {
	router := turbo.NewRouter()
	f.registry.RegisterRoutes(router)

	mux := http.NewServeMux()
	mux.Handle("/", router)

	prefix := strings.TrimRight(f.cfg.Webhook.Path, "/")
	if prefix == "" {
		prefix = "/webhooks"
	}
	mux.Handle(prefix+"/", http.StripPrefix(prefix, f.webhooks))

	f.mux = mux
}

// Routes returns the Facade's composed HTTP handler. The caller attaches
// this to its own public server.
func (f *Facade) Routes() http.Handler {
	return f.mux
}
