// Command dispatchd hosts a dispatch.Facade behind an HTTP server: it loads
// configuration, seeds a handful of sample jobs, crons, and webhooks, and
// serves the composed Registry/Webhook routes until interrupted.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"oss.nandlabs.io/dispatch"
	"oss.nandlabs.io/dispatch/l3"
)

var logger = l3.Get()

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		logger.ErrorF("dispatchd: %v", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "dispatchd",
		Short: "Unified job scheduler: API-driven registry, cron engine, webhook dispatcher",
	}
	root.PersistentFlags().StringP("config", "c", "", "path to a YAML configuration file")
	root.AddCommand(newServeCmd())
	return root
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the dispatch server",
		RunE:  runServe,
	}
	cmd.Flags().String("addr", ":8080", "address to listen on")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")
	addr, _ := cmd.Flags().GetString("addr")

	var cfg *dispatch.Config
	if configPath != "" {
		loaded, err := dispatch.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
		logger.InfoF("dispatchd: loaded config from %s", configPath)
	} else {
		cfg = dispatch.DefaultConfig()
		logger.Info("dispatchd: no config path given, using defaults")
	}

	facade, err := dispatch.New(cfg)
	if err != nil {
		return fmt.Errorf("building facade: %w", err)
	}
	seedSamples(facade)

	if err := facade.Start(); err != nil {
		return fmt.Errorf("starting facade: %w", err)
	}

	server := &http.Server{
		Addr:    addr,
		Handler: facade.Routes(),
	}

	serveErrCh := make(chan error, 1)
	go func() {
		logger.InfoF("dispatchd: listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErrCh <- err
			return
		}
		serveErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.InfoF("dispatchd: received %s, shutting down", sig)
	case err := <-serveErrCh:
		if err != nil {
			return fmt.Errorf("serving: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.ErrorF("dispatchd: http shutdown: %v", err)
	}
	if err := facade.Stop(); err != nil {
		logger.ErrorF("dispatchd: facade shutdown: %v", err)
	}
	logger.Info("dispatchd: stopped")
	return nil
}

// seedSamples registers a few demonstration jobs, a cron schedule, and a
// webhook so a fresh `dispatchd serve` has something to exercise over HTTP
// without any external setup.
func seedSamples(facade *dispatch.Facade) {
	reg := facade.Registry()
	_, err := reg.Register("echo", "returns its input parameters unchanged", func(_ context.Context, params any) (any, error) {
		return params, nil
	}, true)
	if err != nil {
		logger.ErrorF("dispatchd: seeding echo job: %v", err)
	}

	engine := facade.CronEngine()
	if _, err := engine.Add("0 */5 * * * *", func() error {
		logger.Info("dispatchd: heartbeat cron fired")
		return nil
	}, true, true); err != nil {
		logger.ErrorF("dispatchd: seeding heartbeat cron: %v", err)
	}

	hooks := facade.Webhooks()
	if _, err := hooks.Register("echo", func(payload any) (any, error) {
		return payload, nil
	}, "", true); err != nil {
		logger.ErrorF("dispatchd: seeding echo webhook: %v", err)
	}
}
