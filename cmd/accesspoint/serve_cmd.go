package main

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/rdehuyss/oxalis/internal/outbound"
	"github.com/rdehuyss/oxalis/internal/server"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the transmission API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}

			logger := newLogger(cfg.Log, os.Stderr)
			logger.Info("starting access point",
				"version", version,
				"build_id", buildID,
				"mode", cfg.Mode,
				"locator", cfg.Lookup.Locator)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			dir, _, err := buildDirectory(cfg.Lookup, logger)
			if err != nil {
				return fmt.Errorf("lookup: %w", err)
			}
			resolver, err := buildResolver(cfg, dir, logger, reg)
			if err != nil {
				return err
			}

			store, err := buildStore(ctx, cfg.Storage)
			if err != nil {
				return fmt.Errorf("storage: %w", err)
			}
			defer store.Close(context.WithoutCancel(ctx))

			var cert *x509.Certificate
			if cfg.Certificate.File != "" {
				if cert, err = loadCertificate(cfg.Certificate.File); err != nil {
					return fmt.Errorf("certificate.file: %w", err)
				}
			}

			svc, err := outbound.NewService(outbound.Config{
				Resolver:        resolver,
				Store:           store,
				OverrideAllowed: cfg.OverrideAllowed(),
				Sniffing:        true,
				Logger:          logger,
				Registerer:      reg,
			})
			if err != nil {
				return err
			}

			srv, err := server.New(cfg, server.Deps{
				Outbound:    svc,
				Build:       server.BuildInfo{Version: version, BuildID: buildID, Timestamp: buildTime},
				Certificate: cert,
				Gatherer:    reg,
				Logger:      logger,
			})
			if err != nil {
				return err
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start(fmt.Sprintf(":%d", cfg.Server.Port))
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}
