package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	identity "github.com/actionjacksonthegoat-debug/SeventySix-sub005"
	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/internal/httpapi"
	promexport "github.com/actionjacksonthegoat-debug/SeventySix-sub005/metrics/export/prometheus"
	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/migrations"
)

func newServeCmd(a *app) *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply schema migrations before serving")
	return cmd
}

func (a *app) serve(ctx context.Context, migrate bool) error {
	db, err := a.openDB(ctx)
	if err != nil {
		return err
	}
	if migrate {
		if err := migrations.Apply(ctx, db); err != nil {
			return err
		}
	}
	e, err := a.openEngine(ctx, db)
	if err != nil {
		return err
	}

	api := httpapi.New(e, httpapi.Options{
		AllowedOrigins:      a.settings.AllowedOrigins,
		IPRequestsPerMinute: a.settings.IPPerMinute,
		IPBurst:             a.settings.IPBurst,
		TrustProxyHeaders:   a.settings.TrustProxy,
		Metrics:             promexport.NewCollector(e).Handler(),
		Logger:              a.log.Named("http"),
	})

	srv := &http.Server{
		Addr:              a.settings.Listen,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go a.purgeLoop(ctx, e)

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.settings.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// purgeLoop deletes expired challenges, tokens and devices until ctx ends.
func (a *app) purgeLoop(ctx context.Context, e *identity.Engine) {
	if a.settings.PurgeInterval <= 0 {
		return
	}
	ticker := time.NewTicker(a.settings.PurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := e.PurgeExpired(ctx)
			if err != nil {
				a.log.Warn("purge failed", zap.Error(err))
				continue
			}
			if res.Total() > 0 {
				a.log.Info("purged expired rows",
					zap.Int64("challenges", res.Challenges),
					zap.Int64("refresh_tokens", res.RefreshTokens),
					zap.Int64("trusted_devices", res.TrustedDevices),
				)
			}
		}
	}
}
