package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hed1ad/nidsguard/pkg/server"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve predictions over HTTP",
		Long: `Serve loads the model bundle and answers POST /predict with a prediction
for the JSON connection record in the body. SIGHUP or POST /reload re-reads
the bundle; SIGINT and SIGTERM shut down gracefully.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("addr") {
				a.cfg.Server.Addr = addr
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}

			bundle, _, err := a.loadScorer()
			if err != nil {
				return err
			}

			srv, err := server.New(bundle,
				server.WithLogger(a.logger),
				server.WithModelsDir(a.cfg.ModelsDir),
				server.WithRateLimit(a.cfg.Server.RateLimit.QPS, a.cfg.Server.RateLimit.Burst),
			)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return srv.ListenAndServe(ctx, a.cfg.Server.Addr, a.cfg.Server.ShutdownTimeout)
			})
			g.Go(func() error {
				reloadOnHangup(ctx, srv, a.logger)
				return nil
			})

			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, :8000)")
	return cmd
}

func reloadOnHangup(ctx context.Context, srv *server.Server, logger *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			logger.Info("SIGHUP received, reloading models")
			// Reload logs its own failures.
			_, _ = srv.Reload(ctx)
		}
	}
}
