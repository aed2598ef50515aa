package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/loykin/pwstudio"
)

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API used by the editor UI.

The listen port comes from PORT (default 4000) unless server.listen is set.
Every config key can be overridden with PWSTUDIO_<SECTION>_<KEY>.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServeCommand(ctx, globalFlags, serveFlags)
		},
	}
	cmd.Flags().StringVar(&serveFlags.Listen, "listen", "", "listen address, overrides server.listen and PORT")
	cmd.Flags().StringVar(&serveFlags.BasePath, "base-path", "", "API base path, overrides server.base_path")
	return cmd
}

// runServeCommand serves until ctx is cancelled, then shuts down gracefully:
// in-flight requests get server.shutdown_timeout and an active recording is stopped.
func runServeCommand(ctx context.Context, globalFlags *GlobalFlags, flags *ServeFlags) error {
	studio, log, cleanup, err := openStudio(globalFlags, func(c *pwstudio.Config) {
		if flags.Listen != "" {
			c.Server.Listen = flags.Listen
		}
		if flags.BasePath != "" {
			c.Server.BasePath = flags.BasePath
		}
	})
	if err != nil {
		return err
	}
	defer cleanup()
	cfg := studio.Config()

	var metricsHandler http.Handler
	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		if err := pwstudio.RegisterMetricsDefault(); err != nil {
			log.Warn("failed to register metrics", "error", err)
		}
		if cfg.Metrics.Listen != "" {
			metricsSrv = pwstudio.NewMetricsServer(cfg.Metrics.Listen)
		} else {
			metricsHandler = pwstudio.MetricsHandler()
		}
	}
	srv, err := studio.NewHTTPServer(metricsHandler)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting pwstudio HTTP server", "addr", srv.Addr, "tls", srv.TLSConfig != nil, "base_path", cfg.Server.BasePath,
			"scratch_dir", studio.Store().ScratchDir, "saved_dir", studio.Store().SavedDir)
		return listen(srv)
	})
	if metricsSrv != nil {
		g.Go(func() error {
			log.Info("starting metrics server", "addr", metricsSrv.Addr)
			return listen(metricsSrv)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		studio.Recorder().Shutdown()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(sctx)
		if errors.Is(err, context.DeadlineExceeded) {
			err = srv.Close()
		}
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(sctx)
		}
		return err
	})
	return g.Wait()
}

func listen(srv *http.Server) error {
	var err error
	if srv.TLSConfig != nil {
		err = srv.ListenAndServeTLS("", "")
	} else {
		err = srv.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
