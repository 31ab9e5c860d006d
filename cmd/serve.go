package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/research-pipeline/internal/config"
	"github.com/sells-group/research-pipeline/internal/lock"
	"github.com/sells-group/research-pipeline/internal/monitoring"
	"github.com/sells-group/research-pipeline/internal/server"
)

var servePort int

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the research session API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildHandler(env),
			ReadHeaderTimeout: 10 * time.Second,
		}

		startBackground(ctx, env)

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// buildHandler returns the API handler for env.
func buildHandler(env *appEnv) http.Handler {
	return server.New(env.Service, server.Options{
		Hub:            env.Hub,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Heartbeat:      config.Seconds(cfg.Server.HeartbeatSecs),
	})
}

// startBackground runs the lock janitor, the progress stream sweeper and
// the session health checker until ctx is done.
func startBackground(ctx context.Context, env *appEnv) {
	go lock.Janitor(ctx, env.Locks, config.Seconds(cfg.Lock.JanitorSecs))
	go env.Hub.Run(ctx, config.Seconds(cfg.Progress.SweepSecs))
	if cfg.Monitoring.Enabled {
		go newChecker(env).Run(ctx)
	}
}

func newChecker(env *appEnv) *monitoring.Checker {
	collector := monitoring.NewCollector(env.Store, env.Intel, env.Hub)
	return monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), env.Service, cfg.Monitoring)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
