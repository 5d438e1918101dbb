package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ricardo-duarte-av/andromuks-sub007/internal/app"
	"github.com/ricardo-duarte-av/andromuks-sub007/internal/errutil"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Starts the media cache HTTP server",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			errutil.ReportError(err, "Invalid configuration")
			os.Exit(1)
		}
		cfg.Port = viper.GetInt("port")
		cfg.EvictionInterval = viper.GetDuration("eviction-interval")
		cfg.MaxAge = viper.GetDuration("max-age")
		cfg.NetworkPollInterval = viper.GetDuration("network-poll-interval")
		cfg.BackendURL = viper.GetString("backend-url")
		cfg.Metrics = viper.GetBool("metrics")

		server, cleanup, err := app.NewServer(cfg)
		if err != nil {
			errutil.ReportError(err, "Failed to initialize server")
			os.Exit(1)
		}
		defer cleanup()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			errutil.LogMsg(server.Shutdown(shutdownCtx), "Failed to shut down server")
		}()

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errutil.ReportError(err, "Server failed")
			cleanup()
			os.Exit(1)
		}
		slog.Info("Server stopped")
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	flags := serveCmd.Flags()
	flags.Int("port", 8080, "Port to run the server on")
	flags.Duration("eviction-interval", time.Minute, "Interval between maintenance passes")
	flags.Duration("max-age", 0, "Remove invisible media idle for longer, 0 disables")
	flags.Duration("network-poll-interval", 2*time.Second, "Interface rescan interval, negative disables network monitoring")
	flags.String("backend-url", "", "Sync backend URL to reconnect on network changes")
	flags.Bool("metrics", true, "Expose Prometheus metrics on /metrics")

	bindFlags(flags)
}
