package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/opscore"
	"github.com/GoCodeAlone/opscore/admin"
	"github.com/GoCodeAlone/opscore/metrics"
)

const shutdownTimeout = 10 * time.Second

// ServeOptions holds the flags of the serve command
type ServeOptions struct {
	ConfigFile string
	Addr       string
	LogLevel   string
	JSONLogs   bool
}

// NewServeCommand creates the serve command
func NewServeCommand() *cobra.Command {
	opts := &ServeOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the core and its admin API",
		Long: `Start the core with the business module catalog, then serve the admin API
with health, module management, event and metrics endpoints until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigFile, "config", "c", "", "Config file (yaml, toml or json)")
	cmd.Flags().StringVar(&opts.Addr, "addr", ":8080", "Admin API listen address")
	cmd.Flags().StringVar(&opts.LogLevel, "log-level", string(opscore.InfoLevel), "Log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&opts.JSONLogs, "json", false, "Write logs as JSON")

	return cmd
}

func runServe(ctx context.Context, opts *ServeOptions) error {
	logger := opscore.NewZerologLogger(opscore.LogConfig{
		Level:      opscore.LogLevel(opts.LogLevel),
		JSONOutput: opts.JSONLogs,
	})

	sink, err := metrics.NewPrometheusSink(nil)
	if err != nil {
		return err
	}

	coreOpts := []opscore.Option{
		opscore.WithLogger(logger.WithComponent("core")),
		opscore.WithSink(sink),
	}
	if opts.ConfigFile != "" {
		coreOpts = append(coreOpts, opscore.WithConfigFile(opts.ConfigFile))
	}
	core, err := opscore.New(coreOpts...)
	if err != nil {
		return err
	}
	if err := core.Start(ctx); err != nil {
		return err
	}

	router := admin.NewRouter(core,
		admin.WithMetricsHandler(sink.Handler()),
		admin.WithLogger(logger.WithComponent("admin")),
	)
	srv := admin.Server(opts.Addr, router)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Admin API listening", "addr", opts.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case err = <-serveErr:
		if err != nil {
			logger.Error("Admin API failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(err, srv.Shutdown(shutdownCtx), core.Stop(shutdownCtx))
}
