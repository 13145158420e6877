package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/go-durable/durable/backend"
	"github.com/go-durable/durable/backend/metrics"
	"github.com/go-durable/durable/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/trace"
)

// app carries the configuration and the resources opened for a command
type app struct {
	v   *viper.Viper
	cfg *config

	out    io.Writer
	logger *slog.Logger

	tp      trace.TracerProvider
	metrics metrics.Client

	shutdownFuncs []func(context.Context) error
}

func newRootCommand() *cobra.Command {
	a := &app{v: newViper(), out: os.Stdout}

	cmd := &cobra.Command{
		Use:           "durable",
		Short:         "Run and inspect durable workflows",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd.Context(), cmd.ErrOrStderr())
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.shutdown(context.WithoutCancel(cmd.Context()))
		},
	}

	if err := addPersistentFlags(cmd, a.v); err != nil {
		panic(err)
	}

	cmd.AddCommand(
		newMigrateCommand(a),
		newServeCommand(a),
		newStartCommand(a),
		newListCommand(a),
		newStatusCommand(a),
		newResultCommand(a),
		newSendCommand(a),
		newGetEventCommand(a),
	)

	return cmd
}

func (a *app) init(ctx context.Context, stderr io.Writer) error {
	cfg, err := loadConfig(a.v)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	a.cfg = cfg

	if a.logger, err = newLogger(stderr, cfg.Log.Format, cfg.Log.Level); err != nil {
		return err
	}

	tp, shutdownTracing, err := newTracerProvider(ctx, stderr, cfg.Trace.Exporter, cfg.Trace.Endpoint)
	if err != nil {
		return err
	}
	a.tp = tp
	a.shutdownFuncs = append(a.shutdownFuncs, shutdownTracing)

	mc, shutdownMetrics, err := newMetricsClient(stderr, cfg.Metrics.Exporter, cfg.Metrics.Interval)
	if err != nil {
		return err
	}
	a.metrics = mc
	a.shutdownFuncs = append(a.shutdownFuncs, shutdownMetrics)

	return nil
}

// shutdown flushes pending spans and metrics
func (a *app) shutdown(ctx context.Context) error {
	var errs []error
	for _, f := range a.shutdownFuncs {
		errs = append(errs, f(ctx))
	}

	return errors.Join(errs...)
}

func (a *app) backend(applyMigrations bool) (backend.Backend, error) {
	return openBackend(a.cfg, applyMigrations,
		backend.WithLogger(a.logger),
		backend.WithTracerProvider(a.tp),
		backend.WithMetrics(a.metrics),
		backend.WithPollingInterval(a.cfg.PollingInterval))
}

// withClient opens the backend, runs f with a client on it and closes the backend again
func (a *app) withClient(f func(b backend.Backend, c *client.Client) error) error {
	b, err := a.backend(false)
	if err != nil {
		return err
	}
	defer b.Close()

	return f(b, client.New(b))
}
