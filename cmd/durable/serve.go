package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-durable/durable/diag"
	"github.com/go-durable/durable/samples/checkout"
	"github.com/go-durable/durable/worker"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func newServeCommand(a *app) *cobra.Command {
	var stock map[string]int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a worker executing workflows, together with the diagnostics endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			b, err := a.backend(true)
			if err != nil {
				return err
			}
			defer b.Close()

			w := worker.New(b, &worker.Options{
				ExecutorID:           a.v.GetString("worker.executor_id"),
				Pollers:              a.v.GetInt("worker.pollers"),
				MaxParallelWorkflows: a.v.GetInt("worker.max_parallel"),
				HeartbeatInterval:    a.v.GetDuration("worker.heartbeat_interval"),
				LeaseTimeout:         a.v.GetDuration("worker.lease_timeout"),
				RecoveryInterval:     a.v.GetDuration("worker.recovery_interval"),
			})
			addr := a.v.GetString("worker.addr")

			if sb, ok := b.(sqlBackend); ok {
				shop := checkout.NewShop(sb.DB(), dialect(a.cfg.Backend))
				if err := shop.Setup(ctx); err != nil {
					return err
				}

				for sku, n := range stock {
					if err := shop.Restock(ctx, sku, n); err != nil {
						return err
					}
				}

				if err := shop.Register(w); err != nil {
					return err
				}
			} else {
				a.logger.Warn("Checkout workflow needs a SQL backend, not registering it", "backend", a.cfg.Backend)
			}

			if err := w.Start(ctx); err != nil {
				return err
			}

			srv := &http.Server{
				Addr:              addr,
				Handler:           otelhttp.NewHandler(diag.NewServeMux(b), "diag", otelhttp.WithTracerProvider(a.tp)),
				ReadHeaderTimeout: 5 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("Serving diagnostics", "addr", addr, "executor", w.ExecutorID())
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case <-ctx.Done():
			case err := <-errCh:
				if err != nil {
					stop()
					_ = w.WaitForCompletion()
					return err
				}
			}

			a.logger.Info("Shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), 10*time.Second)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("Stopping diagnostics server", "error", err)
			}

			return w.WaitForCompletion()
		},
	}

	// Worker settings can also be set in the worker section of the config file
	workerFlags := pflag.NewFlagSet("worker", pflag.ContinueOnError)
	workerFlags.String("addr", ":3000", "listen address of the diagnostics endpoint")
	workerFlags.String("executor-id", "", "executor id of this worker, random if empty")
	workerFlags.Int("pollers", worker.DefaultOptions.Pollers, "number of pollers")
	workerFlags.Int("max-parallel", worker.DefaultOptions.MaxParallelWorkflows, "maximum concurrently executing workflows, 0 is unlimited")
	workerFlags.Duration("heartbeat-interval", worker.DefaultOptions.HeartbeatInterval, "interval between lease renewals")
	workerFlags.Duration("lease-timeout", worker.DefaultOptions.LeaseTimeout, "time without heartbeat after which an instance is recovered")
	workerFlags.Duration("recovery-interval", worker.DefaultOptions.RecoveryInterval, "interval between recovery scans")

	if err := bindFlags(a.v, "worker", workerFlags); err != nil {
		panic(err)
	}

	cmd.Flags().AddFlagSet(workerFlags)
	cmd.Flags().StringToIntVar(&stock, "stock", nil, "initial inventory of the checkout sample, sku=count")

	return cmd
}
