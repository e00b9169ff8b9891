package main

import (
	"context"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ariyn/relalg/internal/log"
	"github.com/ariyn/relalg/internal/relalg/broker"
	"github.com/ariyn/relalg/internal/relalg/metrics"
	"github.com/ariyn/relalg/internal/relalg/worker"
)

var workerMetricsAddr string

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "execute tasks from the task queue",
	Long: `
Runs worker.instances workers, each computing one task at a time and
replying to the manager that published it.
`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().StringVar(&workerMetricsAddr, "metrics-addr", "", "serve /metrics on this address")
}

func runWorker(cmd *cobra.Command, _ []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	b, err := cfg.openBroker()
	if err != nil {
		return err
	}
	defer b.Close()
	if _, ok := b.(*broker.Memory); ok {
		log.Warningf(ctx, "a memory:// broker is private to this process; no manager can reach these workers")
	}

	g, gctx := errgroup.WithContext(ctx)
	m := runWorkers(gctx, g, b, cfg)
	if workerMetricsAddr != "" {
		srv := &http.Server{Addr: workerMetricsAddr, Handler: m.Handler(), ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	return ignoreCancel(ctx, g.Wait())
}

// runWorkers starts cfg.Worker.Instances workers in g. They share one set of
// metrics, which is returned.
func runWorkers(ctx context.Context, g *errgroup.Group, b broker.Broker, cfg Config) *metrics.Metrics {
	m := metrics.New()
	for i := 0; i < cfg.Worker.Instances; i++ {
		w := worker.New(b, worker.Config{TaskQueue: cfg.Broker.TaskQueue, ID: i}, m)
		g.Go(func() error { return w.Run(ctx) })
	}
	return m
}
