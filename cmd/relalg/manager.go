package main

import (
	"context"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ariyn/relalg/internal/log"
	"github.com/ariyn/relalg/internal/relalg/broker"
	"github.com/ariyn/relalg/internal/relalg/journal"
	"github.com/ariyn/relalg/internal/relalg/manager"
	"github.com/ariyn/relalg/internal/relalg/session"
)

var managerCmd = &cobra.Command{
	Use:   "manager",
	Short: "serve client sessions",
	Long: `
Accepts expressions on the WebSocket task endpoint, dispatches their tasks
to the task queue and returns the results. With a memory:// broker the
configured number of workers runs in the same process.
`,
	Args: cobra.NoArgs,
	RunE: runManager,
}

func runManager(cmd *cobra.Command, _ []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	mcfg, err := cfg.managerConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	b, err := cfg.openBroker()
	if err != nil {
		return err
	}
	defer b.Close()

	var rec session.Recorder
	if cfg.Journal.Enabled {
		var opts []journal.Option
		if cfg.Journal.KeepPayloads {
			opts = append(opts, journal.KeepPayloads())
		}
		j, err := journal.Open(cfg.Journal.Path, opts...)
		if err != nil {
			return err
		}
		defer j.Close()
		rec = j
		log.Infof(ctx, "recording sessions in %s", cfg.Journal.Path)
	}

	g, gctx := errgroup.WithContext(ctx)
	if _, ok := b.(*broker.Memory); ok {
		log.Infof(ctx, "running %d embedded workers", cfg.Worker.Instances)
		runWorkers(gctx, g, b, cfg)
	}
	g.Go(func() error {
		return manager.Run(gctx, b, rec, mcfg)
	})
	return ignoreCancel(ctx, g.Wait())
}

// ignoreCancel drops the error of a shutdown requested through ctx.
func ignoreCancel(ctx context.Context, err error) error {
	if err != nil && ctx.Err() != nil {
		log.Infof(ctx, "shutdown requested: %v", err)
		return nil
	}
	return err
}
