package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ariyn/relalg/internal/log"
	"github.com/ariyn/relalg/internal/relalg/expr"
	"github.com/ariyn/relalg/internal/relalg/types"
	"github.com/ariyn/relalg/relalg"
)

var submitOpts struct {
	tables  []string
	url     string
	local   int
	timeout time.Duration
	sink    SinkConfig
}

var submitCmd = &cobra.Command{
	Use:   "submit [expression]",
	Short: "compute an expression over CSV tables",
	Long: `
Loads the tables named with --table, computes the expression and writes the
result. Tables are CSV files with a typed header such as id:Int,email:String.

  relalg submit --table A=a.csv --table B=b.csv --table C=c.csv '(A & B) | C'

Operators: & intersect, | union, \ difference, x or * product. Intersection
and product bind tighter than union and difference.
`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

func init() {
	f := submitCmd.Flags()
	f.StringArrayVarP(&submitOpts.tables, "table", "t", nil, "table as NAME=PATH.csv, repeatable")
	f.StringVar(&submitOpts.url, "url", "", "manager task endpoint (default from the manager config)")
	f.IntVar(&submitOpts.local, "local", 0, "compute in-process with this many workers instead of a manager")
	f.DurationVar(&submitOpts.timeout, "timeout", 0, "cancel the computation after this long")
	f.StringVar(&submitOpts.sink.Type, "sink", "console", "console, file or parquet")
	f.StringVarP(&submitOpts.sink.Path, "out", "o", "", "output path of a file or parquet sink")
	f.StringVar(&submitOpts.sink.Format, "format", "json", "file sink format: json or csv")
	f.IntVar(&submitOpts.sink.Limit, "limit", defaultConsoleLimit, "rows shown on the console, -1 for all")
	f.StringVar(&submitOpts.sink.Compression, "compression", "zstd", "parquet compression")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if submitOpts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, submitOpts.timeout)
		defer cancel()
	}

	tables, err := loadTables(submitOpts.tables)
	if err != nil {
		return err
	}
	n, err := parseExpression(args[0], tables)
	if err != nil {
		return fmt.Errorf("invalid expression: %w", err)
	}
	sink, err := newSink(submitOpts.sink)
	if err != nil {
		return err
	}
	defer sink.Close()

	start := time.Now()
	res, err := compute(ctx, cfg, n)
	if err != nil {
		return err
	}
	log.Verbosef(ctx, "computed %s in %s", n, time.Since(start))
	if err := sink.WriteTable(res); err != nil {
		return err
	}
	return sink.Close()
}

func compute(ctx context.Context, cfg Config, n *expr.Node) (*types.Table, error) {
	if submitOpts.local > 0 {
		l, err := relalg.StartLocal(submitOpts.local)
		if err != nil {
			return nil, err
		}
		defer l.Close()
		return l.Compute(ctx, n)
	}

	url := submitOpts.url
	if url == "" {
		url = managerURL(cfg.Manager)
	}
	comp, err := relalg.Connect(url).Compute(ctx, n)
	if err != nil {
		return nil, err
	}
	select {
	case <-comp.Done():
	case <-ctx.Done():
		comp.Cancel()
	}
	return comp.Get(context.WithoutCancel(ctx))
}

// managerURL derives the task endpoint a local client should dial.
func managerURL(m ManagerConfig) string {
	host := m.Addr
	if strings.HasPrefix(host, ":") {
		host = "127.0.0.1" + host
	}
	return "ws://" + host + m.Path
}

func loadTables(specs []string) (map[string]*types.Table, error) {
	tables := make(map[string]*types.Table, len(specs))
	for _, spec := range specs {
		name, path, ok := strings.Cut(spec, "=")
		if !ok || name == "" || path == "" {
			return nil, fmt.Errorf("invalid --table %q, expected NAME=PATH", spec)
		}
		if _, dup := tables[name]; dup {
			return nil, fmt.Errorf("table %s given twice", name)
		}
		t, err := loadCSVTable(name, path)
		if err != nil {
			return nil, err
		}
		tables[name] = t
	}
	return tables, nil
}
