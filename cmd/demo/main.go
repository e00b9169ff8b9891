package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"golang.org/x/sync/errgroup"

	"github.com/ariyn/relalg/internal/log"
	"github.com/ariyn/relalg/internal/relalg/broker"
	"github.com/ariyn/relalg/internal/relalg/manager"
	"github.com/ariyn/relalg/internal/relalg/worker"
	"github.com/ariyn/relalg/relalg"
)

func main() {
	url := flag.String("url", "", "manager task endpoint; empty runs an embedded manager")
	workers := flag.Int("workers", 3, "embedded workers")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Println("║  relalg Demo: 세 개의 표현식을 동시에 계산               ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	if *url == "" {
		endpoint, shutdown, err := embedded(ctx, *workers)
		if err != nil {
			fmt.Printf("❌ 매니저 시작 실패: %v\n", err)
			os.Exit(1)
		}
		defer shutdown()
		*url = endpoint
	}

	if err := run(ctx, *url); err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}
}

// embedded starts a manager on a loopback port with workers behind an
// in-process broker.
func embedded(ctx context.Context, workers int) (string, func(), error) {
	b := broker.NewMemory()
	mgr, err := manager.Start(ctx, b, nil, manager.Config{Addr: "127.0.0.1:0"})
	if err != nil {
		_ = b.Close()
		return "", nil, err
	}
	wctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		w := worker.New(b, worker.Config{ID: i}, nil)
		go func() {
			defer wg.Done()
			if err := w.Run(wctx); err != nil {
				log.Errorf(wctx, "worker stopped: %v", err)
			}
		}()
	}
	return mgr.URL(), func() {
		_ = mgr.Close()
		cancel()
		wg.Wait()
		_ = b.Close()
	}, nil
}

func usersTable(name string, from, to int) *relalg.Table {
	b := relalg.NewTable(name).
		Column("id", relalg.Int).
		Column("email", relalg.String).
		Column("hire_date", relalg.DateTime)
	for i := from; i <= to; i++ {
		b.Insert(i, fmt.Sprintf("%d@mail.com", i), time.Date(2023, 1, i, 0, 0, 0, 0, time.UTC))
	}
	return b.MustBuild()
}

func run(ctx context.Context, url string) error {
	t1 := usersTable("users1", 1, 9)
	t2 := usersTable("users2", 7, 25)
	t3 := usersTable("users3", 20, 31)

	fmt.Println("📋 초기 테이블")
	for _, t := range []*relalg.Table{t1, t2, t3} {
		printTable(t)
	}

	exprs := []*relalg.Expr{
		relalg.Product(
			relalg.Union(
				relalg.Intersect(relalg.Intersect(t1, t2), relalg.Union(t2, t3)),
				relalg.Intersect(relalg.Intersect(t1, t2), t3),
			),
			t2,
		),
		relalg.Intersect(relalg.Product(t1, t2), relalg.Product(t2, t3)),
		relalg.Intersect(relalg.Union(relalg.Union(t1, t2), t3), t1),
	}

	client := relalg.Connect(url)
	results := make([]*relalg.Table, len(exprs))
	g, gctx := errgroup.WithContext(ctx)
	for i, e := range exprs {
		g.Go(func() error {
			comp, err := client.Compute(gctx, e)
			if err != nil {
				return fmt.Errorf("expression %d: %w", i+1, err)
			}
			res, err := comp.Get(gctx)
			if err != nil {
				comp.Cancel()
				return fmt.Errorf("expression %d: %w", i+1, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, e := range exprs {
		fmt.Println(strings.Repeat("━", 60))
		fmt.Printf("✅ 표현식 %d: %s\n", i+1, e)
		printTable(results[i])
	}
	return nil
}

func printTable(t *relalg.Table) {
	fmt.Printf("\n%s\n", t.Name())
	header := make([]string, t.NumColumns())
	for i, c := range t.Columns() {
		header[i] = c.Name
	}
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetAutoFormatHeaders(false)
	tw.SetHeader(header)
	for i, r := range t.Rows() {
		if i == 10 {
			break
		}
		row := make([]string, len(r))
		for j, v := range r {
			row[j] = relalg.FormatValue(v)
		}
		tw.Append(row)
	}
	tw.Render()
	fmt.Printf("(%d rows)\n\n", t.NumRows())
}
