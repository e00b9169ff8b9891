package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariyn/relalg/internal/relalg/broker"
	"github.com/ariyn/relalg/internal/relalg/manager"
	"github.com/ariyn/relalg/internal/relalg/worker"
)

func writeCSV(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestRunSubmit_Local(t *testing.T) {
	dir := t.TempDir()
	a := writeCSV(t, dir, "a.csv", "id:Int,email\n1,a\n2,b\n3,c\n")
	b := writeCSV(t, dir, "b.csv", "id:Int,email\n2,b\n3,c\n4,d\n")
	out := filepath.Join(dir, "out.csv")

	rootCmd.SetArgs([]string{"submit", "--local", "2", "-t", "A=" + a, "-t", "B=" + b,
		"--sink", "file", "--format", "csv", "-o", out, "A & B"})
	t.Cleanup(func() { submitOpts.local = 0 })
	require.NoError(t, rootCmd.ExecuteContext(context.Background()))

	got, err := loadCSVTable("(A & B)", out)
	require.NoError(t, err)
	assert.Equal(t, 2, got.NumRows())
}

func TestCompute_ThroughManager(t *testing.T) {
	mem := broker.NewMemory()
	defer mem.Close()
	mgr, err := manager.Start(context.Background(), mem, nil, manager.Config{Addr: "127.0.0.1:0"})
	require.NoError(t, err)
	defer mgr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = worker.New(mem, worker.Config{}, nil).Run(ctx) }()

	n, err := parseExpression("A x B", namedTables("A", "B"))
	require.NoError(t, err)

	submitOpts.url = mgr.URL()
	t.Cleanup(func() { submitOpts.url = "" })
	cctx, ccancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer ccancel()
	res, err := compute(cctx, defaultConfig(), n)
	require.NoError(t, err)
	assert.Equal(t, 1, res.NumRows())
	assert.Equal(t, 2, res.NumColumns())
}
