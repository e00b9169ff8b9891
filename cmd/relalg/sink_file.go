package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"sync"

	"github.com/ariyn/relalg/internal/relalg/types"
	"github.com/ariyn/relalg/internal/relalg/wire"
)

// FileSink writes results to a file, either as the wire JSON of the table
// (one table per line) or as CSV with a typed header that loadCSVTable can
// read back.
type FileSink struct {
	path   string
	format string
	file   *os.File
	mu     sync.Mutex
}

func NewFileSink(cfg SinkConfig) (*FileSink, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("file path is required")
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
	if cfg.Format != "json" && cfg.Format != "csv" {
		return nil, fmt.Errorf("unsupported format: %s", cfg.Format)
	}

	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", cfg.Path, err)
	}
	return &FileSink{path: cfg.Path, format: cfg.Format, file: f}, nil
}

func (s *FileSink) WriteTable(t *types.Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.format == "json" {
		b, err := wire.Marshal(wire.Table{Table: t})
		if err != nil {
			return err
		}
		_, err = s.file.Write(append(b, '\n'))
		return err
	}

	w := csv.NewWriter(s.file)
	header := make([]string, t.NumColumns())
	for i, c := range t.Columns() {
		header[i] = c.Name + ":" + c.Domain.String()
	}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, r := range t.Rows() {
		row := make([]string, len(r))
		for j, v := range r {
			row[j] = types.FormatValue(v)
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
