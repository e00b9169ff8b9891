package main

import (
	"fmt"

	"github.com/ariyn/relalg/internal/relalg/types"
)

// Sink is the interface for result outputs
type Sink interface {
	// WriteTable writes a computed result.
	WriteTable(*types.Table) error
	Close() error
}

// SinkConfig selects and configures a sink.
type SinkConfig struct {
	Type string // console, file or parquet
	Path string
	// Format of a file sink: json or csv.
	Format string
	// Limit of rows shown by the console sink; negative shows all.
	Limit int
	// Compression of a parquet sink.
	Compression string
}

func newSink(cfg SinkConfig) (Sink, error) {
	switch cfg.Type {
	case "", "console":
		return NewConsoleSink(cfg), nil
	case "file":
		return NewFileSink(cfg)
	case "parquet":
		return NewParquetSink(cfg)
	default:
		return nil, fmt.Errorf("unsupported sink type: %s", cfg.Type)
	}
}
