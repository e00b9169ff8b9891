package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/apache/arrow/go/v15/arrow"
	"github.com/apache/arrow/go/v15/arrow/array"
	"github.com/apache/arrow/go/v15/arrow/memory"
	"github.com/apache/arrow/go/v15/parquet"
	"github.com/apache/arrow/go/v15/parquet/compress"
	"github.com/apache/arrow/go/v15/parquet/pqarrow"

	"github.com/ariyn/relalg/internal/relalg/types"
)

// ParquetSink writes each result table to its own parquet file. The first
// table goes to Path, later ones to Path with a sequence suffix.
type ParquetSink struct {
	path        string
	compression compress.Compression
	mem         memory.Allocator
	fileSeq     int
	mu          sync.Mutex
}

func NewParquetSink(cfg SinkConfig) (*ParquetSink, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, fmt.Errorf("parquet sink path is required")
	}
	return &ParquetSink{
		path:        path,
		compression: parseCompression(cfg.Compression),
		mem:         memory.NewGoAllocator(),
	}, nil
}

func (s *ParquetSink) WriteTable(t *types.Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	schema := arrowSchema(t)
	rec, err := s.buildRecord(schema, t)
	if err != nil {
		return err
	}
	defer rec.Release()

	outPath := s.nextFilePath()
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return fmt.Errorf("mkdir parquet dir: %w", err)
	}
	f, err := os.OpenFile(outPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open parquet file %s: %w", outPath, err)
	}

	props := parquet.NewWriterProperties(parquet.WithCompression(s.compression))
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())
	w, err := pqarrow.NewFileWriter(schema, f, props, arrowProps)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("create parquet writer: %w", err)
	}
	if err := w.Write(rec); err != nil {
		_ = w.Close()
		return fmt.Errorf("write parquet record: %w", err)
	}
	// Closing the writer closes f.
	if err := w.Close(); err != nil {
		return fmt.Errorf("close parquet file %s: %w", outPath, err)
	}
	s.fileSeq++
	return nil
}

func (s *ParquetSink) Close() error {
	return nil
}

func (s *ParquetSink) nextFilePath() string {
	if s.fileSeq == 0 {
		return s.path
	}
	ext := filepath.Ext(s.path)
	return fmt.Sprintf("%s-%06d%s", strings.TrimSuffix(s.path, ext), s.fileSeq, ext)
}

func arrowType(d types.Domain) arrow.DataType {
	switch d {
	case types.DomainInt:
		return arrow.PrimitiveTypes.Int32
	case types.DomainLong:
		return arrow.PrimitiveTypes.Int64
	case types.DomainDouble:
		return arrow.PrimitiveTypes.Float64
	case types.DomainBool:
		return arrow.FixedWidthTypes.Boolean
	case types.DomainDateTime:
		return arrow.FixedWidthTypes.Timestamp_ms
	default:
		// String and Char.
		return arrow.BinaryTypes.String
	}
}

func arrowSchema(t *types.Table) *arrow.Schema {
	fields := make([]arrow.Field, t.NumColumns())
	for i, c := range t.Columns() {
		fields[i] = arrow.Field{Name: c.Name, Type: arrowType(c.Domain)}
	}
	return arrow.NewSchema(fields, nil)
}

func (s *ParquetSink) buildRecord(schema *arrow.Schema, t *types.Table) (arrow.Record, error) {
	b := array.NewRecordBuilder(s.mem, schema)
	defer b.Release()

	for i, c := range t.Columns() {
		fb := b.Field(i)
		for _, r := range t.Rows() {
			v := r[i]
			switch c.Domain {
			case types.DomainInt:
				fb.(*array.Int32Builder).Append(v.(int32))
			case types.DomainLong:
				fb.(*array.Int64Builder).Append(v.(int64))
			case types.DomainDouble:
				fb.(*array.Float64Builder).Append(v.(float64))
			case types.DomainBool:
				fb.(*array.BooleanBuilder).Append(v.(bool))
			case types.DomainDateTime:
				fb.(*array.TimestampBuilder).Append(arrow.Timestamp(v.(time.Time).UnixMilli()))
			case types.DomainString, types.DomainChar:
				fb.(*array.StringBuilder).Append(types.FormatValue(v))
			default:
				return nil, fmt.Errorf("column %s: unsupported domain %s", c.Name, c.Domain)
			}
		}
	}
	return b.NewRecord(), nil
}

func parseCompression(s string) compress.Compression {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return compress.Codecs.Zstd
	}
	switch s {
	case "zstd":
		return compress.Codecs.Zstd
	case "snappy":
		return compress.Codecs.Snappy
	case "gzip":
		return compress.Codecs.Gzip
	case "uncompressed", "none":
		return compress.Codecs.Uncompressed
	default:
		return compress.Codecs.Zstd
	}
}
