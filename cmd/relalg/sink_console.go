package main

import (
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"github.com/ariyn/relalg/internal/relalg/types"
)

const defaultConsoleLimit = 10

type ConsoleSink struct {
	out   io.Writer
	limit int
}

func NewConsoleSink(cfg SinkConfig) *ConsoleSink {
	limit := cfg.Limit
	if limit == 0 {
		limit = defaultConsoleLimit
	}
	return &ConsoleSink{out: os.Stdout, limit: limit}
}

// WriteTable prints the table name, the first rows and a row count.
func (s *ConsoleSink) WriteTable(t *types.Table) error {
	fmt.Fprintf(s.out, "%s\n", t.Name())

	header := make([]string, t.NumColumns())
	for i, c := range t.Columns() {
		header[i] = fmt.Sprintf("%s (%s)", c.Name, c.Domain)
	}
	table := tablewriter.NewWriter(s.out)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader(header)

	for i, r := range t.Rows() {
		if s.limit > 0 && i == s.limit {
			break
		}
		row := make([]string, len(r))
		for j, v := range r {
			row[j] = types.FormatValue(v)
		}
		table.Append(row)
	}
	table.Render()

	n := t.NumRows()
	if s.limit > 0 && n > s.limit {
		fmt.Fprintf(s.out, "... %s more\n", humanize.Comma(int64(n-s.limit)))
	}
	fmt.Fprintf(s.out, "(%s row%s)\n", humanize.Comma(int64(n)), plural(n))
	return nil
}

func (s *ConsoleSink) Close() error {
	return nil
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
