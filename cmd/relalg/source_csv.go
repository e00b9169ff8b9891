package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ariyn/relalg/internal/relalg/types"
)

// loadCSVTable reads a table from a CSV file whose header declares each
// column as name:Domain, e.g. "id:Int,email:String". A column without a
// domain is a String.
func loadCSVTable(name, path string) (*types.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}
	defer f.Close()
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return readCSVTable(name, f)
}

func readCSVTable(name string, r io.Reader) (*types.Table, error) {
	reader := csv.NewReader(r)
	headers, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read headers: %w", err)
	}

	b := types.NewBuilder(name)
	domains := make([]types.Domain, len(headers))
	for i, h := range headers {
		col, domain, found := strings.Cut(h, ":")
		d := types.DomainString
		if found {
			if d, err = types.ParseDomain(domain); err != nil {
				return nil, fmt.Errorf("column %d of %s: %w", i+1, name, err)
			}
		}
		domains[i] = d
		b.Column(strings.TrimSpace(col), d)
	}

	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("error reading csv record: %w", err)
		}
		values := make([]any, len(record))
		for i, raw := range record {
			if i >= len(domains) {
				return nil, fmt.Errorf("line %d of %s: too many values", line, name)
			}
			v, err := parseValue(raw, domains[i])
			if err != nil {
				return nil, fmt.Errorf("line %d of %s: failed to parse value '%s' for column %d as %s: %w", line, name, raw, i+1, domains[i], err)
			}
			values[i] = v
		}
		b.Insert(values...)
	}
	return b.Build()
}

func parseValue(value string, d types.Domain) (any, error) {
	switch d {
	case types.DomainInt:
		v, err := strconv.ParseInt(strings.TrimSpace(value), 10, 32)
		return int32(v), err
	case types.DomainLong:
		return strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	case types.DomainDouble:
		return strconv.ParseFloat(strings.TrimSpace(value), 64)
	case types.DomainBool:
		return strconv.ParseBool(strings.TrimSpace(value))
	case types.DomainDateTime:
		return time.ParseInLocation(types.DateTimeLayout, strings.TrimSpace(value), time.UTC)
	case types.DomainChar:
		return value, nil
	case types.DomainString:
		return value, nil
	default:
		return nil, fmt.Errorf("unsupported domain: %s", d)
	}
}
