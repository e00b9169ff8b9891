package types

import (
	"fmt"
	"strings"
	"time"
)

// DateTimeLayout is the wire and display layout of DateTime values.
const DateTimeLayout = "2006-01-02 15:04:05"

// Domain is the type of a column.
type Domain uint8

const (
	DomainInt Domain = iota
	DomainLong
	DomainDouble
	DomainString
	DomainDateTime
	DomainBool
	DomainChar
)

var domainNames = [...]string{
	DomainInt:      "Int",
	DomainLong:     "Long",
	DomainDouble:   "Double",
	DomainString:   "String",
	DomainDateTime: "DateTime",
	DomainBool:     "Bool",
	DomainChar:     "Char",
}

func (d Domain) String() string {
	if int(d) < len(domainNames) {
		return domainNames[d]
	}
	return fmt.Sprintf("Domain(%d)", uint8(d))
}

// Valid reports whether d is one of the known domains.
func (d Domain) Valid() bool {
	return int(d) < len(domainNames)
}

// ParseDomain parses a domain name. Matching is case-insensitive.
func ParseDomain(s string) (Domain, error) {
	for i, name := range domainNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return Domain(i), nil
		}
	}
	return 0, fmt.Errorf("unknown domain %q", s)
}

func (d Domain) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("invalid domain %d", uint8(d))
	}
	return []byte(d.String()), nil
}

func (d *Domain) UnmarshalText(b []byte) error {
	v, err := ParseDomain(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// Char is the runtime type of DomainChar values. It is a distinct type so
// that it cannot be confused with an Int (int32) value.
type Char rune

func (c Char) String() string { return string(rune(c)) }

// FormatValue renders a canonical value for display.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case time.Time:
		return x.Format(DateTimeLayout)
	case string:
		return x
	}
	return fmt.Sprint(v)
}

// Column describes one column of a table.
type Column struct {
	Name   string `json:"name"`
	Domain Domain `json:"domain"`
}

// Operation is a binary relational operator.
type Operation uint8

const (
	OpNone Operation = iota
	OpIntersect
	OpUnion
	OpDifference
	OpProduct
)

var opNames = [...]string{
	OpNone:       "NONE",
	OpIntersect:  "INTERSECT",
	OpUnion:      "UNION",
	OpDifference: "DIFFERENCE",
	OpProduct:    "PRODUCT",
}

var opSymbols = [...]string{
	OpNone:       "?",
	OpIntersect:  "&",
	OpUnion:      "|",
	OpDifference: `\`,
	OpProduct:    "x",
}

func (o Operation) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("Operation(%d)", uint8(o))
}

// Symbol returns the infix symbol used in result table names.
func (o Operation) Symbol() string {
	if int(o) < len(opSymbols) {
		return opSymbols[o]
	}
	return "?"
}

// Binary reports whether o is an executable operator (not OpNone).
func (o Operation) Binary() bool {
	return o > OpNone && int(o) < len(opNames)
}

func (o Operation) MarshalText() ([]byte, error) {
	if int(o) >= len(opNames) {
		return nil, fmt.Errorf("invalid operation %d", uint8(o))
	}
	return []byte(opNames[o]), nil
}

func (o *Operation) UnmarshalText(b []byte) error {
	s := strings.ToUpper(strings.TrimSpace(string(b)))
	for i, name := range opNames {
		if name == s {
			*o = Operation(i)
			return nil
		}
	}
	return fmt.Errorf("unknown operation %q", string(b))
}

// NormalizeDateTime drops sub-second precision and monotonic readings so
// that equal wall-clock times compare equal with ==.
func NormalizeDateTime(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
}
