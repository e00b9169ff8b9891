// Package log is a small leveled logger. Each line carries a timestamp, a
// coloured level and the logtags attached to the context:
//
//	2024-05-01 10:00:00 [INFO] [session=3f2a…,task=t2] task published
package log

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/logtags"
	"github.com/fatih/color"
)

type level int

const (
	levelVerbose level = iota
	levelInfo
	levelWarning
	levelError
)

var levels = map[level]struct {
	name  string
	color *color.Color
}{
	levelVerbose: {"[DEBUG]", color.New(color.FgHiBlack)},
	levelInfo:    {"[INFO]", color.New(color.FgGreen)},
	levelWarning: {"[WARN]", color.New(color.FgYellow)},
	levelError:   {"[ERROR]", color.New(color.FgRed, color.Bold)},
}

var (
	mu      sync.Mutex
	out     io.Writer = os.Stderr
	verbose bool
)

// SetOutput redirects all log output. Colour is disabled for writers other
// than the process's stdout and stderr.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

// SetVerbose enables Verbosef output.
func SetVerbose(v bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = v
}

// WithTag returns a context whose log lines carry key=value.
func WithTag(ctx context.Context, key string, value interface{}) context.Context {
	return logtags.AddTag(ctx, key, value)
}

func Infof(ctx context.Context, format string, args ...interface{}) {
	logf(ctx, levelInfo, format, args...)
}

func Warningf(ctx context.Context, format string, args ...interface{}) {
	logf(ctx, levelWarning, format, args...)
}

func Errorf(ctx context.Context, format string, args ...interface{}) {
	logf(ctx, levelError, format, args...)
}

func Verbosef(ctx context.Context, format string, args ...interface{}) {
	logf(ctx, levelVerbose, format, args...)
}

func logf(ctx context.Context, lvl level, format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	if lvl == levelVerbose && !verbose {
		return
	}

	var sb strings.Builder
	sb.WriteString(time.Now().Format("2006-01-02 15:04:05"))
	sb.WriteByte(' ')
	l := levels[lvl]
	if out == os.Stderr || out == os.Stdout {
		sb.WriteString(l.color.Sprint(l.name))
	} else {
		sb.WriteString(l.name)
	}
	if tags := formatTags(ctx); tags != "" {
		sb.WriteString(" [")
		sb.WriteString(tags)
		sb.WriteByte(']')
	}
	sb.WriteByte(' ')
	fmt.Fprintf(&sb, format, args...)
	if !strings.HasSuffix(sb.String(), "\n") {
		sb.WriteByte('\n')
	}
	_, _ = io.WriteString(out, sb.String())
}

func formatTags(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	buf := logtags.FromContext(ctx)
	if buf == nil {
		return ""
	}
	var sb strings.Builder
	for i, t := range buf.Get() {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(t.Key())
		if v := t.ValueStr(); v != "" {
			sb.WriteByte('=')
			sb.WriteString(v)
		}
	}
	return sb.String()
}
