package log

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetVerbose(false)
	})
	return &buf
}

func TestLevelsAndTags(t *testing.T) {
	buf := capture(t)
	ctx := WithTag(WithTag(context.Background(), "session", "abc"), "task", 3)

	Infof(ctx, "published %d", 1)
	Warningf(context.Background(), "late reply")
	Errorf(context.TODO(), "boom")

	out := buf.String()
	assert.Contains(t, out, "[INFO] [session=abc,task=3] published 1\n")
	assert.Contains(t, out, "[WARN] late reply\n")
	assert.Contains(t, out, "[ERROR] boom\n")
}

func TestVerboseIsGated(t *testing.T) {
	buf := capture(t)
	Verbosef(context.Background(), "hidden")
	assert.Empty(t, buf.String())

	SetVerbose(true)
	Verbosef(context.Background(), "shown")
	assert.Contains(t, buf.String(), "[DEBUG] shown")
}
