package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_BufferIsPlain(t *testing.T) {
	// Given a non-terminal writer
	buf := &bytes.Buffer{}
	w := New(buf)

	// When printing a header
	w.Header("Results")

	// Then no escape sequences are written
	assert.Equal(t, "Results\n", buf.String())
	assert.False(t, IsTerminal(buf))
}

func TestWriter_StatusLines(t *testing.T) {
	tests := []struct {
		name  string
		write func(w *Writer)
		want  string
	}{
		{"success", func(w *Writer) { w.Success("ingested 3 records") }, "✓ ingested 3 records\n"},
		{"warning", func(w *Writer) { w.Warningf("%d degraded", 1) }, "! 1 degraded\n"},
		{"error", func(w *Writer) { w.Errorf("failed: %s", "boom") }, "✗ failed: boom\n"},
		{"no icon", func(w *Writer) { w.Status("", "indented") }, "   indented\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			tt.write(New(buf))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestWriter_KeyValue(t *testing.T) {
	buf := &bytes.Buffer{}
	New(buf).KeyValue("total_queries", 42)

	assert.Equal(t, "  total_queries:     42\n", buf.String())
}

func TestWriter_Result(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Result(1, 0.78123, "r1", "wearable", "resting heart rate\nsecond line")

	out := buf.String()
	assert.Contains(t, out, " 1. 0.781  wearable · r1\n")
	assert.Contains(t, out, "    resting heart rate\n")
	assert.NotContains(t, out, "second line")
}

func TestWriter_Block(t *testing.T) {
	buf := &bytes.Buffer{}
	New(buf).Block("a\nb\n")

	assert.Equal(t, "\n  a\n  b\n\n", buf.String())
}

func TestWriter_JSON(t *testing.T) {
	buf := &bytes.Buffer{}
	err := New(buf).JSON(map[string]int{"records": 3})

	require.NoError(t, err)
	assert.Equal(t, "{\n  \"records\": 3\n}\n", buf.String())
}

func TestFirstLine_Truncates(t *testing.T) {
	got := firstLine(strings.Repeat("x", 120), 100)

	assert.Equal(t, strings.Repeat("x", 100)+"...", got)
}

func TestNoColorStyles_RenderPlain(t *testing.T) {
	s := NoColorStyles()

	assert.Equal(t, "plain", s.Header.Render("plain"))
	assert.Equal(t, "plain", s.Error.Render("plain"))
}

func TestDetectNoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	assert.True(t, DetectNoColor())
}
