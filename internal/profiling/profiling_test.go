package profiling

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptions_Enabled(t *testing.T) {
	assert.False(t, Options{}.Enabled())
	assert.True(t, Options{HeapPath: "heap.out"}.Enabled())
}

func TestSession_WritesProfiles(t *testing.T) {
	dir := t.TempDir()
	opts := Options{
		CPUPath:   filepath.Join(dir, "cpu.out"),
		HeapPath:  filepath.Join(dir, "heap.out"),
		TracePath: filepath.Join(dir, "trace.out"),
	}

	s, err := Start(opts)
	require.NoError(t, err)
	require.NoError(t, s.Stop())

	for _, p := range []string{opts.CPUPath, opts.HeapPath, opts.TracePath} {
		info, err := os.Stat(p)
		require.NoError(t, err, p)
		assert.Positive(t, info.Size(), p)
	}
}

func TestStart_BadPath(t *testing.T) {
	_, err := Start(Options{CPUPath: filepath.Join(t.TempDir(), "missing", "cpu.out")})
	assert.Error(t, err)
}

func TestSession_StopNil(t *testing.T) {
	var s *Session
	assert.NoError(t, s.Stop())
}
