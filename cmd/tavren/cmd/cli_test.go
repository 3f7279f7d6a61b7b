package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	terrors "github.com/MacroAcon/tavren/internal/errors"
)

const cliRecords = `{"package_id":"wearable","package_name":"Wearable Export","package_type":"health","text_content":"resting heart rate trends over the month","metadata":{"type":"health"}}
{"package_id":"wearable","text_content":"sleep duration averaged seven hours","metadata":{"type":"health"}}
{"package_id":"budget","package_name":"Budget","package_type":"finance","text_content":"grocery spending rose this month","metadata":{"type":"finance"}}
`

// setupCLI isolates HOME and the config dir, and returns the project dir.
func setupCLI(t *testing.T) string {
	t.Helper()

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("NO_COLOR", "1")

	project := t.TempDir()
	cfg := "store:\n  path: " + filepath.Join(project, "data", "embeddings.db") + "\n" +
		"embeddings:\n  provider: static\n  dimensions: 64\n"
	require.NoError(t, os.WriteFile(filepath.Join(project, ".tavren.yaml"), []byte(cfg), 0o644))
	return project
}

func runCLI(t *testing.T, project, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(&bytes.Buffer{})
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--config-dir", project}, args...))
	err := root.Execute()
	return buf.String(), err
}

func TestCLI_IngestSearchContextPackagesStats(t *testing.T) {
	project := setupCLI(t)

	out, err := runCLI(t, project, cliRecords, "ingest")
	require.NoError(t, err)
	assert.Contains(t, out, "Ingested 3 records from 2 packages")

	out, err = runCLI(t, project, "", "search", "heart rate", "--json", "-n", "2")
	require.NoError(t, err)
	var resp struct {
		SearchType string `json:"search_type"`
		Results    []struct {
			PackageID string `json:"package_id"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "hybrid", resp.SearchType)
	assert.Len(t, resp.Results, 2)

	out, err = runCLI(t, project, "", "context", "heart rate and spending")
	require.NoError(t, err)
	assert.Contains(t, out, "wearable")

	out, err = runCLI(t, project, "", "packages", "--json")
	require.NoError(t, err)
	var pkgs []struct {
		ID      string `json:"id"`
		Records int    `json:"records"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &pkgs))
	require.Len(t, pkgs, 2)
	assert.Equal(t, "budget", pkgs[0].ID)
	assert.Equal(t, 1, pkgs[0].Records)
	assert.Equal(t, "wearable", pkgs[1].ID)
	assert.Equal(t, 2, pkgs[1].Records)

	out, err = runCLI(t, project, "", "stats", "--json")
	require.NoError(t, err)
	var stats StatsOutput
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.GreaterOrEqual(t, stats.TotalQueries, int64(2))
	assert.Equal(t, 7, stats.Days)
}

func TestCLI_PackagesDelete(t *testing.T) {
	project := setupCLI(t)

	_, err := runCLI(t, project, cliRecords, "ingest")
	require.NoError(t, err)

	out, err := runCLI(t, project, "", "packages", "delete", "wearable")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted 2 records from wearable")

	out, err = runCLI(t, project, "", "search", "heart", "--json")
	require.NoError(t, err)
	var resp struct {
		Results []struct {
			PackageID string `json:"package_id"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "budget", resp.Results[0].PackageID)
}

func TestCLI_SearchRejectsBadWeights(t *testing.T) {
	project := setupCLI(t)

	_, err := runCLI(t, project, "", "search", "heart", "--semantic-weight", "1.5")

	require.Error(t, err)
	te, ok := terrors.As(err)
	require.True(t, ok)
	assert.Equal(t, terrors.KindInvalidWeight, te.Kind)
}

func TestCLI_UnknownMode(t *testing.T) {
	project := setupCLI(t)

	_, err := runCLI(t, project, "", "search", "heart", "--mode", "fuzzy")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown search mode")
}

func TestParseValues(t *testing.T) {
	got, err := parseValues("filter", []string{"type=health, finance", "source=watch"})
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{
		"type":   {"health", "finance"},
		"source": {"watch"},
	}, got)

	got, err = parseValues("filter", nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	for _, bad := range []string{"type", "=health", "type="} {
		_, err := parseValues("filter", []string{bad})
		assert.Error(t, err, bad)
	}
}

func TestParseWeights(t *testing.T) {
	got, err := parseWeights([]string{"type=2", " band = 0.5"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"type": 2, "band": 0.5}, got)

	for _, bad := range []string{"type", "type=x", "=1"} {
		_, err := parseWeights([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestCLI_Init(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("NO_COLOR", "1")
	dir := filepath.Join(t.TempDir(), "project")

	out, err := runCLI(t, dir, "", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote")

	data, err := os.ReadFile(filepath.Join(dir, ".tavren.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "semantic_weight: 0.7")

	out, err = runCLI(t, dir, "", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")
}
