package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-harvester/internal/app"
)

func writeTestConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")
	path := filepath.Join(dir, "config.yaml")
	body := "browser:\n  driver: colly\ncheckpoint:\n  dir: " + dataDir + "\nexport:\n  csv_path: " + filepath.Join(dataDir, "out.csv") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path, dataDir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestStatusOnFreshDirectory(t *testing.T) {
	path, _ := writeTestConfig(t)

	out, err := execute(t, "--config", path, "status")
	require.NoError(t, err)

	var report app.StatusReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 1, report.Progress.Page)
	assert.Equal(t, 0, report.DatasetSize)
	assert.False(t, report.Persisted)
	assert.True(t, report.Consistent)
}

func TestExportEmptyDataset(t *testing.T) {
	path, dataDir := writeTestConfig(t)

	out, err := execute(t, "--config", path, "export")
	require.NoError(t, err)
	assert.Contains(t, out, "exported 0 rows")

	data, err := os.ReadFile(filepath.Join(dataDir, "out.csv"))
	require.NoError(t, err)
	assert.Equal(t, "city,district,propertyType,surfaceM2,rooms,bathrooms,price,postedDate,sourceUrl\n", string(data))
}

func TestBadConfigFails(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "status")
	require.Error(t, err)
}

func TestResolveAppWithoutPreRun(t *testing.T) {
	_, err := resolveApp(context.Background())
	require.Error(t, err)
}
