package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"casefile/app/interfaces"
)

func writeSettings(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "settings.yml")
	content := "temp_dir: " + t.TempDir() + "\nlog_level: error\n"
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.csv")
	b := filepath.Join(dir, "b.tsv")
	require.NoError(t, os.WriteFile(a, []byte("Timestamp,User\n2024-01-01T10:00:00Z,alice\n2024-01-01T11:00:00Z,bob\n"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("Timestamp\tHost\n2024-01-01T10:30:00Z\tdc01\n"), 0o644))
	cfgPath := writeSettings(t)

	t.Run("query", func(t *testing.T) {
		var out bytes.Buffer
		err := run(context.Background(), Config{
			SettingsPath: cfgPath, Op: "query", Request: `{"searchTerm":"bob"}`, Paths: []string{a},
		}, &out)
		require.NoError(t, err)
		var res interfaces.QueryResult
		require.NoError(t, json.Unmarshal(out.Bytes(), &res))
		assert.EqualValues(t, 1, res.TotalFiltered)
		assert.Equal(t, "bob", res.Rows[0]["User"])
	})

	t.Run("merge", func(t *testing.T) {
		var out bytes.Buffer
		err := run(context.Background(), Config{SettingsPath: cfgPath, Op: "info", Paths: []string{a, b}}, &out)
		require.NoError(t, err)
		var info interfaces.TabInfo
		require.NoError(t, json.Unmarshal(out.Bytes(), &info))
		assert.EqualValues(t, 3, info.RowCount)
		assert.Equal(t, []string{"_Source", "datetime", "Host", "Timestamp", "User"}, info.Headers)
	})

	t.Run("export", func(t *testing.T) {
		var out bytes.Buffer
		err := run(context.Background(), Config{SettingsPath: cfgPath, Op: "export", Paths: []string{a}}, &out)
		require.NoError(t, err)
		assert.Equal(t, "Timestamp,User\n2024-01-01T10:00:00Z,alice\n2024-01-01T11:00:00Z,bob\n", out.String())
	})

	t.Run("errors", func(t *testing.T) {
		var out bytes.Buffer
		assert.Error(t, run(context.Background(), Config{SettingsPath: cfgPath, Op: "nope", Paths: []string{a}}, &out))
		assert.Error(t, run(context.Background(), Config{SettingsPath: cfgPath, Op: "query", Request: "{", Paths: []string{a}}, &out))
		assert.Error(t, run(context.Background(), Config{SettingsPath: cfgPath, Op: "info", Paths: []string{filepath.Join(dir, "missing.csv")}}, &out))
	})

	t.Run("plugins", func(t *testing.T) {
		pluginDir := filepath.Join(t.TempDir(), "mftconv")
		require.NoError(t, os.MkdirAll(pluginDir, 0o755))
		manifest := "id: 6b1d3c8e-2f4a-4b7e-9c0d-1a2b3c4d5e6f\nname: mftconv\nextensions: [\".mft\"]\n"
		require.NoError(t, os.WriteFile(filepath.Join(pluginDir, "plugin.yml"), []byte(manifest), 0o644))
		settingsPath := writeSettings(t)

		var out bytes.Buffer
		require.NoError(t, run(context.Background(), Config{SettingsPath: settingsPath, AddPlugin: pluginDir}, &out))
		assert.Contains(t, out.String(), "6b1d3c8e-2f4a-4b7e-9c0d-1a2b3c4d5e6f")

		out.Reset()
		require.NoError(t, run(context.Background(), Config{SettingsPath: settingsPath, RemovePlugin: pluginDir}, &out))
		assert.NotContains(t, out.String(), "mftconv")

		assert.Error(t, run(context.Background(), Config{AddPlugin: pluginDir}, &out))

		out.Reset()
		require.NoError(t, run(context.Background(), Config{SettingsPath: settingsPath, Op: "plugins"}, &out))
		assert.JSONEq(t, "[]", out.String())
	})

	t.Run("sheets", func(t *testing.T) {
		var out bytes.Buffer
		assert.Error(t, run(context.Background(), Config{SettingsPath: cfgPath, Op: "sheets"}, &out))
		assert.Error(t, run(context.Background(), Config{SettingsPath: cfgPath, Op: "sheets", Paths: []string{a}}, &out))
	})
}
