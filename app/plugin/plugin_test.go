package plugin

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"casefile/app/settings"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testID = "6f1c2a4e-8b7d-4c3a-9e21-0d5f6a7b8c9d"

func writePlugin(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell plugins need a unix shell")
	}
	dir := t.TempDir()
	manifest := "id: " + testID + "\nname: mft\nversion: 1.2.0\nexecutable: convert.sh\nextensions: [\".mft\"]\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte(manifest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "convert.sh"), []byte("#!/bin/sh\n"+script), 0o755))
	return dir
}

func TestManifestValidate(t *testing.T) {
	valid := func() Manifest {
		return Manifest{ID: testID, Name: "x", Version: "1.0.0", Executable: "x", Extensions: []string{".x"}}
	}
	tests := []struct {
		name    string
		mutate  func(m *Manifest)
		wantErr string
	}{
		{"valid", func(m *Manifest) {}, ""},
		{"missing id", func(m *Manifest) { m.ID = "" }, "id"},
		{"bad uuid", func(m *Manifest) { m.ID = "not-a-uuid" }, "valid UUID"},
		{"braced uuid", func(m *Manifest) { m.ID = "{" + testID + "}" }, "valid UUID"},
		{"bad version", func(m *Manifest) { m.Version = "1.0" }, "semver"},
		{"no extensions", func(m *Manifest) { m.Extensions = nil }, "extensions"},
		{"extension without dot", func(m *Manifest) { m.Extensions = []string{"x"} }, "must start with a dot"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := valid()
			tt.mutate(&m)
			err := m.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRegistry_LoadAndResolve(t *testing.T) {
	dir := writePlugin(t, "echo a,b\n")
	r := NewRegistry()
	require.NoError(t, r.Load([]settings.PluginConfig{
		{Name: "mft", Path: dir, Enabled: true},
		{Name: "off", Path: "/nonexistent", Enabled: false},
	}))

	p, ok := r.ForFile("/evidence/$MFT.MFT", "")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "convert.sh"), p.ExecPath)

	_, ok = r.ForFile("/evidence/a.csv", "")
	assert.False(t, ok)

	p, ok = r.ForFile("/evidence/a.bin", testID)
	require.True(t, ok)
	assert.Equal(t, "mft", p.Manifest.Name)
	assert.Equal(t, []string{".mft"}, r.Extensions())
	assert.Len(t, r.List(), 1)

	var nilRegistry *Registry
	_, ok = nilRegistry.ForFile("a.mft", "")
	assert.False(t, ok)
}

func TestRegistry_LoadReportsBrokenPlugins(t *testing.T) {
	r := NewRegistry()
	err := r.Load([]settings.PluginConfig{{Name: "gone", Path: "/nonexistent", Enabled: true}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gone")
	assert.Empty(t, r.Extensions())
}

func TestExecutor_Stream(t *testing.T) {
	dir := writePlugin(t, "printf 'Time,Name\\n2024-01-01,a\\n'\n")
	p, _, err := resolve(dir)
	require.NoError(t, err)

	s, err := NewExecutor(&Plugin{Manifest: *p, ExecPath: filepath.Join(dir, "convert.sh")}).Stream(context.Background(), "/tmp/x.mft")
	require.NoError(t, err)
	out, err := io.ReadAll(s)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.Equal(t, "Time,Name\n2024-01-01,a\n", string(out))
}

func TestExecutor_FailureCarriesStderr(t *testing.T) {
	dir := writePlugin(t, "echo 'cannot parse input' >&2\nexit 3\n")
	m, exec, err := resolve(dir)
	require.NoError(t, err)

	s, err := NewExecutor(&Plugin{Manifest: *m, ExecPath: exec}).Stream(context.Background(), "/tmp/x.mft")
	require.NoError(t, err)
	_, _ = io.ReadAll(s)
	err = s.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot parse input")
}
