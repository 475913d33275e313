package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), s)
}

func TestLoad_OverlaysOnlyNamedFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "casefile.yml")
	require.NoError(t, os.WriteFile(path, []byte("batch_size: 42\nlog_level: debug\n"), 0o644))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 42, s.BatchSize)
	assert.Equal(t, "debug", s.LogLevel)
	assert.Equal(t, defaultSettings.SearchIndexChunkRows, s.SearchIndexChunkRows)
	assert.InDelta(t, 0.8, s.NumericThreshold, 1e-9)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Settings) {}},
		{name: "zero batch", mutate: func(s *Settings) { s.BatchSize = 0 }, wantErr: true},
		{name: "threshold above one", mutate: func(s *Settings) { s.NumericThreshold = 1.5 }, wantErr: true},
		{name: "unknown level", mutate: func(s *Settings) { s.LogLevel = "loud" }, wantErr: true},
		{name: "bad timezone", mutate: func(s *Settings) { s.DefaultIngestTimezone = "Mars/Olympus" }, wantErr: true},
		{name: "local timezone", mutate: func(s *Settings) { s.DefaultIngestTimezone = "Local" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Default()
			tt.mutate(&s)
			err := s.Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestService_PluginLifecycle(t *testing.T) {
	dir := t.TempDir()
	pluginDir := filepath.Join(dir, "conv")
	require.NoError(t, os.MkdirAll(pluginDir, 0o755))
	manifest := "id: 3f2b8c1e-8a4d-4c1b-9e57-0b6f2d1a7c90\nname: conv\nextensions: [\".mft\"]\n"
	require.NoError(t, os.WriteFile(filepath.Join(pluginDir, "plugin.yml"), []byte(manifest), 0o644))

	svc := NewService(filepath.Join(dir, "casefile.yml"))
	added, err := svc.AddPlugin(pluginDir)
	require.NoError(t, err)
	assert.True(t, added.Enabled)
	assert.Equal(t, []string{".mft"}, added.Extensions)

	_, err = svc.AddPlugin(pluginDir)
	require.Error(t, err)

	require.NoError(t, svc.TogglePlugin(pluginDir, false))
	s, err := svc.GetSettings()
	require.NoError(t, err)
	require.Len(t, s.Plugins, 1)
	assert.False(t, s.Plugins[0].Enabled)

	require.NoError(t, svc.RemovePlugin(pluginDir))
	require.Error(t, svc.RemovePlugin(pluginDir))
}
