package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Service reads and writes one settings file and manages the plugin list
// stored in it.
type Service struct {
	path string
	mu   sync.Mutex
}

// NewService creates a service bound to the settings file at path.
func NewService(path string) *Service {
	return &Service{path: path}
}

// Path returns the settings file location.
func (s *Service) Path() string {
	return s.path
}

// GetSettings returns the effective settings.
func (s *Service) GetSettings() (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Load(s.path)
}

// SaveSettings validates and persists in.
func (s *Service) SaveSettings(in Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Save(s.path, in)
}

// AddPlugin reads the plugin.yml next to path and registers the plugin,
// enabled. Paths and plugin IDs must be unique.
func (s *Service) AddPlugin(path string) (*PluginConfig, error) {
	if path == "" {
		return nil, errors.New("plugin path cannot be empty")
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("plugin path does not exist")
		}
		return nil, err
	}

	pluginDir := path
	if !info.IsDir() {
		pluginDir = filepath.Dir(path)
	}
	manifestData, err := os.ReadFile(filepath.Join(pluginDir, "plugin.yml"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("plugin.yml not found in plugin directory")
		}
		return nil, err
	}
	var manifest struct {
		ID          string   `yaml:"id"`
		Name        string   `yaml:"name"`
		Description string   `yaml:"description"`
		Extensions  []string `yaml:"extensions"`
	}
	if err := yaml.Unmarshal(manifestData, &manifest); err != nil {
		return nil, errors.New("invalid plugin.yml format")
	}
	if manifest.ID == "" {
		return nil, errors.New("plugin.yml missing required field: id (UUID)")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	settings, err := Load(s.path)
	if err != nil {
		return nil, err
	}
	for _, p := range settings.Plugins {
		if p.Path == path {
			return nil, errors.New("plugin already exists at this path")
		}
		if p.ID == manifest.ID {
			return nil, fmt.Errorf("plugin with ID %s already exists", manifest.ID)
		}
	}

	added := PluginConfig{
		ID:          manifest.ID,
		Name:        manifest.Name,
		Enabled:     true,
		Path:        path,
		Extensions:  manifest.Extensions,
		Description: manifest.Description,
	}
	settings.Plugins = append(settings.Plugins, added)
	if err := Save(s.path, settings); err != nil {
		return nil, err
	}
	return &added, nil
}

// RemovePlugin drops the plugin registered at path.
func (s *Service) RemovePlugin(path string) error {
	return s.updatePlugins(func(plugins []PluginConfig) ([]PluginConfig, bool) {
		kept := make([]PluginConfig, 0, len(plugins))
		found := false
		for _, p := range plugins {
			if p.Path == path {
				found = true
				continue
			}
			kept = append(kept, p)
		}
		return kept, found
	})
}

// TogglePlugin enables or disables the plugin registered at path.
func (s *Service) TogglePlugin(path string, enabled bool) error {
	return s.updatePlugins(func(plugins []PluginConfig) ([]PluginConfig, bool) {
		for i := range plugins {
			if plugins[i].Path == path {
				plugins[i].Enabled = enabled
				return plugins, true
			}
		}
		return plugins, false
	})
}

func (s *Service) updatePlugins(fn func([]PluginConfig) ([]PluginConfig, bool)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	settings, err := Load(s.path)
	if err != nil {
		return err
	}
	plugins, found := fn(settings.Plugins)
	if !found {
		return errors.New("plugin not found")
	}
	settings.Plugins = plugins
	return Save(s.path, settings)
}
