package plugin

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"casefile/app/settings"
)

// Plugin is a registered external converter.
type Plugin struct {
	Config   settings.PluginConfig
	Manifest Manifest
	ExecPath string // Resolved absolute path to executable
}

// Registry maps file extensions to converters. Several plugins may claim the
// same extension; the first registered wins unless one is requested by id.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string][]*Plugin // lowercase extension → plugins
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string][]*Plugin)}
}

// Load replaces the registry contents with the enabled plugins of configs.
// Plugins that fail validation are skipped and reported together.
func (r *Registry) Load(configs []settings.PluginConfig) error {
	plugins := make(map[string][]*Plugin)
	var loadErrors []string

	for _, config := range configs {
		if !config.Enabled {
			continue
		}
		manifest, execPath, err := resolve(config.Path)
		if err != nil {
			loadErrors = append(loadErrors, fmt.Sprintf("plugin %s: %v", config.Name, err))
			continue
		}
		p := &Plugin{Config: config, Manifest: *manifest, ExecPath: execPath}
		for _, ext := range manifest.Extensions {
			ext = strings.ToLower(ext)
			plugins[ext] = append(plugins[ext], p)
		}
	}

	r.mu.Lock()
	r.plugins = plugins
	r.mu.Unlock()

	if len(loadErrors) > 0 {
		return fmt.Errorf("plugin loading errors:\n  - %s", strings.Join(loadErrors, "\n  - "))
	}
	return nil
}

// Validate checks a plugin directory, manifest or executable path without
// registering it.
func Validate(path string) (*Manifest, error) {
	m, _, err := resolve(path)
	return m, err
}

// resolve finds the manifest for path and the executable it names. path may
// be the plugin directory, its manifest or the executable itself.
func resolve(path string) (*Manifest, string, error) {
	if path == "" {
		return nil, "", errors.New("plugin path is empty")
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", fmt.Errorf("path does not exist: %s", path)
		}
		return nil, "", fmt.Errorf("cannot access path: %w", err)
	}

	pluginDir, execPath := path, ""
	if !info.IsDir() {
		pluginDir = filepath.Dir(path)
		if name := filepath.Base(path); name != ManifestFile && name != "plugin.yaml" {
			execPath = path
		}
	}

	manifest, err := ReadManifest(filepath.Join(pluginDir, ManifestFile))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read manifest: %w", err)
	}
	if execPath == "" {
		execPath = manifest.Executable
		if !filepath.IsAbs(execPath) {
			execPath = filepath.Clean(filepath.Join(pluginDir, execPath))
		}
	}
	if err := validateExecutable(execPath); err != nil {
		return nil, "", err
	}
	return manifest, execPath, nil
}

func validateExecutable(execPath string) error {
	info, err := os.Stat(execPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("executable not found: %s", execPath)
		}
		return fmt.Errorf("cannot access executable: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("executable is a directory: %s", execPath)
	}
	if info.Mode()&0111 == 0 {
		return fmt.Errorf("executable does not have execute permission: %s", execPath)
	}
	return nil
}

// ForExtension returns the first plugin registered for ext (case-insensitive).
func (r *Registry) ForExtension(ext string) (*Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	plugins := r.plugins[strings.ToLower(ext)]
	if len(plugins) == 0 {
		return nil, false
	}
	return plugins[0], true
}

// ByID returns the plugin with the given manifest id.
func (r *Registry) ByID(id string) (*Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, plugins := range r.plugins {
		for _, p := range plugins {
			if strings.EqualFold(p.Manifest.ID, id) {
				return p, true
			}
		}
	}
	return nil, false
}

// ForFile picks the converter for a file: the requested id when set,
// otherwise by extension. A nil registry has no plugins.
func (r *Registry) ForFile(path, pluginID string) (*Plugin, bool) {
	if r == nil {
		return nil, false
	}
	if pluginID != "" {
		return r.ByID(pluginID)
	}
	return r.ForExtension(filepath.Ext(path))
}

// List returns every registered plugin once, ordered by name.
func (r *Registry) List() []*Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	var out []*Plugin
	for _, plugins := range r.plugins {
		for _, p := range plugins {
			if !seen[p.Manifest.ID] {
				seen[p.Manifest.ID] = true
				out = append(out, p)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Manifest.Name < out[j].Manifest.Name })
	return out
}

// Extensions returns the registered extensions, sorted.
func (r *Registry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exts := make([]string, 0, len(r.plugins))
	for ext := range r.plugins {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}
