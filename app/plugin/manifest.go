package plugin

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// ManifestFile is the manifest name looked up in a plugin directory.
const ManifestFile = "plugin.yml"

// Manifest is the parsed plugin.yml of an external converter.
type Manifest struct {
	ID          string   `yaml:"id"` // Unique plugin identifier (UUID)
	Name        string   `yaml:"name"`
	Version     string   `yaml:"version"`
	Description string   `yaml:"description"`
	Executable  string   `yaml:"executable"`
	Extensions  []string `yaml:"extensions"`
	Author      string   `yaml:"author"`
}

// ReadManifest reads and validates a manifest file.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s not found at %s", ManifestFile, path)
		}
		return nil, fmt.Errorf("cannot read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks required fields and their formats.
func (m *Manifest) Validate() error {
	if m.ID == "" {
		return errors.New("manifest missing required field: id (UUID)")
	}
	if _, err := uuid.Parse(m.ID); err != nil || len(m.ID) != 36 {
		return fmt.Errorf("manifest field 'id' must be a valid UUID, got: %s", m.ID)
	}

	if m.Name == "" {
		return errors.New("manifest missing required field: name")
	}
	if len(m.Name) > 100 {
		return errors.New("manifest field 'name' exceeds 100 characters")
	}

	if m.Version == "" {
		return errors.New("manifest missing required field: version")
	}
	if !isValidSemver(m.Version) {
		return fmt.Errorf("manifest field 'version' must be in semver format (e.g., '1.0.0'), got: %s", m.Version)
	}

	if m.Executable == "" {
		return errors.New("manifest missing required field: executable")
	}

	if len(m.Extensions) == 0 {
		return errors.New("manifest missing required field: extensions (must have at least one)")
	}
	if len(m.Description) > 500 {
		return errors.New("manifest field 'description' exceeds 500 characters")
	}
	if len(m.Author) > 200 {
		return errors.New("manifest field 'author' exceeds 200 characters")
	}

	for i, ext := range m.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("extension at index %d must start with a dot, got: %s", i, ext)
		}
	}
	return nil
}

// isValidSemver accepts MAJOR.MINOR.PATCH with numeric parts.
func isValidSemver(version string) bool {
	parts := strings.Split(version, ".")
	if len(parts) != 3 {
		return false
	}
	for _, part := range parts {
		if part == "" {
			return false
		}
		for _, ch := range part {
			if ch < '0' || ch > '9' {
				return false
			}
		}
	}
	return true
}
