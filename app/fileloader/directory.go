package fileloader

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// IsDirectory checks if the path is a directory
func IsDirectory(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// DiscoverFiles finds regular files under dirPath matching a doublestar
// pattern ("**/*.evtx", "*.csv.gz"). Results are sorted and capped at
// maxFiles when it is positive.
func DiscoverFiles(dirPath, pattern string, maxFiles int) ([]string, error) {
	if pattern == "" {
		return nil, fmt.Errorf("file pattern is required (e.g., *.csv, **/*.evtx)")
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid file pattern %q", pattern)
	}
	absPath, err := filepath.Abs(dirPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}

	matches, err := doublestar.Glob(os.DirFS(absPath), pattern, doublestar.WithFilesOnly(), doublestar.WithFailOnIOErrors())
	if err != nil {
		return nil, fmt.Errorf("pattern matching failed: %w", err)
	}
	sort.Strings(matches)
	if maxFiles > 0 && len(matches) > maxFiles {
		matches = matches[:maxFiles]
	}
	files := make([]string, len(matches))
	for i, m := range matches {
		files[i] = filepath.Join(absPath, filepath.FromSlash(m))
	}
	return files, nil
}
