package fileloader

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/minio/highwayhash"
)

// hashKey is fixed so fingerprints are comparable across runs.
var hashKey = []byte("casefile-session-fingerprint-key")

// FileHash returns a HighwayHash-256 fingerprint of a file's contents.
func FileHash(filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h, err := highwayhash.New(hashKey)
	if err != nil {
		return "", fmt.Errorf("failed to create hasher: %w", err)
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", filePath, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// CombineHashes fingerprints a set of parts, such as the file hashes of a
// directory import. The result does not depend on the order of parts.
func CombineHashes(parts []string) string {
	sorted := append([]string(nil), parts...)
	sort.Strings(sorted)
	h, _ := highwayhash.New(hashKey) // the key length is fixed at 32 bytes
	for _, p := range sorted {
		io.WriteString(h, p)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
