package fileloader

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"

	"casefile/app/plugin"
)

var (
	evtxMagic   = []byte("ElfFile\x00")
	sqliteMagic = []byte("SQLite format 3\x00")
	zipMagic    = []byte("PK\x03\x04")
)

var extensionTypes = map[string]FileType{
	".csv":   FileTypeDelimited,
	".tsv":   FileTypeDelimited,
	".psv":   FileTypeDelimited,
	".txt":   FileTypeDelimited,
	".log":   FileTypeDelimited,
	".xlsx":  FileTypeXLSX,
	".xlsm":  FileTypeXLSX,
	".evtx":  FileTypeEVTX,
	".plaso": FileTypePlaso,
}

// DetectFileType decides how to read a file: a requested plugin first, then
// the extension (after any compression suffix), then the file's leading
// bytes. Anything unrecognised is read as delimited text.
func DetectFileType(filePath string, plugins *plugin.Registry, pluginID string) (FileType, CompressionType) {
	if filePath == "" {
		return FileTypeUnknown, CompressionNone
	}
	if pluginID != "" {
		if _, ok := plugins.ForFile(filePath, pluginID); ok {
			return FileTypePlugin, CompressionNone
		}
	}

	inner, ct := splitCompressionExt(strings.ToLower(filePath))
	ext := filepath.Ext(inner)

	head := readHead(filePath, 16)
	if ct == CompressionNone {
		ct = detectCompression(head)
	}

	if ft, ok := extensionTypes[ext]; ok {
		return ft, ct
	}
	if ct == CompressionNone {
		if _, ok := plugins.ForFile(inner, ""); ok {
			return FileTypePlugin, CompressionNone
		}
		switch {
		case bytes.HasPrefix(head, evtxMagic):
			return FileTypeEVTX, ct
		case bytes.HasPrefix(head, sqliteMagic):
			return FileTypePlaso, ct
		case bytes.HasPrefix(head, zipMagic):
			return FileTypeXLSX, ct
		}
	}
	return FileTypeDelimited, ct
}

func readHead(filePath string, n int) []byte {
	f, err := os.Open(filePath)
	if err != nil {
		return nil
	}
	defer f.Close()
	head := make([]byte, n)
	got, _ := io.ReadFull(f, head)
	return head[:got]
}
