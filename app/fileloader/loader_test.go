package fileloader

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"casefile/app/evtx"
	"casefile/app/interfaces"
	"casefile/app/plugin"
	"casefile/app/settings"
)

// emptyEVTX is a valid file header followed by no chunks.
func emptyEVTX() []byte {
	head := make([]byte, 4096)
	copy(head, "ElfFile\x00")
	binary.LittleEndian.PutUint16(head[40:], 4096)
	return head
}

func TestLoad_CompressedDelimited(t *testing.T) {
	path := writeFile(t, t.TempDir(), "auth.log.gz", gzipBytes(t, []byte("Time|User\n2024-01-01|alice\n2024-01-02|bob\n")))
	sink := &memSink{}
	res, err := Load(context.Background(), path, interfaces.FileOptions{}, sink, Options{})
	require.NoError(t, err)

	assert.Equal(t, FileTypeDelimited, res.Format)
	assert.Equal(t, CompressionGzip, res.Compression)
	assert.Equal(t, []string{"Time", "User"}, res.Headers)
	assert.Equal(t, []string{"alice", "bob"}, sink.column("User"))
}

func TestLoad_EVTXWithoutEvents(t *testing.T) {
	path := writeFile(t, t.TempDir(), "Empty.evtx", emptyEVTX())
	sink := &memSink{}
	res, err := Load(context.Background(), path, interfaces.FileOptions{}, sink, Options{})
	require.NoError(t, err)
	assert.Equal(t, evtx.SystemFields, res.Headers)
	assert.Equal(t, evtx.SystemFields, sink.headers)
	assert.Zero(t, res.Rows)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(context.Background(), writeFile(t, dir, "bad.evtx", []byte("not an event log")), interfaces.FileOptions{}, &memSink{}, Options{})
	assert.ErrorIs(t, err, evtx.ErrInvalidFile)

	_, err = Load(context.Background(), writeFile(t, dir, "book.xlsx.gz", gzipBytes(t, []byte("PK"))), interfaces.FileOptions{}, &memSink{}, Options{})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = Load(context.Background(), dir, interfaces.FileOptions{}, &memSink{}, Options{})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func writeConverter(t *testing.T, script string) *plugin.Registry {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell plugins need a unix shell")
	}
	dir := t.TempDir()
	manifest := "id: 0b6f3c1e-2d4a-4f5b-8c7d-9e0a1b2c3d4e\nname: mft\nversion: 1.0.0\nexecutable: convert.sh\nextensions: [\".mft\"]\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, plugin.ManifestFile), []byte(manifest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "convert.sh"), []byte("#!/bin/sh\n"+script), 0o755))

	reg := plugin.NewRegistry()
	require.NoError(t, reg.Load([]settings.PluginConfig{{Name: "mft", Enabled: true, Path: dir}}))
	return reg
}

func TestLoad_Plugin(t *testing.T) {
	reg := writeConverter(t, "echo 'Name,Size'\necho 'a.txt,10'\necho 'b.txt,20'\n")
	path := writeFile(t, t.TempDir(), "disk.mft", []byte{0, 1, 2})

	ft, _ := DetectFileType(path, reg, "")
	assert.Equal(t, FileTypePlugin, ft)

	sink := &memSink{}
	res, err := Load(context.Background(), path, interfaces.FileOptions{}, sink, Options{Plugins: reg})
	require.NoError(t, err)
	assert.Equal(t, FileTypePlugin, res.Format)
	assert.Equal(t, []string{"Name", "Size"}, res.Headers)
	assert.Equal(t, []string{"10", "20"}, sink.column("Size"))
}

func TestLoad_PluginFailureCarriesStderr(t *testing.T) {
	reg := writeConverter(t, "echo 'Name'\necho 'parse error: bad record' >&2\nexit 3\n")
	path := writeFile(t, t.TempDir(), "disk.mft", []byte{0})

	_, err := Load(context.Background(), path, interfaces.FileOptions{}, &memSink{}, Options{Plugins: reg})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse error: bad record")
}

func TestDiscoverFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.csv", []byte("x\n"))
	writeFile(t, dir, "sub/b.csv", []byte("x\n"))
	writeFile(t, dir, "sub/deeper/c.csv", []byte("x\n"))
	writeFile(t, dir, "sub/skip.txt", []byte("x\n"))

	files, err := DiscoverFiles(dir, "**/*.csv", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.csv"),
		filepath.Join(dir, "sub", "b.csv"),
		filepath.Join(dir, "sub", "deeper", "c.csv"),
	}, files)

	files, err = DiscoverFiles(dir, "**/*.csv", 2)
	require.NoError(t, err)
	assert.Len(t, files, 2)

	_, err = DiscoverFiles(dir, "", 0)
	assert.Error(t, err)
	_, err = DiscoverFiles(dir, "[", 0)
	assert.Error(t, err)
}

func TestFileHash(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a", []byte("same"))
	b := writeFile(t, dir, "b", []byte("same"))
	c := writeFile(t, dir, "c", []byte("different"))

	ha, err := FileHash(a)
	require.NoError(t, err)
	hb, _ := FileHash(b)
	hc, _ := FileHash(c)
	assert.Len(t, ha, 64)
	assert.Equal(t, ha, hb)
	assert.NotEqual(t, ha, hc)
}
