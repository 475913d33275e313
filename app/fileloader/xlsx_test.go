package fileloader

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"casefile/app/interfaces"
)

func writeWorkbook(t *testing.T) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]any{"Time", "Host", "", "Host"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]any{"2024-03-15 10:30:00", "ws01", "x", "dup"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A4", &[]any{"not a date", "ws02"}))

	_, err := f.NewSheet("Logons")
	require.NoError(t, err)
	require.NoError(t, f.SetSheetRow("Logons", "A1", &[]any{"User", "Count"}))
	require.NoError(t, f.SetSheetRow("Logons", "A2", &[]any{"alice", 3}))

	path := filepath.Join(t.TempDir(), "book.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func TestReadXLSX_FirstSheet(t *testing.T) {
	path := writeWorkbook(t)
	sink := &memSink{}
	res, err := ReadXLSX(context.Background(), path, interfaces.FileOptions{}, sink, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"Time", "Host", "Unnamed_A", "Host_2"}, res.Headers)
	assert.Equal(t, [][]string{
		{"2024-03-15T10:30:00.000Z", "ws01", "x", "dup"},
		{"not a date", "ws02", "", ""},
	}, sink.rows)
}

func TestReadXLSX_SheetSelection(t *testing.T) {
	path := writeWorkbook(t)
	for _, sheet := range []string{"Logons", "logons", "2"} {
		sink := &memSink{}
		res, err := ReadXLSX(context.Background(), path, interfaces.FileOptions{Sheet: sheet}, sink, Options{})
		require.NoError(t, err, sheet)
		assert.Equal(t, []string{"User", "Count"}, res.Headers)
		assert.Equal(t, [][]string{{"alice", "3"}}, sink.rows)
	}

	_, err := ReadXLSX(context.Background(), path, interfaces.FileOptions{Sheet: "Missing"}, &memSink{}, Options{})
	assert.ErrorIs(t, err, ErrSheetNotFound)
	_, err = ReadXLSX(context.Background(), path, interfaces.FileOptions{Sheet: "3"}, &memSink{}, Options{})
	assert.ErrorIs(t, err, ErrSheetNotFound)
}

func TestListSheets(t *testing.T) {
	sheets, err := ListSheets(writeWorkbook(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"Sheet1", "Logons"}, sheets)
}
