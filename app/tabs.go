package app

import (
	"casefile/app/interfaces"
	"casefile/app/query"
	"casefile/app/store"
)

// fileTab is one open session: its store, the engine bound to it and the
// identity of the input it was built from.
type fileTab struct {
	ID       string
	FileName string
	FilePath string
	FileHash string
	Options  interfaces.FileOptions

	// position in open order
	seq int64
	// input records the reader could not decode
	skipped int

	store  *store.Store
	engine *query.Engine
}

func (t *fileTab) info() interfaces.TabInfo {
	res := t.store.ImportResult()
	return interfaces.TabInfo{
		ID:               t.ID,
		FileName:         t.FileName,
		FilePath:         t.FilePath,
		FileHash:         t.FileHash,
		Headers:          res.Headers,
		RowCount:         res.RowCount,
		TimestampColumns: res.TimestampColumns,
		NumericColumns:   res.NumericColumns,
		SearchIndex:      t.store.SearchIndexState(),
	}
}

func (t *fileTab) close() {
	t.store.Close()
}
