package fileloader

import (
	"context"
)

// memSink records everything a reader writes. Batches are copied because
// readers reuse them.
type memSink struct {
	headers []string
	rows    [][]string
	batches []int
}

func (m *memSink) CreateSchema(_ context.Context, headers []string) error {
	m.headers = append([]string(nil), headers...)
	return nil
}

func (m *memSink) InsertBatch(_ context.Context, batch [][]string) error {
	for _, r := range batch {
		m.rows = append(m.rows, append([]string(nil), r...))
	}
	m.batches = append(m.batches, len(batch))
	return nil
}

func (m *memSink) column(name string) []string {
	idx := -1
	for i, h := range m.headers {
		if h == name {
			idx = i
		}
	}
	if idx < 0 {
		return nil
	}
	out := make([]string, len(m.rows))
	for i, r := range m.rows {
		out[i] = r[idx]
	}
	return out
}
