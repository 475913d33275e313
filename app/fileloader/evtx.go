package fileloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"casefile/app/evtx"
)

// ReadEVTX streams a Windows event log into sink. The first
// SchemaSampleEvents events are buffered while their payload field names
// are collected; the schema is then fixed as the system fields followed by
// the sorted payload names, and later events are written directly. Fields
// first seen after the schema is fixed are dropped.
func ReadEVTX(ctx context.Context, r io.Reader, sink Sink, o Options) (Result, error) {
	er, err := evtx.NewReader(r)
	if err != nil {
		return Result{}, err
	}
	return readEvents(ctx, er, sink, o)
}

type eventSource interface {
	Next() (evtx.Event, error)
	Skipped() int
}

func readEvents(ctx context.Context, er eventSource, sink Sink, o Options) (Result, error) {
	o = o.withDefaults()
	seen := make(map[string]struct{})
	buffered := make([]evtx.Event, 0, o.SchemaSampleEvents)
	eof := false
	for len(buffered) < o.SchemaSampleEvents {
		ev, err := er.Next()
		if errors.Is(err, io.EOF) {
			eof = true
			break
		}
		if err != nil {
			return Result{}, fmt.Errorf("failed to read event log: %w", err)
		}
		for _, k := range ev.DataKeys {
			seen[k] = struct{}{}
		}
		buffered = append(buffered, ev)
	}

	dataKeys := make([]string, 0, len(seen))
	for k := range seen {
		dataKeys = append(dataKeys, k)
	}
	sort.Strings(dataKeys)
	headers := append(append([]string(nil), evtx.SystemFields...), dataKeys...)
	if err := sink.CreateSchema(ctx, headers); err != nil {
		return Result{}, err
	}

	b := newBatcher(ctx, sink, len(headers), o, "evtx")
	row := make([]string, len(headers))
	dropped := make(map[string]struct{})
	write := func(ev evtx.Event) error {
		for i, f := range evtx.SystemFields {
			row[i] = ev.System[f]
		}
		base := len(evtx.SystemFields)
		for i, k := range dataKeys {
			row[base+i] = ev.Data[k]
		}
		for _, k := range ev.DataKeys {
			if _, ok := seen[k]; !ok {
				if _, logged := dropped[k]; !logged {
					dropped[k] = struct{}{}
					o.Logger.Log("debug", fmt.Sprintf("[IMPORT] evtx field %q first seen after schema discovery, dropped", k))
				}
			}
		}
		return b.add(row)
	}

	for _, ev := range buffered {
		if err := write(ev); err != nil {
			return Result{}, err
		}
	}
	buffered = nil
	for !eof {
		ev, err := er.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Result{}, fmt.Errorf("failed to read event log: %w", err)
		}
		if err := write(ev); err != nil {
			return Result{}, err
		}
	}
	if err := b.flush(); err != nil {
		return Result{}, err
	}
	if n := er.Skipped(); n > 0 {
		o.Logger.Log("warn", fmt.Sprintf("[IMPORT] skipped %d undecodable evtx records", n))
	}
	if len(dropped) > 0 {
		o.Logger.Log("warn", fmt.Sprintf("[IMPORT] %d evtx fields appeared after schema discovery and were dropped", len(dropped)))
	}
	return Result{Headers: headers, Rows: b.total, Format: FileTypeEVTX, Skipped: er.Skipped()}, nil
}
