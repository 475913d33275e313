// Package evtx decodes Windows XML event log files (.evtx): file header,
// 64 KiB chunks, event records and their binary XML payloads.
package evtx

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrInvalidFile is returned when the input is not an event log file.
var ErrInvalidFile = errors.New("not a valid evtx file")

const (
	fileMagic   = "ElfFile\x00"
	chunkMagic  = "ElfChnk\x00"
	recordMagic = "**\x00\x00"

	defaultHeaderBlock = 4096
	chunkSize          = 65536
	chunkHeaderSize    = 512
	recordHeaderSize   = 24
)

// Event is one decoded record. System holds the fields of the System
// element; Data holds EventData or UserData values in document order.
type Event struct {
	RecordID uint64
	Written  string
	System   map[string]string
	Data     map[string]string
	DataKeys []string
}

// Reader streams events chunk by chunk. Only the current chunk is held in
// memory.
type Reader struct {
	r       io.Reader
	buf     []byte
	pending []Event
	skipped int
	chunks  int
	done    bool
}

// NewReader validates the file header and positions at the first chunk.
func NewReader(r io.Reader) (*Reader, error) {
	head := make([]byte, defaultHeaderBlock)
	if _, err := io.ReadFull(r, head); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrInvalidFile
		}
		return nil, err
	}
	if !bytes.HasPrefix(head, []byte(fileMagic)) {
		return nil, ErrInvalidFile
	}
	if block := int(binary.LittleEndian.Uint16(head[40:])); block > defaultHeaderBlock {
		if _, err := io.CopyN(io.Discard, r, int64(block-defaultHeaderBlock)); err != nil {
			return nil, fmt.Errorf("%w: truncated header", ErrInvalidFile)
		}
	}
	return &Reader{r: r, buf: make([]byte, chunkSize)}, nil
}

// Skipped reports how many records could not be decoded so far.
func (r *Reader) Skipped() int { return r.skipped }

// Chunks reports how many chunks were decoded so far.
func (r *Reader) Chunks() int { return r.chunks }

// Next returns the next event, or io.EOF after the last one.
func (r *Reader) Next() (Event, error) {
	for len(r.pending) == 0 {
		if r.done {
			return Event{}, io.EOF
		}
		if err := r.readChunk(); err != nil {
			return Event{}, err
		}
	}
	ev := r.pending[0]
	r.pending = r.pending[1:]
	return ev, nil
}

func (r *Reader) readChunk() error {
	_, err := io.ReadFull(r.r, r.buf)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		r.done = true
		return nil
	}
	if err != nil {
		return err
	}
	if !bytes.HasPrefix(r.buf, []byte(chunkMagic)) {
		// unused trailing chunks are zero filled
		return nil
	}
	r.chunks++
	events, skipped := decodeChunk(r.buf)
	r.skipped += skipped
	r.pending = events
	return nil
}

func decodeChunk(data []byte) ([]Event, int) {
	ch := newChunk(data)
	free := int(binary.LittleEndian.Uint32(data[0x30:]))
	if free <= chunkHeaderSize || free > len(data) {
		free = len(data)
	}

	var events []Event
	skipped := 0
	off := chunkHeaderSize
	for off+recordHeaderSize <= free {
		if !bytes.Equal(data[off:off+4], []byte(recordMagic)) {
			break
		}
		size := int(binary.LittleEndian.Uint32(data[off+4:]))
		if size < recordHeaderSize+4 || off+size > len(data) {
			break
		}
		ev, err := ch.decodeRecord(off, size)
		if err != nil {
			skipped++
		} else {
			events = append(events, ev)
		}
		off += size
	}
	return events, skipped
}

func (ch *chunk) decodeRecord(off, size int) (Event, error) {
	id := binary.LittleEndian.Uint64(ch.data[off+8:])
	written := binary.LittleEndian.Uint64(ch.data[off+16:])

	p := &parser{ch: ch, pos: off + recordHeaderSize}
	nodes, err := p.fragment(off + size - 4)
	if err != nil {
		return Event{}, fmt.Errorf("record %d: %w", id, err)
	}
	roots, err := ch.instantiate(nodes, nil, 0)
	if err != nil {
		return Event{}, fmt.Errorf("record %d: %w", id, err)
	}
	return eventFrom(roots, id, written), nil
}
