package fileloader

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"casefile/app/interfaces"
)

// ParseDelimiter maps a user supplied delimiter option to a rune. Names such
// as "tab" and "pipe" are accepted besides the literal characters.
func ParseDelimiter(s string) (rune, bool) {
	switch strings.ToLower(s) {
	case "\t", "\\t", "tab":
		return '\t', true
	case "|", "pipe":
		return '|', true
	case ",", "comma":
		return ',', true
	case ";", "semicolon":
		return ';', true
	}
	return 0, false
}

// DetectDelimiter picks the delimiter from the first line: tab wins ties,
// then pipe, and comma is the default.
func DetectDelimiter(line []byte) rune {
	tabs := bytes.Count(line, []byte{'\t'})
	pipes := bytes.Count(line, []byte{'|'})
	commas := bytes.Count(line, []byte{','})
	switch {
	case tabs > 0 && tabs >= commas:
		return '\t'
	case pipes > 0 && pipes >= commas:
		return '|'
	}
	return ','
}

// recordSource yields one split record at a time. The returned slice is
// only valid until the next call.
type recordSource interface {
	next() ([]string, error)
}

// lineSplitter splits unquoted tab or pipe separated text. Input is read in
// chunks; a partial trailing line is carried into the next chunk and
// flushed at end of input.
type lineSplitter struct {
	r      io.Reader
	sep    byte
	buf    []byte
	carry  []byte
	lines  [][]byte
	fields []string
	eof    bool
}

func newLineSplitter(r io.Reader, sep byte, chunk int) *lineSplitter {
	return &lineSplitter{r: r, sep: sep, buf: make([]byte, chunk)}
}

func (l *lineSplitter) fill() error {
	for len(l.lines) == 0 && !l.eof {
		n, err := l.r.Read(l.buf)
		data := l.buf[:n]
		for len(data) > 0 {
			i := bytes.IndexByte(data, '\n')
			if i < 0 {
				l.carry = append(l.carry, data...)
				break
			}
			line := data[:i]
			if len(l.carry) > 0 {
				line = append(l.carry, line...)
				l.carry = nil
			} else {
				line = bytes.Clone(line)
			}
			l.lines = append(l.lines, line)
			data = data[i+1:]
		}
		if errors.Is(err, io.EOF) {
			l.eof = true
			if len(l.carry) > 0 {
				l.lines = append(l.lines, l.carry)
				l.carry = nil
			}
		} else if err != nil {
			return err
		}
	}
	return nil
}

func (l *lineSplitter) next() ([]string, error) {
	for {
		if err := l.fill(); err != nil {
			return nil, err
		}
		if len(l.lines) == 0 {
			return nil, io.EOF
		}
		line := bytes.TrimSuffix(l.lines[0], []byte{'\r'})
		l.lines[0] = nil
		l.lines = l.lines[1:]
		if len(line) == 0 {
			continue
		}
		l.fields = l.fields[:0]
		for {
			i := bytes.IndexByte(line, l.sep)
			if i < 0 {
				l.fields = append(l.fields, string(line))
				break
			}
			l.fields = append(l.fields, string(line[:i]))
			line = line[i+1:]
		}
		return l.fields, nil
	}
}

// csvSource reads RFC 4180 text. Malformed records are skipped and counted.
type csvSource struct {
	r       *csv.Reader
	skipped int
}

func newCSVSource(r io.Reader, comma rune) *csvSource {
	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true
	return &csvSource{r: cr}
}

func (c *csvSource) next() ([]string, error) {
	for {
		rec, err := c.r.Read()
		if err == nil {
			return rec, nil
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			c.skipped++
			continue
		}
		return nil, err
	}
}

// ReadDelimited streams delimited text from r into sink.
func ReadDelimited(ctx context.Context, r io.Reader, fo interfaces.FileOptions, sink Sink, o Options) (Result, error) {
	o = o.withDefaults()
	br := bufio.NewReaderSize(r, o.ReadChunkBytes)

	comma, ok := ParseDelimiter(fo.Delimiter)
	if !ok {
		if fo.Delimiter != "" {
			return Result{}, fmt.Errorf("unknown delimiter %q", fo.Delimiter)
		}
		first, err := peekLine(br)
		if err != nil {
			return Result{}, err
		}
		comma = DetectDelimiter(first)
	}

	var src recordSource
	var csvSrc *csvSource
	if comma == '\t' || comma == '|' {
		src = newLineSplitter(br, byte(comma), o.ReadChunkBytes)
	} else {
		csvSrc = newCSVSource(br, comma)
		src = csvSrc
	}

	first, err := src.next()
	if errors.Is(err, io.EOF) {
		return Result{}, ErrEmptyInput
	}
	if err != nil {
		return Result{}, fmt.Errorf("failed to read header: %w", err)
	}

	var headers []string
	var pending []string
	if fo.NoHeaderRow {
		headers = SyntheticHeaders(len(first))
		pending = append([]string(nil), first...)
	} else {
		headers = PrepareHeaders(first)
	}
	if err := sink.CreateSchema(ctx, headers); err != nil {
		return Result{}, err
	}

	b := newBatcher(ctx, sink, len(headers), o, "delimited")
	if pending != nil {
		if err := b.add(pending); err != nil {
			return Result{}, err
		}
	}
	for {
		rec, err := src.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Result{}, fmt.Errorf("failed to read row %d: %w", b.total+int64(len(b.rows))+1, err)
		}
		if err := b.add(rec); err != nil {
			return Result{}, err
		}
	}
	if err := b.flush(); err != nil {
		return Result{}, err
	}

	res := Result{Headers: headers, Rows: b.total, Format: FileTypeDelimited}
	if csvSrc != nil && csvSrc.skipped > 0 {
		res.Skipped = csvSrc.skipped
		o.Logger.Log("warn", fmt.Sprintf("[IMPORT] skipped %d malformed records", csvSrc.skipped))
	}
	return res, nil
}

// peekLine returns the first line without consuming it. A line longer than
// the reader's buffer is truncated, which is enough to count delimiters.
func peekLine(br *bufio.Reader) ([]byte, error) {
	for n := 4096; ; n *= 2 {
		if n > br.Size() {
			n = br.Size()
		}
		b, err := br.Peek(n)
		if i := bytes.IndexByte(b, '\n'); i >= 0 {
			return b[:i], nil
		}
		if err != nil || n == br.Size() {
			if len(b) == 0 && err != nil && !errors.Is(err, io.EOF) {
				return nil, err
			}
			return b, nil
		}
	}
}
