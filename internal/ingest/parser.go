package ingest

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// DefaultBufferSize is the parser's read buffer (the stream high-water mark).
// It doubles as the default resume overlap: rewinding by one buffer is always
// enough to land before the last committed row.
const DefaultBufferSize = 1 << 20 // 1 MiB

var (
	// ErrHeaderRequired is returned when a parser is opened mid-file without
	// the header captured from the first run.
	ErrHeaderRequired = errors.New("header must be supplied when opening at a non-zero offset")
)

// ParserOptions control where the parser starts reading and how it interprets
// the stream.
type ParserOptions struct {
	// StartOffset is the absolute byte offset to begin reading at. At offset 0
	// the first logical line is consumed as the header row. At any other
	// offset the bytes up to the next newline are discarded (they belong to a
	// row that straddles the offset) and Header must be set.
	StartOffset int64

	// BufferSize bounds the read buffer. Zero means DefaultBufferSize.
	BufferSize int

	// Header is the column list captured at offset 0 in an earlier run.
	// Required when StartOffset > 0, ignored otherwise.
	Header []string
}

// Parser streams CSV records from a file, one row per Next call. It tolerates
// ragged rows and oversized quotes, and reports a byte-accurate cursor for
// crash-safe resume. Not safe for concurrent use; the import worker is its
// only caller.
type Parser struct {
	file      *os.File
	reader    *csv.Reader
	header    []string
	base      int64 // StartOffset plus any discarded partial line
	exhausted bool
}

// OpenParser opens path at the requested offset and prepares the CSV stream.
// An empty file (or a start offset at or past the last newline) yields a
// parser whose Next immediately reports io.EOF.
func OpenParser(path string, opts ParserOptions) (*Parser, error) {
	if opts.StartOffset > 0 && len(opts.Header) == 0 {
		return nil, ErrHeaderRequired
	}

	bufSize := opts.BufferSize
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}

	p := &Parser{file: file, base: opts.StartOffset}

	if opts.StartOffset > 0 {
		if _, err := file.Seek(opts.StartOffset, io.SeekStart); err != nil {
			file.Close()
			return nil, fmt.Errorf("seek to %d: %w", opts.StartOffset, err)
		}
	}

	br := bufio.NewReaderSize(file, bufSize)

	if opts.StartOffset > 0 {
		// The offset almost certainly lands inside a row. Drop everything up
		// to the next newline; the resume marker scan re-aligns on a full row.
		discarded, err := br.ReadBytes('\n')
		p.base += int64(len(discarded))
		if err == io.EOF {
			p.exhausted = true
		} else if err != nil {
			file.Close()
			return nil, fmt.Errorf("align to row boundary: %w", err)
		}
		p.header = trimHeader(opts.Header)
	}

	p.reader = csv.NewReader(br)
	p.reader.LazyQuotes = true
	p.reader.FieldsPerRecord = -1
	p.reader.TrimLeadingSpace = true
	// Rows are copied into Record maps, so the backing slice can be reused.
	p.reader.ReuseRecord = true

	if opts.StartOffset == 0 {
		row, err := p.reader.Read()
		if err == io.EOF {
			p.exhausted = true
		} else if err != nil {
			file.Close()
			return nil, fmt.Errorf("read header: %w", err)
		} else {
			p.header = trimHeader(row)
		}
	}

	return p, nil
}

// ReadHeader reads just the header row of path. The worker uses it to rebuild
// column names before resuming a parser mid-file.
func ReadHeader(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer file.Close()

	r := csv.NewReader(bufio.NewReader(file))
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	row, err := r.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	return trimHeader(row), nil
}

// Header returns the column names in file order. Nil for an empty file.
func (p *Parser) Header() []string {
	return p.header
}

// Next returns the next data row keyed by header name. Extra columns beyond
// the header are dropped and missing trailing columns come back as empty
// strings. It returns io.EOF at end of stream and ctx.Err() once the context
// is done; no partial row is ever emitted.
func (p *Parser) Next(ctx context.Context) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.exhausted {
		return nil, io.EOF
	}

	row, err := p.reader.Read()
	if err == io.EOF {
		p.exhausted = true
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("read row: %w", err)
	}

	record := make(Record, len(p.header))
	for i, name := range p.header {
		if name == "" {
			continue
		}
		if i < len(row) {
			record[name] = strings.TrimSpace(row[i])
		} else {
			record[name] = ""
		}
	}
	return record, nil
}

// Offset is the absolute position of the end of the most recently returned
// row. Persisting it as the resume cursor guarantees the next run's overlap
// rewind starts at or before the first uncommitted row. At end of stream it
// equals the file size.
func (p *Parser) Offset() int64 {
	return p.base + p.reader.InputOffset()
}

// Close releases the underlying file.
func (p *Parser) Close() error {
	return p.file.Close()
}

func trimHeader(row []string) []string {
	header := make([]string, len(row))
	for i, name := range row {
		header[i] = strings.TrimSpace(name)
	}
	return header
}
