package core

// decoder.go turns a delimited export into a sequence of header-keyed rows.
//
// The skip/fatal boundary is an explicit decision table (classifyReadError):
//
//	field count differs from header   -> skip row, keep going
//	quote inside an unquoted field    -> literal text, row kept
//	unterminated quoted field         -> fatal, abort file
//	invalid UTF-8                     -> fatal, abort file
//	any other read error              -> fatal, abort file
//
// The reader runs with LazyQuotes, under which an unclosed quote silently
// swallows the rest of the input. Each record's raw bytes are therefore
// rescanned for a quoted field that never closes.

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// DefaultDelimiter matches the semicolon-separated exports this tool targets.
const DefaultDelimiter = ';'

// ErrEmptyFile is returned when the input has no header row.
var ErrEmptyFile = errors.New("empty file: no header row")

// ErrJaggedRow marks a row whose field count differs from the header.
var ErrJaggedRow = errors.New("field count does not match header")

// RowStatus tells whether a row was decoded or skipped.
type RowStatus int

const (
	RowDecoded RowStatus = iota
	RowSkipped
)

func (s RowStatus) String() string {
	if s == RowSkipped {
		return "skipped"
	}
	return "decoded"
}

// RowOutcome is the decoder's verdict for one data row.
type RowOutcome struct {
	Line   int // 1-based line where the record starts
	Status RowStatus
	Row    Row   // valid when Status == RowDecoded
	Reason error // set when Status == RowSkipped
}

// RowDecoder reads a header row once and then yields one outcome per record.
type RowDecoder struct {
	csv       *csv.Reader
	tap       *recordTap
	delimiter rune
	header    []string
	index     HeaderIndex
}

// NewRowDecoder reads the header row from r. The header is the field-count
// reference for every following row.
func NewRowDecoder(r io.Reader, delimiter rune) (*RowDecoder, error) {
	if !validDelimiter(delimiter) {
		return nil, fmt.Errorf("invalid delimiter %q", delimiter)
	}

	tap := &recordTap{r: r}
	cr := csv.NewReader(tap)
	cr.Comma = delimiter
	cr.FieldsPerRecord = -1 // field count is checked against the header here
	cr.LazyQuotes = true

	d := &RowDecoder{csv: cr, tap: tap, delimiter: delimiter}

	header, err := d.read()
	if err == io.EOF {
		return nil, ErrEmptyFile
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	d.header = header
	d.index = MakeHeaderIndex(header)
	return d, nil
}

// read returns the next record, failing with csv.ErrQuote when its last
// field opened a quote that never closed.
func (d *RowDecoder) read() ([]string, error) {
	start := d.csv.InputOffset()
	d.tap.discard(start)

	record, err := d.csv.Read()
	if err != nil {
		return record, err
	}

	raw := d.tap.span(start, d.csv.InputOffset())
	if bytes.IndexByte(raw, '"') >= 0 && unterminatedQuote(string(raw), d.delimiter) {
		startLine, _ := d.csv.FieldPos(0)
		line, col := d.csv.FieldPos(len(record) - 1)
		return nil, &csv.ParseError{StartLine: startLine, Line: line, Column: col, Err: csv.ErrQuote}
	}
	return record, nil
}

// Header returns the header row as read from the file.
func (d *RowDecoder) Header() []string {
	return d.header
}

// Next returns the next row outcome. It returns io.EOF after the last row and
// a non-nil error for any fatal condition.
func (d *RowDecoder) Next() (RowOutcome, error) {
	record, err := d.read()
	if err == io.EOF {
		return RowOutcome{}, io.EOF
	}

	if err != nil {
		line := 0
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			line = pe.StartLine
		}
		if classifyReadError(err) == decisionSkip {
			return RowOutcome{Line: line, Status: RowSkipped, Reason: err}, nil
		}
		return RowOutcome{Line: line}, fmt.Errorf("read row: %w", err)
	}

	// A successful Read always returns at least one field
	line, _ := d.csv.FieldPos(0)

	if len(record) != len(d.header) {
		return RowOutcome{
			Line:   line,
			Status: RowSkipped,
			Reason: fmt.Errorf("%w: expected %d fields, got %d", ErrJaggedRow, len(d.header), len(record)),
		}, nil
	}

	return RowOutcome{
		Line:   line,
		Status: RowDecoded,
		Row:    Row{header: d.header, index: d.index, values: record},
	}, nil
}

type readDecision int

const (
	decisionFatal readDecision = iota
	decisionSkip
)

// classifyReadError maps a tokenizer error to skip or fatal.
func classifyReadError(err error) readDecision {
	switch {
	case errors.Is(err, csv.ErrFieldCount), errors.Is(err, ErrJaggedRow):
		return decisionSkip
	default:
		// csv.ErrQuote, ErrInvalidEncoding and I/O errors
		return decisionFatal
	}
}

// unterminatedQuote reports whether raw, one record as read from the input,
// contains a quoted field with no closing quote. A quote that is followed by
// anything other than a quote, the delimiter or a line break is literal text.
func unterminatedQuote(raw string, delimiter rune) bool {
	delim := string(delimiter)
	fieldStart := true

	for i := 0; i < len(raw); {
		if fieldStart && raw[i] == '"' {
			i++
			closed := false
			for i < len(raw) {
				if raw[i] != '"' {
					i++
					continue
				}
				i++
				if i < len(raw) && raw[i] == '"' {
					i++ // escaped quote
					continue
				}
				if i == len(raw) || raw[i] == '\n' || raw[i] == '\r' || strings.HasPrefix(raw[i:], delim) {
					closed = true
					break
				}
			}
			if !closed {
				return true
			}
			fieldStart = false
			continue
		}

		r, size := utf8.DecodeRuneInString(raw[i:])
		i += size
		fieldStart = r == delimiter || r == '\n'
	}
	return false
}

// recordTap retains the bytes handed to the csv.Reader from the start of the
// current record onward, so a record can be rescanned in its raw form.
type recordTap struct {
	r    io.Reader
	buf  []byte
	base int64 // input offset of buf[0]
}

func (t *recordTap) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	t.buf = append(t.buf, p[:n]...)
	return n, err
}

// discard drops everything before offset.
func (t *recordTap) discard(offset int64) {
	if n := int(offset - t.base); n > 0 {
		t.buf = append(t.buf[:0], t.buf[n:]...)
		t.base = offset
	}
}

// span returns the input between the two offsets.
func (t *recordTap) span(from, to int64) []byte {
	return t.buf[from-t.base : to-t.base]
}

// validDelimiter mirrors encoding/csv's own delimiter rules.
func validDelimiter(r rune) bool {
	return r != 0 && r != '"' && r != '\r' && r != '\n' && r != 0xFFFD
}
