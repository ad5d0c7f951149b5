package core

// streaming.go provides the reader chain placed in front of the CSV tokenizer.
//
//   - BOMSkippingReader: Removes UTF-8 BOM (0xEF 0xBB 0xBF) from Windows exports
//   - UTF8ValidatingReader: Fails the read on the first invalid UTF-8 sequence
//   - CountingReader: Tracks bytes read for logging and size limits
//
// Use WrapForIngest to apply all transforms in the correct order.

import (
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// ErrInvalidEncoding is returned when the input is not valid UTF-8.
// There is no safe resumption point, so it aborts the ingestion.
var ErrInvalidEncoding = errors.New("encoding error: input is not valid UTF-8")

// UTF8ValidatingReader wraps an io.Reader and returns ErrInvalidEncoding as
// soon as an invalid UTF-8 sequence is seen. Multi-byte sequences split across
// reads are carried over and validated with the next chunk.
type UTF8ValidatingReader struct {
	reader io.Reader
	offset int64

	// Trailing bytes of the previous chunk that may start a multi-byte rune
	pending []byte
}

// NewUTF8ValidatingReader creates a new validating reader.
func NewUTF8ValidatingReader(r io.Reader) *UTF8ValidatingReader {
	return &UTF8ValidatingReader{
		reader:  r,
		pending: make([]byte, 0, utf8.UTFMax),
	}
}

// Read implements io.Reader. Bytes are passed through unchanged.
func (v *UTF8ValidatingReader) Read(p []byte) (int, error) {
	n, err := v.reader.Read(p)
	atEOF := err == io.EOF

	if n == 0 {
		if atEOF && len(v.pending) > 0 {
			return 0, fmt.Errorf("%w (truncated sequence at byte %d)", ErrInvalidEncoding, v.offset-int64(len(v.pending)))
		}
		return 0, err
	}

	chunk := p[:n]
	if len(v.pending) == 0 && isAllASCII(chunk) {
		v.offset += int64(n)
		return n, err
	}

	// Validate pending bytes together with the new chunk
	buf := make([]byte, 0, len(v.pending)+n)
	buf = append(buf, v.pending...)
	buf = append(buf, chunk...)
	start := v.offset - int64(len(v.pending))
	v.pending = v.pending[:0]

	check := buf
	if !atEOF {
		if trailing := incompleteTrailingBytes(buf); trailing > 0 {
			check = buf[:len(buf)-trailing]
			v.pending = append(v.pending, buf[len(buf)-trailing:]...)
		}
	}

	if pos := firstInvalid(check); pos >= 0 {
		return 0, fmt.Errorf("%w (at byte %d)", ErrInvalidEncoding, start+int64(pos))
	}

	v.offset += int64(n)
	return n, err
}

// firstInvalid returns the index of the first invalid UTF-8 byte, or -1.
func firstInvalid(data []byte) int {
	for i := 0; i < len(data); {
		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && size == 1 {
			return i
		}
		i += size
	}
	return -1
}

// isAllASCII returns true if all bytes are ASCII (< 128).
func isAllASCII(data []byte) bool {
	for _, b := range data {
		if b >= 0x80 {
			return false
		}
	}
	return true
}

// incompleteTrailingBytes returns the number of bytes at the end of data
// that could be the start of an incomplete multi-byte UTF-8 sequence.
func incompleteTrailingBytes(data []byte) int {
	for i := 1; i <= utf8.UTFMax-1 && i <= len(data); i++ {
		b := data[len(data)-i]
		if b >= 0xC0 {
			if i < runeLen(b) {
				return i
			}
			return 0
		}
		// Anything but a continuation byte ends the search
		if b&0xC0 != 0x80 {
			return 0
		}
	}
	return 0
}

// runeLen returns the expected length of a UTF-8 sequence starting with byte b.
func runeLen(b byte) int {
	switch {
	case b < 0x80:
		return 1
	case b < 0xC0:
		return 0 // continuation byte
	case b < 0xE0:
		return 2
	case b < 0xF0:
		return 3
	default:
		return 4
	}
}

// BOMSkippingReader wraps an io.Reader and skips the UTF-8 BOM if present.
type BOMSkippingReader struct {
	reader     io.Reader
	bomChecked bool
	buf        [3]byte
	bufData    []byte // Bytes read during the BOM check that must be replayed
}

// NewBOMSkippingReader creates a new BOM-skipping reader.
func NewBOMSkippingReader(r io.Reader) *BOMSkippingReader {
	return &BOMSkippingReader{reader: r}
}

// Read implements io.Reader. On the first read, it checks for and skips the BOM.
func (r *BOMSkippingReader) Read(p []byte) (int, error) {
	if !r.bomChecked {
		r.bomChecked = true

		n, err := io.ReadFull(r.reader, r.buf[:])
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		if err != nil && err != io.EOF {
			return 0, err
		}

		if n == 3 && r.buf[0] == 0xEF && r.buf[1] == 0xBB && r.buf[2] == 0xBF {
			r.bufData = nil
		} else {
			r.bufData = r.buf[:n]
		}

		if err == io.EOF && len(r.bufData) == 0 {
			return 0, io.EOF
		}
	}

	if len(r.bufData) > 0 {
		copied := copy(p, r.bufData)
		r.bufData = r.bufData[copied:]
		return copied, nil
	}

	return r.reader.Read(p)
}

// CountingReader wraps an io.Reader to track bytes read.
type CountingReader struct {
	reader    io.Reader
	BytesRead int64
	Total     int64 // 0 if unknown
}

// NewCountingReader creates a counting reader with optional total size.
func NewCountingReader(r io.Reader, total int64) *CountingReader {
	return &CountingReader{reader: r, Total: total}
}

// Read implements io.Reader.
func (r *CountingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.BytesRead += int64(n)
	return n, err
}

// Progress returns the read progress as a percentage (0-100).
// Returns 0 if total is unknown.
func (r *CountingReader) Progress() int {
	if r.Total <= 0 {
		return 0
	}
	return int(r.BytesRead * 100 / r.Total)
}

// WrapForIngest wraps a reader with BOM skipping, UTF-8 validation and byte
// counting. The BOM must be stripped before validation sees the bytes.
func WrapForIngest(r io.Reader, totalSize int64) *CountingReader {
	bomReader := NewBOMSkippingReader(r)
	validating := NewUTF8ValidatingReader(bomReader)
	return NewCountingReader(validating, totalSize)
}
