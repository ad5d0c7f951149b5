package core

// convert.go provides header normalization, row access and value coercion for
// exported CSV data.
//
// These functions handle the messy reality of exporter output:
//   - Header names that drift in case and spacing between versions
//   - Excel formula prefixes (="value") and stray quotes around headers
//   - Decimal-comma locales ("7,3" instead of "7.3")
//
// Coercion never fails: unusable input falls back to a zero value so that a
// single bad cell cannot reject an otherwise valid row.

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// HeaderIndex maps normalized column names to their position in the CSV row.
// When a header repeats a name, the last column wins.
type HeaderIndex map[string]int

// MakeHeaderIndex creates a HeaderIndex from a CSV header row.
func MakeHeaderIndex(header []string) HeaderIndex {
	idx := make(HeaderIndex, len(header))
	for i, h := range header {
		idx[NormalizeHeader(h)] = i
	}
	return idx
}

// NormalizeHeader lowercases a header cell and collapses its whitespace so
// that "CVE ID", " cve  id " and `="CVE ID"` all resolve to the same key.
func NormalizeHeader(h string) string {
	return strings.ToLower(strings.Join(strings.Fields(CleanCell(h)), " "))
}

// CleanCell removes common CSV artifacts from a cell value:
// - Trims whitespace
// - Removes Excel formula prefix (="...")
// - Removes surrounding quotes
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	return strings.Trim(s, `"'`)
}

// ParseScore converts a score cell to float64.
// A decimal comma is normalized to a decimal point first ("7,3" -> 7.3).
// Only plain decimal notation is accepted; empty, unparsable and non-finite
// values, hex floats and underscore-grouped digits yield 0.
func ParseScore(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" || strings.IndexFunc(s, notDecimalRune) >= 0 {
		return 0
	}
	s = strings.Replace(s, ",", ".", 1)

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func notDecimalRune(r rune) bool {
	switch {
	case r >= '0' && r <= '9':
		return false
	case r == '+', r == '-', r == '.', r == ',', r == 'e', r == 'E':
		return false
	}
	return true
}

// Row is one decoded data row: an ordered mapping of header name to raw value.
type Row struct {
	header []string
	index  HeaderIndex
	values []string
}

// NewRow builds a Row from a header and a value slice of the same length.
func NewRow(header, values []string) Row {
	return Row{header: header, index: MakeHeaderIndex(header), values: values}
}

// Get returns the raw value of the named column. Lookup is by normalized name.
func (r Row) Get(name string) (string, bool) {
	pos, ok := r.index[NormalizeHeader(name)]
	if !ok || pos >= len(r.values) {
		return "", false
	}
	return r.values[pos], true
}

// Len returns the number of fields in the row.
func (r Row) Len() int {
	return len(r.values)
}

// Columns returns the header names in file order.
func (r Row) Columns() []string {
	return r.header
}

// MarshalJSON encodes every column as a JSON object in header order, using
// the header text exactly as it appeared in the file. A repeated header name
// is written once, at its first position, with the value of its last column.
func (r Row) MarshalJSON() ([]byte, error) {
	last := make(map[string]int, len(r.header))
	for i, h := range r.header {
		last[h] = i
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	seen := make(map[string]bool, len(r.header))
	for _, h := range r.header {
		if seen[h] {
			continue
		}
		seen[h] = true

		key, err := json.Marshal(h)
		if err != nil {
			return nil, err
		}
		var v string
		if pos := last[h]; pos < len(r.values) {
			v = r.values[pos]
		}
		val, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ParseRawData decodes a serialized row back into a column -> value map.
func ParseRawData(raw string) (map[string]string, error) {
	out := make(map[string]string)
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodeRawData decodes a serialized row into a Row, keeping column order.
func DecodeRawData(raw string) (Row, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	if tok, err := dec.Token(); err != nil {
		return Row{}, err
	} else if d, ok := tok.(json.Delim); !ok || d != '{' {
		return Row{}, fmt.Errorf("raw data: expected object, got %v", tok)
	}

	var header, values []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return Row{}, err
		}
		key, _ := tok.(string)
		var v string
		if err := dec.Decode(&v); err != nil {
			return Row{}, fmt.Errorf("raw data %q: %w", key, err)
		}
		header = append(header, key)
		values = append(values, v)
	}
	if _, err := dec.Token(); err != nil {
		return Row{}, err
	}
	return NewRow(header, values), nil
}

// Values returns the field values in column order.
func (r Row) Values() []string {
	return r.values
}
