package core

import (
	"bytes"
	"encoding/csv"
	"io"
	"strings"
	"testing"
)

// ============================================================================
// Conversion Function Benchmarks
// ============================================================================

// BenchmarkParseScore benchmarks score conversion.
// Called once per accepted row.
func BenchmarkParseScore(b *testing.B) {
	testCases := []string{
		"7.3",
		"7,3",     // Decimal comma
		"  9.8  ", // Whitespace
		"",
		"n/a",
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, tc := range testCases {
			ParseScore(tc)
		}
	}
}

// BenchmarkCleanCell benchmarks header cell cleaning.
func BenchmarkCleanCell(b *testing.B) {
	testCases := []string{
		"normal value",
		`="formula"`,     // Excel formula prefix
		`"quoted"`,       // Quoted
		"  whitespace  ", // Whitespace
		"'single quoted'",
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, tc := range testCases {
			CleanCell(tc)
		}
	}
}

// ============================================================================
// Header Index Benchmarks
// ============================================================================

// BenchmarkMakeHeaderIndex benchmarks header index creation.
// Called once per file to build the column lookup map.
func BenchmarkMakeHeaderIndex(b *testing.B) {
	headers := CanonicalHeader()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		MakeHeaderIndex(headers)
	}
}

// BenchmarkMakeHeaderIndex_Large benchmarks with many columns.
func BenchmarkMakeHeaderIndex_Large(b *testing.B) {
	headers := make([]string, 50)
	for i := range headers {
		headers[i] = strings.Repeat("Column ", i+1)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		MakeHeaderIndex(headers)
	}
}

// ============================================================================
// Decode and Map Benchmarks
// ============================================================================

// BenchmarkRowDecoder benchmarks streaming decode of a whole file.
func BenchmarkRowDecoder(b *testing.B) {
	data := generateTestCSV(1000)

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		dec, err := NewRowDecoder(WrapForIngest(bytes.NewReader(data), int64(len(data))), DefaultDelimiter)
		if err != nil {
			b.Fatal(err)
		}
		for {
			if _, err := dec.Next(); err == io.EOF {
				break
			} else if err != nil {
				b.Fatal(err)
			}
		}
	}
}

// BenchmarkFieldMapper_Map benchmarks projection plus raw serialization of one row.
func BenchmarkFieldMapper_Map(b *testing.B) {
	row := NewRow(CanonicalHeader(), []string{
		"CVE-2024-1234", "Gateway", "openssl", "High", "AV:N/AC:L", "7,3", "Affected", "Upstream fix pending",
	})
	m := NewFieldMapper(nil)

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, _, err := m.Map(row); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkRow_MarshalJSON benchmarks raw data serialization.
func BenchmarkRow_MarshalJSON(b *testing.B) {
	header := make([]string, 30)
	values := make([]string, 30)
	for i := range header {
		header[i] = "Column " + strings.Repeat("x", i+1)
		values[i] = "value with \"quotes\" and ; delimiters"
	}
	row := NewRow(header, values)

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		row.MarshalJSON()
	}
}

// BenchmarkCSVParsing_Comparison compares ReadAll vs streaming approaches.
func BenchmarkCSVParsing_Comparison(b *testing.B) {
	data := generateTestCSV(500)

	b.Run("ReadAll", func(b *testing.B) {
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			r := csv.NewReader(bytes.NewReader(data))
			r.Comma = DefaultDelimiter
			r.ReadAll()
		}
	})

	b.Run("Streaming", func(b *testing.B) {
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			r := csv.NewReader(bytes.NewReader(data))
			r.Comma = DefaultDelimiter
			r.FieldsPerRecord = -1
			for {
				_, err := r.Read()
				if err == io.EOF {
					break
				}
			}
		}
	})
}

// BenchmarkUTF8ValidatingReader_LargeFile benchmarks validation throughput.
func BenchmarkUTF8ValidatingReader_LargeFile(b *testing.B) {
	data := bytes.Repeat([]byte("CVE-2024-0001;Gerät;Komponente;Hoch;AV:N;7,3;Betroffen;Prüfung\n"), 1000)

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		io.Copy(io.Discard, NewUTF8ValidatingReader(bytes.NewReader(data)))
	}
}

// BenchmarkCleanCellParallel benchmarks parallel cell cleaning.
func BenchmarkCleanCellParallel(b *testing.B) {
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			CleanCell(`="formula value"`)
		}
	})
}

// ============================================================================
// Helper Functions
// ============================================================================

// generateTestCSV generates canonical export data with the specified number of rows.
func generateTestCSV(rows int) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = DefaultDelimiter

	w.Write(CanonicalHeader())
	for i := 0; i < rows; i++ {
		w.Write([]string{
			"CVE-2024-1234",
			"Gateway",
			"openssl",
			"High",
			"AV:N/AC:L/Au:N/C:P/I:P/A:P",
			"7,5",
			"Affected",
			"Fix available in 3.0.8",
		})
	}
	w.Flush()

	return buf.Bytes()
}
