package core

// mapper.go projects a decoded Row onto the normalized Finding fields.
//
// Columns are resolved by header name through a ColumnMap, never by position:
// exporters reorder and rename columns between versions. A missing column is
// an empty value, not an error. The only row-level rejection is a row whose
// CVE ID and Product are both empty.

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Field identifies one normalized field.
type Field string

const (
	FieldCVEID              Field = "cve_id"
	FieldProduct            Field = "product"
	FieldComponent          Field = "component"
	FieldOriginalSeverity   Field = "original_severity"
	FieldOriginalVector     Field = "original_vector"
	FieldOriginalScore      Field = "original_score"
	FieldDispositionSummary Field = "disposition_summary"
	FieldRationale          Field = "rationale"
)

// canonicalColumns is the header name of each field in the canonical export.
var canonicalColumns = []struct {
	field  Field
	header string
}{
	{FieldCVEID, "CVE ID"},
	{FieldProduct, "Product"},
	{FieldComponent, "Component"},
	{FieldOriginalSeverity, "Original Severity"},
	{FieldOriginalVector, "Original Vector"},
	{FieldOriginalScore, "Original Score"},
	{FieldDispositionSummary, "Disposition Summary"},
	{FieldRationale, "Rationale"},
}

// ColumnMap lists the accepted header names for each field in priority order.
// The first name present in a file's header is used.
type ColumnMap map[Field][]string

// DefaultColumnMap returns the canonical schema with no aliases.
func DefaultColumnMap() ColumnMap {
	cm := make(ColumnMap, len(canonicalColumns))
	for _, c := range canonicalColumns {
		cm[c.field] = []string{c.header}
	}
	return cm
}

// CanonicalHeader returns the canonical column names in export order.
func CanonicalHeader() []string {
	out := make([]string, len(canonicalColumns))
	for i, c := range canonicalColumns {
		out[i] = c.header
	}
	return out
}

// columnMapFile is the on-disk YAML layout:
//
//	columns:
//	  cve_id: ["CVE", "Vulnerability ID"]
//	  original_score: ["CVSS Score"]
type columnMapFile struct {
	Columns map[Field][]string `yaml:"columns"`
}

// LoadColumnMap reads header aliases from a YAML file and appends them after
// the canonical names. An empty path returns DefaultColumnMap.
func LoadColumnMap(path string) (ColumnMap, error) {
	cm := DefaultColumnMap()
	if path == "" {
		return cm, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read column map: %w", err)
	}

	var file columnMapFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse column map %s: %w", path, err)
	}

	for field, aliases := range file.Columns {
		if _, ok := cm[field]; !ok {
			return nil, fmt.Errorf("column map %s: unknown field %q", path, field)
		}
		for _, a := range aliases {
			if strings.TrimSpace(a) != "" {
				cm[field] = append(cm[field], a)
			}
		}
	}

	return cm, nil
}

// FieldMapper converts decoded rows into MappedRecords.
type FieldMapper struct {
	columns ColumnMap
}

// NewFieldMapper creates a mapper. A nil map uses DefaultColumnMap.
func NewFieldMapper(columns ColumnMap) *FieldMapper {
	if columns == nil {
		columns = DefaultColumnMap()
	}
	return &FieldMapper{columns: columns}
}

// Map extracts the normalized fields and serializes the full row.
// It returns false when the row is rejected (CVE ID and Product both empty).
// An error means the row could not be serialized and is fatal for the file.
func (m *FieldMapper) Map(row Row) (MappedRecord, bool, error) {
	rec := MappedRecord{
		Finding: Finding{
			CVEID:              m.text(row, FieldCVEID),
			Product:            m.text(row, FieldProduct),
			Component:          m.text(row, FieldComponent),
			OriginalSeverity:   m.text(row, FieldOriginalSeverity),
			OriginalVector:     m.text(row, FieldOriginalVector),
			OriginalScore:      ParseScore(m.text(row, FieldOriginalScore)),
			DispositionSummary: m.text(row, FieldDispositionSummary),
			Rationale:          m.text(row, FieldRationale),
		},
	}

	if rec.CVEID == "" && rec.Product == "" {
		return MappedRecord{}, false, nil
	}

	raw, err := row.MarshalJSON()
	if err != nil {
		return MappedRecord{}, false, fmt.Errorf("serialize row: %w", err)
	}
	rec.RawData = string(raw)

	return rec, true, nil
}

// text returns the trimmed value of the first mapped column present in row.
func (m *FieldMapper) text(row Row, f Field) string {
	for _, name := range m.columns[f] {
		if v, ok := row.Get(name); ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// Unmapped returns the fields none of whose column names appear in header.
func (m *FieldMapper) Unmapped(header []string) []string {
	idx := MakeHeaderIndex(header)

	var missing []string
	for _, c := range canonicalColumns {
		found := false
		for _, name := range m.columns[c.field] {
			if _, ok := idx[NormalizeHeader(name)]; ok {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, string(c.field))
		}
	}
	return missing
}
