package sqlite

import (
	"fmt"

	"github.com/JonMunkholm/vulnmaster/internal/core"
)

// datasetModel maps the datasets table. Timestamps are stored as text.
type datasetModel struct {
	ID          string `gorm:"column:id;primaryKey"`
	FileName    string `gorm:"column:file_name"`
	Created     string `gorm:"column:created_at"`
	RecordCount int    `gorm:"column:record_count"`
}

func (datasetModel) TableName() string { return "datasets" }

// recordModel maps the vulnerability_records table. The expert columns are
// NULL until a reviewer submits an assessment.
type recordModel struct {
	ID                 string  `gorm:"column:id;primaryKey"`
	DatasetID          string  `gorm:"column:dataset_id"`
	RowNumber          int     `gorm:"column:row_number"`
	CVEID              string  `gorm:"column:cve_id"`
	Product            string  `gorm:"column:product"`
	Component          string  `gorm:"column:component"`
	OriginalSeverity   string  `gorm:"column:original_severity"`
	OriginalVector     string  `gorm:"column:original_vector"`
	OriginalScore      float64 `gorm:"column:original_score"`
	DispositionSummary string  `gorm:"column:disposition_summary"`
	Rationale          string  `gorm:"column:rationale"`

	ExpertSeverity      *string  `gorm:"column:expert_severity"`
	ExpertVector        *string  `gorm:"column:expert_vector"`
	ExpertScore         *float64 `gorm:"column:expert_score"`
	ExpertJustification *string  `gorm:"column:expert_justification"`
	ExpertUpdatedAt     *string  `gorm:"column:updated_at"`

	RawData string `gorm:"column:raw_data"`
}

func (recordModel) TableName() string { return "vulnerability_records" }

func fromDataset(d core.Dataset) datasetModel {
	return datasetModel{
		ID:          d.ID,
		FileName:    d.FileName,
		Created:     core.FormatTimestamp(d.CreatedAt),
		RecordCount: d.RecordCount,
	}
}

func (m datasetModel) toCore() (core.Dataset, error) {
	created, err := core.ParseTimestamp(m.Created)
	if err != nil {
		return core.Dataset{}, fmt.Errorf("dataset %s: created_at: %w", m.ID, err)
	}
	return core.Dataset{
		ID:          m.ID,
		FileName:    m.FileName,
		CreatedAt:   created,
		RecordCount: m.RecordCount,
	}, nil
}

// fromRecord converts a freshly ingested record. Expert columns stay NULL.
func fromRecord(r core.VulnerabilityRecord) recordModel {
	return recordModel{
		ID:                 r.ID,
		DatasetID:          r.DatasetID,
		RowNumber:          r.RowNumber,
		CVEID:              r.CVEID,
		Product:            r.Product,
		Component:          r.Component,
		OriginalSeverity:   r.OriginalSeverity,
		OriginalVector:     r.OriginalVector,
		OriginalScore:      r.OriginalScore,
		DispositionSummary: r.DispositionSummary,
		Rationale:          r.Rationale,
		RawData:            r.RawData,
	}
}

func (m recordModel) toCore() (core.VulnerabilityRecord, error) {
	rec := core.VulnerabilityRecord{
		ID:        m.ID,
		DatasetID: m.DatasetID,
		RowNumber: m.RowNumber,
		Finding: core.Finding{
			CVEID:              m.CVEID,
			Product:            m.Product,
			Component:          m.Component,
			OriginalSeverity:   m.OriginalSeverity,
			OriginalVector:     m.OriginalVector,
			OriginalScore:      m.OriginalScore,
			DispositionSummary: m.DispositionSummary,
			Rationale:          m.Rationale,
		},
		RawData: m.RawData,
	}

	if m.ExpertUpdatedAt == nil {
		return rec, nil
	}

	updated, err := core.ParseTimestamp(*m.ExpertUpdatedAt)
	if err != nil {
		return core.VulnerabilityRecord{}, fmt.Errorf("record %s: updated_at: %w", m.ID, err)
	}
	rec.Expert = &core.ExpertAssessment{
		Severity:      deref(m.ExpertSeverity),
		Vector:        m.ExpertVector,
		Score:         m.ExpertScore,
		Justification: deref(m.ExpertJustification),
		UpdatedAt:     updated,
	}
	return rec, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
