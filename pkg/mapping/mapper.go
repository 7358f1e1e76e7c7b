// Package mapping turns raw spreadsheet rows into candidate leads under a column mapping.
package mapping

import (
	"fmt"
	"strings"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/normalizers"
)

const (
	ReasonMissingName     = "missing name"
	ReasonMissingProvince = "missing province"
)

// Rejection explains why a row could not become a lead. RowIndex is the zero-based
// index of the row in the file, so the header is row 0 and the first data row is 1.
type Rejection struct {
	RowIndex int
	Reason   string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("row %d: %s", r.RowIndex, r.Reason)
}

// MapRow reads the mapped cells of row into a candidate lead. Cells that are missing
// or blank leave the field empty; rating and reviewCount go through the numeric normalizers.
func MapRow(row []string, m models.ColumnMapping, rowIndex int, defaultProvince string) (*models.Lead, *Rejection) {
	cell := func(f models.Field) string {
		idx := m.Index(f)
		if idx == models.Unmapped || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	lead := &models.Lead{
		Name:      cell(models.FieldName),
		Contact:   cell(models.FieldContact),
		Phone:     cell(models.FieldPhone),
		Email:     cell(models.FieldEmail),
		Address:   cell(models.FieldAddress),
		Province:  cell(models.FieldProvince),
		City:      cell(models.FieldCity),
		Website:   cell(models.FieldWebsite),
		Type:      cell(models.FieldType),
		GoogleURL: cell(models.FieldGoogleURL),
		Schedule:  cell(models.FieldSchedule),
		Status:    models.LeadStatusUncontacted,
	}

	if raw := cell(models.FieldRating); raw != "" {
		lead.Rating = normalizers.NormalizeRating(raw)
	}
	if raw := cell(models.FieldReviewCount); raw != "" {
		lead.ReviewCount = normalizers.NormalizeReviewCount(raw)
	}

	if lead.Name == "" {
		return nil, &Rejection{RowIndex: rowIndex, Reason: ReasonMissingName}
	}

	if lead.Province == "" {
		lead.Province = strings.TrimSpace(defaultProvince)
	}
	if lead.Province == "" {
		return nil, &Rejection{RowIndex: rowIndex, Reason: ReasonMissingProvince}
	}

	return lead, nil
}
