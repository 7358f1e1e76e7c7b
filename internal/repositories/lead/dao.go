package lead

import (
	"database/sql"
	"strings"
	"time"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
)

const (
	leadsTable = "leads"
)

// LeadRow represents the database row for a lead
type LeadRow struct {
	ID            sql.NullString                         `db:"id"`
	Name          sql.NullString                         `db:"name"`
	Contact       sql.NullString                         `db:"contact"`
	Phone         sql.NullString                         `db:"phone"`
	Email         sql.NullString                         `db:"email"`
	Address       sql.NullString                         `db:"address"`
	Province      sql.NullString                         `db:"province"`
	City          sql.NullString                         `db:"city"`
	Website       sql.NullString                         `db:"website"`
	Type          sql.NullString                         `db:"type"`
	Rating        sql.NullFloat64                        `db:"rating"`
	ReviewCount   sql.NullInt64                          `db:"review_count"`
	GoogleURL     sql.NullString                         `db:"google_url"`
	Schedule      sql.NullString                         `db:"schedule"`
	AssignedTo    sql.NullString                         `db:"assigned_to"`
	AssignedAt    sql.NullTime                           `db:"assigned_at"`
	Status        sql.NullString                         `db:"status"`
	Notes         sql.NullString                         `db:"notes"`
	LastContact   sql.NullTime                           `db:"last_contact"`
	NextAction    sql.NullString                         `db:"next_action"`
	StatusHistory database.JSONB[[]models.StatusChange] `db:"status_history"`
	ImportRunID   sql.NullString                         `db:"import_run_id"`
	CreatedAt     sql.NullTime                           `db:"created_at"`
	UpdatedAt     sql.NullTime                           `db:"updated_at"`
}

var leadStruct = database.NewStruct(new(LeadRow))

func nullString(s string) sql.NullString {
	s = strings.TrimSpace(s)
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// FromLead converts a domain model to a database row
func FromLead(l *models.Lead) *LeadRow {
	history := l.StatusHistory
	if history == nil {
		history = []models.StatusChange{}
	}
	status := l.Status
	if status == "" {
		status = models.LeadStatusUncontacted
	}

	return &LeadRow{
		ID:            nullString(l.ID),
		Name:          nullString(l.Name),
		Contact:       nullString(l.Contact),
		Phone:         nullString(l.Phone),
		Email:         nullString(l.Email),
		Address:       nullString(l.Address),
		Province:      nullString(l.Province),
		City:          nullString(l.City),
		Website:       nullString(l.Website),
		Type:          nullString(l.Type),
		Rating:        sql.NullFloat64{Float64: l.Rating, Valid: true},
		ReviewCount:   sql.NullInt64{Int64: int64(l.ReviewCount), Valid: true},
		GoogleURL:     nullString(l.GoogleURL),
		Schedule:      nullString(l.Schedule),
		AssignedTo:    nullString(l.AssignedAgent()),
		AssignedAt:    nullTime(l.AssignedAt),
		Status:        sql.NullString{String: string(status), Valid: true},
		Notes:         nullString(l.Notes),
		LastContact:   nullTime(l.LastContact),
		NextAction:    nullString(l.NextAction),
		StatusHistory: database.JSONB[[]models.StatusChange]{Data: history},
		ImportRunID:   nullString(l.ImportRunID),
		CreatedAt:     sql.NullTime{Time: l.CreatedAt, Valid: !l.CreatedAt.IsZero()},
		UpdatedAt:     sql.NullTime{Time: l.UpdatedAt, Valid: !l.UpdatedAt.IsZero()},
	}
}

// ToLead converts a database row to a domain model
func ToLead(row *LeadRow) *models.Lead {
	status, err := models.ParseLeadStatus(row.Status.String)
	if err != nil {
		status = models.LeadStatusUncontacted
	}

	var assignedTo *string
	if row.AssignedTo.Valid {
		v := row.AssignedTo.String
		assignedTo = &v
	}

	return &models.Lead{
		ID:            row.ID.String,
		Name:          row.Name.String,
		Contact:       row.Contact.String,
		Phone:         row.Phone.String,
		Email:         row.Email.String,
		Address:       row.Address.String,
		Province:      row.Province.String,
		City:          row.City.String,
		Website:       row.Website.String,
		Type:          row.Type.String,
		Rating:        row.Rating.Float64,
		ReviewCount:   int(row.ReviewCount.Int64),
		GoogleURL:     row.GoogleURL.String,
		Schedule:      row.Schedule.String,
		AssignedTo:    assignedTo,
		AssignedAt:    timePtr(row.AssignedAt),
		Status:        status,
		Notes:         row.Notes.String,
		LastContact:   timePtr(row.LastContact),
		NextAction:    row.NextAction.String,
		StatusHistory: row.StatusHistory.Data,
		ImportRunID:   row.ImportRunID.String,
		CreatedAt:     row.CreatedAt.Time,
		UpdatedAt:     row.UpdatedAt.Time,
	}
}

// ToLeads converts a slice of database rows to domain models
func ToLeads(rows []LeadRow) []models.Lead {
	leads := make([]models.Lead, len(rows))
	for i := range rows {
		leads[i] = *ToLead(&rows[i])
	}
	return leads
}

// Now returns the current time in UTC
func Now() time.Time {
	return time.Now().UTC()
}
