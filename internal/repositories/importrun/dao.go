package importrun

import (
	"database/sql"
	"time"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
)

const (
	importRunsTable = "import_runs"
)

type ImportRunRow struct {
	ID             string                               `db:"id"`
	Filename       string                               `db:"filename"`
	UploadedBy     sql.NullString                       `db:"uploaded_by"`
	ColumnMapping  database.JSONB[models.ColumnMapping] `db:"column_mapping"`
	SkipDuplicates bool                                 `db:"skip_duplicates"`
	Status         string                               `db:"status"`
	Stats          database.JSONB[models.ImportStats]   `db:"stats"`
	Logs           database.JSONB[[]models.LogEntry]    `db:"logs"`
	ErrorMessage   sql.NullString                       `db:"error_message"`
	StartedAt      time.Time                            `db:"started_at"`
	CompletedAt    sql.NullTime                         `db:"completed_at"`
}

var importRunStruct = database.NewStruct(new(ImportRunRow))

func FromImportRun(run *models.ImportRun) *ImportRunRow {
	logs := run.Logs
	if logs == nil {
		logs = []models.LogEntry{}
	}
	row := &ImportRunRow{
		ID:             run.ID,
		Filename:       run.Filename,
		UploadedBy:     sql.NullString{String: run.UploadedBy, Valid: run.UploadedBy != ""},
		ColumnMapping:  database.JSONB[models.ColumnMapping]{Data: run.ColumnMapping},
		SkipDuplicates: run.SkipDuplicates,
		Status:         string(run.Status),
		Stats:          database.JSONB[models.ImportStats]{Data: run.Stats},
		Logs:           database.JSONB[[]models.LogEntry]{Data: logs},
		ErrorMessage:   sql.NullString{String: run.ErrorMessage, Valid: run.ErrorMessage != ""},
		StartedAt:      run.StartedAt,
	}
	if run.CompletedAt != nil {
		row.CompletedAt = sql.NullTime{Time: *run.CompletedAt, Valid: true}
	}
	return row
}

func ToImportRun(row *ImportRunRow) *models.ImportRun {
	run := &models.ImportRun{
		ID:             row.ID,
		Filename:       row.Filename,
		UploadedBy:     row.UploadedBy.String,
		ColumnMapping:  row.ColumnMapping.GetValue(),
		SkipDuplicates: row.SkipDuplicates,
		Status:         models.ImportState(row.Status),
		Stats:          row.Stats.GetValue(),
		Logs:           row.Logs.GetValue(),
		ErrorMessage:   row.ErrorMessage.String,
		StartedAt:      row.StartedAt,
	}
	if row.CompletedAt.Valid {
		completed := row.CompletedAt.Time
		run.CompletedAt = &completed
	}
	if run.Logs == nil {
		run.Logs = []models.LogEntry{}
	}
	return run
}

func ToImportRuns(rows []ImportRunRow) []models.ImportRun {
	runs := make([]models.ImportRun, 0, len(rows))
	for i := range rows {
		runs = append(runs, *ToImportRun(&rows[i]))
	}
	return runs
}
