package lead

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const DefaultChunkSize = 500

// LeadRepository defines the interface for lead data access
type LeadRepository interface {
	FindOne(ctx context.Context, filter models.LeadFilter) (*models.Lead, error)
	FindByID(ctx context.Context, id string) (*models.Lead, error)
	GetByID(ctx context.Context, id string) (*models.Lead, error)
	InsertMany(ctx context.Context, leads []models.Lead) (models.InsertManyResult, error)
	InsertOne(ctx context.Context, lead models.Lead) (string, error)
	List(ctx context.Context, filter models.LeadListFilter) ([]models.Lead, error)
	ListUnassigned(ctx context.Context, filter models.LeadListFilter) ([]models.Lead, error)
	Assign(ctx context.Context, leadID, agentID string, at time.Time) (bool, error)
	Reassign(ctx context.Context, leadID, fromAgentID, toAgentID string, at time.Time) (bool, error)
	UpdateStatus(ctx context.Context, id string, update models.StatusUpdate) (*models.Lead, error)
	CountByStatus(ctx context.Context, agentID string) ([]models.StatusCount, error)
	CountByAgent(ctx context.Context, agentID string) (int, error)
}

// Repository implements LeadRepository
type Repository struct {
	db        database.DB
	tx        *database.Transactor
	logger    ectologger.Logger
	chunkSize int
	newID     func() string
}

// NewRepository creates a new lead repository. chunkSize bounds the rows per bulk INSERT.
func NewRepository(db database.DB, logger ectologger.Logger, chunkSize int) *Repository {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Repository{
		db:        db,
		tx:        database.NewTransactor(db),
		logger:    logger,
		chunkSize: chunkSize,
		newID:     func() string { return uuid.New().String() },
	}
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// FindOne returns the lead matching one identifying signal, or nil when there is none.
func (r *Repository) FindOne(ctx context.Context, filter models.LeadFilter) (*models.Lead, error) {
	ctx, span := tracing.StartSpan(ctx, "LeadRepository.FindOne")
	defer span.End()

	sb := leadStruct.SelectFrom(leadsTable)
	switch {
	case filter.Phone != "":
		sb.Where(sb.Equal("phone", filter.Phone))
	case filter.GoogleURL != "":
		sb.Where(sb.Equal("google_url", filter.GoogleURL))
	case filter.Name != "":
		sb.Where(
			sb.Equal("LOWER(name)", strings.ToLower(strings.TrimSpace(filter.Name))),
			sb.Equal("LOWER(province)", strings.ToLower(strings.TrimSpace(filter.Province))),
			sb.Equal("LOWER(COALESCE(city, ''))", strings.ToLower(strings.TrimSpace(filter.City))),
		)
	default:
		return nil, fmt.Errorf("lead filter has no identifying field")
	}
	sb.Limit(1)

	sql, args := sb.Build()

	var rows []LeadRow
	if err := database.Executor(ctx, r.db).SelectContext(ctx, &rows, sql, args...); err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).Error("Failed to look up lead")
		return nil, fmt.Errorf("failed to look up lead: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return ToLead(&rows[0]), nil
}

// FindByID returns nil when the lead does not exist.
func (r *Repository) FindByID(ctx context.Context, id string) (*models.Lead, error) {
	ctx, span := tracing.StartSpan(ctx, "LeadRepository.FindByID")
	defer span.End()

	if !validID(id) {
		return nil, nil
	}

	sb := leadStruct.SelectFrom(leadsTable)
	sb.Where(sb.Equal("id", id))
	sql, args := sb.Build()

	var rows []LeadRow
	if err := database.Executor(ctx, r.db).SelectContext(ctx, &rows, sql, args...); err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get lead")
		return nil, fmt.Errorf("failed to get lead: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return ToLead(&rows[0]), nil
}

// GetByID retrieves a lead by ID
func (r *Repository) GetByID(ctx context.Context, id string) (*models.Lead, error) {
	lead, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get lead")
	}
	if lead == nil {
		return nil, httperror.NewHTTPError(http.StatusNotFound, "lead not found")
	}
	return lead, nil
}

func (r *Repository) prepare(lead *models.Lead, now time.Time) {
	if lead.ID == "" {
		lead.ID = r.newID()
	}
	if lead.Status == "" {
		lead.Status = models.LeadStatusUncontacted
	}
	lead.CreatedAt = now
	lead.UpdatedAt = now
}

// InsertMany inserts leads in order, in chunks, inside one transaction. Rows that hit a
// unique index are skipped and reported by index; any other error rolls back every chunk.
func (r *Repository) InsertMany(ctx context.Context, leads []models.Lead) (models.InsertManyResult, error) {
	ctx, span := tracing.StartSpan(ctx, "LeadRepository.InsertMany")
	defer span.End()

	var result models.InsertManyResult
	if len(leads) == 0 {
		return result, nil
	}

	now := Now()
	prepared := make([]models.Lead, len(leads))
	copy(prepared, leads)
	for i := range prepared {
		r.prepare(&prepared[i], now)
	}

	err := r.tx.InTx(ctx, func(ctx context.Context) error {
		inserted := make(map[string]struct{}, len(prepared))

		for start := 0; start < len(prepared); start += r.chunkSize {
			end := min(start+r.chunkSize, len(prepared))

			rows := make([]any, 0, end-start)
			for i := start; i < end; i++ {
				rows = append(rows, FromLead(&prepared[i]))
			}

			ib := leadStruct.InsertInto(leadsTable, rows...).OnConflictDoNothing().Returning("id")
			sql, args := ib.Build()

			var ids []string
			if err := database.Executor(ctx, r.db).SelectContext(ctx, &ids, sql, args...); err != nil {
				return err
			}
			for _, id := range ids {
				inserted[id] = struct{}{}
			}
		}

		for i, l := range prepared {
			if _, ok := inserted[l.ID]; ok {
				result.InsertedCount++
				result.InsertedIDs = append(result.InsertedIDs, l.ID)
				continue
			}
			result.Skipped = append(result.Skipped, i)
		}
		return nil
	})
	if err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).WithField("count", len(leads)).Error("Failed to bulk insert leads")
		return models.InsertManyResult{}, fmt.Errorf("failed to bulk insert leads: %w", err)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"submitted": len(leads),
		"inserted":  result.InsertedCount,
		"skipped":   len(result.Skipped),
	}).Debug("Bulk inserted leads")

	return result, nil
}

// InsertOne inserts a single lead. A unique index hit returns database.ErrUniqueViolation.
func (r *Repository) InsertOne(ctx context.Context, lead models.Lead) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "LeadRepository.InsertOne")
	defer span.End()

	r.prepare(&lead, Now())

	ib := leadStruct.InsertInto(leadsTable, FromLead(&lead))
	sql, args := ib.Build()

	if _, err := database.Executor(ctx, r.db).ExecContext(ctx, sql, args...); err != nil {
		if database.IsUniqueViolation(err) {
			return "", fmt.Errorf("%w: %s", database.ErrUniqueViolation, database.ConstraintName(err))
		}
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).WithField("name", lead.Name).Error("Failed to insert lead")
		return "", fmt.Errorf("failed to insert lead: %w", err)
	}

	return lead.ID, nil
}

func (r *Repository) applyListFilter(sb *database.SelectBuilder, filter models.LeadListFilter) {
	if filter.Status != "" {
		sb.Where(sb.Equal("status", string(filter.Status)))
	}
	if filter.Province != "" {
		sb.Where(sb.Equal("LOWER(province)", strings.ToLower(strings.TrimSpace(filter.Province))))
	}
	if filter.Unassigned {
		sb.Where(sb.IsNull("assigned_to"))
	} else if filter.AssignedTo != "" {
		sb.Where(sb.Equal("assigned_to", filter.AssignedTo))
	}
	if filter.Limit > 0 {
		sb.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		sb.Offset(filter.Offset)
	}
}

// List retrieves leads, newest first
func (r *Repository) List(ctx context.Context, filter models.LeadListFilter) ([]models.Lead, error) {
	ctx, span := tracing.StartSpan(ctx, "LeadRepository.List")
	defer span.End()

	if filter.AssignedTo != "" && !validID(filter.AssignedTo) {
		return []models.Lead{}, nil
	}

	sb := leadStruct.SelectFrom(leadsTable)
	r.applyListFilter(sb, filter)
	sb.OrderBy("created_at DESC", "id")

	sql, args := sb.Build()

	var rows []LeadRow
	if err := database.Executor(ctx, r.db).SelectContext(ctx, &rows, sql, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list leads")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list leads")
	}

	return ToLeads(rows), nil
}

// ListUnassigned returns the unassigned pool, oldest first
func (r *Repository) ListUnassigned(ctx context.Context, filter models.LeadListFilter) ([]models.Lead, error) {
	ctx, span := tracing.StartSpan(ctx, "LeadRepository.ListUnassigned")
	defer span.End()

	filter.Unassigned = true
	sb := leadStruct.SelectFrom(leadsTable)
	r.applyListFilter(sb, filter)
	sb.OrderBy("created_at", "id")

	sql, args := sb.Build()

	var rows []LeadRow
	if err := database.Executor(ctx, r.db).SelectContext(ctx, &rows, sql, args...); err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list unassigned leads")
		return nil, fmt.Errorf("failed to list unassigned leads: %w", err)
	}

	return ToLeads(rows), nil
}

// Assign sets the owner of an unassigned lead. It returns false when the lead is gone or
// already has an owner.
func (r *Repository) Assign(ctx context.Context, leadID, agentID string, at time.Time) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "LeadRepository.Assign")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(leadsTable)
	ub.Set(
		ub.Assign("assigned_to", agentID),
		ub.Assign("assigned_at", at),
		ub.Assign("updated_at", Now()),
	)
	ub.Where(
		ub.Equal("id", leadID),
		ub.IsNull("assigned_to"),
	)

	return r.execCAS(ctx, ub, "assign")
}

// Reassign moves a lead from one owner to another. It returns false when the current
// owner is no longer fromAgentID.
func (r *Repository) Reassign(ctx context.Context, leadID, fromAgentID, toAgentID string, at time.Time) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "LeadRepository.Reassign")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(leadsTable)
	ub.Set(
		ub.Assign("assigned_to", toAgentID),
		ub.Assign("assigned_at", at),
		ub.Assign("updated_at", Now()),
	)
	ub.Where(
		ub.Equal("id", leadID),
		ub.Equal("assigned_to", fromAgentID),
	)

	return r.execCAS(ctx, ub, "reassign")
}

// MarkFirstContact stamps last_contact on a lead that has never been contacted. It returns
// false when the lead is gone or was already contacted.
func (r *Repository) MarkFirstContact(ctx context.Context, id string, at time.Time) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "LeadRepository.MarkFirstContact")
	defer span.End()

	if !validID(id) {
		return false, nil
	}

	ub := database.NewUpdateBuilder()
	ub.Update(leadsTable)
	ub.Set(
		ub.Assign("last_contact", at),
		ub.Assign("updated_at", Now()),
	)
	ub.Where(
		ub.Equal("id", id),
		ub.IsNull("last_contact"),
	)

	return r.execCAS(ctx, ub, "mark first contact of")
}

func (r *Repository) execCAS(ctx context.Context, ub *database.UpdateBuilder, op string) (bool, error) {
	sql, args := ub.Build()

	res, err := database.Executor(ctx, r.db).ExecContext(ctx, sql, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Errorf("Failed to %s lead", op)
		return false, fmt.Errorf("failed to %s lead: %w", op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// UpdateStatus changes the status and appends the change to the status history.
func (r *Repository) UpdateStatus(ctx context.Context, id string, update models.StatusUpdate) (*models.Lead, error) {
	ctx, span := tracing.StartSpan(ctx, "LeadRepository.UpdateStatus")
	defer span.End()

	if !validID(id) {
		return nil, httperror.NewHTTPError(http.StatusNotFound, "lead not found")
	}

	change, err := json.Marshal([]models.StatusChange{update.Change()})
	if err != nil {
		return nil, httperror.WrapError(http.StatusInternalServerError, err)
	}

	ub := database.NewUpdateBuilder()
	ub.Update(leadsTable)
	assignments := []string{
		ub.Assign("status", string(update.Status)),
		fmt.Sprintf("status_history = COALESCE(status_history, '[]'::jsonb) || %s::jsonb", ub.Var(string(change))),
		ub.Assign("updated_at", Now()),
	}
	if update.Contacted {
		assignments = append(assignments, ub.Assign("last_contact", update.ChangedAt))
	}
	if update.NextAction != nil {
		assignments = append(assignments, ub.Assign("next_action", nullString(*update.NextAction)))
	}
	if update.Note != "" {
		assignments = append(assignments, ub.Assign("notes", update.Note))
	}
	ub.Set(assignments...)
	ub.Where(ub.Equal("id", id))

	sql, args := ub.Build()

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"id":     id,
		"status": update.Status,
	}).Debug("Updating lead status")

	res, err := database.Executor(ctx, r.db).ExecContext(ctx, sql, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to update lead status")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update lead status")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, httperror.NewHTTPError(http.StatusNotFound, "lead not found")
	}

	return r.GetByID(ctx, id)
}

// CountByStatus groups leads by status. A non-empty agentID restricts it to that agent's leads.
func (r *Repository) CountByStatus(ctx context.Context, agentID string) ([]models.StatusCount, error) {
	ctx, span := tracing.StartSpan(ctx, "LeadRepository.CountByStatus")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("status", "COUNT(*) AS count")
	sb.From(leadsTable)
	if agentID != "" {
		sb.Where(sb.Equal("assigned_to", agentID))
	}
	sb.GroupBy("status")
	sb.OrderBy("status")

	sql, args := sb.Build()

	var counts []models.StatusCount
	if err := database.Executor(ctx, r.db).SelectContext(ctx, &counts, sql, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count leads by status")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count leads")
	}
	return counts, nil
}

// CountByAgent returns how many leads are assigned to agentID.
func (r *Repository) CountByAgent(ctx context.Context, agentID string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "LeadRepository.CountByAgent")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("COUNT(*)")
	sb.From(leadsTable)
	sb.Where(sb.Equal("assigned_to", agentID))

	sql, args := sb.Build()

	var count int
	if err := database.Executor(ctx, r.db).GetContext(ctx, &count, sql, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count agent leads")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count agent leads")
	}
	return count, nil
}
