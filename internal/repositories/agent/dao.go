package agent

import (
	"database/sql"
	"strings"
	"time"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
)

const (
	agentsTable = "agents"
)

// AgentRow represents the database row for an agent
type AgentRow struct {
	ID             string         `db:"id"`
	Name           string         `db:"name"`
	Email          string         `db:"email"`
	Active         bool           `db:"active"`
	Province       sql.NullString `db:"province"`
	TotalLeads     int            `db:"total_leads"`
	TotalContacted int            `db:"total_contacted"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

var agentStruct = database.NewStruct(new(AgentRow))

func FromAgent(a *models.Agent) *AgentRow {
	province := strings.TrimSpace(a.Province)
	return &AgentRow{
		ID:             a.ID,
		Name:           strings.TrimSpace(a.Name),
		Email:          strings.ToLower(strings.TrimSpace(a.Email)),
		Active:         a.Active,
		Province:       sql.NullString{String: province, Valid: province != ""},
		TotalLeads:     a.TotalLeads,
		TotalContacted: a.TotalContacted,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

func ToAgent(row *AgentRow) *models.Agent {
	return &models.Agent{
		ID:             row.ID,
		Name:           row.Name,
		Email:          row.Email,
		Active:         row.Active,
		Province:       row.Province.String,
		TotalLeads:     row.TotalLeads,
		TotalContacted: row.TotalContacted,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}
}

func ToAgents(rows []AgentRow) []models.Agent {
	agents := make([]models.Agent, 0, len(rows))
	for i := range rows {
		agents = append(agents, *ToAgent(&rows[i]))
	}
	return agents
}

func Now() time.Time {
	return time.Now().UTC()
}
