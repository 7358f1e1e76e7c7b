package models

import "time"

type Agent struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Active         bool      `json:"active"`
	Province       string    `json:"province,omitempty"`
	TotalLeads     int       `json:"total_leads"`
	TotalContacted int       `json:"total_contacted"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// AgentCounter names one of the incrementally maintained agent counters.
type AgentCounter string

const (
	AgentCounterTotalLeads     AgentCounter = "total_leads"
	AgentCounterTotalContacted AgentCounter = "total_contacted"
)

func (c AgentCounter) Valid() bool {
	return c == AgentCounterTotalLeads || c == AgentCounterTotalContacted
}

type AgentFilter struct {
	Province string
	IDs      []string
}
