package models

import (
	"fmt"
	"strings"
	"time"
)

// LeadStatus is the contact lifecycle state of a lead.
type LeadStatus string

const (
	LeadStatusUncontacted LeadStatus = "uncontacted"
	LeadStatusContacted   LeadStatus = "contacted"
	LeadStatusInterested  LeadStatus = "interested"
	LeadStatusMeeting     LeadStatus = "meeting"
	LeadStatusWon         LeadStatus = "won"
	LeadStatusLost        LeadStatus = "lost"
)

var leadStatuses = []LeadStatus{
	LeadStatusUncontacted,
	LeadStatusContacted,
	LeadStatusInterested,
	LeadStatusMeeting,
	LeadStatusWon,
	LeadStatusLost,
}

// LeadStatuses returns every valid status in lifecycle order.
func LeadStatuses() []LeadStatus {
	out := make([]LeadStatus, len(leadStatuses))
	copy(out, leadStatuses)
	return out
}

// ParseLeadStatus validates raw against the known statuses. Empty input yields the default.
func ParseLeadStatus(raw string) (LeadStatus, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "" {
		return LeadStatusUncontacted, nil
	}
	for _, s := range leadStatuses {
		if string(s) == value {
			return s, nil
		}
	}
	return "", fmt.Errorf("invalid lead status %q", raw)
}

func (s LeadStatus) Valid() bool {
	_, err := ParseLeadStatus(string(s))
	return err == nil && s != ""
}

// StatusChange is one entry of a lead's append-only status history.
type StatusChange struct {
	Status    LeadStatus `json:"status"`
	ChangedBy string     `json:"changed_by,omitempty"`
	ChangedAt time.Time  `json:"changed_at"`
	Note      string     `json:"note,omitempty"`
}

type Lead struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Contact       string         `json:"contact,omitempty"`
	Phone         string         `json:"phone,omitempty"`
	Email         string         `json:"email,omitempty"`
	Address       string         `json:"address,omitempty"`
	Province      string         `json:"province"`
	City          string         `json:"city,omitempty"`
	Website       string         `json:"website,omitempty"`
	Type          string         `json:"type,omitempty"`
	Rating        float64        `json:"rating"`
	ReviewCount   int            `json:"review_count"`
	GoogleURL     string         `json:"google_url,omitempty"`
	Schedule      string         `json:"schedule,omitempty"`
	AssignedTo    *string        `json:"assigned_to,omitempty"`
	AssignedAt    *time.Time     `json:"assigned_at,omitempty"`
	Status        LeadStatus     `json:"status"`
	Notes         string         `json:"notes,omitempty"`
	LastContact   *time.Time     `json:"last_contact,omitempty"`
	NextAction    string         `json:"next_action,omitempty"`
	StatusHistory []StatusChange `json:"status_history,omitempty"`
	ImportRunID   string         `json:"import_run_id,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// IsAssigned reports whether the lead currently belongs to an agent.
func (l Lead) IsAssigned() bool {
	return l.AssignedTo != nil && *l.AssignedTo != ""
}

// AssignedAgent returns the assigned agent id or "".
func (l Lead) AssignedAgent() string {
	if l.AssignedTo == nil {
		return ""
	}
	return *l.AssignedTo
}

// IdentityKey is the composite (name, province, city) key used for name-based duplicate checks.
func (l Lead) IdentityKey() string {
	return IdentityKey(l.Name, l.Province, l.City)
}

func IdentityKey(name, province, city string) string {
	fold := func(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
	return fold(name) + "\x1f" + fold(province) + "\x1f" + fold(city)
}

// LeadFilter selects a single lead by one of its identifying signals. Exactly one group
// should be set: Phone, GoogleURL, or Name (with Province and City).
type LeadFilter struct {
	Phone     string
	GoogleURL string
	Name      string
	Province  string
	City      string
}

// LeadListFilter narrows lead listings.
type LeadListFilter struct {
	Status     LeadStatus
	Province   string
	AssignedTo string
	Unassigned bool
	Limit      int
	Offset     int
}

// InsertManyResult reports the partial success of an ordered bulk insert.
type InsertManyResult struct {
	InsertedCount int
	InsertedIDs   []string
	// Skipped holds the indexes (into the submitted slice) that conflicted with an existing row.
	Skipped []int
}

// StatusCount is one bucket of the dashboard stats.
type StatusCount struct {
	Status LeadStatus `json:"status" db:"status"`
	Count  int        `json:"count" db:"count"`
}

// StatusUpdate moves a lead to a new status and appends the change to its history.
type StatusUpdate struct {
	Status     LeadStatus
	ChangedBy  string
	ChangedAt  time.Time
	Note       string
	NextAction *string
	// Contacted sets last_contact to ChangedAt.
	Contacted bool
}

func (u StatusUpdate) Change() StatusChange {
	return StatusChange{
		Status:    u.Status,
		ChangedBy: u.ChangedBy,
		ChangedAt: u.ChangedAt,
		Note:      u.Note,
	}
}
