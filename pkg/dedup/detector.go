// Package dedup decides whether a candidate lead repeats one already accepted in the
// current batch or already persisted.
package dedup

import (
	"context"
	"strings"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Signal names the identifying attribute that matched.
type Signal string

const (
	SignalNone      Signal = ""
	SignalPhone     Signal = "phone"
	SignalName      Signal = "name"
	SignalGoogleURL Signal = "googleUrl"
)

type Result struct {
	IsDuplicate bool   `json:"is_duplicate"`
	Against     Signal `json:"against,omitempty"`
}

// LeadLookup finds a persisted lead by one identifying signal. It returns nil, nil
// when no lead matches.
type LeadLookup interface {
	FindOne(ctx context.Context, filter models.LeadFilter) (*models.Lead, error)
}

// Check is one duplicate signal. Key returns "" when the candidate does not carry
// the signal, in which case the check is skipped.
type Check struct {
	Signal Signal
	Key    func(lead *models.Lead) string
	Filter func(lead *models.Lead) models.LeadFilter
}

// DefaultChecks returns the checks in evaluation order: phone, then the
// (name, province, city) identity, then the maps listing url.
func DefaultChecks() []Check {
	return []Check{
		{
			Signal: SignalPhone,
			Key:    func(l *models.Lead) string { return strings.TrimSpace(l.Phone) },
			Filter: func(l *models.Lead) models.LeadFilter { return models.LeadFilter{Phone: strings.TrimSpace(l.Phone)} },
		},
		{
			Signal: SignalName,
			Key: func(l *models.Lead) string {
				if strings.TrimSpace(l.Name) == "" {
					return ""
				}
				return l.IdentityKey()
			},
			Filter: func(l *models.Lead) models.LeadFilter {
				return models.LeadFilter{Name: l.Name, Province: l.Province, City: l.City}
			},
		},
		{
			Signal: SignalGoogleURL,
			Key:    func(l *models.Lead) string { return strings.TrimSpace(l.GoogleURL) },
			Filter: func(l *models.Lead) models.LeadFilter {
				return models.LeadFilter{GoogleURL: strings.TrimSpace(l.GoogleURL)}
			},
		},
	}
}

type Detector struct {
	lookup LeadLookup
	checks []Check
}

// NewDetector builds a detector over lookup. With no checks given it uses DefaultChecks.
func NewDetector(lookup LeadLookup, checks ...Check) *Detector {
	if len(checks) == 0 {
		checks = DefaultChecks()
	}
	return &Detector{
		lookup: lookup,
		checks: checks,
	}
}

// Checks returns the ordered checks this detector evaluates.
func (d *Detector) Checks() []Check {
	return d.checks
}

// Check evaluates the signals in order; for each one the batch is consulted before the
// store, and the first match wins. Store errors are returned as is.
func (d *Detector) Check(ctx context.Context, candidate *models.Lead, batch *Batch) (Result, error) {
	ctx, span := tracing.StartSpan(ctx, "dedup.Detector.Check")
	defer span.End()

	for _, check := range d.checks {
		key := check.Key(candidate)
		if key == "" {
			continue
		}

		if batch != nil && batch.Has(check.Signal, key) {
			return Result{IsDuplicate: true, Against: check.Signal}, nil
		}

		if d.lookup == nil {
			continue
		}

		existing, err := d.lookup.FindOne(ctx, check.Filter(candidate))
		if err != nil {
			tracing.RecordError(span, err)
			return Result{}, err
		}
		if existing != nil {
			return Result{IsDuplicate: true, Against: check.Signal}, nil
		}
	}

	return Result{}, nil
}

// Index adds candidate's keys to batch without checking anything.
func (d *Detector) Index(candidate *models.Lead, batch *Batch) {
	batch.add(candidate, d.checks)
}
