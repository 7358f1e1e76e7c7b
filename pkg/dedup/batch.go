package dedup

import "github.com/Ramsey-B/clover/pkg/models"

// Batch holds the leads accepted so far in one import run, in acceptance order, with
// constant-time lookup per signal.
type Batch struct {
	leads   []*models.Lead
	indexes map[Signal]map[string]struct{}
}

func NewBatch(capacity int) *Batch {
	if capacity < 0 {
		capacity = 0
	}
	return &Batch{
		leads:   make([]*models.Lead, 0, capacity),
		indexes: make(map[Signal]map[string]struct{}),
	}
}

func (b *Batch) Has(signal Signal, key string) bool {
	idx, ok := b.indexes[signal]
	if !ok {
		return false
	}
	_, found := idx[key]
	return found
}

func (b *Batch) add(lead *models.Lead, checks []Check) {
	b.leads = append(b.leads, lead)
	for _, check := range checks {
		key := check.Key(lead)
		if key == "" {
			continue
		}
		idx, ok := b.indexes[check.Signal]
		if !ok {
			idx = make(map[string]struct{})
			b.indexes[check.Signal] = idx
		}
		idx[key] = struct{}{}
	}
}

func (b *Batch) Len() int {
	return len(b.leads)
}

// Leads returns the accepted leads in acceptance order.
func (b *Batch) Leads() []*models.Lead {
	return b.leads
}
