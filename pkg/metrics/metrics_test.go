package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(ImportRowsTotal.WithLabelValues(OutcomeCreated))
	ImportRowsTotal.WithLabelValues(OutcomeCreated).Add(3)
	assert.Equal(t, before+3, testutil.ToFloat64(ImportRowsTotal.WithLabelValues(OutcomeCreated)))

	before = testutil.ToFloat64(AssignConflictsTotal)
	AssignConflictsTotal.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(AssignConflictsTotal))
}
