package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseLeadStatus(t *testing.T) {
	tests := []struct {
		raw     string
		want    LeadStatus
		wantErr bool
	}{
		{raw: "", want: LeadStatusUncontacted},
		{raw: "contacted", want: LeadStatusContacted},
		{raw: " Won ", want: LeadStatusWon},
		{raw: "MEETING", want: LeadStatusMeeting},
		{raw: "archived", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseLeadStatus(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.True(t, LeadStatusLost.Valid())
	assert.False(t, LeadStatus("").Valid())
	assert.False(t, LeadStatus("nope").Valid())
	assert.Len(t, LeadStatuses(), 6)
}

func TestLead_IdentityKey(t *testing.T) {
	a := Lead{Name: "Café Uno ", Province: "Córdoba", City: "Capital"}
	b := Lead{Name: "café uno", Province: "CÓRDOBA", City: " capital"}
	c := Lead{Name: "café uno", Province: "Córdoba", City: "Villa María"}

	assert.Equal(t, a.IdentityKey(), b.IdentityKey())
	assert.NotEqual(t, a.IdentityKey(), c.IdentityKey())
}

func TestLead_Assignment(t *testing.T) {
	var l Lead
	assert.False(t, l.IsAssigned())
	assert.Equal(t, "", l.AssignedAgent())

	agent := "agent-1"
	l.AssignedTo = &agent
	assert.True(t, l.IsAssigned())
	assert.Equal(t, "agent-1", l.AssignedAgent())
}

func TestColumnMapping_UnmarshalJSON(t *testing.T) {
	var m ColumnMapping
	err := json.Unmarshal([]byte(`{"name": 0, "phone": "3", "email": null, "city": -1, "website": ""}`), &m)
	require.NoError(t, err)

	assert.Equal(t, 0, m.Index(FieldName))
	assert.Equal(t, 3, m.Index(FieldPhone))
	assert.False(t, m.IsMapped(FieldEmail))
	assert.False(t, m.IsMapped(FieldCity))
	assert.False(t, m.IsMapped(FieldWebsite))
	assert.False(t, m.IsMapped(FieldSchedule))
	require.NoError(t, m.Validate())

	assert.Error(t, json.Unmarshal([]byte(`{"name": 1.5}`), &m))
	assert.Error(t, json.Unmarshal([]byte(`{"name": "first"}`), &m))
}

func TestColumnMapping_UnmarshalYAML(t *testing.T) {
	var m ColumnMapping
	err := yaml.Unmarshal([]byte("name: 0\nprovince: 2\nemail: null\nreviewCount: 7\n"), &m)
	require.NoError(t, err)

	assert.Equal(t, 0, m.Index(FieldName))
	assert.Equal(t, 2, m.Index(FieldProvince))
	assert.Equal(t, 7, m.Index(FieldReviewCount))
	assert.False(t, m.IsMapped(FieldEmail))
}

func TestColumnMapping_Validate(t *testing.T) {
	assert.Error(t, ColumnMapping{FieldPhone: 1}.Validate())
	assert.Error(t, ColumnMapping{FieldName: -1}.Validate())
	assert.ErrorContains(t, ColumnMapping{FieldName: 0, Field("fax"): 2}.Validate(), "fax")
	assert.NoError(t, ColumnMapping{FieldName: 0}.Validate())
}

func TestImportState_Transitions(t *testing.T) {
	assert.True(t, ImportStateUploaded.CanTransition(ImportStateMapped))
	assert.True(t, ImportStateMapped.CanTransition(ImportStateProcessing))
	assert.True(t, ImportStateProcessing.CanTransition(ImportStateCompleted))
	assert.True(t, ImportStateProcessing.CanTransition(ImportStateFailed))
	assert.False(t, ImportStateUploaded.CanTransition(ImportStateProcessing))
	assert.False(t, ImportStateCompleted.CanTransition(ImportStateProcessing))
	assert.False(t, ImportStateFailed.CanTransition(ImportStateCompleted))

	assert.True(t, ImportStateCompleted.Final())
	assert.True(t, ImportStateFailed.Final())
	assert.False(t, ImportStateProcessing.Final())
}

func TestAgentCounter_Valid(t *testing.T) {
	assert.True(t, AgentCounterTotalLeads.Valid())
	assert.True(t, AgentCounterTotalContacted.Valid())
	assert.False(t, AgentCounter("name").Valid())
}
