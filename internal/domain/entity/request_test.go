package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/fleet-requests/internal/domain/workflow"
)

func TestWindow_Overlaps(t *testing.T) {
	at := func(h int) time.Time { return time.Date(2025, 1, 10, h, 0, 0, 0, time.UTC) }

	tests := []struct {
		name string
		a, b Window
		want bool
	}{
		{"disjoint", Window{at(8), at(9)}, Window{at(10), at(11)}, false},
		{"abutting", Window{at(8), at(9)}, Window{at(9), at(11)}, false},
		{"abutting reversed", Window{at(9), at(11)}, Window{at(8), at(9)}, false},
		{"partial", Window{at(8), at(10)}, Window{at(9), at(11)}, true},
		{"contained", Window{at(8), at(17)}, Window{at(9), at(10)}, true},
		{"identical", Window{at(9), at(17)}, Window{at(9), at(17)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Overlaps(tt.b))
		})
	}
}

func TestRequest_RecordAndHistory(t *testing.T) {
	now := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	r := &Request{ID: "r1", Kind: workflow.KindVehicle, RequesterID: "u1", CurrentStage: workflow.StageDGSReview}

	r.Record(workflow.Transition{
		From: workflow.StageDGSReview, To: workflow.StageNeedsCorrection, Action: workflow.ActionSendBack,
	}, "dgs", "fix dates", now)
	r.Record(workflow.Transition{
		From: workflow.StageNeedsCorrection, To: workflow.StageDGSReview, Action: workflow.ActionResubmit,
	}, "u1", "", now)
	r.Record(workflow.Transition{
		From: workflow.StageDGSReview, To: workflow.StageAssigned, Action: workflow.ActionAssign,
		Override: workflow.OverrideDGSDirectAssignment,
	}, "dgs", "", now)

	require.Len(t, r.ActionHistory, 3)
	assert.Equal(t, workflow.StageAssigned, r.CurrentStage)
	assert.Equal(t, workflow.StatusAssigned, r.Status())
	assert.Equal(t, workflow.StageDGSReview, r.InterruptedAt())
	assert.Equal(t, "dgs_direct_assignment", r.ActionHistory[2].Metadata["override"])
	assert.True(t, r.ActedBy("dgs"))
	assert.Equal(t, []string{"dgs"}, r.Participants("u1"))
}

func TestRequest_CloneIsDeep(t *testing.T) {
	resolved := time.Now()
	r := &Request{
		ID:                "r1",
		ActionHistory:     []ActionEntry{{Action: workflow.ActionApprove, Metadata: map[string]string{"k": "v"}}},
		CorrectionHistory: []CorrectionEntry{{ResolvedAt: &resolved}},
		Vehicle:           &VehicleDetails{ParticipantIDs: []string{"a"}},
		Items:             []RequestItem{{Name: "laptop", Quantity: 1}},
	}

	c := r.Clone()
	c.ActionHistory[0].Metadata["k"] = "changed"
	c.Vehicle.ParticipantIDs[0] = "b"
	c.Vehicle.AssignedDriverID = "d1"
	c.Items[0].Quantity = 5

	assert.Equal(t, "v", r.ActionHistory[0].Metadata["k"])
	assert.Equal(t, "a", r.Vehicle.ParticipantIDs[0])
	assert.Empty(t, r.Vehicle.AssignedDriverID)
	assert.Equal(t, 1, r.Items[0].Quantity)
	assert.NotSame(t, r.CorrectionHistory[0].ResolvedAt, c.CorrectionHistory[0].ResolvedAt)
}
