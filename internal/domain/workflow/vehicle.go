package workflow

var reviewActions = []Action{ActionApprove, ActionReject, ActionSendBack, ActionCancel}

func reviewStage(stage Stage, reviewers ...Requirement) *StageDefinition {
	return &StageDefinition{
		Stage:     stage,
		Actions:   append([]Action{}, reviewActions...),
		Reviewers: reviewers,
	}
}

// commonStages are shared by every kind: the authoring stage and the correction loop.
func commonStages() []*StageDefinition {
	return []*StageDefinition{
		{Stage: StageDraft, Actions: []Action{ActionSubmit}, Reviewers: []Requirement{RequireRequester()}},
		{Stage: StageNeedsCorrection, Actions: []Action{ActionResubmit, ActionCancel}, Reviewers: []Requirement{RequireRequester()}},
		{Stage: StageRejected, Actions: []Action{ActionResubmit}, Reviewers: []Requirement{RequireRequester()}, Terminal: true},
		{Stage: StageCancelled, Terminal: true},
	}
}

// vehicleReviewChain is the ordered approval chain; each stage approves into the next.
var vehicleReviewChain = []Stage{
	StageSupervisorReview,
	StageDGSReview,
	StageDDGSReview,
	StageADTransportReview,
	StageTransportAssignment,
}

// VehicleDefinition builds the vehicle request workflow.
// A request sent back or rejected resumes at the stage it left.
func VehicleDefinition() *Definition {
	dgs := reviewStage(StageDGSReview, RequireRole(RoleDGS))
	dgs.Actions = append(dgs.Actions, ActionAssign)
	dgs.Overrides = map[Action]Override{
		ActionAssign: {Name: OverrideDGSDirectAssignment, Reviewers: []Requirement{RequireRole(RoleDGS)}},
	}

	supervisor := reviewStage(StageSupervisorReview, RequireSupervisor(), RequireRole(RoleDGS))
	supervisor.RequiresSupervisorMatch = true

	stages := append(commonStages(),
		supervisor,
		dgs,
		reviewStage(StageDDGSReview, RequireRole(RoleDDGS)),
		reviewStage(StageADTransportReview, RequireRole(RoleADTransport)),
		&StageDefinition{
			Stage:     StageTransportAssignment,
			Actions:   []Action{ActionAssign, ActionReject, ActionSendBack},
			Reviewers: []Requirement{RequireRole(RoleTransportOfficer)},
		},
		&StageDefinition{
			Stage:     StageAssigned,
			Actions:   []Action{ActionAccept, ActionStartTrip},
			Reviewers: []Requirement{RequireAssignedDriver()},
		},
		&StageDefinition{
			Stage:     StageInProgress,
			Actions:   []Action{ActionCompleteTrip},
			Reviewers: []Requirement{RequireAssignedDriver()},
		},
		&StageDefinition{
			Stage:   StageCompleted,
			Actions: []Action{ActionReturnVehicle},
			Reviewers: []Requirement{
				RequireAssignedDriver(),
				RequireRole(RoleTransportOfficer),
				RequireRole(RoleSystem),
			},
		},
		&StageDefinition{Stage: StageReturned, Terminal: true},
	)

	d := newDefinition(KindVehicle, ResumeAtCorrectedStage, stages)
	d.AssignmentStage = StageTransportAssignment

	b := d.builder()
	b.Configure(StageDraft).
		PermitIf(ActionSubmit, StageSupervisorReview, requesterIsNotSupervisor).
		PermitIf(ActionSubmit, StageDGSReview, requesterIsSupervisor)

	for i, stage := range vehicleReviewChain[:len(vehicleReviewChain)-1] {
		b.Configure(stage).
			Permit(ActionApprove, vehicleReviewChain[i+1]).
			Permit(ActionReject, StageRejected).
			Permit(ActionSendBack, StageNeedsCorrection).
			Permit(ActionCancel, StageCancelled)
	}
	b.Configure(StageDGSReview).Permit(ActionAssign, StageAssigned)

	b.Configure(StageTransportAssignment).
		Permit(ActionAssign, StageAssigned).
		Permit(ActionReject, StageRejected).
		Permit(ActionSendBack, StageNeedsCorrection)

	b.Configure(StageAssigned).
		Permit(ActionAccept, StageAssigned).
		Permit(ActionStartTrip, StageInProgress)
	b.Configure(StageInProgress).Permit(ActionCompleteTrip, StageCompleted)
	b.Configure(StageCompleted).Permit(ActionReturnVehicle, StageReturned)

	correction := b.Configure(StageNeedsCorrection)
	rejected := b.Configure(StageRejected)
	for _, stage := range vehicleReviewChain {
		correction.PermitIf(ActionResubmit, stage, resumeAt(stage))
		rejected.PermitIf(ActionResubmit, stage, resumeAt(stage))
	}
	correction.Permit(ActionCancel, StageCancelled)

	d.table = b.Build()
	return d
}
