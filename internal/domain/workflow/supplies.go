package workflow

// ICTDefinition builds the ICT equipment request workflow
func ICTDefinition() *Definition {
	return suppliesDefinition(KindICT,
		StageICTReview, RoleICTHead,
		StageICTFulfillment, RoleICTOfficer)
}

// StoreDefinition builds the store supplies request workflow
func StoreDefinition() *Definition {
	return suppliesDefinition(KindStore,
		StageStoresReview, RoleStoresHead,
		StageStoreIssuance, RoleStoreKeeper)
}

// suppliesDefinition builds the shared shape of the ICT and store workflows:
// supervisor, DGS and a departmental head review, then a fulfilment queue.
// Corrected and rejected requests restart through the submit branch.
func suppliesDefinition(kind Kind, review Stage, reviewRole Role, fulfilment Stage, fulfilRole Role) *Definition {
	supervisor := reviewStage(StageSupervisorReview, RequireSupervisor(), RequireRole(RoleDGS))
	supervisor.RequiresSupervisorMatch = true

	stages := append(commonStages(),
		supervisor,
		reviewStage(StageDGSReview, RequireRole(RoleDGS)),
		reviewStage(review, RequireRole(reviewRole)),
		&StageDefinition{
			Stage:     fulfilment,
			Actions:   []Action{ActionFulfill, ActionReject},
			Reviewers: []Requirement{RequireRole(fulfilRole)},
		},
		&StageDefinition{Stage: StageFulfilled, Terminal: true},
	)

	d := newDefinition(kind, RestartAtInitialStage, stages)

	b := d.builder()
	b.Configure(StageDraft).
		PermitIf(ActionSubmit, StageSupervisorReview, requesterIsNotSupervisor).
		PermitIf(ActionSubmit, StageDGSReview, requesterIsSupervisor)

	chain := []Stage{StageSupervisorReview, StageDGSReview, review, fulfilment}
	for i, stage := range chain[:len(chain)-1] {
		b.Configure(stage).
			Permit(ActionApprove, chain[i+1]).
			Permit(ActionReject, StageRejected).
			Permit(ActionSendBack, StageNeedsCorrection).
			Permit(ActionCancel, StageCancelled)
	}
	b.Configure(fulfilment).
		Permit(ActionFulfill, StageFulfilled).
		Permit(ActionReject, StageRejected)

	for _, from := range []Stage{StageNeedsCorrection, StageRejected} {
		b.Configure(from).
			PermitIf(ActionResubmit, StageSupervisorReview, requesterIsNotSupervisor).
			PermitIf(ActionResubmit, StageDGSReview, requesterIsSupervisor)
	}
	b.Configure(StageNeedsCorrection).Permit(ActionCancel, StageCancelled)

	d.table = b.Build()
	return d
}
