package workflow

// Kind identifies a request workflow.
type Kind string

const (
	KindVehicle Kind = "vehicle"
	KindICT     Kind = "ict"
	KindStore   Kind = "store"
)

// String returns the string representation of the kind
func (k Kind) String() string {
	return string(k)
}

// IsValid returns true if the kind is one of the supported request kinds
func (k Kind) IsValid() bool {
	switch k {
	case KindVehicle, KindICT, KindStore:
		return true
	}
	return false
}

// Stage is a position in a request workflow. The set of valid stages depends on the kind.
type Stage string

const (
	StageDraft               Stage = "draft"
	StageSupervisorReview    Stage = "supervisor_review"
	StageDGSReview           Stage = "dgs_review"
	StageDDGSReview          Stage = "ddgs_review"
	StageADTransportReview   Stage = "ad_transport_review"
	StageTransportAssignment Stage = "transport_assignment"
	StageAssigned            Stage = "assigned"
	StageInProgress          Stage = "in_progress"
	StageCompleted           Stage = "completed"
	StageReturned            Stage = "returned"
	StageICTReview           Stage = "ict_review"
	StageICTFulfillment      Stage = "ict_fulfillment"
	StageStoresReview        Stage = "stores_review"
	StageStoreIssuance       Stage = "store_issuance"
	StageFulfilled           Stage = "fulfilled"
	StageNeedsCorrection     Stage = "needs_correction"
	StageRejected            Stage = "rejected"
	StageCancelled           Stage = "cancelled"
)

// String returns the string representation of the stage
func (s Stage) String() string {
	return string(s)
}

// Status is the display status derived from a stage. It is never stored.
type Status string

const (
	StatusDraft           Status = "draft"
	StatusPending         Status = "pending"
	StatusNeedsCorrection Status = "needs_correction"
	StatusRejected        Status = "rejected"
	StatusCancelled       Status = "cancelled"
	StatusAssigned        Status = "assigned"
	StatusInProgress      Status = "in_progress"
	StatusCompleted       Status = "completed"
	StatusReturned        Status = "returned"
	StatusFulfilled       Status = "fulfilled"
)

var stageStatus = map[Stage]Status{
	StageDraft:           StatusDraft,
	StageNeedsCorrection: StatusNeedsCorrection,
	StageRejected:        StatusRejected,
	StageCancelled:       StatusCancelled,
	StageAssigned:        StatusAssigned,
	StageInProgress:      StatusInProgress,
	StageCompleted:       StatusCompleted,
	StageReturned:        StatusReturned,
	StageFulfilled:       StatusFulfilled,
}

// DisplayStatus maps a stage to its display status. Review and queue stages read as pending.
func DisplayStatus(s Stage) Status {
	if st, ok := stageStatus[s]; ok {
		return st
	}
	return StatusPending
}
