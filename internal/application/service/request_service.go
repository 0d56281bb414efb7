package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/fleet-requests/internal/application/port"
	"github.com/garyjia/fleet-requests/internal/domain/entity"
	"github.com/garyjia/fleet-requests/internal/domain/event"
	"github.com/garyjia/fleet-requests/internal/domain/workflow"
)

// RequestService owns the lifecycle of one request kind: authoring, review actions,
// correction and cancellation. Every stage change is applied together with its audit entry.
type RequestService interface {
	Kind() workflow.Kind
	Create(ctx context.Context, actorID string, in CreateRequestInput) (*Result, error)
	Get(ctx context.Context, id, actorID string) (*entity.Request, error)
	History(ctx context.Context, id, actorID string) (*History, error)
	FindAll(ctx context.Context, actorID string) ([]*entity.Request, error)
	Approve(ctx context.Context, id, actorID, comments string) (*Result, error)
	Reject(ctx context.Context, id, actorID, reason string) (*Result, error)
	SendBack(ctx context.Context, id, actorID, note string) (*Result, error)
	Resubmit(ctx context.Context, id, actorID string) (*Result, error)
	Cancel(ctx context.Context, id, actorID, reason string) (*Result, error)
	Accept(ctx context.Context, id, actorID string) (*Result, error)
	Fulfill(ctx context.Context, id, actorID, notes string) (*Result, error)
}

// History is the audit view of a request
type History struct {
	RequestID    string                   `json:"request_id"`
	CurrentStage workflow.Stage           `json:"current_stage"`
	Status       workflow.Status          `json:"status"`
	Actions      []entity.ActionEntry     `json:"actions"`
	Corrections  []entity.CorrectionEntry `json:"corrections"`
}

type requestServiceImpl struct {
	kind      workflow.Kind
	def       *workflow.Definition
	engine    *workflow.Engine
	requests  port.RequestRepository
	users     port.UserRepository
	offices   port.OfficeRepository
	txManager port.TransactionManager
	logger    Logger
	opts      options
}

// NewRequestService creates the lifecycle service for one request kind.
// It panics if the engine has no workflow for the kind.
func NewRequestService(
	kind workflow.Kind,
	engine *workflow.Engine,
	requests port.RequestRepository,
	users port.UserRepository,
	offices port.OfficeRepository,
	txManager port.TransactionManager,
	logger Logger,
	opts ...Option,
) RequestService {
	def, err := engine.Registry().Definition(kind)
	if err != nil {
		panic(err)
	}
	return &requestServiceImpl{
		kind:      kind,
		def:       def,
		engine:    engine,
		requests:  requests,
		users:     users,
		offices:   offices,
		txManager: txManager,
		logger:    logger,
		opts:      newOptions(opts),
	}
}

func (s *requestServiceImpl) Kind() workflow.Kind {
	return s.kind
}

// Create validates the payload, fires submit and stores the request
func (s *requestServiceImpl) Create(ctx context.Context, actorID string, in CreateRequestInput) (*Result, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	if err := s.validatePayload(in); err != nil {
		return nil, err
	}

	requester, err := loadActor(ctx, s.users, actorID)
	if err != nil {
		return nil, err
	}

	now := s.opts.now()
	req := &entity.Request{
		ID:           uuid.NewString(),
		Kind:         s.kind,
		RequesterID:  requester.ID,
		Department:   requester.Department,
		Purpose:      in.Purpose,
		CurrentStage: s.def.Initial,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	// supervisors have no supervisor of record and skip the first review tier
	if !requester.IsSupervisor {
		req.SupervisorID = requester.SupervisorID
	}

	if in.Vehicle != nil {
		office, err := s.offices.GetByID(ctx, in.Vehicle.OriginOffice)
		if err != nil {
			return nil, internal(err, "load office %s", in.Vehicle.OriginOffice)
		}
		if office == nil {
			return nil, validation("origin office %s does not exist", in.Vehicle.OriginOffice)
		}
		req.Vehicle = &entity.VehicleDetails{
			OriginOffice:           office.ID,
			Destination:            in.Vehicle.Destination,
			DestinationCoordinates: in.Vehicle.DestinationCoordinates,
			StartDate:              in.Vehicle.StartDate.UTC(),
			EndDate:                in.Vehicle.EndDate.UTC(),
			PassengerCount:         in.Vehicle.PassengerCount,
			ParticipantIDs:         append([]string(nil), in.Vehicle.ParticipantIDs...),
		}
		s.estimateDistance(ctx, req, office)
	}
	for _, item := range in.Items {
		req.Items = append(req.Items, entity.RequestItem{
			Name:          item.Name,
			Quantity:      item.Quantity,
			Specification: item.Specification,
		})
	}

	tr, err := s.engine.Evaluate(requester.Actor(), req.Subject(), workflow.ActionSubmit,
		workflow.TransitionContext{RequesterIsSupervisor: requester.IsSupervisor})
	if err != nil {
		return nil, fromWorkflow(err)
	}
	req.Record(tr, requester.ID, "", now)

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.requests.Create(txCtx, req); err != nil {
			return fromStore(err, "create request")
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to create request", "kind", s.kind, "actor_id", actorID, "error", err)
		return nil, err
	}

	s.logger.Info("Request created",
		"request_id", req.ID,
		"kind", s.kind,
		"actor_id", requester.ID,
		"to_stage", req.CurrentStage,
	)
	s.opts.publish(ctx, event.NewEvent(event.TypeRequestCreated, req.ID, map[string]interface{}{
		"kind":         string(s.kind),
		"requester_id": req.RequesterID,
		"stage":        string(req.CurrentStage),
	}))
	s.opts.publishTransition(ctx, req, tr, requester.ID)

	var effects []Effect
	if e, ok := s.responsibleEffect(req, "New request awaiting review",
		fmt.Sprintf("A %s request from %s is waiting at %s.", s.kind, requester.Name, req.CurrentStage)); ok {
		effects = append(effects, e)
	}
	return &Result{Request: req, Effects: effects}, nil
}

func (s *requestServiceImpl) validatePayload(in CreateRequestInput) error {
	if s.kind == workflow.KindVehicle {
		if in.Vehicle == nil {
			return validation("vehicle details are required")
		}
		if len(in.Items) > 0 {
			return validation("items are not accepted for vehicle requests")
		}
		if c := in.Vehicle.DestinationCoordinates; c != nil && !c.Valid() {
			return validation("destination coordinates out of range")
		}
		return nil
	}
	if in.Vehicle != nil {
		return validation("vehicle details are not accepted for %s requests", s.kind)
	}
	if len(in.Items) == 0 {
		return validation("at least one item is required")
	}
	return nil
}

// estimateDistance fills the informational distance; routing failures leave it unset
func (s *requestServiceImpl) estimateDistance(ctx context.Context, req *entity.Request, origin *entity.Office) {
	if s.opts.distance == nil {
		return
	}
	lctx, cancel := context.WithTimeout(ctx, s.opts.lookupTimeout)
	defer cancel()

	dest := req.Vehicle.DestinationCoordinates
	if dest == nil && s.opts.geocoder != nil {
		p, err := s.opts.geocoder.Geocode(lctx, req.Vehicle.Destination)
		if err != nil {
			s.logger.Warn("Geocoding failed", "destination", req.Vehicle.Destination, "error", err)
			return
		}
		dest = &p
		req.Vehicle.DestinationCoordinates = dest
	}
	if dest == nil {
		return
	}

	km, err := s.opts.distance.CalculateDistance(lctx, origin.Location, *dest)
	if err != nil {
		s.logger.Warn("Distance estimation failed", "request_id", req.ID, "error", err)
		return
	}
	req.Vehicle.EstimatedDistance = &km
}

// Get returns a request the actor is allowed to see
func (s *requestServiceImpl) Get(ctx context.Context, id, actorID string) (*entity.Request, error) {
	actor, err := loadActor(ctx, s.users, actorID)
	if err != nil {
		return nil, err
	}
	req, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.visible(actor.Actor(), req) {
		return nil, notFound("request %s not found", id)
	}
	return req, nil
}

// History returns the action and correction history of a visible request
func (s *requestServiceImpl) History(ctx context.Context, id, actorID string) (*History, error) {
	req, err := s.Get(ctx, id, actorID)
	if err != nil {
		return nil, err
	}
	return &History{
		RequestID:    req.ID,
		CurrentStage: req.CurrentStage,
		Status:       req.Status(),
		Actions:      req.ActionHistory,
		Corrections:  req.CorrectionHistory,
	}, nil
}

// FindAll returns the actor's own requests, requests waiting on the actor, and
// requests the actor already acted on.
func (s *requestServiceImpl) FindAll(ctx context.Context, actorID string) ([]*entity.Request, error) {
	actor, err := loadActor(ctx, s.users, actorID)
	if err != nil {
		return nil, err
	}
	a := actor.Actor()

	candidates, err := s.requests.Find(ctx, port.RequestQuery{
		Kind:             s.kind,
		RequesterID:      a.ID,
		Stages:           s.engine.ReviewStages(s.kind, a),
		ActedBy:          a.ID,
		AssignedDriverID: a.ID,
	})
	if err != nil {
		return nil, internal(err, "find requests")
	}

	out := make([]*entity.Request, 0, len(candidates))
	for _, req := range candidates {
		if s.visible(a, req) {
			out = append(out, req)
		}
	}
	return out, nil
}

// visible: requester and recorded actors always, reviewers only while the request waits on them
func (s *requestServiceImpl) visible(a workflow.Actor, req *entity.Request) bool {
	return req.RequesterID == a.ID || req.ActedBy(a.ID) || s.engine.IsReviewer(a, req.Subject())
}

// Approve advances the request to the next review tier
func (s *requestServiceImpl) Approve(ctx context.Context, id, actorID, comments string) (*Result, error) {
	req, tr, err := s.transition(ctx, id, actorID, mutation{
		action: workflow.ActionApprove,
		notes:  comments,
		precheck: func(r *entity.Request) error {
			if r.CurrentStage == workflow.StageNeedsCorrection {
				return invalidState("request %s needs correction; resubmit first", r.ID)
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}

	effects := []Effect{s.requesterEffect(req, entity.NotificationApproved, "Request approved",
		fmt.Sprintf("Your %s request was approved at %s and moved to %s.", s.kind, tr.From, tr.To))}
	if tr.To != s.def.AssignmentStage {
		if e, ok := s.responsibleEffect(req, "Request awaiting your action",
			fmt.Sprintf("A %s request is waiting at %s.", s.kind, tr.To)); ok {
			effects = append(effects, e)
		}
	}
	return &Result{Request: req, Effects: effects}, nil
}

// Reject ends the review with a reason
func (s *requestServiceImpl) Reject(ctx context.Context, id, actorID, reason string) (*Result, error) {
	if err := requireText("reason", reason); err != nil {
		return nil, err
	}
	req, tr, err := s.transition(ctx, id, actorID, mutation{
		action: workflow.ActionReject,
		notes:  reason,
		apply: func(r *entity.Request, _ workflow.Transition, now time.Time) {
			r.RejectionReason = reason
			r.RejectedAt = &now
			r.RejectedBy = actorID
		},
	})
	if err != nil {
		return nil, err
	}
	return &Result{Request: req, Effects: []Effect{
		s.requesterEffect(req, entity.NotificationRejected, "Request rejected",
			fmt.Sprintf("Your %s request was rejected at %s: %s", s.kind, tr.From, reason)),
	}}, nil
}

// SendBack returns the request to its requester for correction
func (s *requestServiceImpl) SendBack(ctx context.Context, id, actorID, note string) (*Result, error) {
	if err := requireText("note", note); err != nil {
		return nil, err
	}
	req, tr, err := s.transition(ctx, id, actorID, mutation{
		action: workflow.ActionSendBack,
		notes:  note,
		precheck: func(r *entity.Request) error {
			if r.CurrentStage == workflow.StageRejected || r.CurrentStage == workflow.StageNeedsCorrection {
				return invalidState("request %s is already %s", r.ID, r.CurrentStage)
			}
			return nil
		},
		apply: func(r *entity.Request, tr workflow.Transition, now time.Time) {
			r.CorrectionHistory = append(r.CorrectionHistory, entity.CorrectionEntry{
				Stage:          tr.From,
				RequestedBy:    actorID,
				RequestedAt:    now,
				CorrectionNote: note,
			})
			r.CorrectionNote = note
		},
	})
	if err != nil {
		return nil, err
	}
	return &Result{Request: req, Effects: []Effect{
		s.requesterEffect(req, entity.NotificationSentBack, "Request needs correction",
			fmt.Sprintf("Your %s request was sent back at %s: %s", s.kind, tr.From, note)),
	}}, nil
}

// Resubmit re-enters the workflow according to the kind's resubmission policy
func (s *requestServiceImpl) Resubmit(ctx context.Context, id, actorID string) (*Result, error) {
	req, tr, err := s.transition(ctx, id, actorID, mutation{
		action: workflow.ActionResubmit,
		apply: func(r *entity.Request, _ workflow.Transition, now time.Time) {
			r.RejectionReason = ""
			r.RejectedAt = nil
			r.RejectedBy = ""
			r.CorrectionNote = ""
			if c := r.LatestCorrection(); c != nil {
				c.ResubmissionCount++
				c.ResolvedAt = &now
			}
		},
	})
	if err != nil {
		return nil, err
	}

	var effects []Effect
	if e, ok := s.responsibleEffect(req, "Request resubmitted",
		fmt.Sprintf("A corrected %s request is waiting at %s.", s.kind, tr.To)); ok {
		e.Type = entity.NotificationResubmitted
		effects = append(effects, e)
	}
	return &Result{Request: req, Effects: effects}, nil
}

// Cancel withdraws a request before assignment
func (s *requestServiceImpl) Cancel(ctx context.Context, id, actorID, reason string) (*Result, error) {
	if err := requireText("reason", reason); err != nil {
		return nil, err
	}
	req, tr, err := s.transition(ctx, id, actorID, mutation{
		action: workflow.ActionCancel,
		notes:  reason,
		apply: func(r *entity.Request, _ workflow.Transition, now time.Time) {
			r.CancellationReason = reason
			r.CancelledAt = &now
			r.CancelledBy = actorID
		},
	})
	if err != nil {
		return nil, err
	}

	recipients := req.Participants(req.RequesterID)
	if req.SupervisorID != "" && !contains(recipients, req.SupervisorID) {
		recipients = append(recipients, req.SupervisorID)
	}
	var effects []Effect
	if len(recipients) > 0 {
		effects = append(effects, Effect{
			Recipients: recipients,
			Type:       entity.NotificationCancelled,
			Title:      "Request cancelled",
			Body:       fmt.Sprintf("A %s request was cancelled by its requester at %s.", s.kind, tr.From),
			RelatedID:  req.ID,
		})
	}
	return &Result{Request: req, Effects: effects}, nil
}

// Accept records the assigned driver's acknowledgement
func (s *requestServiceImpl) Accept(ctx context.Context, id, actorID string) (*Result, error) {
	req, _, err := s.transition(ctx, id, actorID, mutation{action: workflow.ActionAccept})
	if err != nil {
		return nil, err
	}
	return &Result{Request: req, Effects: []Effect{
		s.requesterEffect(req, entity.NotificationAssigned, "Driver confirmed",
			"The assigned driver has accepted your trip."),
	}}, nil
}

// Fulfill closes an ICT or store request once the items are issued
func (s *requestServiceImpl) Fulfill(ctx context.Context, id, actorID, notes string) (*Result, error) {
	req, _, err := s.transition(ctx, id, actorID, mutation{action: workflow.ActionFulfill, notes: notes})
	if err != nil {
		return nil, err
	}
	return &Result{Request: req, Effects: []Effect{
		s.requesterEffect(req, entity.NotificationRequestFulfilled, "Request fulfilled",
			fmt.Sprintf("Your %s request has been fulfilled.", s.kind)),
	}}, nil
}

// mutation describes one lifecycle action
type mutation struct {
	action   workflow.Action
	notes    string
	precheck func(r *entity.Request) error
	apply    func(r *entity.Request, tr workflow.Transition, now time.Time)
}

// transition loads, authorises, mutates and stores a request in one transaction.
// The stage change and its history entry are written by a single versioned update.
func (s *requestServiceImpl) transition(ctx context.Context, id, actorID string, m mutation) (*entity.Request, workflow.Transition, error) {
	actor, err := loadActor(ctx, s.users, actorID)
	if err != nil {
		return nil, workflow.Transition{}, err
	}

	var (
		req *entity.Request
		tr  workflow.Transition
	)
	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		req, err = s.load(txCtx, id)
		if err != nil {
			return err
		}
		if m.precheck != nil {
			if err := m.precheck(req); err != nil {
				return err
			}
		}

		tc, err := s.transitionContext(txCtx, req)
		if err != nil {
			return err
		}
		tr, err = s.engine.Evaluate(actor.Actor(), req.Subject(), m.action, tc)
		if err != nil {
			return fromWorkflow(err)
		}

		now := s.opts.now()
		if m.apply != nil {
			m.apply(req, tr, now)
		}
		req.Record(tr, actor.ID, m.notes, now)

		if err := s.requests.Update(txCtx, req); err != nil {
			return fromStore(err, "update request")
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("Request action refused",
			"request_id", id,
			"action", m.action,
			"actor_id", actorID,
			"error", err,
		)
		return nil, workflow.Transition{}, err
	}

	s.logger.Info("Request transitioned",
		"request_id", req.ID,
		"action", tr.Action,
		"from_stage", tr.From,
		"to_stage", tr.To,
		"actor_id", actor.ID,
	)
	s.opts.publishTransition(ctx, req, tr, actor.ID)
	return req, tr, nil
}

func (s *requestServiceImpl) transitionContext(ctx context.Context, req *entity.Request) (workflow.TransitionContext, error) {
	tc := workflow.TransitionContext{
		RequesterIsSupervisor: req.SupervisorID == "",
		ResumeStage:           req.InterruptedAt(),
	}
	requester, err := s.users.GetByID(ctx, req.RequesterID)
	if err != nil {
		return tc, internal(err, "load requester %s", req.RequesterID)
	}
	if requester != nil {
		tc.RequesterIsSupervisor = requester.IsSupervisor
	}
	return tc, nil
}

func (s *requestServiceImpl) load(ctx context.Context, id string) (*entity.Request, error) {
	req, err := s.requests.GetByID(ctx, id)
	if err != nil {
		return nil, internal(err, "load request %s", id)
	}
	if req == nil || req.Kind != s.kind {
		return nil, notFound("request %s not found", id)
	}
	return req, nil
}

func (s *requestServiceImpl) requesterEffect(req *entity.Request, typ entity.NotificationType, title, body string) Effect {
	return Effect{
		Recipients: []string{req.RequesterID},
		Type:       typ,
		Title:      title,
		Body:       body,
		RelatedID:  req.ID,
	}
}

// responsibleEffect addresses whoever the request's current stage waits on
func (s *requestServiceImpl) responsibleEffect(req *entity.Request, title, body string) (Effect, bool) {
	return responsibleEffect(s.engine, req, title, body)
}

func responsibleEffect(engine *workflow.Engine, req *entity.Request, title, body string) (Effect, bool) {
	reqs := engine.Responsible(req.Kind, req.CurrentStage)
	e := Effect{Type: entity.NotificationActionRequired, Title: title, Body: body, RelatedID: req.ID}

	for _, r := range reqs {
		// the designated supervisor is the responsible party; override tiers are not paged
		if r.IsSupervisor() && req.SupervisorID != "" {
			e.Recipients = []string{req.SupervisorID}
			return e, true
		}
	}
	for _, r := range reqs {
		switch {
		case r.Role == workflow.RoleSystem:
		case r.Role != "":
			e.Roles = append(e.Roles, r.Role)
		case r.Name == string(workflow.RoleDriver) && req.Vehicle != nil && req.Vehicle.AssignedDriverID != "":
			e.Recipients = append(e.Recipients, req.Vehicle.AssignedDriverID)
		}
	}
	return e, len(e.Roles) > 0 || len(e.Recipients) > 0
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
