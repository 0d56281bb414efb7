package workflow

import (
	"errors"
	"fmt"
	"sort"
)

// OverrideDGSDirectAssignment lets the DGS assign a vehicle straight from dgs_review,
// skipping the deputy and transport review tiers.
const OverrideDGSDirectAssignment = "dgs_direct_assignment"

// Override is a named escape hatch granting an action to a different reviewer set.
// Actions performed through an override are recorded with the override name.
type Override struct {
	Name      string
	Reviewers []Requirement
}

// StageDefinition declares what may happen at a stage and who may do it.
type StageDefinition struct {
	Stage                   Stage
	Actions                 []Action
	Reviewers               []Requirement
	RequiresSupervisorMatch bool
	Overrides               map[Action]Override
	Terminal                bool
}

// Allows returns true if the action is in the stage's allowed actions
func (d *StageDefinition) Allows(a Action) bool {
	for _, action := range d.Actions {
		if action == a {
			return true
		}
	}
	return false
}

// ResubmissionPolicy decides where a corrected or rejected request re-enters its workflow.
type ResubmissionPolicy string

const (
	// ResumeAtCorrectedStage returns the request to the stage that sent it back
	ResumeAtCorrectedStage ResubmissionPolicy = "resume_at_corrected_stage"
	// RestartAtInitialStage replays the submit branch
	RestartAtInitialStage ResubmissionPolicy = "restart_at_initial_stage"
)

// TransitionContext carries the facts conditional transitions branch on.
type TransitionContext struct {
	RequesterIsSupervisor bool
	// ResumeStage is the stage a request left when it was sent back or rejected
	ResumeStage Stage
}

func requesterIsSupervisor(c TransitionContext) bool    { return c.RequesterIsSupervisor }
func requesterIsNotSupervisor(c TransitionContext) bool { return !c.RequesterIsSupervisor }

func resumeAt(stage Stage) Guard[TransitionContext] {
	return func(c TransitionContext) bool { return c.ResumeStage == stage }
}

// Definition is the immutable workflow of one request kind: its stage catalog and transition table.
type Definition struct {
	Kind            Kind
	Initial         Stage
	// AssignmentStage waits on a separate assign call; approving into it pages nobody
	AssignmentStage Stage
	Resubmission    ResubmissionPolicy

	order  []Stage
	stages map[Stage]*StageDefinition
	table  *Table[Stage, Action, TransitionContext]
}

func newDefinition(kind Kind, policy ResubmissionPolicy, stages []*StageDefinition) *Definition {
	d := &Definition{
		Kind:         kind,
		Initial:      StageDraft,
		Resubmission: policy,
		stages:       make(map[Stage]*StageDefinition, len(stages)),
	}
	for _, s := range stages {
		d.order = append(d.order, s.Stage)
		d.stages[s.Stage] = s
	}
	return d
}

func (d *Definition) builder() *Builder[Stage, Action, TransitionContext] {
	return NewBuilder[Stage, Action, TransitionContext](d.HasStage)
}

// HasStage returns true if the stage belongs to this kind's catalog
func (d *Definition) HasStage(s Stage) bool {
	_, ok := d.stages[s]
	return ok
}

// Stage returns the definition of a stage
func (d *Definition) Stage(s Stage) (*StageDefinition, error) {
	def, ok := d.stages[s]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no stage %q", ErrUnknownStage, d.Kind, s)
	}
	return def, nil
}

// Stages returns the catalog in declaration order
func (d *Definition) Stages() []*StageDefinition {
	out := make([]*StageDefinition, 0, len(d.order))
	for _, s := range d.order {
		out = append(out, d.stages[s])
	}
	return out
}

// Edges returns the transition table of this kind
func (d *Definition) Edges() []Edge[Stage, Action] {
	return d.table.Edges()
}

// Validate checks that the catalog and the transition table agree.
// Every allowed action needs a transition and every transition must start from an
// allowed action. Terminal stages may only offer resubmission, and every stage
// must be reachable from the initial one.
func (d *Definition) Validate() error {
	var errs []error

	if !d.HasStage(d.Initial) {
		errs = append(errs, fmt.Errorf("%s: initial stage %q not in catalog", d.Kind, d.Initial))
	}
	if d.AssignmentStage != "" && !d.HasStage(d.AssignmentStage) {
		errs = append(errs, fmt.Errorf("%s: assignment stage %q not in catalog", d.Kind, d.AssignmentStage))
	}
	if d.table == nil {
		return errors.Join(append(errs, fmt.Errorf("%s: no transition table", d.Kind))...)
	}

	for _, stage := range d.Stages() {
		for _, action := range stage.Actions {
			if !d.table.Permits(stage.Stage, action) {
				errs = append(errs, fmt.Errorf("%s: %s allows %s but has no transition", d.Kind, stage.Stage, action))
			}
		}
		for _, action := range d.table.Actions(stage.Stage) {
			if !stage.Allows(action) {
				errs = append(errs, fmt.Errorf("%s: %s configures %s which the catalog does not allow", d.Kind, stage.Stage, action))
			}
		}
		for action := range stage.Overrides {
			if !stage.Allows(action) {
				errs = append(errs, fmt.Errorf("%s: %s overrides %s which it does not allow", d.Kind, stage.Stage, action))
			}
		}
		if stage.Terminal {
			for _, action := range stage.Actions {
				if action != ActionResubmit {
					errs = append(errs, fmt.Errorf("%s: terminal stage %s allows %s", d.Kind, stage.Stage, action))
				}
			}
		}
		if len(stage.Actions) > 0 && len(stage.Reviewers) == 0 && !onlyRequesterActions(stage.Actions) {
			errs = append(errs, fmt.Errorf("%s: %s has actions but no reviewers", d.Kind, stage.Stage))
		}
	}

	for _, edge := range d.table.Edges() {
		if !d.HasStage(edge.From) {
			errs = append(errs, fmt.Errorf("%s: transition source %q not in catalog", d.Kind, edge.From))
		}
		if !d.HasStage(edge.To) {
			errs = append(errs, fmt.Errorf("%s: transition target %q not in catalog", d.Kind, edge.To))
		}
	}

	reached := d.reachable()
	for _, stage := range d.Stages() {
		if !reached[stage.Stage] {
			errs = append(errs, fmt.Errorf("%s: stage %s is unreachable from %s", d.Kind, stage.Stage, d.Initial))
		}
	}

	return errors.Join(errs...)
}

// reachable walks the transition table from the initial stage
func (d *Definition) reachable() map[Stage]bool {
	seen := map[Stage]bool{d.Initial: true}
	queue := []Stage{d.Initial}
	for len(queue) > 0 {
		from := queue[0]
		queue = queue[1:]
		for _, to := range d.table.Targets(from) {
			if !seen[to] {
				seen[to] = true
				queue = append(queue, to)
			}
		}
	}
	return seen
}

func onlyRequesterActions(actions []Action) bool {
	for _, a := range actions {
		if !a.IsRequesterAction() {
			return false
		}
	}
	return true
}

// Registry indexes workflow definitions by kind. It is built once at startup and never mutated.
type Registry struct {
	definitions map[Kind]*Definition
}

// NewRegistry validates and indexes the definitions
func NewRegistry(defs ...*Definition) (*Registry, error) {
	r := &Registry{definitions: make(map[Kind]*Definition, len(defs))}
	var errs []error
	for _, d := range defs {
		if _, dup := r.definitions[d.Kind]; dup {
			errs = append(errs, fmt.Errorf("duplicate definition for %s", d.Kind))
			continue
		}
		if err := d.Validate(); err != nil {
			errs = append(errs, err)
		}
		r.definitions[d.Kind] = d
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid workflow configuration: %w", err)
	}
	return r, nil
}

// DefaultRegistry returns the vehicle, ICT and store workflows. It panics on an invalid configuration.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(VehicleDefinition(), ICTDefinition(), StoreDefinition())
	if err != nil {
		panic(err)
	}
	return r
}

// Definition returns the workflow for a kind
func (r *Registry) Definition(k Kind) (*Definition, error) {
	d, ok := r.definitions[k]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, k)
	}
	return d, nil
}

// Kinds returns the registered kinds, sorted
func (r *Registry) Kinds() []Kind {
	kinds := make([]Kind, 0, len(r.definitions))
	for k := range r.definitions {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
