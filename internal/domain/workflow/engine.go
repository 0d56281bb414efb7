package workflow

import "fmt"

// Decision is the outcome of a permission check.
type Decision struct {
	Allowed bool
	// Override names the escape hatch that granted the action, if any
	Override string
	// Err explains a denial; it wraps one of the package sentinels
	Err error
}

// Transition is the engine's answer for an allowed action. Applying it is the caller's job.
type Transition struct {
	Kind     Kind
	From     Stage
	To       Stage
	Action   Action
	Override string
}

// Engine evaluates permissions and next stages against a registry.
// It never mutates a request and holds no per-request state.
type Engine struct {
	registry *Registry
}

// NewEngine creates an engine over the registry
func NewEngine(registry *Registry) *Engine {
	return &Engine{registry: registry}
}

// Registry returns the engine's workflow definitions
func (e *Engine) Registry() *Registry {
	return e.registry
}

func (e *Engine) stage(kind Kind, stage Stage) (*Definition, *StageDefinition, error) {
	def, err := e.registry.Definition(kind)
	if err != nil {
		return nil, nil, err
	}
	sd, err := def.Stage(stage)
	if err != nil {
		return nil, nil, err
	}
	return def, sd, nil
}

// CanPerformAction decides whether the actor may perform the action on the subject in its current stage
func (e *Engine) CanPerformAction(actor Actor, subject Subject, action Action) Decision {
	_, stage, err := e.stage(subject.Kind, subject.Stage)
	if err != nil {
		return Decision{Err: err}
	}

	if !stage.Allows(action) {
		return Decision{Err: fmt.Errorf("%w: %s at %s", ErrActionNotAllowed, action, subject.Stage)}
	}

	if action.IsRequesterAction() {
		if actor.ID == "" || actor.ID != subject.RequesterID {
			return Decision{Err: fmt.Errorf("%w: only the requester may %s", ErrNotAuthorized, action)}
		}
		return Decision{Allowed: true}
	}

	if override, ok := stage.Overrides[action]; ok {
		if satisfiesAny(override.Reviewers, actor, subject, stage.RequiresSupervisorMatch) {
			return Decision{Allowed: true, Override: override.Name}
		}
		return Decision{Err: fmt.Errorf("%w: %s at %s requires %s", ErrNotAuthorized, action, subject.Stage, override.Name)}
	}

	if satisfiesAny(stage.Reviewers, actor, subject, stage.RequiresSupervisorMatch) {
		return Decision{Allowed: true}
	}
	return Decision{Err: fmt.Errorf("%w: %s at %s", ErrNotAuthorized, action, subject.Stage)}
}

// NextStage resolves the transition table for the subject's kind.
// A missing or fully guarded-out transition is a configuration error and is returned as such.
func (e *Engine) NextStage(subject Subject, action Action, tc TransitionContext) (Stage, error) {
	def, _, err := e.stage(subject.Kind, subject.Stage)
	if err != nil {
		return "", err
	}
	return def.table.Resolve(subject.Stage, action, tc)
}

// Evaluate combines the permission check and next-stage resolution
func (e *Engine) Evaluate(actor Actor, subject Subject, action Action, tc TransitionContext) (Transition, error) {
	decision := e.CanPerformAction(actor, subject, action)
	if !decision.Allowed {
		return Transition{}, decision.Err
	}

	to, err := e.NextStage(subject, action, tc)
	if err != nil {
		return Transition{}, err
	}

	return Transition{
		Kind:     subject.Kind,
		From:     subject.Stage,
		To:       to,
		Action:   action,
		Override: decision.Override,
	}, nil
}

// IsReviewer reports whether the actor is one of the parties the current stage is waiting on.
// Requester-only stages do not count.
func (e *Engine) IsReviewer(actor Actor, subject Subject) bool {
	_, stage, err := e.stage(subject.Kind, subject.Stage)
	if err != nil || onlyRequesterActions(stage.Actions) {
		return false
	}
	if satisfiesAny(stage.Reviewers, actor, subject, stage.RequiresSupervisorMatch) {
		return true
	}
	for _, override := range stage.Overrides {
		if satisfiesAny(override.Reviewers, actor, subject, stage.RequiresSupervisorMatch) {
			return true
		}
	}
	return false
}

// ReviewStages lists the stages of a kind at which the actor could be a reviewer
// for some request. The per-request answer still needs IsReviewer.
func (e *Engine) ReviewStages(kind Kind, actor Actor) []Stage {
	def, err := e.registry.Definition(kind)
	if err != nil {
		return nil
	}
	var stages []Stage
	for _, stage := range def.Stages() {
		if onlyRequesterActions(stage.Actions) {
			continue
		}
		for _, r := range stage.Reviewers {
			if r.couldSatisfy(actor) {
				stages = append(stages, stage.Stage)
				break
			}
		}
	}
	return stages
}

// Responsible returns the requirements of the parties a stage waits on, used to address notifications
func (e *Engine) Responsible(kind Kind, stage Stage) []Requirement {
	_, sd, err := e.stage(kind, stage)
	if err != nil || sd.Terminal || onlyRequesterActions(sd.Actions) {
		return nil
	}
	return append([]Requirement{}, sd.Reviewers...)
}

func satisfiesAny(reqs []Requirement, actor Actor, subject Subject, supervisorMatch bool) bool {
	for _, r := range reqs {
		if r.satisfiedBy(actor, subject, supervisorMatch) {
			return true
		}
	}
	return false
}
