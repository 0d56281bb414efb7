package service

import (
	"context"
	"time"

	"github.com/garyjia/fleet-requests/internal/application/dispatcher"
	"github.com/garyjia/fleet-requests/internal/application/port"
	"github.com/garyjia/fleet-requests/internal/domain/entity"
	"github.com/garyjia/fleet-requests/internal/domain/event"
	"github.com/garyjia/fleet-requests/internal/domain/workflow"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Metrics receives service-level measurements
type Metrics interface {
	TransitionApplied(kind workflow.Kind, action workflow.Action, to workflow.Stage)
	AssignmentConflict()
	NotificationFailed(channel string)
	NotificationDelivered(channel string)
}

type noopMetrics struct{}

func (noopMetrics) TransitionApplied(workflow.Kind, workflow.Action, workflow.Stage) {}
func (noopMetrics) AssignmentConflict()                                             {}
func (noopMetrics) NotificationFailed(string)                                       {}
func (noopMetrics) NotificationDelivered(string)                                    {}

// Clock returns the current time
type Clock func() time.Time

// Effect is a post-commit notification produced by a lifecycle operation.
// Recipients are user ids; Roles are expanded to every user holding the role when the effect runs.
type Effect struct {
	Recipients []string
	Roles      []workflow.Role
	Type       entity.NotificationType
	Title      string
	Body       string
	RelatedID  string
}

// Result is what a mutating operation committed, plus the notifications it owes
type Result struct {
	Request *entity.Request
	Trip    *entity.Trip
	Effects []Effect
}

type options struct {
	clock          Clock
	dispatcher     dispatcher.Dispatcher
	metrics        Metrics
	distance       port.DistanceCalculator
	geocoder       port.Geocoder
	geofenceRadius float64
	lookupTimeout  time.Duration
}

// Option configures a service
type Option func(*options)

// WithClock pins the time source
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithDispatcher publishes domain events after commit
func WithDispatcher(d dispatcher.Dispatcher) Option {
	return func(o *options) { o.dispatcher = d }
}

// WithMetrics records service measurements
func WithMetrics(m Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithRouting enables best-effort distance estimation and geocoding
func WithRouting(d port.DistanceCalculator, g port.Geocoder) Option {
	return func(o *options) {
		o.distance = d
		o.geocoder = g
	}
}

// WithGeofenceRadius sets the auto-return radius in meters
func WithGeofenceRadius(meters float64) Option {
	return func(o *options) { o.geofenceRadius = meters }
}

// WithLookupTimeout bounds calls to routing collaborators
func WithLookupTimeout(d time.Duration) Option {
	return func(o *options) { o.lookupTimeout = d }
}

func newOptions(opts []Option) options {
	o := options{
		clock:          time.Now,
		metrics:        noopMetrics{},
		geofenceRadius: 50,
		lookupTimeout:  3 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) now() time.Time {
	return o.clock().UTC()
}

func (o options) publish(ctx context.Context, evt *event.Event) {
	if o.dispatcher != nil {
		o.dispatcher.DispatchAsync(ctx, evt)
	}
}

// publishTransition emits the audit event for a committed stage change
func (o options) publishTransition(ctx context.Context, req *entity.Request, tr workflow.Transition, actorID string) {
	o.metrics.TransitionApplied(tr.Kind, tr.Action, tr.To)
	o.publish(ctx, event.NewEvent(event.TypeRequestTransitioned, req.ID, map[string]interface{}{
		"kind":       string(tr.Kind),
		"action":     string(tr.Action),
		"from_stage": string(tr.From),
		"to_stage":   string(tr.To),
		"actor_id":   actorID,
		"override":   tr.Override,
		"version":    req.Version,
	}))
}

// loadActor resolves an actor id through the identity provider
func loadActor(ctx context.Context, users port.UserRepository, id string) (*entity.User, error) {
	if id == "" {
		return nil, forbidden("actor is required")
	}
	if id == workflow.SystemActorID {
		return nil, forbidden("reserved actor id")
	}
	u, err := users.GetByID(ctx, id)
	if err != nil {
		return nil, internal(err, "load user %s", id)
	}
	if u == nil {
		return nil, forbidden("unknown actor %s", id)
	}
	return u, nil
}
