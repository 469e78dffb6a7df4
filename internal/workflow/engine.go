package workflow

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"kampus.org/internal/auth"
	"kampus.org/internal/errs"
	"kampus.org/internal/obs"
)

var tracer = otel.Tracer("kampus.org/internal/workflow")

// Change is what a repository must persist atomically for one transition.
type Change[S ~string] struct {
	EntityID string
	Op       Op
	From     S
	To       S
	ActorID  string
	At       time.Time
}

// Request describes one transition attempt against an already loaded entity.
type Request[S ~string] struct {
	EntityID string
	Op       Op
	Actor    auth.Principal
	Current  S
	// Guard runs after the action and status checks and before the commit.
	Guard func(Transition[S]) error
	// Commit must write the new status and any dependent rows in one atomic
	// unit, conditioned on the entity still being in Change.From. It returns
	// errs.ErrStale when that condition no longer holds.
	Commit func(ctx context.Context, c Change[S]) error
	Extra  map[string]string
}

// Engine executes transitions of one machine and publishes their events.
type Engine[S ~string] struct {
	machine *Machine[S]
	events  Publisher
	now     func() time.Time
}

// NewEngine binds a machine to an event publisher. A nil publisher discards
// events; a nil clock uses time.Now.
func NewEngine[S ~string](m *Machine[S], events Publisher, clock func() time.Time) *Engine[S] {
	if events == nil {
		events = Discard
	}
	if clock == nil {
		clock = time.Now
	}
	return &Engine[S]{machine: m, events: events, now: clock}
}

// Machine returns the transition table.
func (e *Engine[S]) Machine() *Machine[S] { return e.machine }

// Now returns the engine clock reading in UTC.
func (e *Engine[S]) Now() time.Time { return e.now().UTC() }

// Execute authorizes, guards, commits and publishes one transition. The
// caller has already resolved NotFound by loading the entity.
func (e *Engine[S]) Execute(ctx context.Context, req Request[S]) (Event, error) {
	kind := string(e.machine.Kind())
	op := string(req.Op)

	t, err := e.machine.Authorize(req.Actor, req.Op, req.Current)
	if err != nil {
		obs.ObserveTransition(kind, op, outcomeOf(err))
		return Event{}, err
	}
	if req.Guard != nil {
		if err := req.Guard(t); err != nil {
			obs.ObserveTransition(kind, op, outcomeOf(err))
			return Event{}, err
		}
	}

	change := Change[S]{
		EntityID: req.EntityID,
		Op:       req.Op,
		From:     req.Current,
		To:       t.Target(req.Current),
		ActorID:  req.Actor.ID,
		At:       e.Now(),
	}
	if err := e.commit(ctx, req, change); err != nil {
		if errors.Is(err, errs.ErrStale) {
			obs.ObserveTransition(kind, op, "stale")
			return Event{}, e.machine.invalid(req.Op, req.Current)
		}
		obs.ObserveTransition(kind, op, outcomeOf(err))
		return Event{}, errs.Unavailable(err)
	}

	evt := Event{
		Kind:       e.machine.Kind(),
		EntityID:   req.EntityID,
		Op:         req.Op,
		From:       string(change.From),
		To:         string(change.To),
		ActorID:    req.Actor.ID,
		OccurredAt: change.At,
		Extra:      req.Extra,
	}
	e.events.Publish(evt)
	obs.ObserveTransition(kind, op, "ok")
	return evt, nil
}

func (e *Engine[S]) commit(ctx context.Context, req Request[S], c Change[S]) error {
	ctx, span := tracer.Start(ctx, "workflow.commit", trace.WithAttributes(
		attribute.String("workflow.kind", string(e.machine.Kind())),
		attribute.String("workflow.op", string(c.Op)),
		attribute.String("workflow.entity_id", c.EntityID),
		attribute.String("workflow.from", string(c.From)),
		attribute.String("workflow.to", string(c.To)),
	))
	defer span.End()
	if req.Commit == nil {
		return nil
	}
	if err := req.Commit(ctx, c); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, errs.ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, errs.ErrForbidden):
		return "forbidden"
	case errors.Is(err, errs.ErrInvalidTransition):
		return "invalid"
	case errors.Is(err, errs.ErrValidation), errors.Is(err, errs.ErrConflict), errors.Is(err, errs.ErrNotFound):
		return "rejected"
	}
	return "error"
}
