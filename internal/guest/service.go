package guest

import (
	"context"
	"strings"
	"time"

	"kampus.org/internal/auth"
	"kampus.org/internal/errs"
	"kampus.org/internal/gate"
	"kampus.org/internal/ids"
	"kampus.org/internal/workflow"
)

// MemberInput describes one member of a visiting group.
type MemberInput struct {
	FullName    string `json:"full_name"`
	Position    string `json:"position"`
	Nationality string `json:"nationality"`
	PassportNo  string `json:"passport_no"`
}

// Input carries the editable fields of a registration.
type Input struct {
	Organization string        `json:"organization"`
	Purpose      string        `json:"purpose"`
	HostUnit     string        `json:"host_unit"`
	ArrivalAt    time.Time     `json:"arrival_at"`
	DepartureAt  time.Time     `json:"departure_at"`
	Members      []MemberInput `json:"members"`
}

func (in Input) validate() error {
	if strings.TrimSpace(in.Organization) == "" {
		return errs.Validation("organization is required")
	}
	if in.ArrivalAt.IsZero() || in.DepartureAt.IsZero() {
		return errs.Validation("arrival_at and departure_at are required")
	}
	if !in.ArrivalAt.Before(in.DepartureAt) {
		return errs.Validation("arrival_at must be before departure_at")
	}
	if len(in.Members) == 0 {
		return errs.Validation("at least one member is required")
	}
	for i, m := range in.Members {
		if strings.TrimSpace(m.FullName) == "" {
			return errs.Validation("members[%d].full_name is required", i)
		}
	}
	return nil
}

func (in Input) apply(g *Guest) {
	g.Organization = strings.TrimSpace(in.Organization)
	g.Purpose = strings.TrimSpace(in.Purpose)
	g.HostUnit = strings.TrimSpace(in.HostUnit)
	g.ArrivalAt = in.ArrivalAt.UTC()
	g.DepartureAt = in.DepartureAt.UTC()
	g.Members = make([]Member, 0, len(in.Members))
	for _, m := range in.Members {
		g.Members = append(g.Members, Member{
			ID:          ids.New(),
			GuestID:     g.ID,
			FullName:    strings.TrimSpace(m.FullName),
			Position:    strings.TrimSpace(m.Position),
			Nationality: strings.TrimSpace(m.Nationality),
			PassportNo:  strings.TrimSpace(m.PassportNo),
		})
	}
}

// Service runs guest operations through the transition table.
type Service struct {
	repo   Repository
	engine *workflow.Engine[Status]
}

// NewService wires a repository to the guest machine. events and clock may be nil.
func NewService(repo Repository, events workflow.Publisher, clock func() time.Time) *Service {
	return &Service{repo: repo, engine: workflow.NewEngine(Machine, events, clock)}
}

// Create registers a visit with its members in one write.
func (s *Service) Create(ctx context.Context, actor auth.Principal, in Input) (Guest, error) {
	if err := gate.Require(actor, ActionCreate); err != nil {
		return Guest{}, err
	}
	if err := in.validate(); err != nil {
		return Guest{}, err
	}
	now := s.engine.Now()
	if in.ArrivalAt.Before(now) {
		return Guest{}, errs.Validation("arrival_at must not be in the past")
	}
	g := Guest{
		ID:        ids.New(),
		Status:    Machine.Initial(),
		CreatedBy: actor.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	in.apply(&g)
	if err := s.repo.CreateGuest(ctx, g); err != nil {
		return Guest{}, errs.Unavailable(err)
	}
	return g, nil
}

// Get returns a registration inside the caller's view scope.
func (s *Service) Get(ctx context.Context, actor auth.Principal, id string) (Guest, error) {
	scope, err := ViewPolicy.Resolve(actor)
	if err != nil {
		return Guest{}, err
	}
	g, err := s.load(ctx, id)
	if err != nil {
		return Guest{}, err
	}
	if !scope.Permits(g.CreatedBy) {
		return Guest{}, errs.ErrNotFound
	}
	return g, nil
}

// List returns the registrations inside the caller's view scope.
func (s *Service) List(ctx context.Context, actor auth.Principal, f Filter) ([]Guest, error) {
	scope, err := ViewPolicy.Resolve(actor)
	if err != nil {
		return nil, err
	}
	if !scope.All {
		f.OwnerID = scope.OwnerID
	}
	out, err := s.repo.ListGuests(ctx, f)
	if err != nil {
		return nil, errs.Unavailable(err)
	}
	return out, nil
}

// Update replaces the fields and members of a registration that has not
// started yet. Only the creator or a guest.approve holder may edit.
func (s *Service) Update(ctx context.Context, actor auth.Principal, id string, in Input) (Guest, error) {
	return s.transition(ctx, actor, id, OpUpdate, nil,
		func(g Guest) error {
			if err := gate.OwnerOr(actor, g.CreatedBy, ActionApprove); err != nil {
				return err
			}
			return in.validate()
		},
		func(g *Guest, _ workflow.Change[Status]) { in.apply(g) })
}

// Approve accepts a registration.
func (s *Service) Approve(ctx context.Context, actor auth.Principal, id string) (Guest, error) {
	return s.transition(ctx, actor, id, OpApprove, nil, nil, func(g *Guest, c workflow.Change[Status]) {
		g.ApprovedBy = c.ActorID
	})
}

// Checkin records the arrival.
func (s *Service) Checkin(ctx context.Context, actor auth.Principal, id string) (Guest, error) {
	return s.transition(ctx, actor, id, OpCheckin, nil, nil, func(g *Guest, c workflow.Change[Status]) {
		at := c.At
		g.ArrivedAt = &at
	})
}

// Checkout records the departure.
func (s *Service) Checkout(ctx context.Context, actor auth.Principal, id string) (Guest, error) {
	return s.transition(ctx, actor, id, OpCheckout, nil, nil, func(g *Guest, c workflow.Change[Status]) {
		at := c.At
		g.DepartedAt = &at
	})
}

// Reject refuses a registration.
func (s *Service) Reject(ctx context.Context, actor auth.Principal, id, reason string) (Guest, error) {
	return s.cancel(ctx, actor, id, OpReject, reason)
}

// Cancel withdraws a registration.
func (s *Service) Cancel(ctx context.Context, actor auth.Principal, id, reason string) (Guest, error) {
	return s.cancel(ctx, actor, id, OpCancel, reason)
}

func (s *Service) cancel(ctx context.Context, actor auth.Principal, id string, op workflow.Op, reason string) (Guest, error) {
	reason = strings.TrimSpace(reason)
	var extra map[string]string
	if reason != "" {
		extra = map[string]string{"reason": reason}
	}
	return s.transition(ctx, actor, id, op, extra, nil, func(g *Guest, _ workflow.Change[Status]) {
		g.CancelReason = reason
	})
}

func (s *Service) load(ctx context.Context, id string) (Guest, error) {
	g, err := s.repo.GetGuest(ctx, id)
	if err != nil {
		return Guest{}, errs.Unavailable(err)
	}
	return g, nil
}

func (s *Service) transition(
	ctx context.Context,
	actor auth.Principal,
	id string,
	op workflow.Op,
	extra map[string]string,
	guard func(Guest) error,
	mutate func(*Guest, workflow.Change[Status]),
) (Guest, error) {
	cur, err := s.load(ctx, id)
	if err != nil {
		return Guest{}, err
	}
	next := cur
	_, err = s.engine.Execute(ctx, workflow.Request[Status]{
		EntityID: id,
		Op:       op,
		Actor:    actor,
		Current:  cur.Status,
		Extra:    extra,
		Guard: func(workflow.Transition[Status]) error {
			if guard == nil {
				return nil
			}
			return guard(cur)
		},
		Commit: func(ctx context.Context, c workflow.Change[Status]) error {
			next.Status = c.To
			next.UpdatedAt = c.At
			if mutate != nil {
				mutate(&next, c)
			}
			if err := s.repo.UpdateGuest(ctx, next, c.From); err != nil {
				return err
			}
			next.Version++
			return nil
		},
	})
	if err != nil {
		return Guest{}, err
	}
	return next, nil
}
