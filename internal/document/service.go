package document

import (
	"context"
	"errors"
	"strings"
	"time"

	"kampus.org/internal/auth"
	"kampus.org/internal/errs"
	"kampus.org/internal/gate"
	"kampus.org/internal/ids"
	"kampus.org/internal/workflow"
)

// Input carries the editable fields of a document.
type Input struct {
	Title    string     `json:"title"`
	Partner  string     `json:"partner"`
	Body     string     `json:"body"`
	StartsAt *time.Time `json:"starts_at"`
	EndsAt   *time.Time `json:"ends_at"`
}

func (in Input) validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return errs.Validation("title is required")
	}
	if in.StartsAt != nil && in.EndsAt != nil && !in.EndsAt.After(*in.StartsAt) {
		return errs.Validation("ends_at must be after starts_at")
	}
	return nil
}

func (in Input) apply(d *Document) {
	d.Title = strings.TrimSpace(in.Title)
	d.Partner = strings.TrimSpace(in.Partner)
	d.Body = in.Body
	d.StartsAt = utcPtr(in.StartsAt)
	d.EndsAt = utcPtr(in.EndsAt)
}

// Service runs document operations through the transition table.
type Service struct {
	repo   Repository
	engine *workflow.Engine[Status]
}

// NewService wires a repository to the document machine. events and clock
// may be nil.
func NewService(repo Repository, events workflow.Publisher, clock func() time.Time) *Service {
	return &Service{repo: repo, engine: workflow.NewEngine(Machine, events, clock)}
}

// Create stores a new DRAFT document owned by actor.
func (s *Service) Create(ctx context.Context, actor auth.Principal, in Input) (Document, error) {
	if err := gate.Require(actor, ActionCreate); err != nil {
		return Document{}, err
	}
	if err := in.validate(); err != nil {
		return Document{}, err
	}
	now := s.engine.Now()
	d := Document{
		ID:        ids.New(),
		Status:    Machine.Initial(),
		CreatedBy: actor.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	in.apply(&d)
	if err := s.repo.CreateDocument(ctx, d); err != nil {
		return Document{}, errs.Unavailable(err)
	}
	return d, nil
}

// Get returns a document inside the caller's view scope. Documents outside
// the scope are reported as not found.
func (s *Service) Get(ctx context.Context, actor auth.Principal, id string) (Document, error) {
	scope, err := ViewPolicy.Resolve(actor)
	if err != nil {
		return Document{}, err
	}
	d, err := s.load(ctx, id)
	if err != nil {
		return Document{}, err
	}
	if !scope.Permits(d.CreatedBy) {
		return Document{}, errs.ErrNotFound
	}
	return d, nil
}

// List returns the documents inside the caller's view scope.
func (s *Service) List(ctx context.Context, actor auth.Principal, f Filter) ([]Document, error) {
	scope, err := ViewPolicy.Resolve(actor)
	if err != nil {
		return nil, err
	}
	if !scope.All {
		f.OwnerID = scope.OwnerID
	}
	out, err := s.repo.ListDocuments(ctx, f)
	if err != nil {
		return nil, errs.Unavailable(err)
	}
	return out, nil
}

// Update replaces the editable fields of a DRAFT document.
func (s *Service) Update(ctx context.Context, actor auth.Principal, id string, in Input) (Document, error) {
	return s.transition(ctx, actor, id, OpUpdate, nil,
		func(d Document) error {
			if err := gate.OwnerOr(actor, d.CreatedBy, ActionApprove); err != nil {
				return err
			}
			return in.validate()
		},
		func(d *Document, _ workflow.Change[Status]) { in.apply(d) })
}

// Submit sends a DRAFT document for approval.
func (s *Service) Submit(ctx context.Context, actor auth.Principal, id string) (Document, error) {
	return s.transition(ctx, actor, id, OpSubmit, nil,
		func(d Document) error { return gate.OwnerOr(actor, d.CreatedBy, ActionApprove) },
		func(d *Document, _ workflow.Change[Status]) { d.RejectReason = "" })
}

// Review marks a submitted document as under review.
func (s *Service) Review(ctx context.Context, actor auth.Principal, id string) (Document, error) {
	return s.transition(ctx, actor, id, OpReview, nil, nil, nil)
}

// Approve records the approver.
func (s *Service) Approve(ctx context.Context, actor auth.Principal, id string) (Document, error) {
	return s.transition(ctx, actor, id, OpApprove, nil, nil, func(d *Document, c workflow.Change[Status]) {
		at := c.At
		d.ApprovedBy = c.ActorID
		d.ApprovedAt = &at
	})
}

// Reject returns the document to DRAFT with an optional reason.
func (s *Service) Reject(ctx context.Context, actor auth.Principal, id, reason string) (Document, error) {
	reason = strings.TrimSpace(reason)
	var extra map[string]string
	if reason != "" {
		extra = map[string]string{"reason": reason}
	}
	return s.transition(ctx, actor, id, OpReject, extra, nil, func(d *Document, _ workflow.Change[Status]) {
		d.RejectReason = reason
	})
}

// Sign records the signature time of an approved document.
func (s *Service) Sign(ctx context.Context, actor auth.Principal, id string) (Document, error) {
	return s.transition(ctx, actor, id, OpSign, nil, nil, func(d *Document, c workflow.Change[Status]) {
		at := c.At
		d.SignedAt = &at
	})
}

// Activate puts a signed document into force.
func (s *Service) Activate(ctx context.Context, actor auth.Principal, id string) (Document, error) {
	return s.transition(ctx, actor, id, OpActivate, nil, nil, nil)
}

// Expire ends an active document.
func (s *Service) Expire(ctx context.Context, actor auth.Principal, id string) (Document, error) {
	return s.transition(ctx, actor, id, OpExpire, nil, nil, nil)
}

// Delete removes a DRAFT document. It is not a table transition; any other
// status is reported as an invalid "delete".
func (s *Service) Delete(ctx context.Context, actor auth.Principal, id string) error {
	if err := gate.Require(actor, ActionDelete); err != nil {
		return err
	}
	d, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	invalid := &errs.TransitionError{Kind: string(Kind), Op: "delete", From: string(d.Status)}
	if d.Status != StatusDraft {
		return invalid
	}
	if err := s.repo.DeleteDocument(ctx, id, StatusDraft); err != nil {
		if errors.Is(err, errs.ErrStale) {
			return invalid
		}
		return errs.Unavailable(err)
	}
	return nil
}

func (s *Service) load(ctx context.Context, id string) (Document, error) {
	d, err := s.repo.GetDocument(ctx, id)
	if err != nil {
		return Document{}, errs.Unavailable(err)
	}
	return d, nil
}

func (s *Service) transition(
	ctx context.Context,
	actor auth.Principal,
	id string,
	op workflow.Op,
	extra map[string]string,
	guard func(Document) error,
	mutate func(*Document, workflow.Change[Status]),
) (Document, error) {
	cur, err := s.load(ctx, id)
	if err != nil {
		return Document{}, err
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
			if err := s.repo.UpdateDocument(ctx, next, c.From); err != nil {
				return err
			}
			next.Version++
			return nil
		},
	})
	if err != nil {
		return Document{}, err
	}
	return next, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
