package visa

import (
	"context"
	"fmt"
	"strings"
	"time"

	"kampus.org/internal/auth"
	"kampus.org/internal/errs"
	"kampus.org/internal/gate"
	"kampus.org/internal/ids"
	"kampus.org/internal/workflow"
)

// Input carries the fields of a new visa.
type Input struct {
	Number     string    `json:"number"`
	HolderName string    `json:"holder_name"`
	Country    string    `json:"country"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func (in Input) validate() error {
	if strings.TrimSpace(in.Number) == "" {
		return errs.Validation("number is required")
	}
	if strings.TrimSpace(in.HolderName) == "" {
		return errs.Validation("holder_name is required")
	}
	if in.ExpiresAt.IsZero() {
		return errs.Validation("expires_at is required")
	}
	if !in.IssuedAt.IsZero() && !in.ExpiresAt.After(in.IssuedAt) {
		return errs.Validation("expires_at must be after issued_at")
	}
	return nil
}

// ExtensionInput asks for a new expiry date.
type ExtensionInput struct {
	ExpiresAt time.Time `json:"expires_at"`
	Reason    string    `json:"reason"`
}

// Service runs visa and extension operations through their transition tables.
type Service struct {
	repo       Repository
	visas      *workflow.Engine[Status]
	extensions *workflow.Engine[ExtensionStatus]
}

// NewService wires a repository to both machines. events and clock may be nil.
func NewService(repo Repository, events workflow.Publisher, clock func() time.Time) *Service {
	return &Service{
		repo:       repo,
		visas:      workflow.NewEngine(Machine, events, clock),
		extensions: workflow.NewEngine(ExtensionMachine, events, clock),
	}
}

// Create registers an ACTIVE visa. Visa numbers are unique.
func (s *Service) Create(ctx context.Context, actor auth.Principal, in Input) (Visa, error) {
	if err := gate.Require(actor, ActionCreate); err != nil {
		return Visa{}, err
	}
	if err := in.validate(); err != nil {
		return Visa{}, err
	}
	now := s.visas.Now()
	v := Visa{
		ID:         ids.New(),
		Number:     strings.ToUpper(strings.TrimSpace(in.Number)),
		HolderName: strings.TrimSpace(in.HolderName),
		Country:    strings.TrimSpace(in.Country),
		Status:     Machine.Initial(),
		IssuedAt:   in.IssuedAt.UTC(),
		ExpiresAt:  in.ExpiresAt.UTC(),
		CreatedBy:  actor.ID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.CreateVisa(ctx, v); err != nil {
		return Visa{}, errs.Unavailable(err)
	}
	return v, nil
}

// Get returns a visa inside the caller's view scope.
func (s *Service) Get(ctx context.Context, actor auth.Principal, id string) (Visa, error) {
	scope, err := ViewPolicy.Resolve(actor)
	if err != nil {
		return Visa{}, err
	}
	v, err := s.loadVisa(ctx, id)
	if err != nil {
		return Visa{}, err
	}
	if !scope.Permits(v.CreatedBy) {
		return Visa{}, errs.ErrNotFound
	}
	return v, nil
}

// List returns the visas inside the caller's view scope.
func (s *Service) List(ctx context.Context, actor auth.Principal, f Filter) ([]Visa, error) {
	scope, err := ViewPolicy.Resolve(actor)
	if err != nil {
		return nil, err
	}
	if !scope.All {
		f.OwnerID = scope.OwnerID
	}
	out, err := s.repo.ListVisas(ctx, f)
	if err != nil {
		return nil, errs.Unavailable(err)
	}
	return out, nil
}

// RequestExtension opens a PENDING extension for an ACTIVE visa.
func (s *Service) RequestExtension(ctx context.Context, actor auth.Principal, visaID string, in ExtensionInput) (Extension, error) {
	v, err := s.loadVisa(ctx, visaID)
	if err != nil {
		return Extension{}, err
	}
	var ext Extension
	_, err = s.visas.Execute(ctx, workflow.Request[Status]{
		EntityID: v.ID,
		Op:       OpExtend,
		Actor:    actor,
		Current:  v.Status,
		Guard: func(workflow.Transition[Status]) error {
			if in.ExpiresAt.IsZero() {
				return errs.Validation("expires_at is required")
			}
			return CheckApproval(v, in.ExpiresAt)
		},
		Commit: func(ctx context.Context, c workflow.Change[Status]) error {
			ext = Extension{
				ID:                 ids.New(),
				VisaID:             v.ID,
				RequestedExpiresAt: in.ExpiresAt.UTC(),
				Reason:             strings.TrimSpace(in.Reason),
				Status:             ExtensionMachine.Initial(),
				RequestedBy:        c.ActorID,
				CreatedAt:          c.At,
				UpdatedAt:          c.At,
			}
			return s.repo.OpenExtension(ctx, ext, c.From)
		},
		Extra: map[string]string{"expires_at": in.ExpiresAt.UTC().Format(time.RFC3339)},
	})
	if err != nil {
		return Extension{}, err
	}
	return ext, nil
}

// Remind flags that the holder was told about the upcoming expiry.
func (s *Service) Remind(ctx context.Context, actor auth.Principal, id string) (Visa, error) {
	return s.transition(ctx, actor, id, OpRemind, nil,
		func(v Visa) error {
			if v.ReminderSent {
				return fmt.Errorf("%w: reminder already sent", errs.ErrConflict)
			}
			return nil
		},
		func(v *Visa, _ workflow.Change[Status]) { v.ReminderSent = true })
}

// Expire ends an ACTIVE visa.
func (s *Service) Expire(ctx context.Context, actor auth.Principal, id string) (Visa, error) {
	return s.transition(ctx, actor, id, OpExpire, nil, nil, nil)
}

// Cancel withdraws an ACTIVE visa.
func (s *Service) Cancel(ctx context.Context, actor auth.Principal, id, reason string) (Visa, error) {
	reason = strings.TrimSpace(reason)
	var extra map[string]string
	if reason != "" {
		extra = map[string]string{"reason": reason}
	}
	return s.transition(ctx, actor, id, OpCancel, extra, nil, func(v *Visa, _ workflow.Change[Status]) {
		v.CancelReason = reason
	})
}

// GetExtension returns an extension whose visa is inside the caller's scope.
func (s *Service) GetExtension(ctx context.Context, actor auth.Principal, id string) (Extension, error) {
	scope, err := ViewPolicy.Resolve(actor)
	if err != nil {
		return Extension{}, err
	}
	e, err := s.loadExtension(ctx, id)
	if err != nil {
		return Extension{}, err
	}
	v, err := s.loadVisa(ctx, e.VisaID)
	if err != nil {
		return Extension{}, err
	}
	if !scope.Permits(v.CreatedBy) {
		return Extension{}, errs.ErrNotFound
	}
	return e, nil
}

// ListExtensions returns the extensions of a visa inside the caller's scope.
func (s *Service) ListExtensions(ctx context.Context, actor auth.Principal, visaID string) ([]Extension, error) {
	if _, err := s.Get(ctx, actor, visaID); err != nil {
		return nil, err
	}
	out, err := s.repo.ListExtensions(ctx, ExtensionFilter{VisaID: visaID})
	if err != nil {
		return nil, errs.Unavailable(err)
	}
	return out, nil
}

// ApproveExtension approves a PENDING extension and moves the parent visa's
// expiry in the same commit, clearing its reminder flag. The parent checks run
// inside that commit against the current visa row.
func (s *Service) ApproveExtension(ctx context.Context, actor auth.Principal, id string) (Extension, error) {
	e, err := s.loadExtension(ctx, id)
	if err != nil {
		return Extension{}, err
	}
	return s.decide(ctx, actor, e, OpApprove, "")
}

// RejectExtension rejects a PENDING extension; the visa is unchanged.
func (s *Service) RejectExtension(ctx context.Context, actor auth.Principal, id, reason string) (Extension, error) {
	e, err := s.loadExtension(ctx, id)
	if err != nil {
		return Extension{}, err
	}
	return s.decide(ctx, actor, e, OpReject, strings.TrimSpace(reason))
}

func (s *Service) decide(ctx context.Context, actor auth.Principal, e Extension, op workflow.Op, reason string) (Extension, error) {
	next := e
	extra := map[string]string{"visa_id": e.VisaID}
	if reason != "" {
		extra["reason"] = reason
	}
	if op == OpApprove {
		extra["expires_at"] = e.RequestedExpiresAt.UTC().Format(time.RFC3339)
	}
	_, err := s.extensions.Execute(ctx, workflow.Request[ExtensionStatus]{
		EntityID: e.ID,
		Op:       op,
		Actor:    actor,
		Current:  e.Status,
		Extra:    extra,
		Commit: func(ctx context.Context, c workflow.Change[ExtensionStatus]) error {
			at := c.At
			next.Status = c.To
			next.DecidedBy = c.ActorID
			next.DecidedAt = &at
			next.RejectReason = reason
			next.UpdatedAt = c.At
			return s.repo.DecideExtension(ctx, next, c.From)
		},
	})
	if err != nil {
		return Extension{}, err
	}
	return next, nil
}

func (s *Service) transition(
	ctx context.Context,
	actor auth.Principal,
	id string,
	op workflow.Op,
	extra map[string]string,
	guard func(Visa) error,
	mutate func(*Visa, workflow.Change[Status]),
) (Visa, error) {
	cur, err := s.loadVisa(ctx, id)
	if err != nil {
		return Visa{}, err
	}
	next := cur
	_, err = s.visas.Execute(ctx, workflow.Request[Status]{
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
			if err := s.repo.UpdateVisa(ctx, next, c.From); err != nil {
				return err
			}
			next.Version++
			return nil
		},
	})
	if err != nil {
		return Visa{}, err
	}
	return next, nil
}

func (s *Service) loadVisa(ctx context.Context, id string) (Visa, error) {
	v, err := s.repo.GetVisa(ctx, id)
	if err != nil {
		return Visa{}, errs.Unavailable(err)
	}
	return v, nil
}

func (s *Service) loadExtension(ctx context.Context, id string) (Extension, error) {
	e, err := s.repo.GetExtension(ctx, id)
	if err != nil {
		return Extension{}, errs.Unavailable(err)
	}
	return e, nil
}
