package translation

import (
	"context"
	"strings"
	"time"

	"kampus.org/internal/auth"
	"kampus.org/internal/errs"
	"kampus.org/internal/files"
	"kampus.org/internal/gate"
	"kampus.org/internal/ids"
	"kampus.org/internal/workflow"
)

// Input carries the fields of a new request.
type Input struct {
	Title          string `json:"title"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
	SourceFile     string `json:"source_file"`
	Notes          string `json:"notes"`
}

func (in Input) validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return errs.Validation("title is required")
	}
	src := strings.TrimSpace(in.SourceLanguage)
	dst := strings.TrimSpace(in.TargetLanguage)
	if src == "" || dst == "" {
		return errs.Validation("source_language and target_language are required")
	}
	if strings.EqualFold(src, dst) {
		return errs.Validation("source and target language must differ")
	}
	return nil
}

// Service runs translation operations through the transition table.
type Service struct {
	repo   Repository
	files  files.Verifier
	engine *workflow.Engine[Status]
}

// NewService wires a repository to the translation machine. A nil verifier
// accepts any non-empty file reference; events and clock may be nil.
func NewService(repo Repository, verifier files.Verifier, events workflow.Publisher, clock func() time.Time) *Service {
	if verifier == nil {
		verifier = files.Presence{}
	}
	return &Service{repo: repo, files: verifier, engine: workflow.NewEngine(Machine, events, clock)}
}

// Create stores a PENDING request owned by actor.
func (s *Service) Create(ctx context.Context, actor auth.Principal, in Input) (Request, error) {
	if err := gate.Require(actor, ActionCreate); err != nil {
		return Request{}, err
	}
	if err := in.validate(); err != nil {
		return Request{}, err
	}
	now := s.engine.Now()
	r := Request{
		ID:             ids.New(),
		Title:          strings.TrimSpace(in.Title),
		SourceLanguage: strings.ToLower(strings.TrimSpace(in.SourceLanguage)),
		TargetLanguage: strings.ToLower(strings.TrimSpace(in.TargetLanguage)),
		SourceFile:     strings.TrimSpace(in.SourceFile),
		Notes:          in.Notes,
		Status:         Machine.Initial(),
		RequestedBy:    actor.ID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.CreateRequest(ctx, r); err != nil {
		return Request{}, errs.Unavailable(err)
	}
	return r, nil
}

// Get returns a request inside the caller's view scope.
func (s *Service) Get(ctx context.Context, actor auth.Principal, id string) (Request, error) {
	scope, err := ViewPolicy.Resolve(actor)
	if err != nil {
		return Request{}, err
	}
	r, err := s.load(ctx, id)
	if err != nil {
		return Request{}, err
	}
	if !scope.Permits(r.RequestedBy) {
		return Request{}, errs.ErrNotFound
	}
	return r, nil
}

// List returns the requests inside the caller's view scope.
func (s *Service) List(ctx context.Context, actor auth.Principal, f Filter) ([]Request, error) {
	scope, err := ViewPolicy.Resolve(actor)
	if err != nil {
		return nil, err
	}
	if !scope.All {
		f.OwnerID = scope.OwnerID
	}
	out, err := s.repo.ListRequests(ctx, f)
	if err != nil {
		return nil, errs.Unavailable(err)
	}
	return out, nil
}

// Approve accepts a PENDING request.
func (s *Service) Approve(ctx context.Context, actor auth.Principal, id string) (Request, error) {
	return s.transition(ctx, actor, id, OpApprove, nil, nil, func(r *Request, c workflow.Change[Status]) {
		r.ApprovedBy = c.ActorID
	})
}

// Complete records the translated file, which must exist.
func (s *Service) Complete(ctx context.Context, actor auth.Principal, id, translatedFile string) (Request, error) {
	translatedFile = strings.TrimSpace(translatedFile)
	return s.transition(ctx, actor, id, OpComplete,
		map[string]string{"translated_file": translatedFile},
		func(Request) error {
			if translatedFile == "" {
				return errs.Validation("translated_file is required")
			}
			return s.files.Verify(ctx, translatedFile)
		},
		func(r *Request, c workflow.Change[Status]) {
			at := c.At
			r.TranslatedFile = translatedFile
			r.CompletedBy = c.ActorID
			r.CompletedAt = &at
		})
}

// Reject refuses a request. A reason is required.
func (s *Service) Reject(ctx context.Context, actor auth.Principal, id, reason string) (Request, error) {
	reason = strings.TrimSpace(reason)
	return s.transition(ctx, actor, id, OpReject,
		map[string]string{"reason": reason},
		func(Request) error {
			if reason == "" {
				return errs.Validation("reason is required")
			}
			return nil
		},
		func(r *Request, _ workflow.Change[Status]) { r.RejectReason = reason })
}

func (s *Service) load(ctx context.Context, id string) (Request, error) {
	r, err := s.repo.GetRequest(ctx, id)
	if err != nil {
		return Request{}, errs.Unavailable(err)
	}
	return r, nil
}

func (s *Service) transition(
	ctx context.Context,
	actor auth.Principal,
	id string,
	op workflow.Op,
	extra map[string]string,
	guard func(Request) error,
	mutate func(*Request, workflow.Change[Status]),
) (Request, error) {
	cur, err := s.load(ctx, id)
	if err != nil {
		return Request{}, err
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
			if err := s.repo.UpdateRequest(ctx, next, c.From); err != nil {
				return err
			}
			next.Version++
			return nil
		},
	})
	if err != nil {
		return Request{}, err
	}
	return next, nil
}
