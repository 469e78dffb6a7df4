package translation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"kampus.org/internal/auth"
	"kampus.org/internal/errs"
	"kampus.org/internal/workflow"
)

type events struct {
	mu  sync.Mutex
	got []workflow.Event
}

func (e *events) Publish(evt workflow.Event) {
	e.mu.Lock()
	e.got = append(e.got, evt)
	e.mu.Unlock()
}

func (e *events) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.got)
}

// knownFiles accepts only the listed references.
type knownFiles map[string]bool

func (k knownFiles) Verify(_ context.Context, ref string) error {
	if !k[ref] {
		return errs.Validation("file %q does not exist", ref)
	}
	return nil
}

var (
	fixedNow   = time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	translator = auth.NewPrincipal("tr", ActionCreate, ActionApprove, ActionComplete, ActionReject, ActionViewAll)
)

func newFixture(t *testing.T) (*Service, *InMemory, *events) {
	t.Helper()
	repo := NewInMemory()
	ev := &events{}
	verifier := knownFiles{"s3://kampus/out/diploma-en.pdf": true}
	return NewService(repo, verifier, ev, func() time.Time { return fixedNow }), repo, ev
}

func TestTranslationLifecycle(t *testing.T) {
	svc, _, ev := newFixture(t)
	ctx := context.Background()
	r, err := svc.Create(ctx, translator, Input{Title: "Diploma", SourceLanguage: "KK", TargetLanguage: "en"})
	if err != nil || r.Status != StatusPending || r.SourceLanguage != "kk" {
		t.Fatalf("Create: %+v %v", r, err)
	}
	if r, err = svc.Approve(ctx, translator, r.ID); err != nil || r.ApprovedBy != "tr" {
		t.Fatalf("Approve: %+v %v", r, err)
	}
	if _, err := svc.Complete(ctx, translator, r.ID, ""); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("expected validation error without file, got %v", err)
	}
	if _, err := svc.Complete(ctx, translator, r.ID, "s3://kampus/out/missing.pdf"); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("expected validation error for missing file, got %v", err)
	}
	r, err = svc.Complete(ctx, translator, r.ID, "s3://kampus/out/diploma-en.pdf")
	if err != nil || r.Status != StatusCompleted || r.CompletedAt == nil {
		t.Fatalf("Complete: %+v %v", r, err)
	}
	if ev.count() != 2 {
		t.Fatalf("expected two events, got %d", ev.count())
	}
}

func TestRejectRequiresReason(t *testing.T) {
	svc, repo, ev := newFixture(t)
	ctx := context.Background()
	_ = repo.CreateRequest(ctx, Request{ID: "r1", Status: StatusApproved, RequestedBy: "u1"})

	if _, err := svc.Reject(ctx, translator, "r1", " "); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	r, err := svc.Reject(ctx, translator, "r1", "illegible scan")
	if err != nil || r.Status != StatusRejected || r.RejectReason != "illegible scan" {
		t.Fatalf("Reject: %+v %v", r, err)
	}
	if ev.count() != 1 || ev.got[0].Extra["reason"] != "illegible scan" {
		t.Fatalf("unexpected events %+v", ev.got)
	}
}

func TestPairsOutsideTableAreInvalid(t *testing.T) {
	ctx := context.Background()
	ops := map[workflow.Op]func(*Service, string) error{
		OpApprove: func(s *Service, id string) error { _, err := s.Approve(ctx, translator, id); return err },
		OpComplete: func(s *Service, id string) error {
			_, err := s.Complete(ctx, translator, id, "s3://kampus/out/diploma-en.pdf")
			return err
		},
		OpReject: func(s *Service, id string) error { _, err := s.Reject(ctx, translator, id, "no"); return err },
	}
	if len(ops) != len(Machine.Ops()) {
		t.Fatalf("test covers %d ops, machine has %d", len(ops), len(Machine.Ops()))
	}
	for _, status := range Statuses() {
		for op, call := range ops {
			svc, repo, _ := newFixture(t)
			_ = repo.CreateRequest(ctx, Request{ID: "r1", Status: status, RequestedBy: "tr"})
			tr, _ := Machine.Lookup(op)
			err := call(svc, "r1")
			if tr.Allows(status) {
				if err != nil {
					t.Fatalf("%s from %s: %v", op, status, err)
				}
				continue
			}
			if !errors.Is(err, errs.ErrInvalidTransition) {
				t.Fatalf("%s from %s: expected invalid transition, got %v", op, status, err)
			}
		}
	}
}

func TestForbiddenBeforeStatus(t *testing.T) {
	svc, repo, _ := newFixture(t)
	ctx := context.Background()
	_ = repo.CreateRequest(ctx, Request{ID: "r1", Status: StatusCompleted, RequestedBy: "u1"})
	if _, err := svc.Approve(ctx, auth.NewPrincipal("u1", ActionCreate), "r1"); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := svc.Approve(ctx, translator, "missing"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := newFixture(t)
	_, err := svc.Create(context.Background(), translator, Input{Title: "x", SourceLanguage: "en", TargetLanguage: "EN"})
	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
