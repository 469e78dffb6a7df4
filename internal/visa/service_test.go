package visa

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
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

func (e *events) byKind(kind workflow.Kind) []workflow.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []workflow.Event
	for _, evt := range e.got {
		if evt.Kind == kind {
			out = append(out, evt)
		}
	}
	return out
}

// countingRepo counts committed approvals, i.e. visa expiry writes.
type countingRepo struct {
	*InMemory
	approvals atomic.Int32
}

func (c *countingRepo) DecideExtension(ctx context.Context, e Extension, from ExtensionStatus) error {
	err := c.InMemory.DecideExtension(ctx, e, from)
	if err == nil && e.Status == ExtensionApproved {
		c.approvals.Add(1)
	}
	return err
}

var (
	fixedNow   = time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	currentExp = time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)
	officer    = auth.NewPrincipal("officer", ActionCreate, ActionExtend, ActionRemind, ActionExpire,
		ActionCancel, ActionApprove, ActionReject, ActionViewAll)
)

func newFixture(t *testing.T) (*Service, *InMemory, *events) {
	t.Helper()
	repo := NewInMemory()
	ev := &events{}
	return NewService(repo, ev, func() time.Time { return fixedNow }), repo, ev
}

func mustCreate(t *testing.T, svc *Service, number string) Visa {
	t.Helper()
	v, err := svc.Create(context.Background(), officer, Input{
		Number: number, HolderName: "A. Student", IssuedAt: fixedNow.AddDate(-1, 0, 0), ExpiresAt: currentExp,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return v
}

func TestDuplicateNumberConflicts(t *testing.T) {
	svc, _, _ := newFixture(t)
	mustCreate(t, svc, "kz-100")
	_, err := svc.Create(context.Background(), officer, Input{Number: "KZ-100", HolderName: "B", ExpiresAt: currentExp})
	if !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestExtensionRequestRules(t *testing.T) {
	svc, _, _ := newFixture(t)
	ctx := context.Background()
	v := mustCreate(t, svc, "V1")

	if _, err := svc.RequestExtension(ctx, officer, v.ID, ExtensionInput{ExpiresAt: currentExp}); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("expected validation error for same date, got %v", err)
	}
	ext, err := svc.RequestExtension(ctx, officer, v.ID, ExtensionInput{ExpiresAt: currentExp.AddDate(0, 6, 0), Reason: "thesis"})
	if err != nil || ext.Status != ExtensionPending {
		t.Fatalf("RequestExtension: %+v %v", ext, err)
	}
	_, err = svc.RequestExtension(ctx, officer, v.ID, ExtensionInput{ExpiresAt: currentExp.AddDate(1, 0, 0)})
	if !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("expected conflict for second pending extension, got %v", err)
	}
	if _, err := svc.RequestExtension(ctx, auth.NewPrincipal("u1"), v.ID, ExtensionInput{ExpiresAt: currentExp.AddDate(1, 0, 0)}); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestConcurrentApproveSucceedsOnce(t *testing.T) {
	mem := NewInMemory()
	repo := &countingRepo{InMemory: mem}
	ev := &events{}
	svc := NewService(repo, ev, func() time.Time { return fixedNow })
	ctx := context.Background()

	v := mustCreate(t, svc, "V2")
	want := currentExp.AddDate(0, 3, 0)
	ext, err := svc.RequestExtension(ctx, officer, v.ID, ExtensionInput{ExpiresAt: want})
	if err != nil {
		t.Fatalf("RequestExtension: %v", err)
	}

	const workers = 2
	var (
		wg      sync.WaitGroup
		ok      atomic.Int32
		invalid atomic.Int32
		start   = make(chan struct{})
	)
	approver := auth.NewPrincipal("head", ActionApprove)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			got, err := svc.ApproveExtension(ctx, approver, ext.ID)
			switch {
			case err == nil && got.Status == ExtensionApproved:
				ok.Add(1)
			case errors.Is(err, errs.ErrInvalidTransition):
				invalid.Add(1)
			default:
				t.Errorf("unexpected result %+v %v", got, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if ok.Load() != 1 || invalid.Load() != workers-1 {
		t.Fatalf("expected one success, got ok=%d invalid=%d", ok.Load(), invalid.Load())
	}
	if repo.approvals.Load() != 1 {
		t.Fatalf("expected one expiry write, got %d", repo.approvals.Load())
	}
	got, _ := mem.GetVisa(ctx, v.ID)
	if !got.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %s, got %s", want, got.ExpiresAt)
	}
	if n := len(ev.byKind(ExtensionKind)); n != 1 {
		t.Fatalf("expected one extension event, got %d", n)
	}
}

func TestApprovalResetsReminder(t *testing.T) {
	svc, repo, _ := newFixture(t)
	ctx := context.Background()
	v := mustCreate(t, svc, "V3")

	if _, err := svc.Remind(ctx, officer, v.ID); err != nil {
		t.Fatalf("Remind: %v", err)
	}
	if _, err := svc.Remind(ctx, officer, v.ID); !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("expected conflict on second reminder, got %v", err)
	}
	ext, err := svc.RequestExtension(ctx, officer, v.ID, ExtensionInput{ExpiresAt: currentExp.AddDate(0, 1, 0)})
	if err != nil {
		t.Fatalf("RequestExtension: %v", err)
	}
	if _, err := svc.ApproveExtension(ctx, officer, ext.ID); err != nil {
		t.Fatalf("ApproveExtension: %v", err)
	}
	got, _ := repo.GetVisa(ctx, v.ID)
	if got.ReminderSent {
		t.Fatal("approval must clear the reminder flag")
	}
}

func TestApprovalRevalidatesParent(t *testing.T) {
	svc, repo, _ := newFixture(t)
	ctx := context.Background()
	v := mustCreate(t, svc, "V4")
	ext, err := svc.RequestExtension(ctx, officer, v.ID, ExtensionInput{ExpiresAt: currentExp.AddDate(0, 2, 0)})
	if err != nil {
		t.Fatalf("RequestExtension: %v", err)
	}
	if _, err := svc.Cancel(ctx, officer, v.ID, "left the programme"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if _, err := svc.ApproveExtension(ctx, officer, ext.ID); !errors.Is(err, errs.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition for cancelled visa, got %v", err)
	}
	got, _ := repo.GetExtension(ctx, ext.ID)
	if got.Status != ExtensionPending {
		t.Fatalf("extension must stay pending, got %s", got.Status)
	}
	if _, err := svc.RejectExtension(ctx, officer, ext.ID, "visa cancelled"); err != nil {
		t.Fatalf("RejectExtension: %v", err)
	}
}

func TestApprovalAtomicUnderFailure(t *testing.T) {
	svc, repo, ev := newFixture(t)
	ctx := context.Background()
	v := mustCreate(t, svc, "V5")
	want := currentExp.AddDate(0, 4, 0)
	ext, err := svc.RequestExtension(ctx, officer, v.ID, ExtensionInput{ExpiresAt: want})
	if err != nil {
		t.Fatalf("RequestExtension: %v", err)
	}

	repo.failVisaWrite = errors.New("connection reset by peer")
	_, err = svc.ApproveExtension(ctx, officer, ext.ID)
	if !errs.Retryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
	gotExt, _ := repo.GetExtension(ctx, ext.ID)
	gotVisa, _ := repo.GetVisa(ctx, v.ID)
	if gotExt.Status != ExtensionPending || !gotVisa.ExpiresAt.Equal(currentExp) {
		t.Fatalf("partial write observed: ext=%s expiry=%s", gotExt.Status, gotVisa.ExpiresAt)
	}
	if n := len(ev.byKind(ExtensionKind)); n != 0 {
		t.Fatalf("failed approval must not publish, got %d", n)
	}

	repo.failVisaWrite = nil
	if _, err := svc.ApproveExtension(ctx, officer, ext.ID); err != nil {
		t.Fatalf("retry: %v", err)
	}
	gotVisa, _ = repo.GetVisa(ctx, v.ID)
	if !gotVisa.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %s after retry, got %s", want, gotVisa.ExpiresAt)
	}
}

func TestVisaPairsOutsideTableAreInvalid(t *testing.T) {
	ctx := context.Background()
	later := ExtensionInput{ExpiresAt: currentExp.AddDate(1, 0, 0)}
	ops := map[workflow.Op]func(*Service, string) error{
		OpExtend: func(s *Service, id string) error { _, err := s.RequestExtension(ctx, officer, id, later); return err },
		OpRemind: func(s *Service, id string) error { _, err := s.Remind(ctx, officer, id); return err },
		OpExpire: func(s *Service, id string) error { _, err := s.Expire(ctx, officer, id); return err },
		OpCancel: func(s *Service, id string) error { _, err := s.Cancel(ctx, officer, id, ""); return err },
	}
	if len(ops) != len(Machine.Ops()) {
		t.Fatalf("test covers %d ops, machine has %d", len(ops), len(Machine.Ops()))
	}
	for _, status := range Statuses() {
		for op, call := range ops {
			svc, repo, _ := newFixture(t)
			_ = repo.CreateVisa(ctx, Visa{ID: "v1", Number: "N", Status: status, ExpiresAt: currentExp, CreatedBy: "officer"})
			tr, _ := Machine.Lookup(op)
			err := call(svc, "v1")
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

func TestExtensionPairsOutsideTableAreInvalid(t *testing.T) {
	ctx := context.Background()
	for _, status := range ExtensionStatuses() {
		for _, op := range ExtensionMachine.Ops() {
			svc, repo, _ := newFixture(t)
			_ = repo.CreateVisa(ctx, Visa{ID: "v1", Number: "N", Status: StatusActive, ExpiresAt: currentExp, CreatedBy: "officer"})
			repo.extensions["e1"] = Extension{ID: "e1", VisaID: "v1", Status: status, RequestedExpiresAt: currentExp.AddDate(0, 1, 0)}

			var err error
			if op == OpApprove {
				_, err = svc.ApproveExtension(ctx, officer, "e1")
			} else {
				_, err = svc.RejectExtension(ctx, officer, "e1", "")
			}
			tr, _ := ExtensionMachine.Lookup(op)
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

func TestExtensionScopeFollowsVisa(t *testing.T) {
	svc, _, _ := newFixture(t)
	ctx := context.Background()
	v := mustCreate(t, svc, "V6")
	ext, err := svc.RequestExtension(ctx, officer, v.ID, ExtensionInput{ExpiresAt: currentExp.AddDate(0, 1, 0)})
	if err != nil {
		t.Fatalf("RequestExtension: %v", err)
	}
	stranger := auth.NewPrincipal("u2", ActionViewOwn)
	if _, err := svc.GetExtension(ctx, stranger, ext.ID); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	list, err := svc.ListExtensions(ctx, auth.NewPrincipal("officer", ActionViewOwn), v.ID)
	if err != nil || len(list) != 1 {
		t.Fatalf("owner list: %+v %v", list, err)
	}
}

// interleavedRepo runs between once, right after the next visa load.
type interleavedRepo struct {
	*InMemory
	between func()
}

func (r *interleavedRepo) GetVisa(ctx context.Context, id string) (Visa, error) {
	v, err := r.InMemory.GetVisa(ctx, id)
	if hook := r.between; hook != nil {
		r.between = nil
		hook()
	}
	return v, err
}

func newInterleavedFixture(t *testing.T) (*Service, *interleavedRepo, *events) {
	t.Helper()
	repo := &interleavedRepo{InMemory: NewInMemory()}
	ev := &events{}
	return NewService(repo, ev, func() time.Time { return fixedNow }), repo, ev
}

func remindEvents(ev *events) int {
	n := 0
	for _, evt := range ev.byKind(Kind) {
		if evt.Op == OpRemind {
			n++
		}
	}
	return n
}

func TestOverlappingRemindersSendOnce(t *testing.T) {
	svc, repo, ev := newInterleavedFixture(t)
	ctx := context.Background()
	v := mustCreate(t, svc, "V10")

	var innerErr error
	repo.between = func() { _, innerErr = svc.Remind(ctx, officer, v.ID) }
	_, outerErr := svc.Remind(ctx, officer, v.ID)

	if innerErr != nil {
		t.Fatalf("first reminder: %v", innerErr)
	}
	if !errors.Is(outerErr, errs.ErrInvalidTransition) {
		t.Fatalf("expected the overlapping reminder to lose, got %v", outerErr)
	}
	if n := remindEvents(ev); n != 1 {
		t.Fatalf("expected one remind event, got %d", n)
	}
}

func TestReminderLosesToApproval(t *testing.T) {
	svc, repo, ev := newInterleavedFixture(t)
	ctx := context.Background()
	v := mustCreate(t, svc, "V11")
	want := currentExp.AddDate(0, 6, 0)
	ext, err := svc.RequestExtension(ctx, officer, v.ID, ExtensionInput{ExpiresAt: want})
	if err != nil {
		t.Fatalf("RequestExtension: %v", err)
	}

	var approveErr error
	repo.between = func() { _, approveErr = svc.ApproveExtension(ctx, officer, ext.ID) }
	_, remindErr := svc.Remind(ctx, officer, v.ID)

	if approveErr != nil {
		t.Fatalf("ApproveExtension: %v", approveErr)
	}
	if !errors.Is(remindErr, errs.ErrInvalidTransition) {
		t.Fatalf("expected the stale reminder to lose, got %v", remindErr)
	}
	got, _ := repo.InMemory.GetVisa(ctx, v.ID)
	if got.ReminderSent || !got.ExpiresAt.Equal(want) {
		t.Fatalf("approval reset was overwritten: %+v", got)
	}
	if remindEvents(ev) != 0 {
		t.Fatal("a lost reminder must not publish")
	}

	// The new expiry can still be reminded about.
	if _, err := svc.Remind(ctx, officer, v.ID); err != nil {
		t.Fatalf("Remind after approval: %v", err)
	}
}
