// Package sweeper runs the scheduled visa reminder and expiry passes. Jobs go
// through the regular services with a system principal, so every gate and
// transition rule applies to them as it does to people.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"kampus.org/internal/auth"
	"kampus.org/internal/document"
	"kampus.org/internal/errs"
	"kampus.org/internal/obs"
	"kampus.org/internal/visa"
)

// SystemID is the principal id recorded on sweeper transitions.
const SystemID = "system:sweeper"

// Job names, also used as metric labels.
const (
	JobVisaReminders  = "visa_reminders"
	JobVisaExpiry     = "visa_expiry"
	JobDocumentExpiry = "document_expiry"
)

// Visas is the part of the visa service the sweeper drives.
type Visas interface {
	List(ctx context.Context, actor auth.Principal, f visa.Filter) ([]visa.Visa, error)
	Remind(ctx context.Context, actor auth.Principal, id string) (visa.Visa, error)
	Expire(ctx context.Context, actor auth.Principal, id string) (visa.Visa, error)
}

// Documents is the part of the document service the sweeper drives.
type Documents interface {
	List(ctx context.Context, actor auth.Principal, f document.Filter) ([]document.Document, error)
	Expire(ctx context.Context, actor auth.Principal, id string) (document.Document, error)
}

// Config holds the schedules and the system action set.
type Config struct {
	ReminderSpec   string
	ExpirySpec     string
	ReminderWindow time.Duration
	Actions        []string
}

// Result counts what one job pass did.
type Result struct {
	Done    int
	Skipped int
	Failed  int
}

// Sweeper owns the jobs and, once started, the cron scheduler.
type Sweeper struct {
	visas     Visas
	documents Documents
	cfg       Config
	system    auth.Principal
	now       func() time.Time
	log       *logrus.Entry
}

// New returns a Sweeper. clock may be nil.
func New(visas Visas, documents Documents, cfg Config, clock func() time.Time) *Sweeper {
	if clock == nil {
		clock = time.Now
	}
	return &Sweeper{
		visas:     visas,
		documents: documents,
		cfg:       cfg,
		system:    auth.NewPrincipal(SystemID, cfg.Actions...),
		now:       clock,
		log:       obs.Logger().WithField("component", "sweeper"),
	}
}

// RemindVisas sends the expiry reminder for every active visa that expires
// within the window and has not been reminded yet.
func (s *Sweeper) RemindVisas(ctx context.Context) (Result, error) {
	now := s.now().UTC()
	notSent := false
	due, err := s.visas.List(ctx, s.system, visa.Filter{
		Status:        visa.StatusActive,
		ExpiresBefore: now.Add(s.cfg.ReminderWindow),
		ReminderSent:  &notSent,
	})
	if err != nil {
		return Result{}, err
	}
	var res Result
	for _, v := range due {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if v.ExpiresAt.Before(now) {
			res.Skipped++
			continue
		}
		_, err := s.visas.Remind(ctx, s.system, v.ID)
		s.record(JobVisaReminders, v.ID, err, &res)
	}
	return res, nil
}

// ExpireVisas expires every active visa whose expiry date has passed.
func (s *Sweeper) ExpireVisas(ctx context.Context) (Result, error) {
	due, err := s.visas.List(ctx, s.system, visa.Filter{
		Status:        visa.StatusActive,
		ExpiresBefore: s.now().UTC(),
	})
	if err != nil {
		return Result{}, err
	}
	var res Result
	for _, v := range due {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		_, err := s.visas.Expire(ctx, s.system, v.ID)
		s.record(JobVisaExpiry, v.ID, err, &res)
	}
	return res, nil
}

// ExpireDocuments expires every active document whose end date has passed.
func (s *Sweeper) ExpireDocuments(ctx context.Context) (Result, error) {
	due, err := s.documents.List(ctx, s.system, document.Filter{
		Status:     document.StatusActive,
		EndsBefore: s.now().UTC(),
	})
	if err != nil {
		return Result{}, err
	}
	var res Result
	for _, d := range due {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		_, err := s.documents.Expire(ctx, s.system, d.ID)
		s.record(JobDocumentExpiry, d.ID, err, &res)
	}
	return res, nil
}

// record classifies one item outcome. An entity another actor moved first is
// skipped, not failed.
func (s *Sweeper) record(job, id string, err error, res *Result) {
	switch {
	case err == nil:
		res.Done++
		obs.ObserveSweep(job, "done")
	case errors.Is(err, errs.ErrInvalidTransition), errors.Is(err, errs.ErrConflict), errors.Is(err, errs.ErrNotFound):
		res.Skipped++
		obs.ObserveSweep(job, "skipped")
		s.log.WithFields(logrus.Fields{"job": job, "id": id}).WithError(err).Debug("sweep item skipped")
	default:
		res.Failed++
		obs.ObserveSweep(job, "failed")
		s.log.WithFields(logrus.Fields{"job": job, "id": id}).WithError(err).Warn("sweep item failed")
	}
}

// RunOnce runs every job one time and joins their errors.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	var all []error
	for _, job := range s.jobs() {
		if err := s.run(ctx, job.name, job.fn); err != nil {
			all = append(all, err)
		}
	}
	return errors.Join(all...)
}

type job struct {
	name string
	spec string
	fn   func(context.Context) (Result, error)
}

func (s *Sweeper) jobs() []job {
	return []job{
		{JobVisaReminders, s.cfg.ReminderSpec, s.RemindVisas},
		{JobVisaExpiry, s.cfg.ExpirySpec, s.ExpireVisas},
		{JobDocumentExpiry, s.cfg.ExpirySpec, s.ExpireDocuments},
	}
}

func (s *Sweeper) run(ctx context.Context, name string, fn func(context.Context) (Result, error)) error {
	start := time.Now()
	res, err := fn(ctx)
	entry := s.log.WithFields(logrus.Fields{
		"job":         name,
		"done":        res.Done,
		"skipped":     res.Skipped,
		"failed":      res.Failed,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	if err != nil {
		entry.WithError(err).Error("sweep failed")
		return fmt.Errorf("%s: %w", name, err)
	}
	entry.Info("sweep complete")
	return nil
}

// Run schedules the jobs and blocks until ctx is done, then waits for
// running jobs to finish.
func (s *Sweeper) Run(ctx context.Context) error {
	c := cron.New(cron.WithLocation(time.UTC))
	for _, j := range s.jobs() {
		if _, err := c.AddFunc(j.spec, func() { _ = s.run(ctx, j.name, j.fn) }); err != nil {
			return fmt.Errorf("schedule %s: %w", j.name, err)
		}
	}
	c.Start()
	s.log.WithFields(logrus.Fields{
		"reminder_schedule": s.cfg.ReminderSpec,
		"expiry_schedule":   s.cfg.ExpirySpec,
	}).Info("sweeper started")

	<-ctx.Done()
	<-c.Stop().Done()
	s.log.Info("sweeper stopped")
	return nil
}
