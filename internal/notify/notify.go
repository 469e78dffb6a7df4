// Package notify turns committed workflow transitions into notifications.
package notify

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"kampus.org/internal/audit"
	"kampus.org/internal/obs"
	"kampus.org/internal/workflow"
)

// Notification is a rendered message about one transition.
type Notification struct {
	Subject string
	Body    string
	Event   workflow.Event
}

// Sender delivers notifications. Implementations must be safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// LogSender writes notifications to the structured log instead of delivering them.
type LogSender struct {
	Logger *logrus.Logger
}

func (s LogSender) Send(_ context.Context, n Notification) error {
	logger := s.Logger
	if logger == nil {
		logger = obs.Logger()
	}
	logger.WithFields(logrus.Fields{
		"subject":     n.Subject,
		"entity_kind": n.Event.Kind,
		"entity_id":   n.Event.EntityID,
		"to_status":   n.Event.To,
	}).Info("notification")
	return nil
}

// Source is the subscription side of the event bus.
type Source interface {
	Subscribe(ctx context.Context) <-chan workflow.Event
}

// Notifier consumes transition events from a Source.
type Notifier struct {
	source Source
	sender Sender
}

// New returns a notifier; a nil sender logs.
func New(source Source, sender Sender) *Notifier {
	if sender == nil {
		sender = LogSender{}
	}
	return &Notifier{source: source, sender: sender}
}

// Run handles events until ctx ends.
func (n *Notifier) Run(ctx context.Context) error {
	events := n.source.Subscribe(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			n.Handle(ctx, evt)
		}
	}
}

// Handle audits and dispatches one event. Sender failures are logged; the
// transition they describe has already been committed.
func (n *Notifier) Handle(ctx context.Context, evt workflow.Event) {
	_ = audit.LogEvent(ctx, "workflow.transition", map[string]any{
		"entity_kind": string(evt.Kind),
		"entity_id":   evt.EntityID,
		"op":          string(evt.Op),
		"from_status": evt.From,
		"to_status":   evt.To,
		"actor_id":    evt.ActorID,
	})
	msg := Render(evt)
	if err := n.sender.Send(ctx, msg); err != nil {
		obs.Logger().WithError(err).WithField("entity_id", evt.EntityID).Warn("notification_failed")
		return
	}
	obs.ObserveNotification(string(evt.Kind), evt.To)
}

// Render builds the notification text for evt.
func Render(evt workflow.Event) Notification {
	subject := fmt.Sprintf("%s %s: %s", evt.Kind, evt.EntityID, evt.To)
	body := fmt.Sprintf("%s %s moved from %s to %s by %s at %s.",
		evt.Kind, evt.EntityID, evt.From, evt.To, evt.ActorID, evt.OccurredAt.UTC().Format("2006-01-02 15:04 MST"))
	if reason := evt.Extra["reason"]; reason != "" {
		body += " Reason: " + reason
	}
	return Notification{Subject: subject, Body: body, Event: evt}
}
