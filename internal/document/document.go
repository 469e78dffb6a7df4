// Package document implements the cooperation document (MOU) lifecycle.
package document

import (
	"context"
	"time"

	"kampus.org/internal/gate"
	"kampus.org/internal/workflow"
)

// Kind identifies documents in events and errors.
const Kind workflow.Kind = "document"

// Status is the lifecycle state of a document.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusSubmitted Status = "SUBMITTED"
	StatusReviewing Status = "REVIEWING"
	StatusApproved  Status = "APPROVED"
	StatusSigned    Status = "SIGNED"
	StatusActive    Status = "ACTIVE"
	StatusExpired   Status = "EXPIRED"
)

// Action codes.
const (
	ActionCreate   = "document.create"
	ActionUpdate   = "document.update"
	ActionSubmit   = "document.submit"
	ActionReview   = "document.review"
	ActionApprove  = "document.approve"
	ActionReject   = "document.reject"
	ActionSign     = "document.sign"
	ActionActivate = "document.activate"
	ActionExpire   = "document.expire"
	ActionDelete   = "document.delete"
	ActionViewAll  = "document.view_all"
	ActionViewOwn  = "document.view_own"
)

// Operations.
const (
	OpUpdate   workflow.Op = "update"
	OpSubmit   workflow.Op = "submit"
	OpReview   workflow.Op = "review"
	OpApprove  workflow.Op = "approve"
	OpReject   workflow.Op = "reject"
	OpSign     workflow.Op = "sign"
	OpActivate workflow.Op = "activate"
	OpExpire   workflow.Op = "expire"
)

// Machine is the document transition table.
var Machine = workflow.NewMachine(Kind, StatusDraft, []Status{StatusExpired},
	workflow.Transition[Status]{Op: OpUpdate, Action: ActionUpdate, From: []Status{StatusDraft}, To: StatusDraft},
	workflow.Transition[Status]{Op: OpSubmit, Action: ActionSubmit, From: []Status{StatusDraft}, To: StatusSubmitted},
	workflow.Transition[Status]{Op: OpReview, Action: ActionReview, From: []Status{StatusSubmitted}, To: StatusReviewing},
	workflow.Transition[Status]{Op: OpApprove, Action: ActionApprove, From: []Status{StatusSubmitted, StatusReviewing}, To: StatusApproved},
	workflow.Transition[Status]{Op: OpReject, Action: ActionReject, From: []Status{StatusSubmitted, StatusReviewing}, To: StatusDraft},
	workflow.Transition[Status]{Op: OpSign, Action: ActionSign, From: []Status{StatusApproved}, To: StatusSigned},
	workflow.Transition[Status]{Op: OpActivate, Action: ActionActivate, From: []Status{StatusSigned}, To: StatusActive},
	workflow.Transition[Status]{Op: OpExpire, Action: ActionExpire, From: []Status{StatusActive}, To: StatusExpired},
)

// ViewPolicy scopes reads.
var ViewPolicy = gate.ViewPolicy{All: ActionViewAll, Own: ActionViewOwn}

// Statuses lists every status in lifecycle order.
func Statuses() []Status {
	return []Status{StatusDraft, StatusSubmitted, StatusReviewing, StatusApproved, StatusSigned, StatusActive, StatusExpired}
}

// Document is a cooperation agreement with a partner organisation.
type Document struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Partner      string     `json:"partner"`
	Body         string     `json:"body,omitempty"`
	Status       Status     `json:"status"`
	StartsAt     *time.Time `json:"starts_at,omitempty"`
	EndsAt       *time.Time `json:"ends_at,omitempty"`
	CreatedBy    string     `json:"created_by"`
	ApprovedBy   string     `json:"approved_by,omitempty"`
	ApprovedAt   *time.Time `json:"approved_at,omitempty"`
	SignedAt     *time.Time `json:"signed_at,omitempty"`
	RejectReason string     `json:"reject_reason,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	Version      int64      `json:"version"`
}

// Filter narrows List. Zero fields do not filter.
type Filter struct {
	OwnerID    string
	Status     Status
	EndsBefore time.Time
}

// Matches reports whether d passes the filter.
func (f Filter) Matches(d Document) bool {
	if f.OwnerID != "" && d.CreatedBy != f.OwnerID {
		return false
	}
	if f.Status != "" && d.Status != f.Status {
		return false
	}
	if !f.EndsBefore.IsZero() && (d.EndsAt == nil || !d.EndsAt.Before(f.EndsBefore)) {
		return false
	}
	return true
}

// Repository persists documents. UpdateDocument is conditioned on the stored
// row still being in from at d.Version and stores d with the version bumped
// by one. DeleteDocument is conditioned on the status only. Both return
// errs.ErrStale when the condition no longer holds.
type Repository interface {
	CreateDocument(ctx context.Context, d Document) error
	GetDocument(ctx context.Context, id string) (Document, error)
	ListDocuments(ctx context.Context, f Filter) ([]Document, error)
	UpdateDocument(ctx context.Context, d Document, from Status) error
	DeleteDocument(ctx context.Context, id string, from Status) error
}
