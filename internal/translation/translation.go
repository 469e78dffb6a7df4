// Package translation handles requests to translate official documents.
package translation

import (
	"context"
	"time"

	"kampus.org/internal/gate"
	"kampus.org/internal/workflow"
)

const Kind workflow.Kind = "translation"

// Status is the lifecycle state of a translation request.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusCompleted Status = "COMPLETED"
	StatusRejected  Status = "REJECTED"
)

// Action codes.
const (
	ActionCreate   = "translation.create"
	ActionApprove  = "translation.approve"
	ActionComplete = "translation.complete"
	ActionReject   = "translation.reject"
	ActionViewAll  = "translation.view_all"
	ActionViewOwn  = "translation.view_own"
)

// Operations.
const (
	OpApprove  workflow.Op = "approve"
	OpComplete workflow.Op = "complete"
	OpReject   workflow.Op = "reject"
)

// Machine is the translation transition table.
var Machine = workflow.NewMachine(Kind, StatusPending, []Status{StatusCompleted, StatusRejected},
	workflow.Transition[Status]{Op: OpApprove, Action: ActionApprove, From: []Status{StatusPending}, To: StatusApproved},
	workflow.Transition[Status]{Op: OpComplete, Action: ActionComplete, From: []Status{StatusApproved}, To: StatusCompleted},
	workflow.Transition[Status]{Op: OpReject, Action: ActionReject, From: []Status{StatusPending, StatusApproved}, To: StatusRejected},
)

// ViewPolicy scopes reads.
var ViewPolicy = gate.ViewPolicy{All: ActionViewAll, Own: ActionViewOwn}

// Statuses lists every status.
func Statuses() []Status {
	return []Status{StatusPending, StatusApproved, StatusCompleted, StatusRejected}
}

// Request asks for a document to be translated.
type Request struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	SourceLanguage string     `json:"source_language"`
	TargetLanguage string     `json:"target_language"`
	SourceFile     string     `json:"source_file,omitempty"`
	TranslatedFile string     `json:"translated_file,omitempty"`
	Notes          string     `json:"notes,omitempty"`
	Status         Status     `json:"status"`
	RequestedBy    string     `json:"requested_by"`
	ApprovedBy     string     `json:"approved_by,omitempty"`
	CompletedBy    string     `json:"completed_by,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	RejectReason   string     `json:"reject_reason,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	Version        int64      `json:"version"`
}

// Filter narrows List. Zero fields do not filter.
type Filter struct {
	OwnerID string
	Status  Status
}

// Matches reports whether r passes the filter.
func (f Filter) Matches(r Request) bool {
	if f.OwnerID != "" && r.RequestedBy != f.OwnerID {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	return true
}

// Repository persists translation requests. UpdateRequest is conditioned on
// the stored row still being in from at r.Version, bumps the version and
// returns errs.ErrStale when the condition no longer holds.
type Repository interface {
	CreateRequest(ctx context.Context, r Request) error
	GetRequest(ctx context.Context, id string) (Request, error)
	ListRequests(ctx context.Context, f Filter) ([]Request, error)
	UpdateRequest(ctx context.Context, r Request, from Status) error
}
