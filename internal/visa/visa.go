// Package visa tracks visas of foreign staff and students and the
// extension requests raised against them.
package visa

import (
	"context"
	"time"

	"kampus.org/internal/errs"
	"kampus.org/internal/gate"
	"kampus.org/internal/workflow"
)

const (
	Kind          workflow.Kind = "visa"
	ExtensionKind workflow.Kind = "visa_extension"
)

// Status is the lifecycle state of a visa.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusExpired   Status = "EXPIRED"
	StatusCancelled Status = "CANCELLED"
)

// ExtensionStatus is the lifecycle state of an extension request.
type ExtensionStatus string

const (
	ExtensionPending  ExtensionStatus = "PENDING"
	ExtensionApproved ExtensionStatus = "APPROVED"
	ExtensionRejected ExtensionStatus = "REJECTED"
)

// Action codes.
const (
	ActionCreate  = "visa.create"
	ActionExtend  = "visa.extend"
	ActionRemind  = "visa.remind"
	ActionExpire  = "visa.expire"
	ActionCancel  = "visa.cancel"
	ActionApprove = "visa.approve"
	ActionReject  = "visa.reject"
	ActionViewAll = "visa.view_all"
	ActionViewOwn = "visa.view_own"
)

// Operations.
const (
	OpExtend  workflow.Op = "extend"
	OpRemind  workflow.Op = "remind"
	OpExpire  workflow.Op = "expire"
	OpCancel  workflow.Op = "cancel"
	OpApprove workflow.Op = "approve"
	OpReject  workflow.Op = "reject"
)

// Machine is the visa transition table. extend and remind keep the visa
// ACTIVE; extend opens an extension request.
var Machine = workflow.NewMachine(Kind, StatusActive, []Status{StatusExpired, StatusCancelled},
	workflow.Transition[Status]{Op: OpExtend, Action: ActionExtend, From: []Status{StatusActive}, To: StatusActive},
	workflow.Transition[Status]{Op: OpRemind, Action: ActionRemind, From: []Status{StatusActive}, To: StatusActive},
	workflow.Transition[Status]{Op: OpExpire, Action: ActionExpire, From: []Status{StatusActive}, To: StatusExpired},
	workflow.Transition[Status]{Op: OpCancel, Action: ActionCancel, From: []Status{StatusActive}, To: StatusCancelled},
)

// ExtensionMachine is the extension request transition table.
var ExtensionMachine = workflow.NewMachine(ExtensionKind, ExtensionPending, []ExtensionStatus{ExtensionApproved, ExtensionRejected},
	workflow.Transition[ExtensionStatus]{Op: OpApprove, Action: ActionApprove, From: []ExtensionStatus{ExtensionPending}, To: ExtensionApproved},
	workflow.Transition[ExtensionStatus]{Op: OpReject, Action: ActionReject, From: []ExtensionStatus{ExtensionPending}, To: ExtensionRejected},
)

// ViewPolicy scopes reads of visas and, through their parent, extensions.
var ViewPolicy = gate.ViewPolicy{All: ActionViewAll, Own: ActionViewOwn}

// Statuses lists every visa status.
func Statuses() []Status {
	return []Status{StatusActive, StatusExpired, StatusCancelled}
}

// ExtensionStatuses lists every extension status.
func ExtensionStatuses() []ExtensionStatus {
	return []ExtensionStatus{ExtensionPending, ExtensionApproved, ExtensionRejected}
}

// Visa is an entry permit held by a foreign staff member or student.
type Visa struct {
	ID           string    `json:"id"`
	Number       string    `json:"number"`
	HolderName   string    `json:"holder_name"`
	Country      string    `json:"country,omitempty"`
	Status       Status    `json:"status"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	ReminderSent bool      `json:"reminder_sent"`
	CancelReason string    `json:"cancel_reason,omitempty"`
	CreatedBy    string    `json:"created_by"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Version      int64     `json:"version"`
}

// Extension asks to move a visa's expiry to RequestedExpiresAt.
type Extension struct {
	ID                 string          `json:"id"`
	VisaID             string          `json:"visa_id"`
	RequestedExpiresAt time.Time       `json:"requested_expires_at"`
	Reason             string          `json:"reason,omitempty"`
	Status             ExtensionStatus `json:"status"`
	RequestedBy        string          `json:"requested_by"`
	DecidedBy          string          `json:"decided_by,omitempty"`
	DecidedAt          *time.Time      `json:"decided_at,omitempty"`
	RejectReason       string          `json:"reject_reason,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// Filter narrows ListVisas. Zero fields do not filter.
type Filter struct {
	OwnerID       string
	Status        Status
	ExpiresBefore time.Time
	ReminderSent  *bool
}

// Matches reports whether v passes the filter.
func (f Filter) Matches(v Visa) bool {
	if f.OwnerID != "" && v.CreatedBy != f.OwnerID {
		return false
	}
	if f.Status != "" && v.Status != f.Status {
		return false
	}
	if !f.ExpiresBefore.IsZero() && !v.ExpiresAt.Before(f.ExpiresBefore) {
		return false
	}
	if f.ReminderSent != nil && v.ReminderSent != *f.ReminderSent {
		return false
	}
	return true
}

// ExtensionFilter narrows ListExtensions.
type ExtensionFilter struct {
	VisaID string
	Status ExtensionStatus
}

// Matches reports whether e passes the filter.
func (f ExtensionFilter) Matches(e Extension) bool {
	if f.VisaID != "" && e.VisaID != f.VisaID {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	return true
}

// Repository persists visas and their extensions.
//
// UpdateVisa writes the status, reminder flag, cancel reason and update time;
// the expiry only moves through an approved extension. UpdateVisa is
// conditioned on the stored row still being in from at v.Version and bumps
// the version; DecideExtension is conditioned on the extension status. Both
// return errs.ErrStale otherwise. OpenExtension fails with
// errs.ErrStale when the visa left visaFrom and with errs.ErrConflict when
// another extension of the visa is PENDING. DecideExtension with an APPROVED
// extension must, in the same transaction, run CheckApproval against the
// current visa row and move its expiry while clearing ReminderSent and
// bumping the visa version.
type Repository interface {
	CreateVisa(ctx context.Context, v Visa) error
	GetVisa(ctx context.Context, id string) (Visa, error)
	ListVisas(ctx context.Context, f Filter) ([]Visa, error)
	UpdateVisa(ctx context.Context, v Visa, from Status) error

	OpenExtension(ctx context.Context, e Extension, visaFrom Status) error
	GetExtension(ctx context.Context, id string) (Extension, error)
	ListExtensions(ctx context.Context, f ExtensionFilter) ([]Extension, error)
	DecideExtension(ctx context.Context, e Extension, from ExtensionStatus) error
}

// CheckApproval reports whether v can still take the requested expiry.
func CheckApproval(v Visa, requested time.Time) error {
	if v.Status != StatusActive {
		return &errs.TransitionError{Kind: string(Kind), Op: string(OpExtend), From: string(v.Status)}
	}
	if !requested.After(v.ExpiresAt) {
		return errs.Validation("requested expiry %s must be after current expiry %s",
			requested.UTC().Format(time.DateOnly), v.ExpiresAt.UTC().Format(time.DateOnly))
	}
	return nil
}
