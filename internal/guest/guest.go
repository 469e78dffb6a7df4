// Package guest handles registration of visiting delegations and their
// members from arrival to departure.
package guest

import (
	"context"
	"time"

	"kampus.org/internal/gate"
	"kampus.org/internal/workflow"
)

const Kind workflow.Kind = "guest"

// Status is the lifecycle state of a guest registration.
type Status string

const (
	StatusRegistered Status = "REGISTERED"
	StatusApproved   Status = "APPROVED"
	StatusArrived    Status = "ARRIVED"
	StatusDeparted   Status = "DEPARTED"
	StatusCancelled  Status = "CANCELLED"
)

// Action codes.
const (
	ActionCreate   = "guest.create"
	ActionUpdate   = "guest.update"
	ActionApprove  = "guest.approve"
	ActionCheckin  = "guest.checkin"
	ActionCheckout = "guest.checkout"
	ActionReject   = "guest.reject"
	ActionDelete   = "guest.delete"
	ActionViewAll  = "guest.view_all"
	ActionViewOwn  = "guest.view_own"
)

// Operations.
const (
	OpUpdate   workflow.Op = "update"
	OpApprove  workflow.Op = "approve"
	OpCheckin  workflow.Op = "checkin"
	OpCheckout workflow.Op = "checkout"
	OpReject   workflow.Op = "reject"
	OpCancel   workflow.Op = "cancel"
)

// Machine is the guest transition table. update keeps the current status.
var Machine = workflow.NewMachine(Kind, StatusRegistered, []Status{StatusDeparted, StatusCancelled},
	workflow.Transition[Status]{Op: OpUpdate, Action: ActionUpdate, From: []Status{StatusRegistered, StatusApproved}},
	workflow.Transition[Status]{Op: OpApprove, Action: ActionApprove, From: []Status{StatusRegistered}, To: StatusApproved},
	workflow.Transition[Status]{Op: OpCheckin, Action: ActionCheckin, From: []Status{StatusApproved}, To: StatusArrived},
	workflow.Transition[Status]{Op: OpCheckout, Action: ActionCheckout, From: []Status{StatusArrived}, To: StatusDeparted},
	workflow.Transition[Status]{Op: OpReject, Action: ActionReject, From: []Status{StatusRegistered, StatusApproved}, To: StatusCancelled},
	workflow.Transition[Status]{Op: OpCancel, Action: ActionDelete, From: []Status{StatusRegistered, StatusApproved}, To: StatusCancelled},
)

// ViewPolicy scopes reads.
var ViewPolicy = gate.ViewPolicy{All: ActionViewAll, Own: ActionViewOwn}

// Statuses lists every status.
func Statuses() []Status {
	return []Status{StatusRegistered, StatusApproved, StatusArrived, StatusDeparted, StatusCancelled}
}

// Member is one person of a visiting group.
type Member struct {
	ID          string `json:"id"`
	GuestID     string `json:"guest_id"`
	FullName    string `json:"full_name"`
	Position    string `json:"position,omitempty"`
	Nationality string `json:"nationality,omitempty"`
	PassportNo  string `json:"passport_no,omitempty"`
}

// Guest is a registered visit.
type Guest struct {
	ID           string     `json:"id"`
	Organization string     `json:"organization"`
	Purpose      string     `json:"purpose"`
	HostUnit     string     `json:"host_unit,omitempty"`
	ArrivalAt    time.Time  `json:"arrival_at"`
	DepartureAt  time.Time  `json:"departure_at"`
	Status       Status     `json:"status"`
	Members      []Member   `json:"members"`
	CreatedBy    string     `json:"created_by"`
	ApprovedBy   string     `json:"approved_by,omitempty"`
	ArrivedAt    *time.Time `json:"arrived_at,omitempty"`
	DepartedAt   *time.Time `json:"departed_at,omitempty"`
	CancelReason string     `json:"cancel_reason,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	Version      int64      `json:"version"`
}

// Filter narrows List. Zero fields do not filter.
type Filter struct {
	OwnerID string
	Status  Status
}

// Matches reports whether g passes the filter.
func (f Filter) Matches(g Guest) bool {
	if f.OwnerID != "" && g.CreatedBy != f.OwnerID {
		return false
	}
	if f.Status != "" && g.Status != f.Status {
		return false
	}
	return true
}

// Repository persists guests with their members. CreateGuest writes the guest
// and every member in one transaction. UpdateGuest rewrites the guest row and
// replaces its members in one transaction, conditioned on the stored row
// still being in from at g.Version, and bumps the version. It returns
// errs.ErrStale when the condition no longer holds.
type Repository interface {
	CreateGuest(ctx context.Context, g Guest) error
	GetGuest(ctx context.Context, id string) (Guest, error)
	ListGuests(ctx context.Context, f Filter) ([]Guest, error)
	UpdateGuest(ctx context.Context, g Guest, from Status) error
}
