package workflow

import (
	"fmt"
	"slices"
	"sort"

	"kampus.org/internal/auth"
	"kampus.org/internal/errs"
	"kampus.org/internal/gate"
)

// Kind names an entity kind, e.g. "document".
type Kind string

// Op names a transition operation, e.g. "approve".
type Op string

// Transition is one row of a transition table: operation Op requires Action
// and moves an entity from any status in From to To. A zero To keeps the
// current status, for edits that are only legal in some statuses.
type Transition[S ~string] struct {
	Op     Op
	Action string
	From   []S
	To     S
}

// Allows reports whether s is a legal source status.
func (t Transition[S]) Allows(s S) bool {
	return slices.Contains(t.From, s)
}

// Target returns the status an entity in from ends up in.
func (t Transition[S]) Target(from S) S {
	if t.To == "" {
		return from
	}
	return t.To
}

// Machine is an immutable transition table for one entity kind.
type Machine[S ~string] struct {
	kind     Kind
	initial  S
	terminal map[S]struct{}
	ops      map[Op]Transition[S]
}

// NewMachine builds a table. It panics on duplicate operations, empty
// actions, empty source sets and transitions leaving a terminal status, since
// tables are package-level declarations.
func NewMachine[S ~string](kind Kind, initial S, terminal []S, transitions ...Transition[S]) *Machine[S] {
	m := &Machine[S]{
		kind:     kind,
		initial:  initial,
		terminal: make(map[S]struct{}, len(terminal)),
		ops:      make(map[Op]Transition[S], len(transitions)),
	}
	for _, s := range terminal {
		m.terminal[s] = struct{}{}
	}
	for _, t := range transitions {
		if _, dup := m.ops[t.Op]; dup {
			panic(fmt.Sprintf("workflow: %s: duplicate op %q", kind, t.Op))
		}
		if t.Action == "" || len(t.From) == 0 {
			panic(fmt.Sprintf("workflow: %s: op %q needs an action and sources", kind, t.Op))
		}
		for _, from := range t.From {
			if m.IsTerminal(from) {
				panic(fmt.Sprintf("workflow: %s: op %q leaves terminal status %s", kind, t.Op, from))
			}
		}
		m.ops[t.Op] = t
	}
	return m
}

// Kind returns the entity kind.
func (m *Machine[S]) Kind() Kind { return m.kind }

// Initial returns the status of newly created entities.
func (m *Machine[S]) Initial() S { return m.initial }

// IsTerminal reports whether no transition leaves s.
func (m *Machine[S]) IsTerminal(s S) bool {
	_, ok := m.terminal[s]
	return ok
}

// Lookup returns the transition for op.
func (m *Machine[S]) Lookup(op Op) (Transition[S], bool) {
	t, ok := m.ops[op]
	return t, ok
}

// Ops lists the operations in lexical order.
func (m *Machine[S]) Ops() []Op {
	out := make([]Op, 0, len(m.ops))
	for op := range m.ops {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Next returns the target status of op from current, or a TransitionError.
func (m *Machine[S]) Next(op Op, current S) (S, error) {
	t, ok := m.ops[op]
	if !ok || !t.Allows(current) {
		var zero S
		return zero, m.invalid(op, current)
	}
	return t.Target(current), nil
}

// Authorize checks the action gate for op and then the source status. An
// operation unknown to the table is reported as an invalid transition.
func (m *Machine[S]) Authorize(p auth.Principal, op Op, current S) (Transition[S], error) {
	t, ok := m.ops[op]
	if !ok {
		return Transition[S]{}, m.invalid(op, current)
	}
	if err := gate.Require(p, t.Action); err != nil {
		return Transition[S]{}, err
	}
	if !t.Allows(current) {
		return Transition[S]{}, m.invalid(op, current)
	}
	return t, nil
}

func (m *Machine[S]) invalid(op Op, current S) error {
	return &errs.TransitionError{Kind: string(m.kind), Op: string(op), From: string(current)}
}
