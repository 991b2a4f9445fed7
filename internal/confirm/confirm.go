// Package confirm models a mutation that must be explicitly accepted before
// it runs: Propose stores it, Take hands it over for execution once the user
// confirms, Cancel discards it.
package confirm

import (
	"context"
	"errors"
)

var ErrNothingPending = errors.New("no action awaiting confirmation")

type Kind int

const (
	KindSave Kind = iota + 1
	KindDelete
)

func (k Kind) String() string {
	switch k {
	case KindSave:
		return "save"
	case KindDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Action is a proposed mutation. Run receives the credential available at
// confirmation time, which may differ from the one at proposal time.
type Action[C, R any] struct {
	Kind   Kind
	Target string
	Run    func(ctx context.Context, cred C) (R, error)
}

// Pending holds at most one proposed action. It is not safe for concurrent
// use; owners guard it with their own lock.
type Pending[C, R any] struct {
	action *Action[C, R]
}

// Propose replaces any earlier proposal.
func (p *Pending[C, R]) Propose(a Action[C, R]) {
	p.action = &a
}

// Current returns the awaiting action, if any.
func (p *Pending[C, R]) Current() (Action[C, R], bool) {
	if p.action == nil {
		return Action[C, R]{}, false
	}
	return *p.action, true
}

// Cancel discards the pending action without running it.
func (p *Pending[C, R]) Cancel() bool {
	had := p.action != nil
	p.action = nil
	return had
}

// Take removes the pending action and returns it for execution, so that the
// prompt is closed whatever the outcome.
func (p *Pending[C, R]) Take() (Action[C, R], error) {
	if p.action == nil {
		return Action[C, R]{}, ErrNothingPending
	}
	a := *p.action
	p.action = nil
	return a, nil
}
