// Package lifecycle tracks whether the page hosting a flow is still mounted
// and which of its operations are in flight.
package lifecycle

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrBusy is returned when the same operation is already in flight.
	ErrBusy = errors.New("operation already in progress")
	// ErrStale is returned when a result arrives after the page unmounted;
	// the result has been dropped.
	ErrStale = errors.New("page unmounted before the operation completed")
)

// BusyMessage is the banner shown for ErrBusy.
const BusyMessage = "Une opération est déjà en cours."

type Mount struct {
	mu       sync.Mutex
	gen      uint64
	inflight map[string]struct{}
}

func NewMount() *Mount {
	return &Mount{inflight: map[string]struct{}{}}
}

// Ticket is held for the duration of one operation.
type Ticket struct {
	m   *Mount
	ctx context.Context
	op  string
	gen uint64
}

// Begin claims op. Distinct operations never block each other.
func (m *Mount) Begin(ctx context.Context, op string) (*Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.inflight[op]; busy {
		return nil, ErrBusy
	}
	m.inflight[op] = struct{}{}
	return &Ticket{m: m, ctx: ctx, op: op, gen: m.gen}, nil
}

// InFlight reports whether op is currently claimed.
func (m *Mount) InFlight(op string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, busy := m.inflight[op]
	return busy
}

// Unmount invalidates every outstanding ticket and releases all claims.
func (m *Mount) Unmount() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gen++
	m.inflight = map[string]struct{}{}
}

// Live reports whether the result of this operation may still be applied:
// the page was not unmounted since Begin.
func (t *Ticket) Live() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	return t.m.gen == t.gen
}

// Cancelled reports whether the caller of this operation went away.
func (t *Ticket) Cancelled() bool {
	return t.ctx.Err() != nil
}

// Done releases the claim. It is a no-op after Unmount.
func (t *Ticket) Done() {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if t.m.gen == t.gen {
		delete(t.m.inflight, t.op)
	}
}
