// Package authflow drives the login page: credential submission, the
// mandatory terms prompt and the hand-off of the backend session.
package authflow

import (
	"context"
	"errors"
	"strings"
	"sync"

	"habilitations/internal/backend"
	"habilitations/internal/lifecycle"
	"habilitations/internal/validate"
)

const (
	MsgLoginFailed   = "Erreur lors de la connexion"
	MsgTermsFailed   = "Erreur lors de l’acceptation des conditions"
	MsgTermsDeclined = "Vous devez accepter les conditions pour accéder à l’application."

	// Destination is where an authenticated user lands.
	Destination = "/mainPage"

	opLogin = "login"
	opTerms = "terms"
)

var (
	ErrInvalidTransition = errors.New("authflow: action not allowed in the current state")
	ErrInvalidInput      = errors.New("authflow: form has field errors")
)

type State int

const (
	Idle State = iota
	Submitting
	PendingTerms
	Authenticated
	Rejected
	Declined
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Submitting:
		return "submitting"
	case PendingTerms:
		return "pending-terms"
	case Authenticated:
		return "authenticated"
	case Rejected:
		return "rejected"
	case Declined:
		return "declined"
	default:
		return "unknown"
	}
}

type Backend interface {
	Login(ctx context.Context, cp, password string) (backend.LoginResult, backend.SessionCookie, error)
	AcceptTerms(ctx context.Context, s backend.SessionCookie) error
}

// Snapshot is what the login page renders.
type Snapshot struct {
	State       State
	CP          string
	Errors      validate.FieldErrors
	Message     string
	TermsBusy   bool
	Destination string
}

type Flow struct {
	backend Backend
	mount   *lifecycle.Mount

	mu      sync.Mutex
	state   State
	cp      string
	errs    validate.FieldErrors
	message string
	// pending is the session issued before the terms were accepted. It is
	// only ever sent to the terms endpoint.
	pending backend.SessionCookie
	session backend.SessionCookie
}

func New(b Backend) *Flow {
	return &Flow{backend: b, mount: lifecycle.NewMount(), errs: validate.FieldErrors{}}
}

func (f *Flow) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := Snapshot{State: f.state, CP: f.cp, Errors: f.errs.Clone(), Message: f.message, TermsBusy: f.mount.InFlight(opTerms)}
	if f.state == Authenticated {
		s.Destination = Destination
	}
	return s
}

func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// SubmitLogin validates the form and, when it is clean, authenticates
// against the backend. Rejections are reported through the state, not the
// returned error.
func (f *Flow) SubmitLogin(ctx context.Context, cp, password string) error {
	cp = strings.TrimSpace(cp)

	f.mu.Lock()
	switch f.state {
	case PendingTerms, Submitting:
		f.mu.Unlock()
		return ErrInvalidTransition
	}
	f.cp = cp
	f.message = ""
	f.errs = validate.Login(cp, password)
	if !f.errs.Empty() {
		f.mu.Unlock()
		return ErrInvalidInput
	}
	tk, err := f.mount.Begin(ctx, opLogin)
	if err != nil {
		f.mu.Unlock()
		return err
	}
	prev := f.state
	f.state = Submitting
	f.session = ""
	f.mu.Unlock()

	res, sess, err := f.backend.Login(ctx, cp, password)

	defer tk.Done()
	f.mu.Lock()
	defer f.mu.Unlock()
	if !tk.Live() {
		return lifecycle.ErrStale
	}
	if err != nil && tk.Cancelled() {
		f.state = prev
		return ctx.Err()
	}
	if err != nil {
		f.state = Rejected
		f.message = backend.Message(err, MsgLoginFailed)
		return nil
	}
	if res.AcceptedTerms {
		f.state = Authenticated
		f.session = sess
		return nil
	}
	f.state = PendingTerms
	f.pending = sess
	return nil
}

// AcceptTerms records the user's acceptance with the backend. On failure
// the prompt stays open with the server message.
func (f *Flow) AcceptTerms(ctx context.Context) error {
	f.mu.Lock()
	if f.state != PendingTerms {
		f.mu.Unlock()
		return ErrInvalidTransition
	}
	tk, err := f.mount.Begin(ctx, opTerms)
	if err != nil {
		f.mu.Unlock()
		return err
	}
	pending := f.pending
	f.message = ""
	f.mu.Unlock()

	err = f.backend.AcceptTerms(ctx, pending)

	defer tk.Done()
	f.mu.Lock()
	defer f.mu.Unlock()
	if !tk.Live() {
		return lifecycle.ErrStale
	}
	if f.state != PendingTerms {
		return ErrInvalidTransition
	}
	if err != nil && tk.Cancelled() {
		return ctx.Err()
	}
	if err != nil {
		f.message = backend.Message(err, MsgTermsFailed)
		return nil
	}
	f.state = Authenticated
	f.session = f.pending
	f.pending = ""
	return nil
}

// DeclineTerms closes the prompt and forgets the pending session.
func (f *Flow) DeclineTerms() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != PendingTerms {
		return ErrInvalidTransition
	}
	f.state = Declined
	f.pending = ""
	f.message = MsgTermsDeclined
	return nil
}

// Handoff returns the backend session of an authenticated flow exactly once.
func (f *Flow) Handoff() (backend.SessionCookie, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != Authenticated || f.session == "" {
		return "", false
	}
	s := f.session
	f.session = ""
	return s, true
}

// Reset returns the flow to Idle, dropping any held session.
func (f *Flow) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mount.Unmount()
	f.state = Idle
	f.cp = ""
	f.errs = validate.FieldErrors{}
	f.message = ""
	f.pending = ""
	f.session = ""
}

// Unmount drops every in-flight result.
func (f *Flow) Unmount() { f.mount.Unmount() }
