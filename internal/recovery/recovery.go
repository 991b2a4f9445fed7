// Package recovery implements the two halves of the forgotten-password
// procedure: asking for a reset link and consuming it.
package recovery

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"habilitations/internal/backend"
	"habilitations/internal/lifecycle"
	"habilitations/internal/validate"
)

const (
	MsgRequestSent   = "Un email de réinitialisation a été envoyé si ce compte existe."
	MsgRequestFailed = "Erreur lors de la réinitialisation du mot de passe"
	MsgInvalidLink   = "Lien invalide ou expiré. Merci de relancer la procédure de réinitialisation."
	MsgUpdated       = "Votre mot de passe a été mis à jour avec succès."
	MsgUpdateFailed  = "Erreur lors de la modification du mot de passe"

	// RedirectDelay is how long the success message stays before returning
	// to the login page.
	RedirectDelay = 1800 * time.Millisecond
	LoginPath     = "/login"

	opRequest = "reset-request"
	opUpdate  = "password-update"
)

var (
	ErrInvalidInput = errors.New("recovery: form has field errors")
	ErrInvalidLink  = errors.New("recovery: reset link has no token")
)

type Backend interface {
	RequestPasswordReset(ctx context.Context, email string) error
	UpdatePassword(ctx context.Context, t backend.ResetToken, password string) error
}

// RequestSnapshot is what the reset-request page renders.
type RequestSnapshot struct {
	Email   string
	Errors  validate.FieldErrors
	Message string
	Success bool
	Busy    bool
}

type RequestFlow struct {
	backend Backend
	mount   *lifecycle.Mount

	mu      sync.Mutex
	email   string
	errs    validate.FieldErrors
	message string
	success bool
}

func NewRequestFlow(b Backend) *RequestFlow {
	return &RequestFlow{backend: b, mount: lifecycle.NewMount(), errs: validate.FieldErrors{}}
}

func (f *RequestFlow) Snapshot() RequestSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return RequestSnapshot{
		Email:   f.email,
		Errors:  f.errs.Clone(),
		Message: f.message,
		Success: f.success,
		Busy:    f.mount.InFlight(opRequest),
	}
}

// Request asks the backend to mail a reset link. A 404 is reported like a
// success so the page never reveals whether the account exists.
func (f *RequestFlow) Request(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)

	f.mu.Lock()
	f.email = email
	f.message = ""
	f.success = false
	f.errs = validate.ResetRequest(email)
	if !f.errs.Empty() {
		f.mu.Unlock()
		return ErrInvalidInput
	}
	tk, err := f.mount.Begin(ctx, opRequest)
	f.mu.Unlock()
	if err != nil {
		return err
	}

	err = f.backend.RequestPasswordReset(ctx, email)

	defer tk.Done()
	f.mu.Lock()
	defer f.mu.Unlock()
	if !tk.Live() {
		return lifecycle.ErrStale
	}
	if err != nil && tk.Cancelled() {
		return ctx.Err()
	}
	if err == nil || errors.Is(err, backend.ErrNotFound) {
		f.success = true
		f.message = MsgRequestSent
		f.email = ""
		return nil
	}
	f.message = backend.Message(err, MsgRequestFailed)
	return nil
}

func (f *RequestFlow) Unmount() { f.mount.Unmount() }

type CompletionState int

const (
	Ready CompletionState = iota
	Invalid
	Updating
	Updated
	Failed
)

func (s CompletionState) String() string {
	switch s {
	case Ready:
		return "ready"
	case Invalid:
		return "invalid"
	case Updating:
		return "updating"
	case Updated:
		return "updated"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// CompletionSnapshot is what the update-password page renders.
type CompletionSnapshot struct {
	State   CompletionState
	CP      string
	Token   backend.ResetToken
	Errors  validate.FieldErrors
	Message string
	// RedirectTo and RedirectAfter are set once the password is updated.
	RedirectTo    string
	RedirectAfter time.Duration
}

// Completion consumes one reset link. It lives as long as the page and is
// never stored.
type Completion struct {
	backend Backend
	mount   *lifecycle.Mount
	cp      string
	token   backend.ResetToken

	mu      sync.Mutex
	state   CompletionState
	errs    validate.FieldErrors
	message string
}

// NewCompletion reads cp and token from the link's query string.
func NewCompletion(b Backend, query url.Values) *Completion {
	c := &Completion{
		backend: b,
		mount:   lifecycle.NewMount(),
		cp:      strings.TrimSpace(query.Get("cp")),
		token:   backend.ResetToken(strings.TrimSpace(query.Get("token"))),
		errs:    validate.FieldErrors{},
	}
	if c.token == "" {
		c.state = Invalid
		c.message = MsgInvalidLink
	}
	return c
}

func (c *Completion) Snapshot() CompletionSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := CompletionSnapshot{State: c.state, CP: c.cp, Token: c.token, Errors: c.errs.Clone(), Message: c.message}
	if c.state == Updated {
		s.RedirectTo = LoginPath
		s.RedirectAfter = RedirectDelay
	}
	return s
}

// Update sets the new password. The form stays usable after a failure.
func (c *Completion) Update(ctx context.Context, password, confirm string) error {
	c.mu.Lock()
	switch c.state {
	case Invalid:
		c.mu.Unlock()
		return ErrInvalidLink
	case Updated:
		c.mu.Unlock()
		return nil
	}
	c.errs = validate.PasswordUpdate(password, confirm)
	if !c.errs.Empty() {
		c.mu.Unlock()
		return ErrInvalidInput
	}
	tk, err := c.mount.Begin(ctx, opUpdate)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	prev, prevMsg := c.state, c.message
	c.state = Updating
	c.message = ""
	c.mu.Unlock()

	err = c.backend.UpdatePassword(ctx, c.token, password)

	defer tk.Done()
	c.mu.Lock()
	defer c.mu.Unlock()
	if !tk.Live() {
		return lifecycle.ErrStale
	}
	if err != nil && tk.Cancelled() {
		c.state, c.message = prev, prevMsg
		return ctx.Err()
	}
	if err != nil {
		c.state = Failed
		c.message = backend.Message(err, MsgUpdateFailed)
		return nil
	}
	c.state = Updated
	c.message = MsgUpdated
	return nil
}

func (c *Completion) Unmount() { c.mount.Unmount() }
