// Package session resolves the role behind a backend session and carries the
// resulting view through request contexts.
package session

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"habilitations/internal/backend"
	"habilitations/internal/models"
)

// ErrExpired means the backend no longer accepts the session. Callers send
// the user back to the login page.
var ErrExpired = errors.New("session expired")

type ctxKey int

const viewKey ctxKey = iota

func With(ctx context.Context, v models.SessionView) context.Context {
	return context.WithValue(ctx, viewKey, v)
}

// From returns the session view stored in ctx, or the anonymous view.
func From(ctx context.Context) models.SessionView {
	v, _ := ctx.Value(viewKey).(models.SessionView)
	return v
}

// Backend is the part of the backend client the resolver needs.
type Backend interface {
	Me(ctx context.Context, s backend.SessionCookie) (string, error)
	Logout(ctx context.Context, s backend.SessionCookie) error
}

type Resolver struct {
	backend Backend
	log     log.FieldLogger
}

func NewResolver(b Backend, logger log.FieldLogger) *Resolver {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Resolver{backend: b, log: logger}
}

// Resolve asks the backend who owns cred. It never fails: a missing
// credential, any error or an unrecognised role yields RoleAnonymous.
// TermsAccepted is left to the caller, which knows whether the login
// completed.
func (r *Resolver) Resolve(ctx context.Context, cred backend.SessionCookie) models.Role {
	if cred == "" {
		return models.RoleAnonymous
	}
	raw, err := r.backend.Me(ctx, cred)
	if err != nil {
		if !errors.Is(err, backend.ErrUnauthorized) {
			r.log.WithError(err).Debug("session resolve failed")
		}
		return models.RoleAnonymous
	}
	role, ok := models.ParseRole(raw)
	if !ok {
		r.log.WithField("role", raw).Warn("backend returned an unknown role")
		return models.RoleAnonymous
	}
	return role
}

// Logout ends the backend session. Failures are logged only; the caller
// always clears its local state.
func (r *Resolver) Logout(ctx context.Context, cred backend.SessionCookie) {
	if cred == "" {
		return
	}
	if err := r.backend.Logout(ctx, cred); err != nil {
		r.log.WithError(err).Info("backend logout failed")
	}
}

// Expired maps a backend 401 to ErrExpired and leaves other errors alone.
func Expired(err error) error {
	if errors.Is(err, backend.ErrUnauthorized) {
		return ErrExpired
	}
	return err
}
