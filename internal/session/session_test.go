package session

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"habilitations/internal/backend"
	"habilitations/internal/models"
)

type fakeBackend struct {
	role      string
	err       error
	logoutErr error
	calls     int
	loggedOut []backend.SessionCookie
}

func (f *fakeBackend) Me(_ context.Context, s backend.SessionCookie) (string, error) {
	f.calls++
	return f.role, f.err
}

func (f *fakeBackend) Logout(_ context.Context, s backend.SessionCookie) error {
	f.loggedOut = append(f.loggedOut, s)
	return f.logoutErr
}

func TestResolve(t *testing.T) {
	cases := []struct {
		name string
		fake fakeBackend
		cred backend.SessionCookie
		want models.Role
	}{
		{"admin", fakeBackend{role: "ADMIN"}, "s", models.RoleAdmin},
		{"user", fakeBackend{role: "UTILISATEUR"}, "s", models.RoleUser},
		{"user alias", fakeBackend{role: "USER"}, "s", models.RoleUser},
		{"unknown role fails closed", fakeBackend{role: "SUPERADMIN"}, "s", models.RoleAnonymous},
		{"unauthorized", fakeBackend{err: &backend.APIError{Status: 401}}, "s", models.RoleAnonymous},
		{"server error", fakeBackend{err: &backend.APIError{Status: 500}}, "s", models.RoleAnonymous},
		{"transport", fakeBackend{err: fmt.Errorf("%w: refused", backend.ErrTransport)}, "s", models.RoleAnonymous},
		{"no credential", fakeBackend{role: "ADMIN"}, "", models.RoleAnonymous},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fake := tc.fake
			got := NewResolver(&fake, nil).Resolve(context.Background(), tc.cred)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestResolveSkipsBackendWithoutCredential(t *testing.T) {
	fake := &fakeBackend{role: "ADMIN"}
	NewResolver(fake, nil).Resolve(context.Background(), "")
	assert.Zero(t, fake.calls)
}

func TestLogoutSwallowsErrors(t *testing.T) {
	fake := &fakeBackend{logoutErr: errors.New("boom")}
	r := NewResolver(fake, nil)
	r.Logout(context.Background(), "s-1")
	r.Logout(context.Background(), "")
	assert.Equal(t, []backend.SessionCookie{"s-1"}, fake.loggedOut)
}

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.True(t, From(ctx).Anonymous())

	ctx = With(ctx, models.SessionView{Role: models.RoleAdmin, TermsAccepted: true})
	v := From(ctx)
	assert.Equal(t, models.RoleAdmin, v.Role)
	assert.True(t, v.TermsAccepted)
}

func TestExpired(t *testing.T) {
	assert.ErrorIs(t, Expired(&backend.APIError{Status: 401}), ErrExpired)
	other := &backend.APIError{Status: 403}
	assert.Equal(t, error(other), Expired(other))
	assert.NoError(t, Expired(nil))
}
