package recovery

import (
	"context"
	"fmt"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"habilitations/internal/backend"
	"habilitations/internal/validate"
)

type fakeBackend struct {
	resetErr  error
	updateErr error
	emails    []string
	tokens    []backend.ResetToken
	passwords []string
}

func (f *fakeBackend) RequestPasswordReset(_ context.Context, email string) error {
	f.emails = append(f.emails, email)
	return f.resetErr
}

func (f *fakeBackend) UpdatePassword(_ context.Context, t backend.ResetToken, password string) error {
	f.tokens = append(f.tokens, t)
	f.passwords = append(f.passwords, password)
	return f.updateErr
}

func TestRequestValidatesBeforeSending(t *testing.T) {
	fb := &fakeBackend{}
	f := NewRequestFlow(fb)

	require.ErrorIs(t, f.Request(context.Background(), ""), ErrInvalidInput)
	assert.Equal(t, validate.ErrRequired.Error(), f.Snapshot().Errors.Get("email"))

	require.ErrorIs(t, f.Request(context.Background(), "jean@gmail.com"), ErrInvalidInput)
	snap := f.Snapshot()
	assert.Equal(t, validate.ErrEmailFormat.Error(), snap.Errors.Get("email"))
	assert.Equal(t, "jean@gmail.com", snap.Email)
	assert.Empty(t, fb.emails)
}

func TestRequestUniformSuccess(t *testing.T) {
	cases := []struct {
		name string
		err  error
	}{
		{"accepted", nil},
		{"unknown account", &backend.APIError{Status: 404, Message: "Utilisateur introuvable"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fb := &fakeBackend{resetErr: tc.err}
			f := NewRequestFlow(fb)
			require.NoError(t, f.Request(context.Background(), " jean.dupont@sncf.fr "))

			snap := f.Snapshot()
			assert.True(t, snap.Success)
			assert.Equal(t, MsgRequestSent, snap.Message)
			assert.Empty(t, snap.Email, "the field is cleared")
			assert.Equal(t, []string{"jean.dupont@sncf.fr"}, fb.emails)
		})
	}
}

func TestRequestFailures(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"server message", &backend.APIError{Status: 429, Message: "Trop de demandes"}, "Trop de demandes"},
		{"no message", &backend.APIError{Status: 500}, MsgRequestFailed},
		{"network", fmt.Errorf("%w: refused", backend.ErrTransport), backend.NetworkMessage},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := NewRequestFlow(&fakeBackend{resetErr: tc.err})
			require.NoError(t, f.Request(context.Background(), "jean.dupont@sncf.fr"))
			snap := f.Snapshot()
			assert.False(t, snap.Success)
			assert.Equal(t, tc.want, snap.Message)
			assert.Equal(t, "jean.dupont@sncf.fr", snap.Email)
		})
	}
}

func TestCompletionWithoutTokenIsInvalid(t *testing.T) {
	fb := &fakeBackend{}
	c := NewCompletion(fb, url.Values{"cp": {"1234567A"}})

	snap := c.Snapshot()
	assert.Equal(t, Invalid, snap.State)
	assert.Equal(t, MsgInvalidLink, snap.Message)
	assert.ErrorIs(t, c.Update(context.Background(), "pw", "pw"), ErrInvalidLink)
	assert.Empty(t, fb.tokens)
}

func TestCompletionValidation(t *testing.T) {
	fb := &fakeBackend{}
	c := NewCompletion(fb, url.Values{"token": {"tok"}})

	require.ErrorIs(t, c.Update(context.Background(), "", ""), ErrInvalidInput)
	snap := c.Snapshot()
	assert.Equal(t, validate.ErrRequired.Error(), snap.Errors.Get("password"))
	assert.Equal(t, validate.ErrRequired.Error(), snap.Errors.Get("confirmPassword"))

	require.ErrorIs(t, c.Update(context.Background(), "abc", "abd"), ErrInvalidInput)
	assert.Equal(t, validate.ErrPasswordsMismatch.Error(), c.Snapshot().Errors.Get("confirmPassword"))
	assert.Empty(t, fb.tokens)
}

func TestCompletionSuccess(t *testing.T) {
	fb := &fakeBackend{}
	c := NewCompletion(fb, url.Values{"cp": {"1234567A"}, "token": {"tok-1"}})
	require.NoError(t, c.Update(context.Background(), "n3w", "n3w"))

	snap := c.Snapshot()
	assert.Equal(t, Updated, snap.State)
	assert.Equal(t, MsgUpdated, snap.Message)
	assert.Equal(t, "/login", snap.RedirectTo)
	assert.Equal(t, RedirectDelay, snap.RedirectAfter)
	assert.Equal(t, "1234567A", snap.CP)
	assert.Equal(t, []backend.ResetToken{"tok-1"}, fb.tokens)
	assert.Equal(t, []string{"n3w"}, fb.passwords)
}

func TestCompletionFailureStaysEditable(t *testing.T) {
	fb := &fakeBackend{updateErr: &backend.APIError{Status: 401, Message: "Token expiré"}}
	c := NewCompletion(fb, url.Values{"token": {"tok-1"}})
	require.NoError(t, c.Update(context.Background(), "a", "a"))

	snap := c.Snapshot()
	assert.Equal(t, Failed, snap.State)
	assert.Equal(t, "Token expiré", snap.Message)
	assert.Empty(t, snap.RedirectTo)

	fb.updateErr = nil
	require.NoError(t, c.Update(context.Background(), "b", "b"))
	assert.Equal(t, Updated, c.Snapshot().State)
}
