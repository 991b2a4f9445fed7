package authflow

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"habilitations/internal/backend"
	"habilitations/internal/lifecycle"
	"habilitations/internal/validate"
)

type fakeBackend struct {
	mu         sync.Mutex
	loginCalls int
	accepted   bool
	loginErr   error
	termsErr   error
	termsSeen  []backend.SessionCookie
	// gate, when set, blocks Login until closed.
	gate    chan struct{}
	entered chan struct{}
}

func (f *fakeBackend) Login(ctx context.Context, cp, password string) (backend.LoginResult, backend.SessionCookie, error) {
	f.mu.Lock()
	f.loginCalls++
	gate, entered := f.gate, f.entered
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return backend.LoginResult{}, "", ctx.Err()
		}
	}
	if f.loginErr != nil {
		return backend.LoginResult{}, "", f.loginErr
	}
	return backend.LoginResult{AcceptedTerms: f.accepted}, "sess-" + backend.SessionCookie(cp), nil
}

func (f *fakeBackend) AcceptTerms(_ context.Context, s backend.SessionCookie) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.termsSeen = append(f.termsSeen, s)
	return f.termsErr
}

func TestInvalidFormMakesNoCall(t *testing.T) {
	fb := &fakeBackend{accepted: true}
	f := New(fb)

	err := f.SubmitLogin(context.Background(), "123", "")
	require.ErrorIs(t, err, ErrInvalidInput)

	snap := f.Snapshot()
	assert.Equal(t, Idle, snap.State)
	assert.Equal(t, validate.ErrIdentifierFormat.Error(), snap.Errors.Get("cp"))
	assert.Equal(t, validate.ErrRequired.Error(), snap.Errors.Get("password"))
	assert.Zero(t, fb.loginCalls)
}

func TestLoginWithAcceptedTerms(t *testing.T) {
	f := New(&fakeBackend{accepted: true})
	require.NoError(t, f.SubmitLogin(context.Background(), "1234567A", "secret"))

	snap := f.Snapshot()
	assert.Equal(t, Authenticated, snap.State)
	assert.Equal(t, Destination, snap.Destination)

	s, ok := f.Handoff()
	require.True(t, ok)
	assert.Equal(t, backend.SessionCookie("sess-1234567A"), s)
	_, ok = f.Handoff()
	assert.False(t, ok, "the session is handed off once")
}

func TestTermsAcceptance(t *testing.T) {
	fb := &fakeBackend{accepted: false}
	f := New(fb)
	require.NoError(t, f.SubmitLogin(context.Background(), "1234567A", "secret"))
	require.Equal(t, PendingTerms, f.State())

	_, ok := f.Handoff()
	assert.False(t, ok, "no session before the terms are accepted")
	assert.ErrorIs(t, f.SubmitLogin(context.Background(), "1234567A", "secret"), ErrInvalidTransition)

	require.NoError(t, f.AcceptTerms(context.Background()))
	assert.Equal(t, Authenticated, f.State())
	assert.Equal(t, []backend.SessionCookie{"sess-1234567A"}, fb.termsSeen)

	s, ok := f.Handoff()
	require.True(t, ok)
	assert.Equal(t, backend.SessionCookie("sess-1234567A"), s)
}

func TestTermsFailureKeepsPrompt(t *testing.T) {
	fb := &fakeBackend{termsErr: &backend.APIError{Status: 500, Message: "Indisponible"}}
	f := New(fb)
	require.NoError(t, f.SubmitLogin(context.Background(), "1234567A", "secret"))
	require.NoError(t, f.AcceptTerms(context.Background()))

	snap := f.Snapshot()
	assert.Equal(t, PendingTerms, snap.State)
	assert.Equal(t, "Indisponible", snap.Message)

	fb.termsErr = &backend.APIError{Status: 500}
	require.NoError(t, f.AcceptTerms(context.Background()))
	assert.Equal(t, MsgTermsFailed, f.Snapshot().Message)
}

func TestDeclineTerms(t *testing.T) {
	fb := &fakeBackend{}
	f := New(fb)
	assert.ErrorIs(t, f.DeclineTerms(), ErrInvalidTransition)

	require.NoError(t, f.SubmitLogin(context.Background(), "1234567A", "secret"))
	require.NoError(t, f.DeclineTerms())

	snap := f.Snapshot()
	assert.Equal(t, Declined, snap.State)
	assert.Equal(t, MsgTermsDeclined, snap.Message)
	assert.ErrorIs(t, f.AcceptTerms(context.Background()), ErrInvalidTransition)
	_, ok := f.Handoff()
	assert.False(t, ok)
	assert.Empty(t, fb.termsSeen)

	require.NoError(t, f.SubmitLogin(context.Background(), "1234567A", "secret"), "a new attempt is allowed after declining")
}

func TestRejections(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"server message", &backend.APIError{Status: 401, Message: "Identifiants invalides"}, "Identifiants invalides"},
		{"no message", &backend.APIError{Status: 401}, MsgLoginFailed},
		{"no response", fmt.Errorf("%w: refused", backend.ErrTransport), backend.NetworkMessage},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := New(&fakeBackend{loginErr: tc.err})
			require.NoError(t, f.SubmitLogin(context.Background(), "1234567A", "secret"))
			snap := f.Snapshot()
			assert.Equal(t, Rejected, snap.State)
			assert.Equal(t, tc.want, snap.Message)
			assert.Equal(t, "1234567A", snap.CP)
		})
	}
}

func TestSecondLoginWhileInFlightIsRefused(t *testing.T) {
	fb := &fakeBackend{accepted: true, gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	f := New(fb)

	done := make(chan error, 1)
	go func() { done <- f.SubmitLogin(context.Background(), "1234567A", "secret") }()
	<-fb.entered

	assert.ErrorIs(t, f.SubmitLogin(context.Background(), "1234567A", "secret"), ErrInvalidTransition)
	assert.Equal(t, Submitting, f.State())

	close(fb.gate)
	require.NoError(t, <-done)
	assert.Equal(t, Authenticated, f.State())
	assert.Equal(t, 1, fb.loginCalls)
}

func TestResultAfterUnmountIsDropped(t *testing.T) {
	fb := &fakeBackend{accepted: true, gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	f := New(fb)

	done := make(chan error, 1)
	go func() { done <- f.SubmitLogin(context.Background(), "1234567A", "secret") }()
	<-fb.entered
	f.Unmount()
	close(fb.gate)

	assert.ErrorIs(t, <-done, lifecycle.ErrStale)
	_, ok := f.Handoff()
	assert.False(t, ok)
}

func TestCancelledLoginRestoresState(t *testing.T) {
	fb := &fakeBackend{accepted: true, gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	f := New(fb)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.SubmitLogin(ctx, "1234567A", "secret") }()
	<-fb.entered
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
	snap := f.Snapshot()
	assert.Equal(t, Idle, snap.State)
	assert.Empty(t, snap.Message)
}

func TestReset(t *testing.T) {
	f := New(&fakeBackend{accepted: true})
	require.NoError(t, f.SubmitLogin(context.Background(), "1234567A", "secret"))
	f.Reset()
	snap := f.Snapshot()
	assert.Equal(t, Idle, snap.State)
	assert.Empty(t, snap.CP)
	_, ok := f.Handoff()
	assert.False(t, ok)
}
