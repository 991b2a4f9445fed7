package web

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/sessions"

	"habilitations/internal/auth"
	"habilitations/internal/backend"
	"habilitations/internal/config"
	"habilitations/internal/util"
	"habilitations/internal/workspace"
)

const (
	keyWorkspace = "ws"
	keyBackend   = "backend"
	keyActor     = "actor"
	keyTerms     = "terms"
	keyIssued    = "issued"
	keyCSRF      = "csrf"
)

// consoleState is what the console cookie carries between requests.
type consoleState struct {
	WorkspaceID   string
	Backend       backend.SessionCookie
	ActorCP       string
	TermsAccepted bool
	IssuedAt      int64
	CSRF          string
}

func (s consoleState) signedIn() bool { return s.Backend != "" && s.TermsAccepted }

type cookieJar struct {
	cfg      config.Config
	store    *sessions.CookieStore
	absolute time.Duration
	now      func() time.Time
}

func newCookieJar(cfg config.Config) (*cookieJar, error) {
	hashKey, blockKey, err := util.DeriveCookieKeys(cfg.SessionEncryptKey)
	if err != nil {
		return nil, err
	}
	store := sessions.NewCookieStore(hashKey, blockKey)
	absolute := cfg.SessionAbsoluteDuration()
	store.MaxAge(int(absolute.Seconds()))
	store.Options.Path = "/"
	store.Options.HttpOnly = true
	store.Options.SameSite = http.SameSiteLaxMode
	return &cookieJar{cfg: cfg, store: store, absolute: absolute, now: time.Now}, nil
}

// load decodes the console cookie. A tampered or expired cookie yields an
// empty state and a fresh session.
func (j *cookieJar) load(r *http.Request) (*sessions.Session, consoleState) {
	sess, err := j.store.Get(r, j.cfg.SessionCookieName)
	if err != nil {
		sess, _ = j.store.New(r, j.cfg.SessionCookieName)
		sess.Values = map[interface{}]interface{}{}
		sess.IsNew = true
	}
	var st consoleState
	st.WorkspaceID, _ = sess.Values[keyWorkspace].(string)
	if v, ok := sess.Values[keyBackend].(string); ok {
		st.Backend = backend.SessionCookie(v)
	}
	st.ActorCP, _ = sess.Values[keyActor].(string)
	st.TermsAccepted, _ = sess.Values[keyTerms].(bool)
	st.IssuedAt, _ = sess.Values[keyIssued].(int64)
	st.CSRF, _ = sess.Values[keyCSRF].(string)

	if st.Backend != "" && j.absolute > 0 && j.now().Unix()-st.IssuedAt > int64(j.absolute.Seconds()) {
		st.signOut()
	}
	return sess, st
}

func (j *cookieJar) save(w http.ResponseWriter, r *http.Request, sess *sessions.Session, st consoleState) error {
	sess.Values[keyWorkspace] = st.WorkspaceID
	sess.Values[keyBackend] = string(st.Backend)
	sess.Values[keyActor] = st.ActorCP
	sess.Values[keyTerms] = st.TermsAccepted
	sess.Values[keyIssued] = st.IssuedAt
	sess.Values[keyCSRF] = st.CSRF
	sess.Options.Secure = j.cfg.ResolveCookieSecure(r)
	return sess.Save(r, w)
}

// clear tells the browser to drop the console cookie.
func (j *cookieJar) clear(w http.ResponseWriter, r *http.Request, sess *sessions.Session) error {
	sess.Values = map[interface{}]interface{}{}
	sess.Options.MaxAge = -1
	sess.Options.Secure = j.cfg.ResolveCookieSecure(r)
	return sess.Save(r, w)
}

func (s *consoleState) signIn(cred backend.SessionCookie, cp string, now time.Time) {
	s.Backend = cred
	s.ActorCP = cp
	s.TermsAccepted = true
	s.IssuedAt = now.Unix()
}

func (s *consoleState) signOut() {
	s.Backend = ""
	s.ActorCP = ""
	s.TermsAccepted = false
	s.IssuedAt = 0
}

// request carries the decoded console state of one request.
type request struct {
	sess  *sessions.Session
	st    consoleState
	ws    *workspace.Workspace
	dirty bool
}

type ctxKey int

const requestKey ctxKey = iota

func withRequest(ctx context.Context, rq *request) context.Context {
	return context.WithValue(ctx, requestKey, rq)
}

func requestFrom(r *http.Request) *request {
	rq, _ := r.Context().Value(requestKey).(*request)
	return rq
}

func newCSRFToken() string {
	tok, err := auth.NewOpaqueToken()
	if err != nil {
		return ""
	}
	return tok
}
