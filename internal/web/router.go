// Package web is the console's HTTP surface: a chi router serving
// server-rendered pages backed by the per-browser flows.
package web

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	log "github.com/sirupsen/logrus"

	"habilitations/internal/config"
	"habilitations/internal/guard"
	"habilitations/internal/middleware"
	"habilitations/internal/models"
	"habilitations/internal/rate"
	"habilitations/internal/session"
	"habilitations/internal/util"
	"habilitations/internal/workspace"
)

// Backend is everything the console needs from the authorization backend.
type Backend interface {
	workspace.Backend
	session.Backend
	Ping(ctx context.Context) error
}

// Journal records console actions. Nil disables auditing.
type Journal interface {
	Record(ctx context.Context, e models.AuditEntry) (models.AuditEntry, error)
	Ping(ctx context.Context) error
}

type Deps struct {
	Config  config.Config
	Backend Backend
	Journal Journal
	Logger  log.FieldLogger
}

type Handlers struct {
	cfg        config.Config
	backend    Backend
	journal    Journal
	log        log.FieldLogger
	resolver   *session.Resolver
	workspaces *workspace.Store
	jar        *cookieJar
	limiter    *rate.Limiter
	pages      map[string]*template.Template
	now        func() time.Time
}

func NewHandlers(d Deps) (*Handlers, error) {
	if d.Logger == nil {
		d.Logger = log.StandardLogger()
	}
	if d.Backend == nil {
		return nil, errors.New("web: backend is required")
	}
	jar, err := newCookieJar(d.Config)
	if err != nil {
		return nil, err
	}
	pages, err := parseTemplates()
	if err != nil {
		return nil, err
	}
	return &Handlers{
		cfg:        d.Config,
		backend:    d.Backend,
		journal:    d.Journal,
		log:        d.Logger,
		resolver:   session.NewResolver(d.Backend, d.Logger),
		workspaces: workspace.NewStore(d.Backend, d.Config.SessionIdleDuration(), d.Logger),
		jar:        jar,
		limiter:    rate.NewLimiter(),
		pages:      pages,
		now:        time.Now,
	}, nil
}

func NewRouter(d Deps) (http.Handler, error) {
	h, err := NewHandlers(d)
	if err != nil {
		return nil, err
	}
	return h.Routes(), nil
}

func (h *Handlers) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.RequestLogger(h.log, h.cfg.TrustProxy))
	r.Use(middleware.SecurityHeaders)
	if len(h.cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   h.cfg.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", "X-CSRF-Token"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		util.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", h.Ready)

	r.Group(func(r chi.Router) {
		r.Use(h.console)
		r.Use(middleware.CSRF(func(r *http.Request) string {
			if rq := requestFrom(r); rq != nil {
				return rq.st.CSRF
			}
			return ""
		}, h.log))

		r.Get(guard.PathLogin, h.LoginPage)
		r.With(middleware.RateLimit(h.limiter, "login", h.cfg.LoginRatePerMinute, time.Minute, h.cfg.TrustProxy)).
			Post(guard.PathLogin, h.LoginSubmit)
		r.Post("/login/terms/accept", h.TermsAccept)
		r.Post("/login/terms/decline", h.TermsDecline)

		r.Get("/reset-password", h.ResetPage)
		r.With(middleware.RateLimit(h.limiter, "reset", h.cfg.ResetRatePerMinute, time.Minute, h.cfg.TrustProxy)).
			Post("/reset-password", h.ResetSubmit)
		r.Get("/update-password", h.UpdatePage)
		r.Post("/update-password", h.UpdateSubmit)

		r.Get("/logout", h.Logout)
		r.Post("/logout", h.Logout)

		r.Group(func(r chi.Router) {
			r.Use(h.protect)
			r.Get(guard.PathRoot, h.MainPage)
			r.Get(guard.PathMain, h.MainPage)
			r.Get(guard.PathAdd, h.AddPage)
			r.Post(guard.PathAdd, h.AddSubmit)
			r.Route(guard.PathManage, func(r chi.Router) {
				r.Get("/", h.ManagePage)
				r.Post("/search", h.ManageSearch)
				r.Post("/edit", h.ManageEdit)
				r.Post("/save", h.ManageSave)
				r.Post("/delete", h.ManageDelete)
				r.Post("/confirm", h.ManageConfirm)
				r.Post("/cancel", h.ManageCancel)
			})
		})
	})

	return r
}

// Ready reports whether the backend and the audit journal answer.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	components := map[string]string{"backend": "ok", "audit": "ok"}
	status := "ready"
	if err := h.backend.Ping(ctx); err != nil {
		components["backend"] = "unavailable"
		status = "degraded"
	}
	if h.journal == nil {
		components["audit"] = "disabled"
	} else if err := h.journal.Ping(ctx); err != nil {
		components["audit"] = "unavailable"
		status = "degraded"
	}
	code := http.StatusOK
	if status != "ready" {
		code = http.StatusServiceUnavailable
	}
	util.WriteJSON(w, code, map[string]any{"status": status, "components": components})
}

// console decodes the console cookie, attaches the browser's workspace and
// makes sure a CSRF token exists before any form is rendered or checked.
func (h *Handlers) console(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, st := h.jar.load(r)
		ws, created := h.workspaces.Ensure(st.WorkspaceID)
		dirty := created || sess.IsNew
		if created {
			st.WorkspaceID = ws.ID
		}
		if st.CSRF == "" {
			st.CSRF = newCSRFToken()
			dirty = true
		}
		rq := &request{sess: sess, st: st, ws: ws, dirty: dirty}
		next.ServeHTTP(w, r.WithContext(withRequest(r.Context(), rq)))
	})
}

// protect resolves the backend session and applies the route guard.
func (h *Handlers) protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rq := requestFrom(r)
		view := models.SessionView{}
		if rq.st.signedIn() {
			view = models.SessionView{Role: h.resolver.Resolve(r.Context(), rq.st.Backend), TermsAccepted: true}
			if !view.Role.Authenticated() {
				h.signOut(r)
			}
		}
		switch guard.DecideView(view, r.URL.Path) {
		case guard.RedirectLogin:
			h.redirect(w, r, guard.PathLogin)
			return
		case guard.Forbidden:
			r = r.WithContext(session.With(r.Context(), view))
			h.render(w, r, "forbidden", http.StatusForbidden, page{Title: "Accès refusé"})
			return
		}
		next.ServeHTTP(w, r.WithContext(session.With(r.Context(), view)))
	})
}

// commit writes the console cookie if the request changed it. It must run
// before the response header is written.
func (h *Handlers) commit(w http.ResponseWriter, r *http.Request) {
	rq := requestFrom(r)
	if rq == nil || !rq.dirty {
		return
	}
	if err := h.jar.save(w, r, rq.sess, rq.st); err != nil {
		h.log.WithError(err).WithField("request_id", middleware.RequestID(r.Context())).Error("console cookie not saved")
		return
	}
	rq.dirty = false
}

func (h *Handlers) redirect(w http.ResponseWriter, r *http.Request, path string) {
	h.commit(w, r)
	util.SeeOther(w, r, path)
}

// flash queues a one-shot banner for the next rendered page.
func (h *Handlers) flash(r *http.Request, msg string) {
	rq := requestFrom(r)
	rq.sess.AddFlash(msg)
	rq.dirty = true
}

// signOut forgets the backend session locally and gives the browser a fresh
// workspace, so no flow of the previous user survives.
func (h *Handlers) signOut(r *http.Request) {
	rq := requestFrom(r)
	h.workspaces.Drop(rq.ws.ID)
	ws, _ := h.workspaces.Ensure("")
	rq.ws = ws
	rq.st.WorkspaceID = ws.ID
	rq.st.signOut()
	rq.dirty = true
}

// expired handles a backend 401 seen mid-flow.
func (h *Handlers) expired(w http.ResponseWriter, r *http.Request) {
	h.log.WithFields(log.Fields{
		"request_id": middleware.RequestID(r.Context()),
		"actor":      requestFrom(r).st.ActorCP,
	}).Info("backend session expired")
	h.signOut(r)
	h.redirect(w, r, guard.PathLogin)
}
