package web

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	log "github.com/sirupsen/logrus"

	"habilitations/internal/auth"
	"habilitations/internal/authflow"
	"habilitations/internal/guard"
	"habilitations/internal/lifecycle"
	"habilitations/internal/middleware"
	"habilitations/internal/models"
	"habilitations/internal/recovery"
	"habilitations/internal/session"
	"habilitations/internal/validate"
)

const pathReset = "/reset-password"
const pathUpdate = "/update-password"

// finish ends a form post. Errors the flow already rendered into its state
// simply send the browser back to the page.
func (h *Handlers) finish(w http.ResponseWriter, r *http.Request, err error, back string) {
	switch {
	case err == nil:
	case errors.Is(err, session.ErrExpired):
		h.expired(w, r)
		return
	case errors.Is(err, lifecycle.ErrBusy):
		h.flash(r, lifecycle.BusyMessage)
	case errors.Is(err, context.Canceled) && r.Context().Err() != nil:
		return
	case errors.Is(err, lifecycle.ErrStale):
		h.log.WithField("request_id", middleware.RequestID(r.Context())).Debug("late result dropped")
	}
	h.redirect(w, r, back)
}

type loginView struct {
	CP        string
	Errors    validate.FieldErrors
	Message   string
	ShowTerms bool
	TermsBusy bool
}

func (h *Handlers) LoginPage(w http.ResponseWriter, r *http.Request) {
	rq := requestFrom(r)
	if rq.st.signedIn() {
		h.redirect(w, r, authflow.Destination)
		return
	}
	if rq.ws.Login.State() == authflow.Authenticated {
		rq.ws.Login.Reset()
	}
	snap := rq.ws.Login.Snapshot()
	h.render(w, r, "login", http.StatusOK, page{
		Title: "Connexion",
		Body: loginView{
			CP:        snap.CP,
			Errors:    snap.Errors,
			Message:   snap.Message,
			ShowTerms: snap.State == authflow.PendingTerms,
			TermsBusy: snap.TermsBusy,
		},
	})
}

func (h *Handlers) LoginSubmit(w http.ResponseWriter, r *http.Request) {
	rq := requestFrom(r)
	cp := r.PostFormValue("cp")
	err := rq.ws.Login.SubmitLogin(r.Context(), cp, r.PostFormValue("password"))
	if err != nil {
		h.finish(w, r, err, guard.PathLogin)
		return
	}
	snap := rq.ws.Login.Snapshot()
	switch snap.State {
	case authflow.Authenticated:
		h.completeLogin(w, r, snap.CP)
		return
	case authflow.PendingTerms:
		h.audit(r, auditLogin, snap.CP, models.OutcomeOK, "terms pending")
	case authflow.Rejected:
		h.audit(r, auditLogin, snap.CP, models.OutcomeRejected, snap.Message)
	}
	h.redirect(w, r, guard.PathLogin)
}

// completeLogin moves the backend session from the login flow into the
// console cookie.
func (h *Handlers) completeLogin(w http.ResponseWriter, r *http.Request, cp string) {
	rq := requestFrom(r)
	cred, ok := rq.ws.Login.Handoff()
	if !ok {
		h.redirect(w, r, guard.PathLogin)
		return
	}
	rq.st.signIn(cred, cp, h.now())
	rq.dirty = true
	h.audit(r, auditLogin, cp, models.OutcomeOK, "")
	h.log.WithFields(log.Fields{
		"actor":      cp,
		"session_fp": auth.Fingerprint(string(cred)),
		"request_id": middleware.RequestID(r.Context()),
	}).Info("console login")
	h.redirect(w, r, authflow.Destination)
}

func (h *Handlers) TermsAccept(w http.ResponseWriter, r *http.Request) {
	rq := requestFrom(r)
	if err := rq.ws.Login.AcceptTerms(r.Context()); err != nil {
		h.finish(w, r, err, guard.PathLogin)
		return
	}
	snap := rq.ws.Login.Snapshot()
	if snap.State != authflow.Authenticated {
		h.audit(r, auditTermsAccept, snap.CP, models.OutcomeError, snap.Message)
		h.redirect(w, r, guard.PathLogin)
		return
	}
	h.audit(r, auditTermsAccept, snap.CP, models.OutcomeOK, "")
	h.completeLogin(w, r, snap.CP)
}

func (h *Handlers) TermsDecline(w http.ResponseWriter, r *http.Request) {
	rq := requestFrom(r)
	err := rq.ws.Login.DeclineTerms()
	if err == nil {
		h.audit(r, auditTermsDecline, rq.ws.Login.Snapshot().CP, models.OutcomeOK, "")
	}
	h.finish(w, r, err, guard.PathLogin)
}

// Logout ends the backend session and always clears the console cookie.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	rq := requestFrom(r)
	if rq.st.Backend != "" {
		h.resolver.Logout(r.Context(), rq.st.Backend)
		h.audit(r, auditLogout, rq.st.ActorCP, models.OutcomeOK, "")
	}
	h.workspaces.Drop(rq.ws.ID)
	if err := h.jar.clear(w, r, rq.sess); err != nil {
		h.log.WithError(err).Error("console cookie not cleared")
	}
	rq.dirty = false
	h.redirect(w, r, guard.PathLogin)
}

func (h *Handlers) ResetPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "reset", http.StatusOK, page{
		Title: "Réinitialiser votre mot de passe",
		Body:  requestFrom(r).ws.Reset.Snapshot(),
	})
}

func (h *Handlers) ResetSubmit(w http.ResponseWriter, r *http.Request) {
	rq := requestFrom(r)
	email := r.PostFormValue("email")
	err := rq.ws.Reset.Request(r.Context(), email)
	if err == nil {
		snap := rq.ws.Reset.Snapshot()
		outcome := models.OutcomeOK
		if !snap.Success {
			outcome = models.OutcomeError
		}
		h.audit(r, auditResetRequest, email, outcome, snap.Message)
	}
	h.finish(w, r, err, pathReset)
}

type updateView struct {
	recovery.CompletionSnapshot
	Action  string
	Invalid bool
	Done    bool
}

func updateTarget(q url.Values) string {
	return pathUpdate + "?" + url.Values{"cp": {q.Get("cp")}, "token": {q.Get("token")}}.Encode()
}

func (h *Handlers) UpdatePage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	snap := requestFrom(r).ws.Completion(q).Snapshot()
	p := page{
		Title: "Modifier votre mot de passe",
		Body: updateView{
			CompletionSnapshot: snap,
			Action:             updateTarget(q),
			Invalid:            snap.State == recovery.Invalid,
			Done:               snap.State == recovery.Updated,
		},
	}
	if snap.RedirectTo != "" {
		p.RefreshTo = snap.RedirectTo
		p.RefreshAfter = strconv.FormatFloat(snap.RedirectAfter.Seconds(), 'f', -1, 64)
	}
	h.render(w, r, "update", http.StatusOK, p)
}

func (h *Handlers) UpdateSubmit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	c := requestFrom(r).ws.Completion(q)
	err := c.Update(r.Context(), r.PostFormValue("password"), r.PostFormValue("confirmPassword"))
	if err == nil {
		snap := c.Snapshot()
		outcome := models.OutcomeOK
		if snap.State != recovery.Updated {
			outcome = models.OutcomeError
		}
		h.audit(r, auditPasswordReset, snap.CP, outcome, snap.Message)
	}
	h.finish(w, r, err, updateTarget(q))
}
