package web

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"habilitations/internal/directory"
	"habilitations/internal/middleware"
	"habilitations/internal/models"
)

// Journal action names.
const (
	auditLogin         = "login"
	auditTermsAccept   = "terms.accept"
	auditTermsDecline  = "terms.decline"
	auditLogout        = "logout"
	auditResetRequest  = "password.reset_request"
	auditPasswordReset = "password.update"
)

// audit records an entry without ever failing the request.
func (h *Handlers) audit(r *http.Request, action, target string, outcome models.AuditOutcome, detail string) {
	if h.journal == nil {
		return
	}
	actor := ""
	if rq := requestFrom(r); rq != nil {
		actor = rq.st.ActorCP
	}
	entry := models.AuditEntry{
		ActorCP:   actor,
		Action:    action,
		Target:    target,
		Outcome:   outcome,
		Detail:    detail,
		RequestID: middleware.RequestID(r.Context()),
	}
	// The journal write outlives a client that went away mid-request.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 2*time.Second)
	defer cancel()
	if _, err := h.journal.Record(ctx, entry); err != nil {
		h.log.WithError(err).WithFields(log.Fields{
			"action":     action,
			"request_id": entry.RequestID,
		}).Warn("audit entry not recorded")
	}
}

func (h *Handlers) auditOutcome(r *http.Request, o directory.Outcome) {
	outcome := models.OutcomeOK
	if !o.OK {
		outcome = models.OutcomeError
	}
	h.audit(r, o.Action, o.Target, outcome, o.Detail)
}
