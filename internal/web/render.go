package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"

	"habilitations/internal/guard"
	"habilitations/internal/middleware"
	"habilitations/internal/models"
	"habilitations/internal/session"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageNames = []string{"login", "reset", "update", "main", "add", "manage", "forbidden"}

var templateFuncs = template.FuncMap{
	"roles": models.AgentRoles,
}

func parseTemplates() (map[string]*template.Template, error) {
	out := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		t, err := template.New("layout.html").Funcs(templateFuncs).ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		out[name] = t
	}
	return out, nil
}

// page is the data every template receives.
type page struct {
	Title     string
	CSRF      string
	CSRFField string
	Nav       guard.Nav
	ShowNav   bool
	Role      models.Role
	Flashes   []string
	RequestID string
	// Refresh sends the browser to RefreshTo after RefreshAfter seconds.
	RefreshTo    string
	RefreshAfter string
	Body         any
}

func (h *Handlers) render(w http.ResponseWriter, r *http.Request, name string, status int, p page) {
	t, ok := h.pages[name]
	if !ok {
		http.Error(w, "page not found", http.StatusInternalServerError)
		return
	}
	p.CSRFField = middleware.CSRFField
	p.RequestID = middleware.RequestID(r.Context())
	if rq := requestFrom(r); rq != nil {
		p.CSRF = rq.st.CSRF
		if flashes := rq.sess.Flashes(); len(flashes) > 0 {
			for _, f := range flashes {
				if s, ok := f.(string); ok {
					p.Flashes = append(p.Flashes, s)
				}
			}
			rq.dirty = true
		}
	}
	view := session.From(r.Context())
	if view.Role.Authenticated() {
		p.ShowNav = true
		p.Role = view.Role
		p.Nav = guard.NavItems(view.Role, r.URL.Path)
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", p); err != nil {
		h.log.WithError(err).WithField("page", name).Error("render failed")
		http.Error(w, "Erreur interne", http.StatusInternalServerError)
		return
	}
	h.commit(w, r)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}
