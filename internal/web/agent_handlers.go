package web

import (
	"errors"
	"net/http"

	"habilitations/internal/confirm"
	"habilitations/internal/directory"
	"habilitations/internal/guard"
	"habilitations/internal/session"
)

var agentFields = []string{"cp", "nom", "prenom", "email", "role"}

type mainView struct {
	Admin bool
}

func (h *Handlers) MainPage(w http.ResponseWriter, r *http.Request) {
	view := session.From(r.Context())
	h.render(w, r, "main", http.StatusOK, page{
		Title: "Contrôle Nettoyage",
		Body:  mainView{Admin: guard.Decide(view.Role, guard.PathManage) == guard.Allow},
	})
}

func (h *Handlers) AddPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "add", http.StatusOK, page{
		Title: "Créer une habilitation",
		Body:  requestFrom(r).ws.Create.Snapshot(),
	})
}

func (h *Handlers) AddSubmit(w http.ResponseWriter, r *http.Request) {
	rq := requestFrom(r)
	for _, f := range agentFields {
		_ = rq.ws.Create.SetField(f, r.PostFormValue(f))
	}
	out, err := rq.ws.Create.Submit(r.Context(), rq.st.Backend)
	if err == nil {
		h.auditOutcome(r, out)
	}
	h.finish(w, r, err, guard.PathAdd)
}

type manageView struct {
	directory.Snapshot
	ConfirmSave   bool
	ConfirmDelete bool
}

func (h *Handlers) ManagePage(w http.ResponseWriter, r *http.Request) {
	snap := requestFrom(r).ws.Directory.Snapshot()
	h.render(w, r, "manage", http.StatusOK, page{
		Title: "Gérer une habilitation",
		Body: manageView{
			Snapshot:      snap,
			ConfirmSave:   snap.Confirming == confirm.KindSave,
			ConfirmDelete: snap.Confirming == confirm.KindDelete,
		},
	})
}

func (h *Handlers) ManageSearch(w http.ResponseWriter, r *http.Request) {
	rq := requestFrom(r)
	err := rq.ws.Directory.Search(r.Context(), rq.st.Backend, r.PostFormValue("cp"))
	h.finish(w, r, err, guard.PathManage)
}

// applyEdits copies the posted editable fields into the working record.
func applyEdits(m *directory.Manager, r *http.Request) error {
	if err := r.ParseForm(); err != nil {
		return err
	}
	for _, f := range agentFields[1:] {
		if _, ok := r.PostForm[f]; !ok {
			continue
		}
		if err := m.Edit(f, r.PostFormValue(f)); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handlers) ManageEdit(w http.ResponseWriter, r *http.Request) {
	h.finish(w, r, applyEdits(requestFrom(r).ws.Directory, r), guard.PathManage)
}

func (h *Handlers) ManageSave(w http.ResponseWriter, r *http.Request) {
	m := requestFrom(r).ws.Directory
	if err := applyEdits(m, r); err != nil && !errors.Is(err, directory.ErrReadOnlyField) {
		h.finish(w, r, err, guard.PathManage)
		return
	}
	h.finish(w, r, m.RequestSave(), guard.PathManage)
}

func (h *Handlers) ManageDelete(w http.ResponseWriter, r *http.Request) {
	h.finish(w, r, requestFrom(r).ws.Directory.RequestDelete(), guard.PathManage)
}

// ManageConfirm is the only handler that mutates a record on the backend.
func (h *Handlers) ManageConfirm(w http.ResponseWriter, r *http.Request) {
	rq := requestFrom(r)
	out, err := rq.ws.Directory.Confirm(r.Context(), rq.st.Backend)
	if out.Action != "" {
		h.auditOutcome(r, out)
	}
	h.finish(w, r, err, guard.PathManage)
}

func (h *Handlers) ManageCancel(w http.ResponseWriter, r *http.Request) {
	h.finish(w, r, requestFrom(r).ws.Directory.Cancel(), guard.PathManage)
}
