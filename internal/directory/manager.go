// Package directory holds the agent authorization pages: looking up one
// record by CP, editing it behind a confirmation prompt, and creating new
// records.
package directory

import (
	"context"
	"errors"
	"strings"
	"sync"

	"habilitations/internal/backend"
	"habilitations/internal/confirm"
	"habilitations/internal/lifecycle"
	"habilitations/internal/models"
	"habilitations/internal/session"
	"habilitations/internal/validate"
)

const (
	MsgNotFound     = "Aucun utilisateur trouvé"
	MsgSaved        = "Modifications enregistrées avec succès !"
	MsgSaveFailed   = "Erreur lors de la mise à jour"
	MsgDeleted      = "Utilisateur supprimé avec succès !"
	MsgDeleteFailed = "Erreur lors de la suppression"

	opSearch  = "search"
	opConfirm = "confirm"
)

var (
	ErrReadOnlyField     = errors.New("directory: field cannot be edited")
	ErrUnknownField      = errors.New("directory: unknown field")
	ErrNoRecord          = errors.New("directory: no record loaded")
	ErrInvalidTransition = errors.New("directory: action not allowed in the current state")
	ErrInvalidInput      = errors.New("directory: record has field errors")
)

type State int

const (
	Empty State = iota
	Searching
	Found
	NotFound
	Editing
	ConfirmingSave
	ConfirmingDelete
	Saved
	SaveFailed
	Deleted
	DeleteFailed
)

var stateNames = [...]string{
	Empty:            "empty",
	Searching:        "searching",
	Found:            "found",
	NotFound:         "not-found",
	Editing:          "editing",
	ConfirmingSave:   "confirming-save",
	ConfirmingDelete: "confirming-delete",
	Saved:            "saved",
	SaveFailed:       "save-failed",
	Deleted:          "deleted",
	DeleteFailed:     "delete-failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Backend is the agent part of the backend client.
type Backend interface {
	GetAgent(ctx context.Context, s backend.SessionCookie, cp string) (models.Agent, error)
	UpdateAgent(ctx context.Context, s backend.SessionCookie, a models.Agent) (models.Agent, error)
	DeleteAgent(ctx context.Context, s backend.SessionCookie, cp string) error
	CreateAgent(ctx context.Context, s backend.SessionCookie, a models.Agent) (models.Agent, error)
}

// Audit action names of the agent mutations.
const (
	ActionCreate = "agent.create"
	ActionUpdate = "agent.update"
	ActionDelete = "agent.delete"
)

// Outcome describes a completed mutation, for the audit journal.
type Outcome struct {
	Action string
	Target string
	OK     bool
	Detail string
}

func actionName(k confirm.Kind) string {
	if k == confirm.KindDelete {
		return ActionDelete
	}
	return ActionUpdate
}

// Snapshot is what the manage page renders.
type Snapshot struct {
	State       State
	Query       string
	Record      *validate.AgentForm
	Errors      validate.FieldErrors
	Message     string
	Success     bool
	Confirming  confirm.Kind
	Target      string
	SearchBusy  bool
	ConfirmBusy bool
}

type agentAction = confirm.Action[backend.SessionCookie, models.Agent]

// Manager owns at most one working record.
type Manager struct {
	backend Backend
	mount   *lifecycle.Mount

	mu      sync.Mutex
	state   State
	query   string
	record  *validate.AgentForm
	errs    validate.FieldErrors
	message string
	success bool
	pending confirm.Pending[backend.SessionCookie, models.Agent]
	// resume is the state Cancel returns to.
	resume State
}

func NewManager(b Backend) *Manager {
	return &Manager{backend: b, mount: lifecycle.NewMount(), errs: validate.FieldErrors{}}
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Snapshot{
		State:       m.state,
		Query:       m.query,
		Errors:      m.errs.Clone(),
		Message:     m.message,
		Success:     m.success,
		SearchBusy:  m.mount.InFlight(opSearch),
		ConfirmBusy: m.mount.InFlight(opConfirm),
	}
	if m.record != nil {
		rec := *m.record
		s.Record = &rec
	}
	if a, ok := m.pending.Current(); ok {
		s.Confirming = a.Kind
		s.Target = a.Target
	}
	return s
}

func (m *Manager) setMessage(msg string, success bool) {
	m.message = msg
	m.success = success
}

// Search loads the record for cp. An empty query does nothing. Any failure
// clears the working record.
func (m *Manager) Search(ctx context.Context, cred backend.SessionCookie, cp string) error {
	cp = strings.TrimSpace(cp)
	if cp == "" {
		return nil
	}

	m.mu.Lock()
	tk, err := m.mount.Begin(ctx, opSearch)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	prev, prevMsg, prevSuccess := m.state, m.message, m.success
	m.query = cp
	m.state = Searching
	m.setMessage("", false)
	m.mu.Unlock()

	agent, err := m.backend.GetAgent(ctx, cred, cp)

	defer tk.Done()
	m.mu.Lock()
	defer m.mu.Unlock()
	if !tk.Live() {
		return lifecycle.ErrStale
	}
	if err != nil && (tk.Cancelled() || errors.Is(err, backend.ErrUnauthorized)) {
		m.state = prev
		m.setMessage(prevMsg, prevSuccess)
		if tk.Cancelled() {
			return ctx.Err()
		}
		return session.ErrExpired
	}
	// A new record invalidates whatever prompt was open for the old one.
	m.pending.Cancel()
	m.errs = validate.FieldErrors{}
	if err != nil {
		m.record = nil
		m.state = NotFound
		m.setMessage(backend.Message(err, MsgNotFound), false)
		return nil
	}
	form := validate.FormFromAgent(agent)
	m.record = &form
	m.state = Found
	return nil
}

// Edit changes one field of the working record in memory.
func (m *Manager) Edit(field, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.record == nil {
		return ErrNoRecord
	}
	if m.state == ConfirmingSave || m.state == ConfirmingDelete {
		return ErrInvalidTransition
	}
	switch field {
	case "cp":
		return ErrReadOnlyField
	case "nom":
		m.record.Nom = value
	case "prenom":
		m.record.Prenom = value
	case "email":
		m.record.Email = strings.TrimSpace(value)
	case "role":
		role, _ := models.ParseRole(value)
		m.record.Role = role
	default:
		return ErrUnknownField
	}
	m.errs.Clear(field)
	m.setMessage("", false)
	m.state = Editing
	return nil
}

func (m *Manager) canPropose() error {
	if m.record == nil {
		return ErrNoRecord
	}
	switch m.state {
	case Found, Editing, Saved, SaveFailed, DeleteFailed:
		return nil
	default:
		return ErrInvalidTransition
	}
}

// RequestSave opens the save prompt once the record passes validation.
// Nothing is sent yet.
func (m *Manager) RequestSave() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.canPropose(); err != nil {
		return err
	}
	m.errs = validate.Agent(*m.record)
	if !m.errs.Empty() {
		return ErrInvalidInput
	}
	target := m.record.Agent()
	m.pending.Propose(agentAction{
		Kind:   confirm.KindSave,
		Target: target.CP,
		Run: func(ctx context.Context, cred backend.SessionCookie) (models.Agent, error) {
			return m.backend.UpdateAgent(ctx, cred, target)
		},
	})
	m.resume = m.state
	m.state = ConfirmingSave
	m.setMessage("", false)
	return nil
}

// RequestDelete opens the delete prompt. Nothing is sent yet.
func (m *Manager) RequestDelete() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.canPropose(); err != nil {
		return err
	}
	cp := m.record.CP
	m.pending.Propose(agentAction{
		Kind:   confirm.KindDelete,
		Target: cp,
		Run: func(ctx context.Context, cred backend.SessionCookie) (models.Agent, error) {
			return models.Agent{}, m.backend.DeleteAgent(ctx, cred, cp)
		},
	})
	m.resume = m.state
	m.state = ConfirmingDelete
	m.setMessage("", false)
	return nil
}

// Cancel closes the open prompt; the record is left as it was.
func (m *Manager) Cancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.pending.Cancel() {
		return ErrInvalidTransition
	}
	m.state = m.resume
	return nil
}

// Confirm runs the proposed mutation. The prompt is closed whatever the
// outcome; the working record is only touched if it still holds the target.
func (m *Manager) Confirm(ctx context.Context, cred backend.SessionCookie) (Outcome, error) {
	m.mu.Lock()
	if _, ok := m.pending.Current(); !ok {
		m.mu.Unlock()
		return Outcome{}, ErrInvalidTransition
	}
	tk, err := m.mount.Begin(ctx, opConfirm)
	if err != nil {
		m.mu.Unlock()
		return Outcome{}, err
	}
	action, _ := m.pending.Take()
	resume := m.resume
	m.mu.Unlock()

	saved, err := action.Run(ctx, cred)

	defer tk.Done()
	m.mu.Lock()
	defer m.mu.Unlock()
	out := Outcome{Action: actionName(action.Kind), Target: action.Target, OK: err == nil}
	if !tk.Live() {
		return out, lifecycle.ErrStale
	}
	current := m.record != nil && m.record.CP == action.Target
	if err != nil && (tk.Cancelled() || errors.Is(err, backend.ErrUnauthorized)) {
		if current {
			m.state = resume
		}
		out.Detail = err.Error()
		if tk.Cancelled() {
			return out, ctx.Err()
		}
		return out, session.ErrExpired
	}

	var next State
	switch action.Kind {
	case confirm.KindSave:
		if err != nil {
			next = SaveFailed
			m.setMessage(backend.Message(err, MsgSaveFailed), false)
			break
		}
		next = Saved
		m.setMessage(MsgSaved, true)
		if current {
			form := validate.FormFromAgent(saved)
			m.record = &form
		}
	case confirm.KindDelete:
		if err != nil {
			next = DeleteFailed
			m.setMessage(backend.Message(err, MsgDeleteFailed), false)
			break
		}
		next = Deleted
		m.setMessage(MsgDeleted, true)
		if current {
			m.record = nil
		}
	}
	if current {
		m.state = next
	}
	if err != nil {
		out.Detail = m.message
	}
	return out, nil
}

// Clear drops the working record and any open prompt.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending.Cancel()
	m.state = Empty
	m.query = ""
	m.record = nil
	m.errs = validate.FieldErrors{}
	m.setMessage("", false)
}

func (m *Manager) Unmount() { m.mount.Unmount() }
