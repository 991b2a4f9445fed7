package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"habilitations/internal/backend"
	"habilitations/internal/lifecycle"
	"habilitations/internal/models"
	"habilitations/internal/session"
	"habilitations/internal/validate"
)

const (
	MsgCreateFailed = "Erreur lors de la création"

	opCreate = "create"
)

// CreatedMessage is the banner shown after a successful creation.
func CreatedMessage(nom, prenom string) string {
	return fmt.Sprintf("Utilisateur %s %s créé avec succès !", nom, prenom)
}

type CreationSnapshot struct {
	Form    validate.AgentForm
	Errors  validate.FieldErrors
	Message string
	Success bool
	Busy    bool
}

// CreationForm backs the add-authorization page.
type CreationForm struct {
	backend Backend
	mount   *lifecycle.Mount

	mu      sync.Mutex
	form    validate.AgentForm
	errs    validate.FieldErrors
	message string
	success bool
}

func NewCreationForm(b Backend) *CreationForm {
	return &CreationForm{
		backend: b,
		mount:   lifecycle.NewMount(),
		form:    validate.AgentForm{Role: models.RoleUser},
		errs:    validate.FieldErrors{},
	}
}

func (c *CreationForm) Snapshot() CreationSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CreationSnapshot{
		Form:    c.form,
		Errors:  c.errs.Clone(),
		Message: c.message,
		Success: c.success,
		Busy:    c.mount.InFlight(opCreate),
	}
}

// SetField updates one input, clearing its error and the success banner.
func (c *CreationForm) SetField(field, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch field {
	case "cp":
		c.form.CP = strings.TrimSpace(value)
	case "nom":
		c.form.Nom = value
	case "prenom":
		c.form.Prenom = value
	case "email":
		c.form.Email = strings.TrimSpace(value)
	case "role":
		role, _ := models.ParseRole(value)
		c.form.Role = role
	default:
		return ErrUnknownField
	}
	c.errs.Clear(field)
	if c.success {
		c.message = ""
		c.success = false
	}
	return nil
}

// Submit validates every field at once and creates the record. The input is
// kept on failure and reset on success.
func (c *CreationForm) Submit(ctx context.Context, cred backend.SessionCookie) (Outcome, error) {
	c.mu.Lock()
	c.message = ""
	c.success = false
	c.errs = validate.Agent(c.form)
	if !c.errs.Empty() {
		c.mu.Unlock()
		return Outcome{}, ErrInvalidInput
	}
	tk, err := c.mount.Begin(ctx, opCreate)
	if err != nil {
		c.mu.Unlock()
		return Outcome{}, err
	}
	agent := c.form.Agent()
	c.mu.Unlock()

	_, err = c.backend.CreateAgent(ctx, cred, agent)

	defer tk.Done()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := Outcome{Action: ActionCreate, Target: agent.CP, OK: err == nil}
	if !tk.Live() {
		return out, lifecycle.ErrStale
	}
	if err != nil && tk.Cancelled() {
		return out, ctx.Err()
	}
	if errors.Is(err, backend.ErrUnauthorized) {
		return out, session.ErrExpired
	}
	if err != nil {
		c.message = backend.Message(err, MsgCreateFailed)
		out.Detail = c.message
		return out, nil
	}
	c.form = validate.AgentForm{Role: models.RoleUser}
	c.errs = validate.FieldErrors{}
	c.message = CreatedMessage(agent.Nom, agent.Prenom)
	c.success = true
	return out, nil
}

func (c *CreationForm) Unmount() { c.mount.Unmount() }
