// Package validate holds the field checks shared by every console form.
//
// The single-value checks (Identifier, ProfessionalEmail, Required,
// PasswordMatch) are pure. The form checks run all of them through
// go-playground/validator and report every failing field at once.
package validate

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"habilitations/internal/models"
)

var (
	identifierRx = regexp.MustCompile(`^\d{7}[A-Z]$`)
	sncfEmailRx  = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@sncf\.fr$`)
)

var (
	ErrRequired          = errors.New("Veuillez remplir ce champ")
	ErrIdentifierFormat  = errors.New("Le CP doit contenir 7 chiffres suivis d’une lettre majuscule")
	ErrEmailFormat       = errors.New("L’email doit se terminer par @sncf.fr")
	ErrPasswordsMismatch = errors.New("Les mots de passe ne correspondent pas")
	ErrRoleUnknown       = errors.New("Rôle inconnu")
)

func Identifier(cp string) error {
	if !identifierRx.MatchString(cp) {
		return ErrIdentifierFormat
	}
	return nil
}

func ProfessionalEmail(email string) error {
	if !sncfEmailRx.MatchString(email) {
		return ErrEmailFormat
	}
	return nil
}

func Required(value string) error {
	if strings.TrimSpace(value) == "" {
		return ErrRequired
	}
	return nil
}

func PasswordMatch(a, b string) error {
	if a != b {
		return ErrPasswordsMismatch
	}
	return nil
}

// FieldErrors maps a form field name to the message shown under it.
type FieldErrors map[string]string

func (fe FieldErrors) Empty() bool { return len(fe) == 0 }

func (fe FieldErrors) Get(field string) string { return fe[field] }

// Clear drops the error of one field, as when the user edits it.
func (fe FieldErrors) Clear(field string) { delete(fe, field) }

func (fe FieldErrors) Clone() FieldErrors {
	out := make(FieldErrors, len(fe))
	for k, v := range fe {
		out[k] = v
	}
	return out
}

func (fe FieldErrors) set(field string, err error) {
	if err != nil {
		fe[field] = err.Error()
	}
}

// tag → message; one entry per validation tag used by the form structs.
var tagMessages = map[string]error{
	"required":  ErrRequired,
	"cp":        ErrIdentifierFormat,
	"sncfemail": ErrEmailFormat,
	"eqfield":   ErrPasswordsMismatch,
	"agentrole": ErrRoleUnknown,
}

var structValidator = newStructValidator()

func newStructValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("form"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("cp", func(fl validator.FieldLevel) bool {
		return Identifier(fl.Field().String()) == nil
	})
	_ = v.RegisterValidation("sncfemail", func(fl validator.FieldLevel) bool {
		return ProfessionalEmail(fl.Field().String()) == nil
	})
	_ = v.RegisterValidation("agentrole", func(fl validator.FieldLevel) bool {
		role := models.Role(fl.Field().Int())
		return role == models.RoleUser || role == models.RoleAdmin
	})
	return v
}

// check validates s and converts the result to FieldErrors. Within a field
// the first failing tag wins, so "required" hides the format message.
func check(s any) FieldErrors {
	out := FieldErrors{}
	err := structValidator.Struct(s)
	if err == nil {
		return out
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		out["_form"] = err.Error()
		return out
	}
	for _, e := range verrs {
		if _, seen := out[e.Field()]; seen {
			continue
		}
		msg, ok := tagMessages[e.Tag()]
		if !ok {
			out[e.Field()] = "Champ invalide"
			continue
		}
		out.set(e.Field(), msg)
	}
	return out
}

type loginForm struct {
	CP       string `form:"cp" validate:"required,cp"`
	Password string `form:"password" validate:"required"`
}

// Login checks the login form. Both fields are required and the CP must be
// well formed.
func Login(cp, password string) FieldErrors {
	return check(loginForm{CP: cp, Password: password})
}

// AgentForm is the editable shape of an agent record.
type AgentForm struct {
	CP     string      `form:"cp" validate:"required,cp"`
	Nom    string      `form:"nom" validate:"required"`
	Prenom string      `form:"prenom" validate:"required"`
	Email  string      `form:"email" validate:"required,sncfemail"`
	Role   models.Role `form:"role" validate:"agentrole"`
}

func (f AgentForm) Agent() models.Agent {
	return models.Agent{CP: f.CP, Nom: f.Nom, Prenom: f.Prenom, Email: f.Email, Role: f.Role}
}

func FormFromAgent(a models.Agent) AgentForm {
	return AgentForm{CP: a.CP, Nom: a.Nom, Prenom: a.Prenom, Email: a.Email, Role: a.Role}
}

func Agent(f AgentForm) FieldErrors { return check(f) }

type resetRequestForm struct {
	Email string `form:"email" validate:"required,sncfemail"`
}

func ResetRequest(email string) FieldErrors {
	return check(resetRequestForm{Email: email})
}

type passwordUpdateForm struct {
	Password        string `form:"password" validate:"required"`
	ConfirmPassword string `form:"confirmPassword" validate:"required,eqfield=Password"`
}

func PasswordUpdate(password, confirm string) FieldErrors {
	return check(passwordUpdateForm{Password: password, ConfirmPassword: confirm})
}
