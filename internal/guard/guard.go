// Package guard decides which console pages a role may open and builds the
// navigation shown to it.
package guard

import (
	"strings"

	"habilitations/internal/models"
)

type Access int

const (
	AnyAuthenticated Access = iota + 1
	AdminOnly
)

func (a Access) String() string {
	switch a {
	case AnyAuthenticated:
		return "authenticated"
	case AdminOnly:
		return "admin"
	default:
		return "public"
	}
}

type Decision int

const (
	Allow Decision = iota
	RedirectLogin
	Forbidden
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case RedirectLogin:
		return "redirect-login"
	default:
		return "forbidden"
	}
}

type Route struct {
	Path   string
	Access Access
	Label  string
}

const (
	PathLogin  = "/login"
	PathRoot   = "/"
	PathMain   = "/mainPage"
	PathAdd    = "/addAuthorization"
	PathManage = "/manageAuthorization"
)

var routes = []Route{
	{Path: PathRoot, Access: AnyAuthenticated},
	{Path: PathMain, Access: AnyAuthenticated, Label: "Contrôle Nettoyage"},
	{Path: PathAdd, Access: AdminOnly, Label: "Ajouter une habilitation"},
	{Path: PathManage, Access: AdminOnly, Label: "Gérer une habilitation"},
}

// Routes returns the protected page table.
func Routes() []Route {
	out := make([]Route, len(routes))
	copy(out, routes)
	return out
}

// lookup finds the route guarding path. Sub-actions such as
// /manageAuthorization/save inherit the access of their page.
func lookup(path string) (Route, bool) {
	for _, r := range routes {
		if path == r.Path {
			return r, true
		}
	}
	for _, r := range routes {
		if r.Path != PathRoot && strings.HasPrefix(path, r.Path+"/") {
			return r, true
		}
	}
	return Route{}, false
}

// Protected reports whether path is guarded at all.
func Protected(path string) bool {
	_, ok := lookup(path)
	return ok
}

// Decide returns what happens when a session with role opens path.
func Decide(role models.Role, path string) Decision {
	r, ok := lookup(path)
	if !ok {
		return Allow
	}
	switch role {
	case models.RoleAnonymous:
		return RedirectLogin
	case models.RoleUser:
		if r.Access == AdminOnly {
			return Forbidden
		}
		return Allow
	case models.RoleAdmin:
		return Allow
	default:
		return RedirectLogin
	}
}

// DecideView is Decide for a full session view: a session whose terms were
// never accepted counts as anonymous.
func DecideView(v models.SessionView, path string) Decision {
	if !v.TermsAccepted {
		return Decide(models.RoleAnonymous, path)
	}
	return Decide(v.Role, path)
}

type NavItem struct {
	Path   string
	Label  string
	Active bool
	Admin  bool
}

// Nav is the sidebar model for one page render.
type Nav struct {
	Items         []NavItem
	SectionOpen   bool
	ShowAdminMenu bool
}

// NavItems lists the entries role may see, marking the one for current.
func NavItems(role models.Role, current string) Nav {
	nav := Nav{SectionOpen: IsSectionActive(current)}
	for _, r := range routes {
		if r.Label == "" || Decide(role, r.Path) != Allow {
			continue
		}
		admin := r.Access == AdminOnly
		nav.ShowAdminMenu = nav.ShowAdminMenu || admin
		nav.Items = append(nav.Items, NavItem{Path: r.Path, Label: r.Label, Active: IsActive(current, r.Path), Admin: admin})
	}
	return nav
}

// IsActive matches current against path exactly, except that "/" and
// "/mainPage" are the same page.
func IsActive(current, path string) bool {
	if current == path {
		return true
	}
	home := func(p string) bool { return p == PathRoot || p == PathMain }
	return home(current) && home(path)
}

// IsSectionActive reports whether current belongs to the authorization
// section, which keeps the group expanded.
func IsSectionActive(current string) bool {
	return strings.HasPrefix(current, PathAdd) || strings.HasPrefix(current, PathManage)
}
