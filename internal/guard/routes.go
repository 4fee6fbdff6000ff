package guard

import (
	"strings"

	"healthconnect/backend/internal/domain"
)

const (
	HomePath  = "/"
	LoginPath = "/login"
)

// Route is a navigable path and the access rules attached to it.
type Route struct {
	Name         string
	Path         string
	GuestOnly    bool
	RequiresAuth bool
	Roles        []domain.Role
}

type Routes []Route

var adminOnly = []domain.Role{domain.RoleAdmin}

// DefaultRoutes is the application's route table.
var DefaultRoutes = Routes{
	{Name: "home", Path: "/"},
	{Name: "resources", Path: "/resources"},
	{Name: "community", Path: "/community"},
	{Name: "contact", Path: "/contact"},
	{Name: "about", Path: "/about"},
	{Name: "carer-support", Path: "/carer-support"},
	{Name: "booking", Path: "/booking", RequiresAuth: true},
	{Name: "login", Path: LoginPath, GuestOnly: true},
	{Name: "register", Path: "/register", GuestOnly: true},
	{Name: "admin", Path: "/admin", RequiresAuth: true, Roles: adminOnly},
	{Name: "admin-resources", Path: "/admin/resources", RequiresAuth: true, Roles: adminOnly},
	{Name: "admin-contacts", Path: "/admin/contacts", RequiresAuth: true, Roles: adminOnly},
}

// Lookup matches path exactly, ignoring a trailing slash.
func (rs Routes) Lookup(path string) (Route, bool) {
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
		if path == "" {
			path = "/"
		}
	}
	for _, r := range rs {
		if r.Path == path {
			return r, true
		}
	}
	return Route{}, false
}
