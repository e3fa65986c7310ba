// Package navigation builds the desk menu for a session. Entries the
// session may not open are left out rather than shown disabled.
package navigation

import (
	"github.com/dalemusser/opsdesk/internal/app/system/authz"
	"github.com/dalemusser/opsdesk/internal/app/system/collections"
	"github.com/dalemusser/opsdesk/internal/app/system/session"
)

// Item is one menu entry.
type Item struct {
	Label string `json:"label"`
	Path  string `json:"path"`
	// Events is the live stream for the entry, if it has one.
	Events string `json:"events,omitempty"`

	req authz.Requirement
}

var labels = map[string]string{
	collections.Employees:    "HR",
	collections.Inventory:    "Inventory",
	collections.Transactions: "Finance",
	collections.Projects:     "Projects",
}

func items() []Item {
	out := make([]Item, 0, len(collections.Names)+1)
	for _, name := range collections.Names {
		out = append(out, Item{
			Label:  labels[name],
			Path:   "/c/" + name,
			Events: "/c/" + name + "/events",
			req:    authz.ReadRecords,
		})
	}
	out = append(out, Item{Label: "Users", Path: "/admin/users", req: authz.ManageUsers})
	return out
}

// Menu returns the entries s may open, in menu order. An anonymous
// session gets only the sign-in entry.
func Menu(s session.Session) []Item {
	if !s.Authenticated() {
		return []Item{{Label: "Sign in", Path: authz.LoginPath}}
	}
	var out []Item
	for _, it := range items() {
		if authz.Authorize(s, it.req) == authz.Allow {
			out = append(out, it)
		}
	}
	return out
}
