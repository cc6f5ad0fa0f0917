// Package keys maps key presses to actions per page.
package keys

import (
	"strings"

	"github.com/gdamore/tcell/v2"
)

// Action is a key binding.
type Action struct {
	Key         tcell.Key
	Rune        rune
	Description string
	Handler     func()
	Visible     bool
}

// Matches reports whether ev triggers the action.
func (a *Action) Matches(ev *tcell.EventKey) bool {
	if a.Key != tcell.KeyRune {
		return ev.Key() == a.Key
	}
	return ev.Key() == tcell.KeyRune && ev.Rune() == a.Rune
}

type binding struct {
	name   string
	action *Action
}

// scope keeps bindings in registration order; re-adding a name replaces
// the binding in place.
type scope []binding

func (s *scope) add(name string, a *Action) {
	for i := range *s {
		if (*s)[i].name == name {
			(*s)[i].action = a
			return
		}
	}
	*s = append(*s, binding{name: name, action: a})
}

func (s scope) handle(ev *tcell.EventKey) bool {
	for _, b := range s {
		if b.action.Matches(ev) {
			if b.action.Handler != nil {
				b.action.Handler()
			}
			return true
		}
	}
	return false
}

func (s scope) hints() []string {
	var out []string
	for _, b := range s {
		if b.action.Visible {
			out = append(out, b.action.Description)
		}
	}
	return out
}

// Registry holds the global bindings and those of each page.
type Registry struct {
	global scope
	views  map[string]*scope
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{views: make(map[string]*scope)}
}

// AddGlobal registers a binding active on every page.
func (r *Registry) AddGlobal(name string, action *Action) {
	r.global.add(name, action)
}

// AddView registers a binding for one page. Page bindings shadow global
// ones on the same key.
func (r *Registry) AddView(view, name string, action *Action) {
	s, ok := r.views[view]
	if !ok {
		s = &scope{}
		r.views[view] = s
	}
	s.add(name, action)
}

// Hints returns the visible descriptions for a page, page bindings first.
func (r *Registry) Hints(view string) []string {
	var out []string
	if s, ok := r.views[view]; ok {
		out = s.hints()
	}
	return append(out, r.global.hints()...)
}

// HintLine joins the hints of a page for the status bar.
func (r *Registry) HintLine(view string) string {
	return strings.Join(r.Hints(view), "  ")
}

// HandleEvent runs the first binding matching ev and reports whether one
// did.
func (r *Registry) HandleEvent(view string, ev *tcell.EventKey) bool {
	if s, ok := r.views[view]; ok && s.handle(ev) {
		return true
	}
	return r.global.handle(ev)
}
