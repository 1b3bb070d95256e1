// Package router is the route table of the chat front end and the guard
// evaluated on every navigation.
package router

import "strings"

type Route struct {
	Path         string
	Name         string
	RequiresAuth bool
}

const HomePath = "/home"

// Routes lists the app's pages. NotFound matches everything else.
var (
	Routes = []Route{
		{Path: HomePath, Name: "home"},
		{Path: "/signin", Name: "signin"},
		{Path: "/register", Name: "register"},
		{Path: "/chat", Name: "chat", RequiresAuth: true},
	}
	NotFound = Route{Path: "*", Name: "404"}
)

// Session is what the guard needs to know about the current user.
type Session interface {
	Authenticated() bool
}

// Navigation is the outcome of one navigation attempt.
type Navigation struct {
	Route Route

	// Redirect is set when the guard cancelled the navigation.
	Redirect string
}

func (n Navigation) Proceed() bool {
	return n.Redirect == ""
}

// Resolve finds the route for path. "/" is the home page.
func Resolve(path string) Route {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	if path == "/" || path == "" {
		path = HomePath
	}
	for _, r := range Routes {
		if r.Path == path {
			return r
		}
	}
	return NotFound
}

// Guard returns the per-navigation check: routes that require auth redirect
// to the home page unless the session is authenticated at that moment.
func Guard(s Session) func(to Route) Navigation {
	return func(to Route) Navigation {
		if !to.RequiresAuth || s.Authenticated() {
			return Navigation{Route: to}
		}
		return Navigation{Route: Resolve(HomePath), Redirect: HomePath}
	}
}

// Router resolves paths and applies the guard.
type Router struct {
	guard func(Route) Navigation
}

func New(s Session) *Router {
	return &Router{guard: Guard(s)}
}

func (r *Router) Navigate(path string) Navigation {
	return r.guard(Resolve(path))
}
