// Package guard decides whether a navigation may proceed for the current session.
package guard

import (
	"context"
	"fmt"
	"net/url"

	"healthconnect/backend/internal/domain"
)

// AuthState is the part of the auth state manager the guard consults.
type AuthState interface {
	Ready() bool
	WaitUntilReady(ctx context.Context) error
	IsAuthenticated() bool
	HasAnyRole(roles ...domain.Role) bool
}

// Target is the destination of a navigation. FullPath includes the query string.
type Target struct {
	Route    Route
	FullPath string
}

// Decision is either an allow or a redirect to Destination with Query.
type Decision struct {
	Allow       bool
	Destination string
	Query       map[string]string
}

func allow() Decision {
	return Decision{Allow: true}
}

func redirect(dest string, query map[string]string) Decision {
	return Decision{Destination: dest, Query: query}
}

type Guard struct {
	auth   AuthState
	routes Routes
}

func New(auth AuthState, routes Routes) *Guard {
	if routes == nil {
		routes = DefaultRoutes
	}
	return &Guard{auth: auth, routes: routes}
}

// Evaluate waits for auth readiness, then applies the route rules in order:
// guest-only, authentication, roles.
func (g *Guard) Evaluate(ctx context.Context, to Target) (Decision, error) {
	if !g.auth.Ready() {
		if err := g.auth.WaitUntilReady(ctx); err != nil {
			return Decision{}, err
		}
	}

	authenticated := g.auth.IsAuthenticated()

	if to.Route.GuestOnly && authenticated {
		return redirect(HomePath, nil), nil
	}
	if to.Route.RequiresAuth && !authenticated {
		return redirect(LoginPath, map[string]string{"redirect": to.FullPath}), nil
	}
	if len(to.Route.Roles) > 0 && !g.auth.HasAnyRole(to.Route.Roles...) {
		return redirect(HomePath, nil), nil
	}
	return allow(), nil
}

// Navigate resolves fullPath against the route table and evaluates it. Unknown paths redirect home.
func (g *Guard) Navigate(ctx context.Context, fullPath string) (Decision, error) {
	u, err := url.Parse(fullPath)
	if err != nil {
		return Decision{}, fmt.Errorf("parse path %q: %w", fullPath, err)
	}

	route, ok := g.routes.Lookup(u.Path)
	if !ok {
		return redirect(HomePath, nil), nil
	}
	return g.Evaluate(ctx, Target{Route: route, FullPath: fullPath})
}
