// Package guard decides whether a portal view may render for the current
// session state.
package guard

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/noah-isme/course-portal-api/internal/models"
	"github.com/noah-isme/course-portal-api/internal/session"
)

// Fixed navigation targets.
const (
	HomePath    = "/"
	LoginPath   = "/auth/login"
	LandingPath = "/dashboard"
	authPrefix  = "/auth"
)

// State is the guard's view of the session.
type State int

const (
	Checking State = iota
	Authenticated
	Unauthenticated
)

func (s State) String() string {
	switch s {
	case Checking:
		return "checking"
	case Authenticated:
		return "authenticated"
	case Unauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// Action is what the caller should do with a view.
type Action int

const (
	// Wait renders a placeholder until the session is resolved.
	Wait Action = iota
	Render
	Redirect
)

// Decision is the outcome of evaluating a path.
type Decision struct {
	Action   Action
	Location string
}

// IsAuthRoute reports whether path is public-only: the home page or anything
// under /auth.
func IsAuthRoute(path string) bool {
	path = cleanPath(path)
	return path == HomePath || strings.HasPrefix(path, authPrefix)
}

// Decide is the pure transition table for a resolved or unresolved state.
func Decide(state State, path string) Decision {
	path = cleanPath(path)
	switch state {
	case Checking:
		return Decision{Action: Wait}
	case Unauthenticated:
		if !IsAuthRoute(path) {
			return Decision{Action: Redirect, Location: LoginPath}
		}
	case Authenticated:
		if IsAuthRoute(path) && path != HomePath {
			return Decision{Action: Redirect, Location: LandingPath}
		}
	}
	return Decision{Action: Render}
}

// Guard tracks session resolution over the lifetime of a client.
type Guard struct {
	store  session.Store
	logger *zap.Logger

	mu    sync.RWMutex
	state State
	user  *models.UserInfo
}

// New returns a guard in the Checking state.
func New(store session.Store, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{store: store, logger: logger, state: Checking}
}

// State returns the current state.
func (g *Guard) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// User returns the signed-in user, if any.
func (g *Guard) User() (models.UserInfo, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.user == nil {
		return models.UserInfo{}, false
	}
	return *g.user, true
}

// Resolve reads the session store and leaves Checking. A store failure
// resolves to Unauthenticated and is returned to the caller.
func (g *Guard) Resolve(ctx context.Context) (State, error) {
	s, ok, err := g.store.Current(ctx)
	if err != nil {
		g.logger.Warn("session lookup failed", zap.Error(err))
		g.set(Unauthenticated, nil)
		return Unauthenticated, err
	}
	if !ok || !s.Valid() {
		g.set(Unauthenticated, nil)
		return Unauthenticated, nil
	}
	g.set(Authenticated, &s.User)
	return Authenticated, nil
}

// Evaluate applies the transition table to the current state.
func (g *Guard) Evaluate(path string) Decision {
	return Decide(g.State(), path)
}

// Navigate re-resolves the session and evaluates path.
func (g *Guard) Navigate(ctx context.Context, path string) (Decision, error) {
	state, err := g.Resolve(ctx)
	return Decide(state, path), err
}

// SignIn stores s and moves to Authenticated.
func (g *Guard) SignIn(ctx context.Context, s session.Session) error {
	if err := g.store.Set(ctx, s); err != nil {
		return err
	}
	g.set(Authenticated, &s.User)
	return nil
}

// SignOut clears the store and moves to Unauthenticated.
func (g *Guard) SignOut(ctx context.Context) error {
	err := g.store.Clear(ctx)
	g.set(Unauthenticated, nil)
	return err
}

func (g *Guard) set(state State, user *models.UserInfo) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != state {
		g.logger.Debug("guard state change", zap.Stringer("from", g.state), zap.Stringer("to", state))
	}
	g.state = state
	if user != nil {
		u := *user
		g.user = &u
	} else {
		g.user = nil
	}
}

func cleanPath(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return HomePath
	}
	return path
}
