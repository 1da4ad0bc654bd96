// ABOUTME: Registry of completion tokens for in-flight streaming workflows.
// ABOUTME: Enforces at-most-once completion and notifies listeners on finish.

package completion

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Token identifies one top-level streaming workflow. Tokens are minted by
// Registry.Create and are opaque to everything else: intermediate layers
// forward them unchanged and leaf operations may only query them.
type Token string

// OwnershipError reports a completion contract violation: SignalCompletion
// was called with a token that is not currently active, either because the
// token was never created or because it was already completed. It is always
// a programming bug somewhere in the call graph, never a transient condition.
type OwnershipError struct {
	Token Token

	// AlreadyCompleted is true if the token was completed before, which
	// distinguishes a double-completion from a never-created token in logs.
	AlreadyCompleted bool
}

func (e *OwnershipError) Error() string {
	if e.AlreadyCompleted {
		return fmt.Sprintf("completion already signalled for token %s", e.Token)
	}
	return fmt.Sprintf("unknown completion token %s", e.Token)
}

// Listener receives the token of a workflow whose completion was just
// signalled. Listeners must not block for long and must not panic; panics
// are recovered and logged but indicate a broken listener.
type Listener func(Token)

// Registry is the single authority for "has workflow X finished?". It is
// shared, process-wide state: one instance is created at startup and every
// transport handler, sub-workflow, and leaf operation consults the same one.
// Each token is only ever completed by its creator, so the registry needs no
// per-token locking, just one mutex over the shared sets.
type Registry struct {
	mu        sync.Mutex
	active    map[Token]struct{}
	completed map[Token]struct{}
	listeners []Listener
	logger    *slog.Logger
}

// NewRegistry creates an empty registry. Pass nil logger for default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		active:    make(map[Token]struct{}),
		completed: make(map[Token]struct{}),
		logger:    logger.With("component", "completion"),
	}
}

// Create mints a fresh token and marks it active. It is called exactly once
// per top-level workflow, by the component that owns that workflow's
// outermost lifecycle (the transport handler), never by nested layers.
func (r *Registry) Create() Token {
	token := Token(uuid.New().String())

	r.mu.Lock()
	r.active[token] = struct{}{}
	r.mu.Unlock()

	r.logger.Debug("completion token created", "token", token)
	return token
}

// SignalCompletion moves a token from active to completed and notifies
// listeners. It fails with *OwnershipError if the token is not currently
// active, which covers both unknown tokens and double-completion. After a
// successful call, IsCompleted reports true and a second call with the same
// token deterministically fails.
//
// Listeners are invoked synchronously, after registry state is updated and
// the lock released. A panicking listener cannot corrupt registry state.
func (r *Registry) SignalCompletion(token Token) error {
	r.mu.Lock()
	if _, ok := r.active[token]; !ok {
		_, wasCompleted := r.completed[token]
		r.mu.Unlock()
		return &OwnershipError{Token: token, AlreadyCompleted: wasCompleted}
	}

	delete(r.active, token)
	r.completed[token] = struct{}{}

	// Snapshot listeners under the lock, invoke outside it
	listeners := make([]Listener, len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.Unlock()

	r.logger.Debug("completion signalled", "token", token)

	for _, fn := range listeners {
		r.notify(fn, token)
	}
	return nil
}

// notify invokes a single listener with panic isolation.
func (r *Registry) notify(fn Listener, token Token) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("completion listener panicked",
				"token", token,
				"panic", rec)
		}
	}()
	fn(token)
}

// IsCompleted reports whether completion has been signalled for the token.
// This is a query, not a validation: tokens the registry has never seen are
// reported as not completed rather than erroring.
func (r *Registry) IsCompleted(token Token) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.completed[token]
	return ok
}

// ActiveCount returns the number of tokens that are live but not yet
// completed. A count that grows without bound means some workflow is never
// signalling completion; it is surfaced on the health endpoint so monitoring
// can flag the leak.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.active)
}

// OnCompletion registers a listener invoked for every successfully signalled
// completion. Registration is append-only; the registry lives for the
// process lifetime so there is no unregister.
func (r *Registry) OnCompletion(fn Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.listeners = append(r.listeners, fn)
}
