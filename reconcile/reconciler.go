// Package reconcile bridges the identity-provider session and the backend
// session. When a provider login appears it exchanges the provider's token
// for backend tokens exactly once per provider identity; the backend pair is
// authoritative from then on.
package reconcile

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/huddleapp/huddle-go/provider"
)

// State is the reconciler's position in its sync lifecycle
type State int

const (
	// StateIdle means no sync has completed for the current provider identity
	StateIdle State = iota
	// StateSyncing means an exchange is in flight; the application should
	// show a neutral loading view instead of guessing the auth outcome
	StateSyncing
	// StateSynced means the backend session matches the provider session
	// (or there is no provider session to reconcile)
	StateSynced
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSyncing:
		return "syncing"
	case StateSynced:
		return "synced"
	default:
		return "unknown"
	}
}

// Exchanger trades a provider token for a backend session. Wrap
// auth.Service.ExchangeProviderToken in an ExchangerFunc that discards the
// returned session to satisfy it.
type Exchanger interface {
	ExchangeProviderToken(ctx context.Context, providerToken string) error
}

// ExchangerFunc adapts a function to the Exchanger interface
type ExchangerFunc func(ctx context.Context, providerToken string) error

// ExchangeProviderToken calls the wrapped function
func (f ExchangerFunc) ExchangeProviderToken(ctx context.Context, providerToken string) error {
	return f(ctx, providerToken)
}

// Reconciler drives the provider-to-backend sync state machine. Call Sync
// whenever the provider session state may have changed; repeated calls with
// the same provider identity are free.
type Reconciler struct {
	mu             sync.Mutex
	state          State
	syncedIdentity string
	syncedOnce     bool

	session   provider.Session
	exchanger Exchanger
	logger    *zap.Logger
}

// New creates a Reconciler for the given provider session
func New(session provider.Session, exchanger Exchanger, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		state:     StateIdle,
		session:   session,
		exchanger: exchanger,
		logger:    logger,
	}
}

// State returns the current sync state
func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Sync reconciles the backend session with the provider session. At most one
// exchange call is issued per provider identity; an identity change forces a
// re-sync. Exchange failure is fail-closed: the user stays logged out of the
// backend even while the provider session is live, and the next Sync retries.
func (r *Reconciler) Sync(ctx context.Context) error {
	r.mu.Lock()

	identity, err := r.session.Identity(ctx)
	if err != nil {
		r.mu.Unlock()
		r.logger.Warn("provider identity check failed", zap.Error(err))
		return err
	}

	if identity == "" {
		// No provider session. Nothing to reconcile; only settle trivially
		// if no identity was ever synced.
		if !r.syncedOnce {
			r.state = StateSynced
		}
		r.mu.Unlock()
		return nil
	}

	if r.state == StateSyncing {
		// An exchange for some identity is already in flight; let it settle.
		r.mu.Unlock()
		return nil
	}

	if r.syncedOnce && r.syncedIdentity == identity && r.state == StateSynced {
		r.mu.Unlock()
		return nil
	}

	// A different account (or a first login) needs a fresh exchange.
	r.state = StateSyncing
	r.mu.Unlock()

	token, err := r.session.Token(ctx)
	if err == nil && token == "" {
		err = errNoProviderToken
	}
	if err == nil {
		err = r.exchanger.ExchangeProviderToken(ctx, token)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err != nil {
		r.state = StateIdle
		r.logger.Warn("provider session exchange failed, staying logged out", zap.Error(err))
		return err
	}

	r.state = StateSynced
	r.syncedIdentity = identity
	r.syncedOnce = true
	r.logger.Info("provider session reconciled", zap.String("provider_identity", identity))
	return nil
}

type noProviderTokenError struct{}

func (noProviderTokenError) Error() string { return "provider session yielded no token" }

var errNoProviderToken = noProviderTokenError{}
