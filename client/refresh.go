package client

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/huddleapp/huddle-go/models"
)

// refreshResult is what a released waiter receives
type refreshResult struct {
	token string
	err   error
}

// Coordinator serializes token refreshes: however many calls hit an expired
// session concurrently, exactly one refresh round trip is issued. Callers
// that arrive while a refresh is in flight queue as waiters and are released
// in FIFO order once it settles, all with the same outcome.
type Coordinator struct {
	mu         sync.Mutex
	refreshing bool
	gen        uint64
	waiters    []chan refreshResult

	refresh  func(ctx context.Context) (*models.TokenPair, error)
	persist  func(pair *models.TokenPair)
	teardown func()
	logger   *zap.Logger
}

// NewCoordinator creates a Coordinator. refresh performs the actual refresh
// round trip, persist stores a successful result, and teardown destroys the
// session after a failure. persist and teardown run under the coordinator's
// lock and must not call back into it.
func NewCoordinator(
	refresh func(ctx context.Context) (*models.TokenPair, error),
	persist func(pair *models.TokenPair),
	teardown func(),
	logger *zap.Logger,
) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		refresh:  refresh,
		persist:  persist,
		teardown: teardown,
		logger:   logger,
	}
}

// Coordinate returns a fresh access token, either by leading a refresh or by
// waiting on the one already in flight. On failure the session has been torn
// down by the time this returns.
func (c *Coordinator) Coordinate(ctx context.Context) (string, error) {
	c.mu.Lock()

	if c.refreshing {
		ch := make(chan refreshResult, 1)
		c.waiters = append(c.waiters, ch)
		c.mu.Unlock()

		select {
		case res := <-ch:
			return res.token, res.err
		case <-ctx.Done():
			return "", NewAPIError(KindNetwork, "canceled while waiting for token refresh", ctx.Err())
		}
	}

	c.refreshing = true
	gen := c.gen
	c.mu.Unlock()

	pair, err := c.refresh(ctx)

	c.mu.Lock()
	if gen != c.gen {
		// A cancel landed while the refresh was in flight. Its waiters are
		// already released; the result must not touch the store.
		c.mu.Unlock()
		c.logger.Debug("discarding refresh result after cancel")
		return "", ErrRefreshCanceled
	}

	// Settle while still holding the lock: until the outcome has reached the
	// store, no caller may observe refreshing as false and lead a second
	// refresh for the same expiration event.
	var res refreshResult
	if err != nil {
		c.teardown()
		res = refreshResult{err: err}
	} else {
		c.persist(pair)
		res = refreshResult{token: pair.AccessToken}
	}

	c.refreshing = false
	waiters := c.waiters
	c.waiters = nil
	c.mu.Unlock()

	for _, ch := range waiters {
		ch <- res
	}

	return res.token, res.err
}

// Cancel releases all queued waiters with a terminal error and invalidates
// any in-flight refresh so its result is discarded. Pending state resets;
// a later session may refresh again.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	c.gen++
	c.refreshing = false
	waiters := c.waiters
	c.waiters = nil
	c.mu.Unlock()

	for _, ch := range waiters {
		ch <- refreshResult{err: ErrRefreshCanceled}
	}
}
