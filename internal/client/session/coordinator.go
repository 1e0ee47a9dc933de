package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrSessionExpired is the terminal outcome of a rotation episode: the
// refresh credential was rejected (invalid or replayed) and the user
// must log in again.
var ErrSessionExpired = errors.New("session expired")

// ErrNoSession is returned when no credential pair is stored.
var ErrNoSession = errors.New("no stored session")

// RotateFunc performs the network rotation call. It must return an error
// wrapping ErrSessionExpired when the server rejects the refresh
// credential, and any other error for transient failures.
type RotateFunc func(ctx context.Context, current Pair) (Pair, error)

const defaultRotateTimeout = 30 * time.Second

// episode is one in-flight rotation shared by every caller that hit an
// expired access token for the same credential generation. The done
// channel is the completion signal; pair/err are written exactly once
// before it closes.
type episode struct {
	done chan struct{}
	pair Pair
	err  error
}

// Coordinator guarantees at most one rotation request in flight per
// session. The first caller into a generation becomes the leader and
// performs the network call; everyone else waits on the episode and is
// released when it resolves, success or failure.
type Coordinator struct {
	store   Store
	rotate  RotateFunc
	timeout time.Duration

	// onExpired fires exactly once per failed episode, regardless of
	// how many callers were waiting.
	onExpired func()

	mu       sync.Mutex
	gen      uint64
	inflight *episode
	expired  bool
}

type CoordinatorOption func(*Coordinator)

// WithRotateTimeout bounds the leader's rotation call so followers are
// never stuck behind a hung request.
func WithRotateTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) { c.timeout = d }
}

// WithExpiryNotifier registers the single "session expired" callback.
func WithExpiryNotifier(fn func()) CoordinatorOption {
	return func(c *Coordinator) { c.onExpired = fn }
}

func NewCoordinator(store Store, rotate RotateFunc, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		store:   store,
		rotate:  rotate,
		timeout: defaultRotateTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Current returns the stored pair plus the generation snapshot the
// caller must hand back to Refresh if the request is rejected.
func (c *Coordinator) Current() (Pair, uint64, error) {
	c.mu.Lock()
	gen := c.gen
	expired := c.expired
	c.mu.Unlock()

	if expired {
		return Pair{}, gen, ErrSessionExpired
	}

	pair, ok, err := c.store.Load()
	if err != nil {
		return Pair{}, gen, err
	}
	if !ok {
		return Pair{}, gen, ErrNoSession
	}
	return pair, gen, nil
}

// Reset starts a new session generation after a fresh login.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	c.gen++
	c.expired = false
	c.mu.Unlock()
}

// Refresh obtains credentials newer than the generation gen. The caller
// that opens the episode leads the rotation; concurrent callers follow
// and share its outcome. A follower may stop waiting via ctx, but the
// episode itself always runs to resolution.
func (c *Coordinator) Refresh(ctx context.Context, gen uint64) (Pair, error) {
	c.mu.Lock()

	if c.expired {
		c.mu.Unlock()
		return Pair{}, ErrSessionExpired
	}

	if gen != c.gen {
		// someone already rotated past the caller's snapshot
		c.mu.Unlock()
		pair, ok, err := c.store.Load()
		if err != nil {
			return Pair{}, err
		}
		if !ok {
			return Pair{}, ErrSessionExpired
		}
		return pair, nil
	}

	if ep := c.inflight; ep != nil {
		c.mu.Unlock()
		return waitEpisode(ctx, ep)
	}

	ep := &episode{done: make(chan struct{})}
	c.inflight = ep
	c.mu.Unlock()

	c.lead(ep)
	return ep.pair, ep.err
}

// lead performs the rotation under the coordinator's own deadline.
// Rotation is deliberately not tied to the leader's request context:
// interrupting it mid-flight would leave the consumed-or-not state of
// the refresh credential unknown.
func (c *Coordinator) lead(ep *episode) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	current, ok, err := c.store.Load()
	if err != nil {
		c.resolve(ep, Pair{}, err, false)
		return
	}
	if !ok {
		c.resolve(ep, Pair{}, ErrSessionExpired, true)
		return
	}

	next, err := c.rotate(ctx, current)
	if err != nil {
		c.resolve(ep, Pair{}, err, errors.Is(err, ErrSessionExpired))
		return
	}

	// the new pair must be durable before any waiter retries with it
	if err := c.store.Save(next); err != nil {
		c.resolve(ep, Pair{}, err, false)
		return
	}

	c.resolve(ep, next, nil, false)
}

func (c *Coordinator) resolve(ep *episode, pair Pair, err error, terminal bool) {
	c.mu.Lock()
	ep.pair = pair
	ep.err = err
	c.inflight = nil
	switch {
	case err == nil:
		c.gen++
	case terminal:
		c.expired = true
		_ = c.store.Clear()
	}
	notify := terminal && c.onExpired != nil
	c.mu.Unlock()

	close(ep.done)

	if notify {
		c.onExpired()
	}
}

func waitEpisode(ctx context.Context, ep *episode) (Pair, error) {
	select {
	case <-ep.done:
		return ep.pair, ep.err
	case <-ctx.Done():
		return Pair{}, ctx.Err()
	}
}
