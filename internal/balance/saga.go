package balance

import (
	"context"
	"log"
	"sync"
	"time"
)

// API is the slice of the balance service the coordinator drives. *Client
// satisfies it; tests substitute fakes.
type API interface {
	Prepare(ctx context.Context, userID string, amount float64) error
	Commit(ctx context.Context, userID string, amount float64) error
	Abort(ctx context.Context, userID string) error
}

// Coordinator runs the reserve/commit/abort saga that keeps the remote
// balance in lock-step with local wager bookkeeping. The reversible side
// effect is always the local one: a wager row is only kept when the full
// reserve+commit pair succeeded, and a failed commit compensates with abort.
//
// Reservations carry an expiry so a client that vanishes between reserve and
// commit cannot leak a pending delta forever; a background sweep aborts
// expired ones.
type Coordinator struct {
	api API
	ttl time.Duration

	mu      sync.Mutex
	pending map[string]time.Time // userID -> reservation deadline

	stopOnce sync.Once
	stop     chan struct{}
}

func NewCoordinator(api API, ttl time.Duration) *Coordinator {
	return &Coordinator{
		api:     api,
		ttl:     ttl,
		pending: make(map[string]time.Time),
		stop:    make(chan struct{}),
	}
}

// Reserve asks the balance service to hold a signed delta for the user. The
// protocol supports at most one outstanding reservation per user; a second
// reserve overwrites the first on both sides.
func (c *Coordinator) Reserve(ctx context.Context, userID string, amount float64) error {
	if err := c.api.Prepare(ctx, userID, amount); err != nil {
		return err
	}
	c.mu.Lock()
	c.pending[userID] = time.Now().Add(c.ttl)
	c.mu.Unlock()
	return nil
}

// Commit applies the reserved delta to the durable balance. The amount must
// equal the reserved one.
func (c *Coordinator) Commit(ctx context.Context, userID string, amount float64) error {
	if err := c.api.Commit(ctx, userID, amount); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.pending, userID)
	c.mu.Unlock()
	return nil
}

// Abort discards the user's pending reservation. Idempotent: aborting twice
// or with nothing reserved is fine.
func (c *Coordinator) Abort(ctx context.Context, userID string) error {
	if err := c.api.Abort(ctx, userID); err != nil {
		// Keep the local entry so the sweeper retries the abort.
		return err
	}
	c.mu.Lock()
	delete(c.pending, userID)
	c.mu.Unlock()
	return nil
}

// StartSweeper launches the background loop that aborts expired
// reservations. Call Stop to end it.
func (c *Coordinator) StartSweeper(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.sweep()
			case <-c.stop:
				return
			}
		}
	}()
}

func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Coordinator) sweep() {
	now := time.Now()

	c.mu.Lock()
	var expired []string
	for userID, deadline := range c.pending {
		if now.After(deadline) {
			expired = append(expired, userID)
		}
	}
	c.mu.Unlock()

	for _, userID := range expired {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := c.Abort(ctx, userID)
		cancel()
		if err != nil {
			log.Printf("[SAGA] Failed to abort expired reservation for %s: %v", userID, err)
			continue
		}
		log.Printf("[SAGA] Aborted expired reservation for %s", userID)
	}
}

// PendingCount reports outstanding reservations, for health output.
func (c *Coordinator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
