package game

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"crashpit/internal/cache"
	"crashpit/internal/ledger"
)

const (
	TICK_INTERVAL = 100 * time.Millisecond
	ROUND_DELAY   = 10 * time.Second
	RISE_STEP     = 0.01
)

// Config carries the knobs a Round runs under. Tests shrink the intervals.
type Config struct {
	Salt       string
	Tick       time.Duration
	Step       float64
	StartDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		Salt:       DEFAULT_SALT,
		Tick:       TICK_INTERVAL,
		Step:       RISE_STEP,
		StartDelay: ROUND_DELAY,
	}
}

// Round drives one lobby through WAITING -> RUNNING -> SETTLING and back.
// It is the sole writer of the lobby's in_progress flag, its seed, and every
// wager belonging to the round; handlers only enqueue wager rows and
// withdrawal markers that the tick loop observes.
type Round struct {
	lobbyID int64
	ledger  ledger.Store
	store   cache.Store
	payer   Payer
	notify  Notifier
	cfg     Config
}

func NewRound(lobbyID int64, l ledger.Store, s cache.Store, p Payer, n Notifier, cfg Config) *Round {
	return &Round{lobbyID: lobbyID, ledger: l, store: s, payer: p, notify: n, cfg: cfg}
}

// Run executes one full round. It returns once the lobby is back in WAITING;
// settlement push failures are logged, never returned, so a flaky balance
// service cannot wedge the lobby.
func (r *Round) Run(ctx context.Context) error {
	// Waiting window: later wagers can still join behind the first one.
	if r.cfg.StartDelay > 0 {
		select {
		case <-time.After(r.cfg.StartDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	lobby, err := r.ledger.GetLobby(ctx, r.lobbyID)
	if err != nil {
		return fmt.Errorf("round: load lobby %d: %w", r.lobbyID, err)
	}

	if err := r.ledger.SetInProgress(ctx, r.lobbyID, true); err != nil {
		return fmt.Errorf("round: mark in progress: %w", err)
	}

	crash := DeriveMultiplier(lobby.CurrentSeed, r.cfg.Salt)
	log.Printf("[GAME] Lobby %d round started, crash at %.2fx (hidden)", r.lobbyID, crash)

	// Gross returns owed per user, accumulated as wagers resolve.
	returns := make(map[string]float64)

	r.runTicks(ctx, crash, returns)
	r.settle(ctx, crash, returns)
	r.pushReturns(ctx, returns)

	if err := r.ledger.SetInProgress(ctx, r.lobbyID, false); err != nil {
		log.Printf("[GAME] Lobby %d: clearing in_progress failed: %v", r.lobbyID, err)
	}
	if err := r.ledger.AdvanceSeed(ctx, r.lobbyID, NextSeed(lobby.CurrentSeed)); err != nil {
		log.Printf("[GAME] Lobby %d: seed advance failed: %v", r.lobbyID, err)
	}

	log.Printf("[GAME] Lobby %d round ended at %.2fx", r.lobbyID, crash)
	return nil
}

// runTicks is the RUNNING state: a fixed-period loop that raises the value,
// resolves manual withdrawals at the current value, and broadcasts each tick
// until the crash multiplier is reached.
func (r *Round) runTicks(ctx context.Context, crash float64, returns map[string]float64) {
	value := MIN_MULTIPLIER
	ticker := time.NewTicker(r.cfg.Tick)
	defer ticker.Stop()

	for value < crash {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}

		r.resolveWithdrawals(ctx, value, returns)
		r.notify.ToRoom(ctx, r.lobbyID, Event{
			Type: EventCoefficientUpdate,
			Data: CoefficientPayload{Coefficient: value},
		})

		// Keep the value an exact hundredth; drifting floats would leak
		// into resolution multipliers.
		value = math.Round((value+r.cfg.Step)*100) / 100
	}
}

// resolveWithdrawals polls the ephemeral store for withdrawal markers across
// every user currently mapped into the room and resolves all their open
// wagers at the current rising value.
func (r *Round) resolveWithdrawals(ctx context.Context, value float64, returns map[string]float64) {
	sids, err := r.store.Members(ctx, cache.RoomKey(r.lobbyID))
	if err != nil {
		log.Printf("[GAME] Lobby %d: room membership unavailable: %v", r.lobbyID, err)
		return
	}

	seen := make(map[string]bool)
	for _, sid := range sids {
		userID, err := r.store.Get(ctx, cache.SessionKey(sid))
		if err != nil {
			if err != cache.ErrNotFound {
				log.Printf("[GAME] Lobby %d: session lookup %s: %v", r.lobbyID, sid, err)
			}
			continue
		}
		if seen[userID] {
			continue
		}
		seen[userID] = true

		marker := cache.WithdrawKey(userID, r.lobbyID)
		requested, err := r.store.Exists(ctx, marker)
		if err != nil {
			// A dead cache node is not "no request"; skip and retry next tick.
			log.Printf("[GAME] Lobby %d: withdrawal probe for %s: %v", r.lobbyID, userID, err)
			continue
		}
		if !requested {
			continue
		}

		if r.resolveUserWagers(ctx, userID, value, returns) {
			if err := r.store.Delete(ctx, marker); err != nil {
				log.Printf("[GAME] Lobby %d: clearing marker for %s: %v", r.lobbyID, userID, err)
			}
		}
	}
}

// resolveUserWagers cashes out every open wager the user holds in this lobby
// at the given value. Reports whether all resolutions went through.
func (r *Round) resolveUserWagers(ctx context.Context, userID string, value float64, returns map[string]float64) bool {
	wagers, err := r.ledger.OpenWagersByUser(ctx, r.lobbyID, userID)
	if err != nil {
		log.Printf("[GAME] Lobby %d: open wagers for %s: %v", r.lobbyID, userID, err)
		return false
	}

	ok := true
	res := Resolution{Kind: ManualCashout, Multiplier: value}
	for _, w := range wagers {
		if err := r.ledger.ResolveWager(ctx, w.ID, value); err != nil {
			log.Printf("[GAME] Lobby %d: resolve wager %d: %v", r.lobbyID, w.ID, err)
			ok = false
			continue
		}
		returns[userID] += res.GrossReturn(w.Amount)
		r.notify.ToUser(userID, Event{
			Type: EventBetResult,
			Data: BetResultPayload{UserID: userID, Result: "cashout", Payout: res.Net(w.Amount)},
		})
		log.Printf("[GAME] Lobby %d: %s cashed out wager %d at %.2fx", r.lobbyID, userID, w.ID, value)
	}
	return ok
}

// settle is the SETTLING state: whatever is still open resolves without
// further ticking, either at its own auto-cashout target or as a loss at the
// crash value.
func (r *Round) settle(ctx context.Context, crash float64, returns map[string]float64) {
	wagers, err := r.ledger.OpenWagers(ctx, r.lobbyID)
	if err != nil {
		log.Printf("[GAME] Lobby %d: settlement load failed: %v", r.lobbyID, err)
		return
	}

	for _, w := range wagers {
		res := Resolution{Kind: AutoCashout, Multiplier: w.TargetMultiplier}
		result := "cashout"
		if w.TargetMultiplier > crash {
			res = Resolution{Kind: Loss, Multiplier: crash}
			result = "loss"
		}

		if err := r.ledger.ResolveWager(ctx, w.ID, res.Multiplier); err != nil {
			log.Printf("[GAME] Lobby %d: settle wager %d: %v", r.lobbyID, w.ID, err)
			continue
		}
		returns[w.UserID] += res.GrossReturn(w.Amount)
		r.notify.ToUser(w.UserID, Event{
			Type: EventBetResult,
			Data: BetResultPayload{UserID: w.UserID, Result: result, Payout: res.Net(w.Amount)},
		})
	}
}

// pushReturns credits each user's aggregated round return through the saga.
// Failures are surfaced in the log for reconciliation and never retried
// here: round liveness beats funds delivery.
func (r *Round) pushReturns(ctx context.Context, returns map[string]float64) {
	for userID, amount := range returns {
		if amount <= 0 {
			continue
		}
		if err := r.payer.Reserve(ctx, userID, amount); err != nil {
			log.Printf("[GAME] Lobby %d: payout reserve for %s (%.2f) failed: %v", r.lobbyID, userID, amount, err)
			continue
		}
		if err := r.payer.Commit(ctx, userID, amount); err != nil {
			log.Printf("[GAME] Lobby %d: payout commit for %s (%.2f) failed: %v", r.lobbyID, userID, amount, err)
			if abortErr := r.payer.Abort(ctx, userID); abortErr != nil {
				log.Printf("[GAME] Lobby %d: payout abort for %s failed: %v", r.lobbyID, userID, abortErr)
			}
		}
	}
}
