package game

import (
	"context"
	"log"
	"sync"
	"sync/atomic"

	"crashpit/internal/cache"
	"crashpit/internal/ledger"
)

// Registry owns the round machines, one per lobby. The start guard is an
// atomic flag per lobby: concurrent first wagers may both see "one open
// wager", but only the CompareAndSwap winner spawns the round. Two RUNNING
// loops for one lobby would double-resolve wagers, so this is a correctness
// requirement, not a nicety.
type Registry struct {
	ledger ledger.Store
	store  cache.Store
	payer  Payer
	notify Notifier
	cfg    Config

	mu     sync.Mutex
	guards map[int64]*atomic.Bool
}

func NewRegistry(l ledger.Store, s cache.Store, p Payer, n Notifier, cfg Config) *Registry {
	return &Registry{
		ledger: l,
		store:  s,
		payer:  p,
		notify: n,
		cfg:    cfg,
		guards: make(map[int64]*atomic.Bool),
	}
}

func (g *Registry) guard(lobbyID int64) *atomic.Bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.guards[lobbyID]
	if !ok {
		b = &atomic.Bool{}
		g.guards[lobbyID] = b
	}
	return b
}

// MaybeStart spawns a round for the lobby unless one is already starting or
// running. Reports whether this call won the spawn.
func (g *Registry) MaybeStart(lobbyID int64) bool {
	guard := g.guard(lobbyID)
	if !guard.CompareAndSwap(false, true) {
		return false
	}

	go func() {
		defer guard.Store(false)
		round := NewRound(lobbyID, g.ledger, g.store, g.payer, g.notify, g.cfg)
		if err := round.Run(context.Background()); err != nil {
			log.Printf("[GAME] Lobby %d round aborted: %v", lobbyID, err)
		}
	}()
	return true
}

// Running reports whether the lobby currently has a round starting or in
// flight, for health output.
func (g *Registry) Running(lobbyID int64) bool {
	return g.guard(lobbyID).Load()
}
