package ledger

import (
	"context"
	"errors"
)

var (
	ErrNotFound        = errors.New("ledger: not found")
	ErrInvalidWager    = errors.New("ledger: invalid wager")
	ErrAlreadyResolved = errors.New("ledger: wager already resolved")
)

// Lobby is a persistent room identity. The current seed is the head of its
// provably-fair hash chain and is replaced at the end of every round.
type Lobby struct {
	ID          int64  `json:"id"`
	InitialSeed string `json:"initial_seed"`
	CurrentSeed string `json:"current_seed"`
	InProgress  bool   `json:"in_progress"`
}

// Wager is the durable record of a stake. It transitions from unresolved to
// resolved exactly once, written only by the lobby's round machine.
type Wager struct {
	ID                   int64   `json:"id"`
	UserID               string  `json:"user_id"`
	LobbyID              int64   `json:"lobby_id"`
	Amount               float64 `json:"amount"`
	TargetMultiplier     float64 `json:"target_multiplier"`
	Resolved             bool    `json:"resolved"`
	ResolutionMultiplier float64 `json:"resolution_multiplier,omitempty"`
}

// Store is the durable system of record for stakes. The balance service owns
// the money; this ledger owns which wagers exist and how they resolved.
type Store interface {
	CreateLobby(ctx context.Context, seed string) (Lobby, error)
	GetLobby(ctx context.Context, id int64) (Lobby, error)
	SetInProgress(ctx context.Context, id int64, inProgress bool) error
	AdvanceSeed(ctx context.Context, id int64, seed string) error

	InsertWager(ctx context.Context, w Wager) (int64, error)
	// DeleteWager exists solely for the saga rollback path: a tentative row
	// whose balance commit failed. Settled wagers are never deleted.
	DeleteWager(ctx context.Context, id int64) error
	OpenWagers(ctx context.Context, lobbyID int64) ([]Wager, error)
	OpenWagersByUser(ctx context.Context, lobbyID int64, userID string) ([]Wager, error)
	ResolveWager(ctx context.Context, id int64, multiplier float64) error
}

// validateWager enforces the placement invariants shared by both stores.
func validateWager(w Wager) error {
	if w.UserID == "" || w.LobbyID == 0 {
		return ErrInvalidWager
	}
	if w.Amount <= 0 {
		return ErrInvalidWager
	}
	if w.TargetMultiplier < 1.0 {
		return ErrInvalidWager
	}
	return nil
}
