package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Postgres persists lobbies and wagers through the shared database service.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) CreateLobby(ctx context.Context, seed string) (Lobby, error) {
	lobby := Lobby{InitialSeed: seed, CurrentSeed: seed}
	err := p.db.QueryRowContext(ctx,
		`INSERT INTO lobbies (initial_seed, current_seed, in_progress)
		 VALUES ($1, $1, FALSE) RETURNING id`, seed).Scan(&lobby.ID)
	if err != nil {
		return Lobby{}, fmt.Errorf("ledger: create lobby: %w", err)
	}
	return lobby, nil
}

func (p *Postgres) GetLobby(ctx context.Context, id int64) (Lobby, error) {
	var lobby Lobby
	err := p.db.QueryRowContext(ctx,
		`SELECT id, initial_seed, current_seed, in_progress FROM lobbies WHERE id = $1`, id).
		Scan(&lobby.ID, &lobby.InitialSeed, &lobby.CurrentSeed, &lobby.InProgress)
	if errors.Is(err, sql.ErrNoRows) {
		return Lobby{}, ErrNotFound
	}
	if err != nil {
		return Lobby{}, fmt.Errorf("ledger: get lobby: %w", err)
	}
	return lobby, nil
}

func (p *Postgres) SetInProgress(ctx context.Context, id int64, inProgress bool) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE lobbies SET in_progress = $2 WHERE id = $1`, id, inProgress)
	if err != nil {
		return fmt.Errorf("ledger: set in_progress: %w", err)
	}
	return checkAffected(res)
}

func (p *Postgres) AdvanceSeed(ctx context.Context, id int64, seed string) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE lobbies SET current_seed = $2 WHERE id = $1`, id, seed)
	if err != nil {
		return fmt.Errorf("ledger: advance seed: %w", err)
	}
	return checkAffected(res)
}

func (p *Postgres) InsertWager(ctx context.Context, w Wager) (int64, error) {
	if err := validateWager(w); err != nil {
		return 0, err
	}
	var id int64
	err := p.db.QueryRowContext(ctx,
		`INSERT INTO wagers (user_id, lobby_id, amount, target_multiplier, resolved)
		 VALUES ($1, $2, $3, $4, FALSE) RETURNING id`,
		w.UserID, w.LobbyID, w.Amount, w.TargetMultiplier).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ledger: insert wager: %w", err)
	}
	return id, nil
}

func (p *Postgres) DeleteWager(ctx context.Context, id int64) error {
	// Only an unresolved row may be rolled back.
	res, err := p.db.ExecContext(ctx,
		`DELETE FROM wagers WHERE id = $1 AND NOT resolved`, id)
	if err != nil {
		return fmt.Errorf("ledger: delete wager: %w", err)
	}
	return checkAffected(res)
}

func (p *Postgres) OpenWagers(ctx context.Context, lobbyID int64) ([]Wager, error) {
	return p.queryWagers(ctx,
		`SELECT id, user_id, lobby_id, amount, target_multiplier, resolved,
		        COALESCE(resolution_multiplier, 0)
		 FROM wagers WHERE lobby_id = $1 AND NOT resolved ORDER BY id`, lobbyID)
}

func (p *Postgres) OpenWagersByUser(ctx context.Context, lobbyID int64, userID string) ([]Wager, error) {
	return p.queryWagers(ctx,
		`SELECT id, user_id, lobby_id, amount, target_multiplier, resolved,
		        COALESCE(resolution_multiplier, 0)
		 FROM wagers WHERE lobby_id = $1 AND user_id = $2 AND NOT resolved ORDER BY id`,
		lobbyID, userID)
}

func (p *Postgres) ResolveWager(ctx context.Context, id int64, multiplier float64) error {
	// The resolved guard in the predicate makes resolution exactly-once even
	// if two writers raced here.
	res, err := p.db.ExecContext(ctx,
		`UPDATE wagers SET resolved = TRUE, resolution_multiplier = $2
		 WHERE id = $1 AND NOT resolved`, id, multiplier)
	if err != nil {
		return fmt.Errorf("ledger: resolve wager: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAlreadyResolved
	}
	return nil
}

func (p *Postgres) queryWagers(ctx context.Context, query string, args ...interface{}) ([]Wager, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: query wagers: %w", err)
	}
	defer rows.Close()

	var wagers []Wager
	for rows.Next() {
		var w Wager
		if err := rows.Scan(&w.ID, &w.UserID, &w.LobbyID, &w.Amount,
			&w.TargetMultiplier, &w.Resolved, &w.ResolutionMultiplier); err != nil {
			return nil, err
		}
		wagers = append(wagers, w)
	}
	return wagers, rows.Err()
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
