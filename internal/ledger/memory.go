package ledger

import (
	"context"
	"sync"
)

// Memory keeps the ledger in process memory. Tests and database-free
// development runs use it; the contract matches Postgres exactly.
type Memory struct {
	mu      sync.Mutex
	lobbies map[int64]*Lobby
	wagers  map[int64]*Wager
	nextLob int64
	nextWag int64
}

func NewMemory() *Memory {
	return &Memory{
		lobbies: make(map[int64]*Lobby),
		wagers:  make(map[int64]*Wager),
	}
}

func (m *Memory) CreateLobby(_ context.Context, seed string) (Lobby, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextLob++
	lobby := &Lobby{ID: m.nextLob, InitialSeed: seed, CurrentSeed: seed}
	m.lobbies[lobby.ID] = lobby
	return *lobby, nil
}

func (m *Memory) GetLobby(_ context.Context, id int64) (Lobby, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lobby, ok := m.lobbies[id]
	if !ok {
		return Lobby{}, ErrNotFound
	}
	return *lobby, nil
}

func (m *Memory) SetInProgress(_ context.Context, id int64, inProgress bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	lobby, ok := m.lobbies[id]
	if !ok {
		return ErrNotFound
	}
	lobby.InProgress = inProgress
	return nil
}

func (m *Memory) AdvanceSeed(_ context.Context, id int64, seed string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	lobby, ok := m.lobbies[id]
	if !ok {
		return ErrNotFound
	}
	lobby.CurrentSeed = seed
	return nil
}

func (m *Memory) InsertWager(_ context.Context, w Wager) (int64, error) {
	if err := validateWager(w); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lobbies[w.LobbyID]; !ok {
		return 0, ErrNotFound
	}
	m.nextWag++
	w.ID = m.nextWag
	w.Resolved = false
	w.ResolutionMultiplier = 0
	m.wagers[w.ID] = &w
	return w.ID, nil
}

func (m *Memory) DeleteWager(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wagers[id]
	if !ok || w.Resolved {
		return ErrNotFound
	}
	delete(m.wagers, id)
	return nil
}

func (m *Memory) OpenWagers(_ context.Context, lobbyID int64) ([]Wager, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Wager
	for _, w := range m.wagers {
		if w.LobbyID == lobbyID && !w.Resolved {
			out = append(out, *w)
		}
	}
	return out, nil
}

func (m *Memory) OpenWagersByUser(_ context.Context, lobbyID int64, userID string) ([]Wager, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Wager
	for _, w := range m.wagers {
		if w.LobbyID == lobbyID && w.UserID == userID && !w.Resolved {
			out = append(out, *w)
		}
	}
	return out, nil
}

func (m *Memory) ResolveWager(_ context.Context, id int64, multiplier float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wagers[id]
	if !ok {
		return ErrNotFound
	}
	if w.Resolved {
		return ErrAlreadyResolved
	}
	w.Resolved = true
	w.ResolutionMultiplier = multiplier
	return nil
}

// Wager returns a stored wager by id, for test assertions.
func (m *Memory) Wager(id int64) (Wager, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wagers[id]
	if !ok {
		return Wager{}, false
	}
	return *w, true
}
