package balance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeBalanceService implements the collaborator contract in-memory: prepare
// verifies sufficiency and records the pending delta, commit applies it,
// abort discards it.
type fakeBalanceService struct {
	mu       sync.Mutex
	balances map[string]float64
	prepared map[string]float64
	tokens   map[string]Identity
}

func newFakeBalanceService() *fakeBalanceService {
	return &fakeBalanceService{
		balances: make(map[string]float64),
		prepared: make(map[string]float64),
		tokens:   make(map[string]Identity),
	}
}

func (f *fakeBalanceService) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/user/v1/balance/prepare", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserID string  `json:"user_id"`
			Amount float64 `json:"amount"`
		}
		json.NewDecoder(r.Body).Decode(&req)

		f.mu.Lock()
		defer f.mu.Unlock()
		bal, ok := f.balances[req.UserID]
		if !ok {
			http.Error(w, "user not found", http.StatusNotFound)
			return
		}
		if bal+req.Amount < 0 {
			http.Error(w, "insufficient funds", http.StatusConflict)
			return
		}
		f.prepared[req.UserID] = req.Amount
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/user/v1/balance/commit", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserID string  `json:"user_id"`
			Amount float64 `json:"amount"`
		}
		json.NewDecoder(r.Body).Decode(&req)

		f.mu.Lock()
		defer f.mu.Unlock()
		amount, ok := f.prepared[req.UserID]
		if !ok || amount != req.Amount {
			http.Error(w, "no prepared transaction", http.StatusConflict)
			return
		}
		f.balances[req.UserID] += amount
		delete(f.prepared, req.UserID)
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/user/v1/balance/abort", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserID string `json:"user_id"`
		}
		json.NewDecoder(r.Body).Decode(&req)

		f.mu.Lock()
		delete(f.prepared, req.UserID)
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/user/v1/auth/validate", func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		f.mu.Lock()
		id, ok := f.tokens[token]
		f.mu.Unlock()
		if !ok {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(id)
	})

	mux.HandleFunc("/user/v1/balance", func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		f.mu.Lock()
		bal, ok := f.balances[userID]
		f.mu.Unlock()
		if !ok {
			http.Error(w, "user not found", http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]float64{"balance": bal})
	})

	return mux
}

func (f *fakeBalanceService) balance(userID string) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[userID]
}

func (f *fakeBalanceService) hasPrepared(userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.prepared[userID]
	return ok
}

func newTestCoordinator(t *testing.T, ttl time.Duration) (*Coordinator, *fakeBalanceService) {
	t.Helper()
	fake := newFakeBalanceService()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)
	return NewCoordinator(NewClient(srv.URL), ttl), fake
}

func TestCoordinator_ReserveSufficiency(t *testing.T) {
	coord, fake := newTestCoordinator(t, time.Minute)
	ctx := context.Background()
	fake.balances["u1"] = 100

	// Reserving more than the balance is rejected.
	if err := coord.Reserve(ctx, "u1", -150); err == nil {
		t.Error("Reserve over balance succeeded")
	}

	// Within balance it is accepted, and the durable balance is untouched
	// until commit.
	if err := coord.Reserve(ctx, "u1", -80); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if got := fake.balance("u1"); got != 100 {
		t.Errorf("balance mutated before commit: %v", got)
	}

	if err := coord.Commit(ctx, "u1", -80); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if got := fake.balance("u1"); got != 20 {
		t.Errorf("balance after commit = %v, want 20", got)
	}
}

func TestCoordinator_ReserveUnknownUser(t *testing.T) {
	coord, _ := newTestCoordinator(t, time.Minute)

	if err := coord.Reserve(context.Background(), "ghost", -10); err == nil {
		t.Error("Reserve for unknown user succeeded")
	}
}

func TestCoordinator_CommitWithoutReserve(t *testing.T) {
	coord, fake := newTestCoordinator(t, time.Minute)
	ctx := context.Background()
	fake.balances["u1"] = 100

	if err := coord.Commit(ctx, "u1", -50); err == nil {
		t.Error("Commit without a prior reserve succeeded")
	}
	if got := fake.balance("u1"); got != 100 {
		t.Errorf("balance changed by unmatched commit: %v", got)
	}
}

func TestCoordinator_CommitAmountMustMatch(t *testing.T) {
	coord, fake := newTestCoordinator(t, time.Minute)
	ctx := context.Background()
	fake.balances["u1"] = 100

	if err := coord.Reserve(ctx, "u1", -30); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := coord.Commit(ctx, "u1", -40); err == nil {
		t.Error("Commit with mismatched amount succeeded")
	}
}

func TestCoordinator_AbortAfterCommitIsNoop(t *testing.T) {
	coord, fake := newTestCoordinator(t, time.Minute)
	ctx := context.Background()
	fake.balances["u1"] = 100

	if err := coord.Reserve(ctx, "u1", -25); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := coord.Commit(ctx, "u1", -25); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// The reservation is already cleared; abort must not error and must not
	// touch the balance.
	if err := coord.Abort(ctx, "u1"); err != nil {
		t.Errorf("Abort after commit: %v", err)
	}
	if err := coord.Abort(ctx, "u1"); err != nil {
		t.Errorf("second Abort: %v", err)
	}
	if got := fake.balance("u1"); got != 75 {
		t.Errorf("balance after aborts = %v, want 75", got)
	}
}

func TestCoordinator_AbortDiscardsReservation(t *testing.T) {
	coord, fake := newTestCoordinator(t, time.Minute)
	ctx := context.Background()
	fake.balances["u1"] = 100

	if err := coord.Reserve(ctx, "u1", -60); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := coord.Abort(ctx, "u1"); err != nil {
		t.Fatalf("Abort: %v", err)
	}

	// The discarded reservation cannot be committed.
	if err := coord.Commit(ctx, "u1", -60); err == nil {
		t.Error("Commit after abort succeeded")
	}
	if got := fake.balance("u1"); got != 100 {
		t.Errorf("balance after abort = %v, want 100", got)
	}
}

func TestCoordinator_SweeperAbortsExpired(t *testing.T) {
	coord, fake := newTestCoordinator(t, 20*time.Millisecond)
	ctx := context.Background()
	fake.balances["u1"] = 100

	if err := coord.Reserve(ctx, "u1", -40); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	coord.StartSweeper(10 * time.Millisecond)
	defer coord.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for fake.hasPrepared("u1") {
		if time.Now().After(deadline) {
			t.Fatal("expired reservation never aborted")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if got := coord.PendingCount(); got != 0 {
		t.Errorf("PendingCount = %d, want 0", got)
	}
	if got := fake.balance("u1"); got != 100 {
		t.Errorf("balance after sweep = %v, want 100", got)
	}
}

func TestClient_Validate(t *testing.T) {
	fake := newFakeBalanceService()
	fake.tokens["tok-1"] = Identity{UserID: "u1", Username: "alice"}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	client := NewClient(srv.URL)

	id, err := client.Validate(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if id.UserID != "u1" || id.Username != "alice" {
		t.Errorf("Validate = %+v", id)
	}

	if _, err := client.Validate(context.Background(), "bogus"); err == nil {
		t.Error("Validate accepted a bogus token")
	}
}

func TestClient_NetworkFailureIsFailure(t *testing.T) {
	// A closed server must surface an error, never a silent success.
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	client := NewClient(srv.URL)
	if err := client.Prepare(context.Background(), "u1", -10); err == nil {
		t.Error("Prepare against dead service succeeded")
	}
}
