package game

import (
	"context"
	"sync"
	"testing"
	"time"

	"crashpit/internal/cache"
)

func TestNewHub(t *testing.T) {
	hub := NewHub(cache.NewMemoryStore())

	if hub == nil {
		t.Fatal("NewHub() returned nil")
	}

	if hub.clients == nil {
		t.Error("Hub clients map is nil")
	}

	if hub.byUser == nil {
		t.Error("Hub byUser map is nil")
	}

	if hub.register == nil {
		t.Error("Hub register channel is nil")
	}

	if hub.unregister == nil {
		t.Error("Hub unregister channel is nil")
	}
}

func TestHub_Count(t *testing.T) {
	hub := NewHub(cache.NewMemoryStore())

	if count := hub.Count(); count != 0 {
		t.Errorf("Count() = %v, want 0", count)
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	hub := NewHub(cache.NewMemoryStore())
	go hub.Run()

	client := hub.RegisterClient(nil, "sid-1")
	if client.SessionID() != "sid-1" {
		t.Errorf("SessionID() = %v", client.SessionID())
	}

	waitFor(t, func() bool { return hub.Count() == 1 })

	hub.Authenticate(client, "u1")
	if client.UserID() != "u1" {
		t.Errorf("UserID() = %v, want u1", client.UserID())
	}

	hub.mu.RLock()
	_, indexed := hub.byUser["u1"]["sid-1"]
	hub.mu.RUnlock()
	if !indexed {
		t.Error("authenticated session not indexed by user")
	}
}

func TestHub_ToRoom_UnknownSessionsIgnored(t *testing.T) {
	store := cache.NewMemoryStore()
	hub := NewHub(store)
	go hub.Run()

	// Membership names sessions hosted by another instance; delivery here
	// must quietly skip them.
	store.AddToSet(context.Background(), cache.RoomKey(5), "remote-session")
	hub.ToRoom(context.Background(), 5, Event{Type: EventCoefficientUpdate})
}

func TestHub_Count_ThreadSafe(t *testing.T) {
	hub := NewHub(cache.NewMemoryStore())
	go hub.Run()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = hub.Count()
		}()
	}

	done := make(chan bool)
	go func() {
		wg.Wait()
		done <- true
	}()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Error("Concurrent Count() timed out")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition never became true")
		}
		time.Sleep(time.Millisecond)
	}
}
