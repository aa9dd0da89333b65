package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"

	"crashpit/internal/cache"
	"crashpit/internal/game"
	"crashpit/internal/ledger"
)

// Inbound event payloads.

type joinRoomRequest struct {
	LobbyID int64 `json:"lobby_id"`
}

type placeBetRequest struct {
	Token       string  `json:"token"`
	LobbyID     int64   `json:"lobby_id"`
	Amount      float64 `json:"amount"`
	Coefficient float64 `json:"coefficient"`
}

type withdrawRequest struct {
	Token   string `json:"token"`
	LobbyID int64  `json:"lobby_id"`
}

// gameWebSocketHandler owns one connection: a fresh session id, a read loop
// dispatching the inbound events, and teardown of the soft state the session
// left in the store.
func (s *FiberServer) gameWebSocketHandler(conn *websocket.Conn) {
	sid := uuid.NewString()
	client := s.hub.RegisterClient(conn, sid)
	log.Printf("[WS] Session %s connected", sid)

	store := s.cache.Store()
	joined := make(map[int64]bool)

	defer func() {
		s.hub.UnregisterClient(client)
		ctx := context.Background()
		for lobbyID := range joined {
			if err := store.RemoveFromSet(ctx, cache.RoomKey(lobbyID), sid); err != nil {
				log.Printf("[WS] Session %s: leaving room %d: %v", sid, lobbyID, err)
			}
		}
		if err := store.Delete(ctx, cache.SessionKey(sid)); err != nil && !errors.Is(err, cache.ErrNotFound) {
			log.Printf("[WS] Session %s: clearing session mapping: %v", sid, err)
		}
		log.Printf("[WS] Session %s disconnected", sid)
	}()

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var ev struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(message, &ev); err != nil {
			s.sendError(client, "invalid message")
			continue
		}

		ctx := context.Background()
		switch ev.Type {
		case game.EventJoinRoom:
			s.handleJoinRoom(ctx, client, ev.Data, joined)
		case game.EventPlaceBet:
			s.handlePlaceBet(ctx, client, ev.Data)
		case game.EventWithdraw:
			s.handleWithdraw(ctx, client, ev.Data)
		default:
			s.sendError(client, "unknown event type")
		}
	}
}

func (s *FiberServer) sendError(client *game.Client, msg string) {
	client.Send(game.Event{
		Type: game.EventError,
		Data: game.ErrorPayload{Message: msg},
	})
}

func (s *FiberServer) handleJoinRoom(ctx context.Context, client *game.Client, raw json.RawMessage, joined map[int64]bool) {
	var req joinRoomRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.LobbyID == 0 {
		s.sendError(client, "lobby_id is required")
		return
	}

	if _, err := s.wagers.GetLobby(ctx, req.LobbyID); err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			s.sendError(client, "unknown lobby")
		} else {
			s.sendError(client, "lobby unavailable")
		}
		return
	}

	if err := s.cache.Store().AddToSet(ctx, cache.RoomKey(req.LobbyID), client.SessionID()); err != nil {
		log.Printf("[WS] Session %s: joining room %d: %v", client.SessionID(), req.LobbyID, err)
		s.sendError(client, "room unavailable")
		return
	}
	joined[req.LobbyID] = true
}

// authenticate validates the bearer token against the balance service and
// binds the session to the resolved user. No mutation happens before the
// token checks out.
func (s *FiberServer) authenticate(ctx context.Context, client *game.Client, token string) (string, bool) {
	if token == "" {
		return "", false
	}

	identity, err := s.balances.Validate(ctx, token)
	if err != nil {
		return "", false
	}

	store := s.cache.Store()
	if err := store.Set(ctx, cache.SessionKey(client.SessionID()), identity.UserID); err != nil {
		log.Printf("[WS] Session %s: mapping to user %s: %v", client.SessionID(), identity.UserID, err)
		return "", false
	}
	if err := store.Set(ctx, cache.TokenKey(identity.UserID), token); err != nil {
		log.Printf("[WS] Session %s: caching token for %s: %v", client.SessionID(), identity.UserID, err)
	}
	s.hub.Authenticate(client, identity.UserID)

	return identity.UserID, true
}

func (s *FiberServer) handlePlaceBet(ctx context.Context, client *game.Client, raw json.RawMessage) {
	var req placeBetRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		s.sendError(client, "invalid place_bet payload")
		return
	}
	if req.Amount <= 0 {
		s.sendError(client, "amount must be positive")
		return
	}
	if req.Coefficient < game.MIN_MULTIPLIER {
		s.sendError(client, "coefficient must be at least 1.0")
		return
	}

	userID, ok := s.authenticate(ctx, client, req.Token)
	if !ok {
		s.sendError(client, "invalid token")
		return
	}

	lobby, err := s.wagers.GetLobby(ctx, req.LobbyID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			s.sendError(client, "unknown lobby")
		} else {
			s.sendError(client, "lobby unavailable")
		}
		return
	}
	if lobby.InProgress {
		s.sendError(client, "round already in progress")
		return
	}

	// Saga: reserve the stake debit, append the wager, commit. Any failure
	// after the reserve compensates before the error reaches the client.
	if err := s.saga.Reserve(ctx, userID, -req.Amount); err != nil {
		log.Printf("[WS] Bet rejected for %s: %v", userID, err)
		s.sendError(client, "bet rejected")
		return
	}

	wagerID, err := s.wagers.InsertWager(ctx, ledger.Wager{
		UserID:           userID,
		LobbyID:          req.LobbyID,
		Amount:           req.Amount,
		TargetMultiplier: req.Coefficient,
	})
	if err != nil {
		if abortErr := s.saga.Abort(ctx, userID); abortErr != nil {
			log.Printf("[WS] Abort after failed insert for %s: %v", userID, abortErr)
		}
		log.Printf("[WS] Wager insert for %s failed: %v", userID, err)
		s.sendError(client, "bet could not be placed")
		return
	}

	if err := s.saga.Commit(ctx, userID, -req.Amount); err != nil {
		log.Printf("[WS] Commit for %s failed: %v", userID, err)
		if abortErr := s.saga.Abort(ctx, userID); abortErr != nil {
			log.Printf("[WS] Abort after failed commit for %s: %v", userID, abortErr)
		}
		if delErr := s.wagers.DeleteWager(ctx, wagerID); delErr != nil {
			log.Printf("[WS] Rollback of wager %d failed: %v", wagerID, delErr)
		}
		s.sendError(client, "bet could not be placed")
		return
	}

	client.Send(game.Event{
		Type: game.EventBetPlaced,
		Data: game.BetPlacedPayload{
			UserID:      userID,
			Amount:      req.Amount,
			Coefficient: req.Coefficient,
		},
	})

	s.registry.MaybeStart(req.LobbyID)
}

func (s *FiberServer) handleWithdraw(ctx context.Context, client *game.Client, raw json.RawMessage) {
	var req withdrawRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		s.sendError(client, "invalid withdraw payload")
		return
	}

	userID, ok := s.authenticate(ctx, client, req.Token)
	if !ok {
		s.sendError(client, "invalid token")
		return
	}

	open, err := s.wagers.OpenWagersByUser(ctx, req.LobbyID, userID)
	if err != nil {
		s.sendError(client, "lobby unavailable")
		return
	}
	if len(open) == 0 {
		s.sendError(client, "no open wager")
		return
	}

	// The tick loop observes the marker and resolves at the value of the
	// tick that sees it.
	if err := s.cache.Store().Set(ctx, cache.WithdrawKey(userID, req.LobbyID), "1"); err != nil {
		log.Printf("[WS] Withdrawal marker for %s: %v", userID, err)
		s.sendError(client, "withdrawal unavailable")
		return
	}
}
