package game

import "context"

// Event names on the realtime channel.
const (
	EventJoinRoom          = "joinRoom"
	EventPlaceBet          = "place_bet"
	EventWithdraw          = "withdraw"
	EventBetPlaced         = "bet_placed"
	EventCoefficientUpdate = "coefficient_update"
	EventBetResult         = "bet_result"
	EventError             = "error"
)

// Event is the envelope every websocket message travels in.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

type BetPlacedPayload struct {
	UserID      string  `json:"user_id"`
	Amount      float64 `json:"amount"`
	Coefficient float64 `json:"coefficient"`
}

type CoefficientPayload struct {
	Coefficient float64 `json:"coefficient"`
}

type BetResultPayload struct {
	UserID string  `json:"user_id"`
	Result string  `json:"result"` // "cashout" or "loss"
	Payout float64 `json:"payout"` // net winnings, negative for a loss
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// ResolutionKind is the closed set of ways a wager leaves a round.
type ResolutionKind int

const (
	// ManualCashout: the player requested a withdrawal mid-round and the
	// tick loop resolved it at the rising value of that tick.
	ManualCashout ResolutionKind = iota
	// AutoCashout: the round reached the wager's declared target before
	// crashing.
	AutoCashout
	// Loss: the crash came first.
	Loss
)

// Resolution pairs the outcome with the multiplier it settled at. Losses
// record the crash value.
type Resolution struct {
	Kind       ResolutionKind
	Multiplier float64
}

// Net returns the signed balance change the resolution yields for a stake.
func (r Resolution) Net(stake float64) float64 {
	if r.Kind == Loss {
		return -stake
	}
	return stake*r.Multiplier - stake
}

// GrossReturn is what the balance service must be credited: the full stake
// times the multiplier for cashouts, nothing for losses (the stake debit
// already happened at placement).
func (r Resolution) GrossReturn(stake float64) float64 {
	if r.Kind == Loss {
		return 0
	}
	return stake * r.Multiplier
}

// Payer is the slice of the saga coordinator the round machine drives for
// settlement credits.
type Payer interface {
	Reserve(ctx context.Context, userID string, amount float64) error
	Commit(ctx context.Context, userID string, amount float64) error
	Abort(ctx context.Context, userID string) error
}

// Notifier delivers realtime events. The websocket hub implements it; tests
// substitute a recorder.
type Notifier interface {
	ToRoom(ctx context.Context, lobbyID int64, event Event)
	ToUser(userID string, event Event)
}
