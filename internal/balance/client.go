package balance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Client talks to the external balance-custody service. That service is the
// durable system of record for money; a 200 from commit means "accepted",
// not hard durability, because its write path may fail over to a replica.
type Client struct {
	baseURL string
	http    *http.Client
}

// Identity is the balance service's answer to a token validation.
type Identity struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

type deltaRequest struct {
	UserID string  `json:"user_id"`
	Amount float64 `json:"amount"`
}

type userRequest struct {
	UserID string `json:"user_id"`
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 2 * time.Second},
	}
}

// Balance fetches the user's current durable balance.
func (c *Client) Balance(ctx context.Context, userID string) (float64, error) {
	u := c.baseURL + "/user/v1/balance?user_id=" + url.QueryEscape(userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}
	res, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("balance: get: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("balance: get http %d", res.StatusCode)
	}
	var out struct {
		Balance float64 `json:"balance"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return 0, err
	}
	return out.Balance, nil
}

// AdjustBalance applies a direct, non-saga signed delta. Trusted callers only.
func (c *Client) AdjustBalance(ctx context.Context, userID string, amount float64) error {
	return c.post(ctx, http.MethodPut, "/user/v1/balance", deltaRequest{UserID: userID, Amount: amount})
}

// Validate resolves a bearer token to a user identity. Any non-200 answer is
// an authentication failure.
func (c *Client) Validate(ctx context.Context, token string) (Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/user/v1/auth/validate", nil)
	if err != nil {
		return Identity{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	res, err := c.http.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("balance: validate: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return Identity{}, fmt.Errorf("balance: validate http %d", res.StatusCode)
	}
	var id Identity
	if err := json.NewDecoder(res.Body).Decode(&id); err != nil {
		return Identity{}, err
	}
	return id, nil
}

// Prepare asks the service to record a pending signed delta without mutating
// the durable balance. The service rejects when balance+amount would go
// negative.
func (c *Client) Prepare(ctx context.Context, userID string, amount float64) error {
	return c.post(ctx, http.MethodPost, "/user/v1/balance/prepare", deltaRequest{UserID: userID, Amount: amount})
}

// Commit applies a previously prepared delta. The amount must match the
// prepared one.
func (c *Client) Commit(ctx context.Context, userID string, amount float64) error {
	return c.post(ctx, http.MethodPost, "/user/v1/balance/commit", deltaRequest{UserID: userID, Amount: amount})
}

// Abort discards any pending delta for the user. Aborting with nothing
// prepared is not an error on the service side.
func (c *Client) Abort(ctx context.Context, userID string) error {
	return c.post(ctx, http.MethodPost, "/user/v1/balance/abort", userRequest{UserID: userID})
}

func (c *Client) post(ctx context.Context, method, path string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := c.http.Do(req)
	if err != nil {
		// A failed network call is never success.
		return fmt.Errorf("balance: %s %s: %w", method, path, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("balance: %s %s http %d", method, path, res.StatusCode)
	}
	return nil
}
