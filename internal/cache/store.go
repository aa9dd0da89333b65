package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound reports an absent key. It is distinct from transport failures:
// callers probing withdrawal markers must never mistake a dead node for
// "no request".
var ErrNotFound = errors.New("cache: key not found")

// Store is the ephemeral state contract shared by the round machines and the
// websocket layer. Everything behind it is soft state, rebuildable from live
// connections; the ledger and the balance service stay the systems of record.
type Store interface {
	AddToSet(ctx context.Context, key, member string) error
	RemoveFromSet(ctx context.Context, key, member string) error
	Members(ctx context.Context, key string) ([]string, error)
	Set(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (string, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// Key families. Routing hashes the full key, so a lobby's room set and a
// user's withdrawal marker may live on different nodes.
func RoomKey(lobbyID int64) string  { return fmt.Sprintf("room:%d", lobbyID) }
func SessionKey(sid string) string  { return "session:" + sid }
func TokenKey(userID string) string { return "token:" + userID }
func WithdrawKey(userID string, lobbyID int64) string {
	return fmt.Sprintf("withdraw:%s:%d", userID, lobbyID)
}

// nodeConn is the slice of the redis client the store issues. *redis.Client
// satisfies it; tests substitute fakes built from redis.NewXxxResult.
type nodeConn interface {
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// ClusterStore routes every operation through the consistent hash ring and
// issues it against the owning cache node.
type ClusterStore struct {
	ring  *Ring
	conns map[string]nodeConn
}

func NewClusterStore(ring *Ring, conns map[string]nodeConn) *ClusterStore {
	return &ClusterStore{ring: ring, conns: conns}
}

func (s *ClusterStore) conn(key string) (nodeConn, error) {
	node := s.ring.Route(key)
	c, ok := s.conns[node]
	if !ok {
		return nil, fmt.Errorf("cache: no connection for node %q", node)
	}
	return c, nil
}

func (s *ClusterStore) AddToSet(ctx context.Context, key, member string) error {
	c, err := s.conn(key)
	if err != nil {
		return err
	}
	if err := c.SAdd(ctx, key, member).Err(); err != nil {
		return fmt.Errorf("cache: sadd %s: %w", key, err)
	}
	return nil
}

func (s *ClusterStore) RemoveFromSet(ctx context.Context, key, member string) error {
	c, err := s.conn(key)
	if err != nil {
		return err
	}
	if err := c.SRem(ctx, key, member).Err(); err != nil {
		return fmt.Errorf("cache: srem %s: %w", key, err)
	}
	return nil
}

func (s *ClusterStore) Members(ctx context.Context, key string) ([]string, error) {
	c, err := s.conn(key)
	if err != nil {
		return nil, err
	}
	members, err := c.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("cache: smembers %s: %w", key, err)
	}
	return members, nil
}

func (s *ClusterStore) Set(ctx context.Context, key, value string) error {
	c, err := s.conn(key)
	if err != nil {
		return err
	}
	if err := c.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("cache: set %s: %w", key, err)
	}
	return nil
}

func (s *ClusterStore) Get(ctx context.Context, key string) (string, error) {
	c, err := s.conn(key)
	if err != nil {
		return "", err
	}
	val, err := c.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("cache: get %s: %w", key, err)
	}
	return val, nil
}

func (s *ClusterStore) Exists(ctx context.Context, key string) (bool, error) {
	c, err := s.conn(key)
	if err != nil {
		return false, err
	}
	n, err := c.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("cache: exists %s: %w", key, err)
	}
	return n > 0, nil
}

func (s *ClusterStore) Delete(ctx context.Context, key string) error {
	c, err := s.conn(key)
	if err != nil {
		return err
	}
	if err := c.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("cache: del %s: %w", key, err)
	}
	return nil
}
