package cache

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/redis/go-redis/v9"
)

// Service owns the cluster of cache nodes. All key routing goes through the
// consistent hash ring; the node set is fixed at startup.
type Service interface {
	Store() Store
	Ring() *Ring
	Health() map[string]string
	Close() error
}

type service struct {
	ring    *Ring
	clients map[string]*redis.Client
	store   *ClusterStore
}

var (
	cacheNodes    = getEnv("CACHE_NODES", "localhost:6379")
	redisPassword = getEnv("REDIS_PASSWORD", "")
	redisDB       = getEnvAsInt("REDIS_DB", 0)
)

// New connects to every configured cache node. Node ids are the addresses
// themselves; a node that fails its ping keeps the service from starting,
// since silent partial clusters would misroute keys.
func New() (Service, error) {
	addrs := strings.Split(cacheNodes, ",")
	for i := range addrs {
		addrs[i] = strings.TrimSpace(addrs[i])
	}

	clients := make(map[string]*redis.Client, len(addrs))
	conns := make(map[string]nodeConn, len(addrs))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, addr := range addrs {
		client := redis.NewClient(&redis.Options{
			Addr:         addr,
			Password:     redisPassword,
			DB:           redisDB,
			PoolSize:     100,
			MinIdleConns: 10,
			MaxRetries:   3,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		})

		if _, err := client.Ping(ctx).Result(); err != nil {
			return nil, fmt.Errorf("cache: node %s unreachable: %w", addr, err)
		}

		clients[addr] = client
		conns[addr] = client
	}

	log.Printf("[CACHE] Connected to %d cache node(s)", len(clients))

	ring := NewRing(addrs)
	return &service{
		ring:    ring,
		clients: clients,
		store:   NewClusterStore(ring, conns),
	}, nil
}

func (s *service) Store() Store {
	return s.store
}

func (s *service) Ring() *Ring {
	return s.ring
}

func (s *service) Health() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	stats := make(map[string]string)
	up := 0

	for addr, client := range s.clients {
		if _, err := client.Ping(ctx).Result(); err != nil {
			stats["node:"+addr] = fmt.Sprintf("down: %v", err)
			continue
		}
		up++
		pool := client.PoolStats()
		stats["node:"+addr] = fmt.Sprintf("up (conns=%d hits=%d misses=%d)",
			pool.TotalConns, pool.Hits, pool.Misses)
	}

	if up == len(s.clients) {
		stats["status"] = "up"
	} else {
		stats["status"] = "degraded"
	}
	stats["nodes"] = strconv.Itoa(len(s.clients))

	return stats
}

func (s *service) Close() error {
	log.Println("[CACHE] Disconnecting cache nodes")
	var firstErr error
	for _, client := range s.clients {
		if err := client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
