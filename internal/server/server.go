package server

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	_ "github.com/joho/godotenv/autoload"

	"crashpit/internal/balance"
	"crashpit/internal/cache"
	"crashpit/internal/database"
	"crashpit/internal/game"
	"crashpit/internal/ledger"
)

type FiberServer struct {
	*fiber.App

	db       database.Service
	cache    cache.Service
	wagers   ledger.Store
	balances *balance.Client
	saga     *balance.Coordinator
	hub      *game.Hub
	registry *game.Registry
}

func New() *FiberServer {
	// Initialize database
	db := database.New()

	// Initialize the sharded cache cluster
	cacheService, err := cache.New()
	if err != nil {
		log.Fatalf("[SERVER] Cache cluster is required: %v", err)
	}
	store := cacheService.Store()

	wagers := ledger.NewPostgres(db.DB())

	// Balance service client and saga coordinator
	balances := balance.NewClient(getEnv("BALANCE_SERVICE_URL", "http://localhost:8081"))
	ttl := time.Duration(getEnvAsInt("RESERVATION_TTL_MS", 30000)) * time.Millisecond
	saga := balance.NewCoordinator(balances, ttl)
	saga.StartSweeper(ttl / 2)

	// Round machinery
	cfg := game.DefaultConfig()
	cfg.Salt = getEnv("GAME_SALT", game.DEFAULT_SALT)
	cfg.Tick = time.Duration(getEnvAsInt("TICK_INTERVAL_MS", 100)) * time.Millisecond
	cfg.StartDelay = time.Duration(getEnvAsInt("ROUND_DELAY_MS", 10000)) * time.Millisecond

	hub := game.NewHub(store)
	registry := game.NewRegistry(wagers, store, saga, hub, cfg)

	server := &FiberServer{
		App: fiber.New(fiber.Config{
			ServerHeader:  "crashpit",
			AppName:       "crashpit",
			ReadTimeout:   10 * time.Second,
			WriteTimeout:  10 * time.Second,
			IdleTimeout:   120 * time.Second,
			StrictRouting: false,
		}),

		db:       db,
		cache:    cacheService,
		wagers:   wagers,
		balances: balances,
		saga:     saga,
		hub:      hub,
		registry: registry,
	}

	// Apply global middleware
	server.App.Use(recover.New())
	server.App.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
	}))

	go hub.Run()

	log.Println("[SERVER] Hub and saga sweeper started")

	return server
}

// Shutdown stops the background components and closes connections.
func (s *FiberServer) Shutdown() error {
	log.Println("[SERVER] Shutting down...")

	if s.saga != nil {
		s.saga.Stop()
	}
	if s.cache != nil {
		s.cache.Close()
	}
	if s.db != nil {
		s.db.Close()
	}

	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
