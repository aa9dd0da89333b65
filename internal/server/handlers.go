package server

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"crashpit/internal/game"
	"crashpit/internal/ledger"
)

// Health handler
func (s *FiberServer) healthHandler(c *fiber.Ctx) error {
	health := fiber.Map{
		"database": s.db.Health(),
		"cache":    s.cache.Health(),
		"realtime": fiber.Map{
			"status":            "running",
			"connected_clients": s.hub.Count(),
		},
	}
	return c.JSON(health)
}

// Lobby handlers

func (s *FiberServer) createLobbyHandler(c *fiber.Ctx) error {
	var body struct {
		Seed string `json:"seed"`
	}
	// Body is optional; an omitted seed starts a fresh chain.
	c.BodyParser(&body)

	seed := body.Seed
	if seed == "" {
		seed = game.NewChainSeed()
	}

	lobby, err := s.wagers.CreateLobby(c.Context(), seed)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to create lobby",
		})
	}

	return c.Status(201).JSON(fiber.Map{
		"lobby_id":     lobby.ID,
		"initial_seed": lobby.InitialSeed,
	})
}

func (s *FiberServer) getLobbyHandler(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid lobby id",
		})
	}

	lobby, err := s.wagers.GetLobby(c.Context(), id)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return c.Status(404).JSON(fiber.Map{
				"error": "Lobby not found",
			})
		}
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to load lobby",
		})
	}

	// The current seed stays hidden until the round it decided is over.
	return c.JSON(fiber.Map{
		"lobby_id":      lobby.ID,
		"initial_seed":  lobby.InitialSeed,
		"in_progress":   lobby.InProgress,
		"websocket_url": "/ws",
	})
}

// directBetHandler appends a wager for trusted internal callers. No saga leg
// runs here; the caller settles funds itself.
func (s *FiberServer) directBetHandler(c *fiber.Ctx) error {
	var req struct {
		UserID      string  `json:"user_id"`
		LobbyID     int64   `json:"lobby_id"`
		Amount      float64 `json:"amount"`
		Coefficient float64 `json:"coefficient"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	lobby, err := s.wagers.GetLobby(c.Context(), req.LobbyID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return c.Status(404).JSON(fiber.Map{
				"error": "Lobby not found",
			})
		}
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to load lobby",
		})
	}
	if lobby.InProgress {
		return c.Status(409).JSON(fiber.Map{
			"error": "Round already in progress",
		})
	}

	id, err := s.wagers.InsertWager(c.Context(), ledger.Wager{
		UserID:           req.UserID,
		LobbyID:          req.LobbyID,
		Amount:           req.Amount,
		TargetMultiplier: req.Coefficient,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidWager) {
			return c.Status(400).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to record wager",
		})
	}

	s.registry.MaybeStart(req.LobbyID)

	return c.Status(201).JSON(fiber.Map{
		"wager_id": id,
	})
}

// fairVerifyHandler lets players audit a finished round: given the revealed
// seed it returns the multiplier that seed produced and the next seed in the
// chain. An optional multiplier query is checked against the derivation.
func (s *FiberServer) fairVerifyHandler(c *fiber.Ctx) error {
	seed := c.Query("seed")
	if seed == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "seed is required",
		})
	}
	salt := c.Query("salt", game.DEFAULT_SALT)

	resp := fiber.Map{
		"seed":       seed,
		"salt":       salt,
		"multiplier": game.DeriveMultiplier(seed, salt),
		"next_seed":  game.NextSeed(seed),
	}

	if claimed := c.Query("multiplier"); claimed != "" {
		m, err := strconv.ParseFloat(claimed, 64)
		if err != nil {
			return c.Status(400).JSON(fiber.Map{
				"error": "multiplier must be a number",
			})
		}
		resp["valid"] = game.VerifyRound(seed, salt, m)
	}

	return c.JSON(resp)
}
