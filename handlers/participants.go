package handlers

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"strconv"
	"strings"

	"battle-of-tunes/services"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
)

// StakeVerifier is the on-chain stake check consulted at registration time.
type StakeVerifier interface {
	VerifyStake(ctx context.Context, walletAddress string) (bool, error)
}

// SetupBattleRoutes wires the service surface used by the sibling bot
// processes: registration (staking bot), submission upload (generation bot)
// and status reads.
func SetupBattleRoutes(app *fiber.App, store *services.ParticipantStore, registry *services.BattleRegistry, audio services.AudioStore, stakes StakeVerifier) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Post("/s/participants", registerParticipant(store, stakes))
	app.Get("/s/participants/:chat_id", listParticipants(store))
	app.Post("/s/submissions", acceptSubmission(store, audio))
	app.Get("/s/battles", listBattles(registry))
}

type registerRequest struct {
	ChatID        int64  `json:"chat_id"`
	UserID        int64  `json:"user_id"`
	Username      string `json:"username"`
	WalletAddress string `json:"wallet_address"`
}

func registerParticipant(store *services.ParticipantStore, stakes StakeVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req registerRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
		}
		if req.ChatID == 0 || req.UserID == 0 {
			return c.Status(400).JSON(fiber.Map{"error": "chat_id and user_id are required"})
		}
		if !validWalletAddress(req.WalletAddress) {
			return c.Status(400).JSON(fiber.Map{"error": "invalid wallet address"})
		}

		staked, err := stakes.VerifyStake(c.Context(), req.WalletAddress)
		if err != nil {
			log.Printf("❌ Stake verification for %s failed: %v", req.WalletAddress, err)
			return c.Status(502).JSON(fiber.Map{"error": "stake verification unavailable"})
		}
		if !staked {
			return c.Status(403).JSON(fiber.Map{"error": "no active stake found for this wallet"})
		}

		if err := store.Register(req.ChatID, req.UserID, req.Username, req.WalletAddress); err != nil {
			log.Printf("❌ Failed to register participant: %v", err)
			return c.Status(500).JSON(fiber.Map{"error": "failed to register participant"})
		}

		log.Printf("✅ Registered participant %d (wallet %s) in chat %d", req.UserID, req.WalletAddress, req.ChatID)
		return c.Status(201).JSON(fiber.Map{"status": "registered"})
	}
}

func listParticipants(store *services.ParticipantStore) fiber.Handler {
	return func(c *fiber.Ctx) error {
		chatID, err := strconv.ParseInt(c.Params("chat_id"), 10, 64)
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid chat_id"})
		}

		participants, err := store.ListByChat(chatID)
		if err != nil {
			log.Printf("❌ Failed to list participants for chat %d: %v", chatID, err)
			return c.Status(500).JSON(fiber.Map{"error": "database error"})
		}
		return c.JSON(fiber.Map{
			"chat_id":      chatID,
			"participants": participants,
			"count":        len(participants),
		})
	}
}

func acceptSubmission(store *services.ParticipantStore, audio services.AudioStore) fiber.Handler {
	return func(c *fiber.Ctx) error {
		chatID, err := strconv.ParseInt(c.FormValue("chat_id"), 10, 64)
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid chat_id"})
		}
		userID, err := strconv.ParseInt(c.FormValue("user_id"), 10, 64)
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid user_id"})
		}

		fileHeader, err := c.FormFile("audio")
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "audio file is required"})
		}
		file, err := fileHeader.Open()
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "failed to open audio file"})
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "failed to read audio file"})
		}
		if len(data) == 0 {
			return c.Status(400).JSON(fiber.Map{"error": "audio file is empty"})
		}

		key := submissionKey(chatID, fileHeader.Filename)
		contentType := fileHeader.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "audio/mpeg"
		}
		if err := audio.UploadAudio(c.Context(), key, data, contentType); err != nil {
			log.Printf("❌ Failed to store track for user %d in chat %d: %v", userID, chatID, err)
			return c.Status(500).JSON(fiber.Map{"error": "failed to store audio"})
		}

		if err := store.RecordSubmission(chatID, userID, key, fileHeader.Filename); err != nil {
			// The blob has no owner now; drop it.
			if delErr := audio.DeleteAudio(c.Context(), key); delErr != nil {
				log.Printf("⚠️ Failed to delete orphaned track %s: %v", key, delErr)
			}
			if errors.Is(err, services.ErrNotInBattle) {
				return c.Status(409).JSON(fiber.Map{"error": "participant is not in an active battle"})
			}
			log.Printf("❌ Failed to record submission: %v", err)
			return c.Status(500).JSON(fiber.Map{"error": "failed to record submission"})
		}

		log.Printf("🎵 Track received from user %d in chat %d (%s)", userID, chatID, key)
		return c.Status(201).JSON(fiber.Map{"status": "submitted", "audio_key": key})
	}
}

func listBattles(registry *services.BattleRegistry) fiber.Handler {
	return func(c *fiber.Ctx) error {
		snapshot := registry.Snapshot()
		battles := make([]fiber.Map, 0, len(snapshot))
		for chatID, startedAt := range snapshot {
			battles = append(battles, fiber.Map{
				"chat_id":           chatID,
				"battle_started_at": startedAt,
			})
		}
		return c.JSON(fiber.Map{"battles": battles, "count": len(battles)})
	}
}

func validWalletAddress(address string) bool {
	return strings.HasPrefix(address, "0x") && len(address) == 42
}

func submissionKey(chatID int64, filename string) string {
	base := strings.TrimSuffix(filename, filepath.Ext(filename))
	if base == "" {
		base = "track"
	}
	return "submissions/" + strconv.FormatInt(chatID, 10) + "/" +
		uuid.NewString()[:8] + "-" + slug.Make(base) + ".mp3"
}
