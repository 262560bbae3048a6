package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"battle-of-tunes/handlers"
	"battle-of-tunes/middleware"
	"battle-of-tunes/models"
	"battle-of-tunes/services"
	"battle-of-tunes/utils"
	"battle-of-tunes/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}
	if err := db.AutoMigrate(&models.Participant{}); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	audio, err := utils.NewR2Storage()
	if err != nil {
		log.Fatal("failed to initialize R2 client:", err)
	}

	store := services.NewParticipantStore(db)
	registry := services.NewBattleRegistry()
	telegram := services.NewTelegramClient()
	evaluator := services.NewEvaluatorClient()
	publisher := services.NewResultPublisher(telegram)

	monitor := &services.BattleMonitor{
		Store:     store,
		Registry:  registry,
		Audio:     audio,
		Evaluator: evaluator,
		Publisher: publisher,
		Messenger: telegram,
		Config: services.MonitorConfig{
			PollInterval:      envSeconds("SUBMISSION_POLL_SECONDS", 10),
			MaxBattleDuration: envMinutes("BATTLE_MAX_MINUTES", 30),
		},
	}
	matchmaker := services.NewMatchmaker(store, registry, telegram, monitor, services.MatchmakerConfig{
		Quorum:        envInt("BATTLE_QUORUM", 3),
		SweepInterval: envSeconds("MATCH_SWEEP_SECONDS", 10),
	})

	stakeClient := workers.NewStakeClient()

	app := fiber.New(fiber.Config{
		BodyLimit: 50 * 1024 * 1024, // generated tracks are a few MB each
	})
	app.Use(middleware.GatewayAuthMiddleware())
	handlers.SetupBattleRoutes(app, store, registry, audio, stakeClient)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := matchmaker.Start(ctx); err != nil {
		log.Fatal("failed to start matchmaker:", err)
	}
	defer matchmaker.Stop()

	go workers.PollStakes(ctx, stakeClient, store, envSeconds("STAKE_POLL_SECONDS", 60))

	port := os.Getenv("PORT")
	if port == "" {
		port = "5300"
	}
	go func() {
		if err := app.Listen(":" + port); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Battle orchestration service running on http://localhost:%s", port)
	log.Println("✅ Stake re-verification polling running")
	log.Println("✅ Gateway auth enforced, all requests must carry the service token")

	<-ctx.Done()
	log.Println("Shutting down server...")
	_ = app.Shutdown()
}

func envInt(name string, fallback int) int {
	if raw := os.Getenv(name); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			return value
		}
		log.Printf("⚠️  Ignoring invalid %s=%q, using %d", name, os.Getenv(name), fallback)
	}
	return fallback
}

func envSeconds(name string, fallback int) time.Duration {
	return time.Duration(envInt(name, fallback)) * time.Second
}

// envMinutes treats an explicit 0 as "disabled" rather than falling back.
func envMinutes(name string, fallback int) time.Duration {
	if raw := os.Getenv(name); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value >= 0 {
			return time.Duration(value) * time.Minute
		}
		log.Printf("⚠️  Ignoring invalid %s=%q, using %d", name, raw, fallback)
	}
	return time.Duration(fallback) * time.Minute
}
