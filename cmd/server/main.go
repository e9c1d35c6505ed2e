package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/FueledByOctane/fieldtalk/internal/api"
	"github.com/FueledByOctane/fieldtalk/internal/config"
	"github.com/FueledByOctane/fieldtalk/internal/counsellor"
	"github.com/FueledByOctane/fieldtalk/internal/db"
	"github.com/FueledByOctane/fieldtalk/internal/entitlement"
	"github.com/FueledByOctane/fieldtalk/internal/middleware"
	"github.com/FueledByOctane/fieldtalk/internal/observ"
	"github.com/FueledByOctane/fieldtalk/internal/repository/postgres"
	"github.com/FueledByOctane/fieldtalk/internal/room"
	"github.com/FueledByOctane/fieldtalk/internal/transcript"
	"github.com/FueledByOctane/fieldtalk/internal/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	// Startup has no deadline: take as long as the connections need.
	// Once serving, every request carries its own context.
	ctx := context.Background()

	database, err := db.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()

	bus, err := transport.NewRedisBus(cfg.RedisURL, logger)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer bus.Close()

	pool := database.Pool()
	fieldRepo := postgres.NewFieldStore(pool)
	profileRepo := postgres.NewProfileStore(pool)
	transcriptRepo := postgres.NewTranscriptStore(pool)

	transcripts, err := transcript.NewStore(transcriptRepo, counsellor.TranscriptWindow)
	if err != nil {
		return fmt.Errorf("create transcript store: %w", err)
	}

	llm, err := counsellor.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		return fmt.Errorf("create model client: %w", err)
	}

	rooms := room.NewService(fieldRepo, logger)
	engine := counsellor.NewEngine(llm, bus, transcripts, cfg.TurnTimeout, logger)
	gate := entitlement.NewGate(profileRepo, logger)
	billing := entitlement.StaticBilling{Portal: cfg.BillingPortalURL}

	presence := transport.NewRedisPresence(bus.Client())
	gateway := transport.NewGateway(bus, presence, cfg.JWTSecret, logger)

	authHandler := api.NewAuthHandler(profileRepo, cfg.JWTSecret, logger)
	fieldHandler := api.NewFieldHandler(rooms, profileRepo, bus, engine, cfg.JWTSecret, logger)
	messageHandler := api.NewMessageHandler(rooms, transcripts, bus, engine, gate, billing, logger)
	profileHandler := api.NewProfileHandler(profileRepo, billing, logger)

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := gin.New()
	srv.Use(gin.Logger(), gin.Recovery())

	logger.Info("starting FieldTalk",
		zap.String("port", cfg.Port),
		zap.String("env", cfg.Env),
		zap.String("model", cfg.GeminiModel),
	)

	// Public: health for load balancers, auth to mint the first token.
	srv.GET("/v1/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	srv.POST("/v1/auth/signup", authHandler.Signup)
	srv.POST("/v1/auth/login", authHandler.Login)

	v1 := srv.Group("/v1")
	v1.Use(middleware.AuthMiddleware(cfg.JWTSecret))

	v1.POST("/fields", fieldHandler.Create)
	v1.POST("/fields/join", fieldHandler.Join)
	v1.GET("/fields/:code", fieldHandler.Get)
	v1.POST("/fields/:code/authorize", fieldHandler.Authorize)
	v1.PATCH("/fields/:code/settings", fieldHandler.UpdateSettings)
	v1.DELETE("/fields/:code", fieldHandler.Deactivate)

	v1.POST("/fields/:code/messages", messageHandler.Send)
	v1.GET("/fields/:code/messages", messageHandler.List)
	v1.POST("/fields/:code/sync", messageHandler.Sync)
	v1.POST("/fields/:code/summary", messageHandler.Summary)

	v1.GET("/me", profileHandler.Me)
	v1.POST("/me/entitlement", profileHandler.RefreshEntitlement)

	// The websocket carries its own channel grant; the user-token
	// middleware would reject the upgrade request's bare headers.
	v1ws := srv.Group("/v1")
	v1ws.GET("/ws", gateway.HandleWS)

	return srv.Run(":" + cfg.Port)
}
