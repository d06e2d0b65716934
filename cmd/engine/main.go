package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/edkim/ai-agent-prop-firm-sub005/internal/auth"
	"github.com/edkim/ai-agent-prop-firm-sub005/internal/config"
	"github.com/edkim/ai-agent-prop-firm-sub005/internal/database"
	"github.com/edkim/ai-agent-prop-firm-sub005/internal/exitengine"
	"github.com/edkim/ai-agent-prop-firm-sub005/internal/feed"
	"github.com/edkim/ai-agent-prop-firm-sub005/internal/fillsim"
	"github.com/edkim/ai-agent-prop-firm-sub005/internal/ledger"
	"github.com/edkim/ai-agent-prop-firm-sub005/internal/orchestrator"
	"github.com/edkim/ai-agent-prop-firm-sub005/internal/signals"
	"github.com/edkim/ai-agent-prop-firm-sub005/pkg/middleware"
)

// init configures logging: pretty console output outside production, debug
// level via the DEBUG environment variable.
func init() {
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load("config/config.yaml")
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load config")
	}

	db, err := database.NewDatabase(cfg.Database.Path)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	loc, err := time.LoadLocation(cfg.Engine.Timezone)
	if err != nil {
		zlog.Fatal().Err(err).Str("timezone", cfg.Engine.Timezone).Msg("Invalid timezone")
	}

	// Core engine wiring: ledger -> fill simulator -> exit engine -> orchestrator.
	ledgerService := ledger.NewService(db)
	simulator := fillsim.NewSimulator(ledgerService, cfg.Engine)
	exitEngine := exitengine.NewEngine(loc)

	var source signals.Source = signals.NewHTTPSource(cfg.Scanner.URL)
	guarded := signals.NewGuarded(source, cfg.Scanner.Timeout.Std())

	orch := orchestrator.New(
		ledgerService,
		simulator,
		exitEngine,
		guarded,
		orchestrator.EquityFractionSizer(cfg.Engine.EquityFraction),
		cfg.Engine,
		cfg.Scanner.WindowLen,
	)

	engineCtx, engineCancel := context.WithCancel(context.Background())
	defer engineCancel()

	if cfg.Feed.WSEndpoint != "" {
		barFeed := feed.NewWebSocket(cfg.Feed.WSEndpoint)
		go func() {
			if err := orch.Run(engineCtx, barFeed); err != nil && engineCtx.Err() == nil {
				zlog.Error().Err(err).Msg("orchestrator stopped")
			}
		}()
	} else {
		zlog.Warn().Msg("no bar feed configured, running API only")
	}

	// Operator API.
	authService := auth.NewService(cfg.Auth.JWTSecret)
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)
	authHandlers := auth.NewGinHandlers(authService)
	ledgerHandlers := ledger.NewGinHandlers(ledgerService)

	router := gin.Default()
	router.Use(middleware.RateLimit())
	setupRoutes(router, cfg.Auth.JWTSecret, authHandlers, ledgerHandlers)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down engine...")

	engineCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Engine exiting")
}

// setupRoutes wires the operator API: a public token endpoint plus
// JWT-protected read endpoints and order cancellation.
func setupRoutes(
	router *gin.Engine,
	jwtSecret string,
	authHandlers *auth.GinHandlers,
	ledgerHandlers *ledger.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		accounts := v1.Group("/accounts")
		accounts.Use(middleware.JWTAuth(jwtSecret))
		{
			accounts.GET("/:account_id", ledgerHandlers.GetAccountHandler())
			accounts.GET("/:account_id/positions", ledgerHandlers.ListPositionsHandler())
			accounts.GET("/:account_id/trades", ledgerHandlers.ListTradesHandler())
		}

		orders := v1.Group("/orders")
		orders.Use(middleware.JWTAuth(jwtSecret))
		{
			orders.GET("/:order_id", ledgerHandlers.GetOrderHandler())
			orders.POST("/:order_id/cancel", ledgerHandlers.CancelOrderHandler())
		}
	}
}
