package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/agentgov-engine/internal/console/handler"
	"github.com/xela07ax/agentgov-engine/internal/console/server"
	"github.com/xela07ax/agentgov-engine/internal/console/service"
	"github.com/xela07ax/agentgov-engine/internal/improve"
	"github.com/xela07ax/agentgov-engine/internal/infra"
	"github.com/xela07ax/agentgov-engine/internal/infra/auth"
	"github.com/xela07ax/agentgov-engine/internal/ledger"
	"github.com/xela07ax/agentgov-engine/internal/monitor"
	"github.com/xela07ax/agentgov-engine/internal/repository/postgres"
	"github.com/xela07ax/agentgov-engine/internal/telemetry"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Инициализация ресурсов
	pool, err := postgres.NewPool(appCtx, cfg.Database)
	if err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	defer pool.Close()

	if cfg.Redis.Addr == "" {
		// Без Redis консоль не может сигналить движку (резолюции, suspend)
		logger.Fatal("redis.addr is required for console")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	agentRepo := postgres.NewAgentRepo(pool)
	escRepo := postgres.NewEscalationRepo(pool)
	userRepo := postgres.NewUserRepo(pool)
	proposalRepo := postgres.NewProposalRepo(pool)
	ledgerRepo := postgres.NewLedgerRepo(pool)

	// Read-only обзор hash-цепочки: консоль никогда не делает Append
	ldg, err := ledger.Open(appCtx, ledgerRepo, logger)
	if err != nil {
		logger.Fatal("failed to open decision ledger", zap.Error(err))
	}

	// 3. RSA ключи: публичный — проверка токенов, приватный — подпись
	publicKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("failed to parse public key", zap.Error(err))
	}
	privateKey, err := auth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
	if err != nil {
		logger.Fatal("failed to parse private key", zap.Error(err))
	}
	validator := auth.NewBaseValidator(publicKey)

	// 4. Инициализация слоев (Dependency Injection)
	authService := service.NewAuthService(userRepo, privateKey, cfg.Auth.TokenTTL)
	govService := service.NewGovernanceService(agentRepo, escRepo, rdb, validator, logger)

	// События Pareto-проверок в консоли не экспортируются — телеметрию
	// решений держит движок
	improveValidator := improve.NewValidator(telemetry.NopEmitter{}, logger)
	proposalService := service.NewProposalService(proposalRepo, improveValidator, logger)

	mon := monitor.New(ldg, telemetry.NopEmitter{}, logger, monitor.WithTarget(cfg.Engine.AutonomyTarget))
	statsService := service.NewStatsService(ledgerRepo, escRepo, agentRepo, mon, cfg.Engine.AutonomyWindow, logger)

	consoleSrv := server.NewConsoleServer(
		cfg,
		logger,
		govService,
		handler.NewAuthHandler(authService),
		handler.NewAgentHandler(govService, logger),
		handler.NewEscalationHandler(govService),
		handler.NewProposalHandler(proposalService),
		handler.NewLedgerHandler(ldg),
		handler.NewDashboardHandler(statsService),
	)

	// 5. Запуск сервера
	srv := &http.Server{
		Addr:         cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      consoleSrv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("console API started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop
	logger.Info("console API stopping")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	logger.Info("console API exited properly")
}
