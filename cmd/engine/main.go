package main

import (
	"context"
	"crypto/rsa"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/agentgov-engine/internal/budget"
	"github.com/xela07ax/agentgov-engine/internal/connectors"
	"github.com/xela07ax/agentgov-engine/internal/domain"
	"github.com/xela07ax/agentgov-engine/internal/engine"
	"github.com/xela07ax/agentgov-engine/internal/escalation"
	"github.com/xela07ax/agentgov-engine/internal/infra"
	"github.com/xela07ax/agentgov-engine/internal/infra/auth"
	"github.com/xela07ax/agentgov-engine/internal/ledger"
	"github.com/xela07ax/agentgov-engine/internal/monitor"
	"github.com/xela07ax/agentgov-engine/internal/policy"
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

	// Контекст для управления жизненным циклом фоновых горутин
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Инфраструктура и ресурсы
	pool, err := postgres.NewPool(appCtx, cfg.Database)
	if err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	defer pool.Close()

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
	} else {
		logger.Warn("redis addr is empty, running in single-instance mode")
	}

	ledgerRepo := postgres.NewLedgerRepo(pool)
	escRepo := postgres.NewEscalationRepo(pool)
	budgetRepo := postgres.NewBudgetRepo(pool)
	agentRepo := postgres.NewAgentRepo(pool)

	// 3. Телеметрия: буферизованный экспортер с батч-записью в Postgres
	exporter := telemetry.NewExporter(
		postgres.NewTelemetryRepo(pool),
		cfg.Engine.TelemetryBufferSize,
		cfg.Engine.TelemetryBatchSize,
		cfg.Engine.TelemetryFlushInterval,
		logger,
	)
	exporter.Start()

	// Метрики
	reg := prometheus.NewRegistry()
	metrics := engine.NewMetrics(reg)

	// Экспортируем метрики для Prometheus
	go func() {
		http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		log.Fatal(http.ListenAndServe(":9090", nil))
	}()

	// 4. Control Plane: circuit breaker автоодобрения
	suspend := engine.NewSuspendManager(rdb, exporter, logger)
	suspendedIDs, err := agentRepo.ListSuspendedIDs(appCtx)
	if err != nil {
		logger.Fatal("failed to load suspended agents", zap.Error(err))
	}
	if err := engine.WarmupState(appCtx, rdb, logger, suspendedIDs,
		infra.RedisKeySuspendedAgents, infra.RedisKeyLockSuspended,
		suspend.ReplaceLocal); err != nil {
		logger.Warn("suspend warm-up to redis failed", zap.Error(err))
	}
	if rdb != nil {
		// Redis мог знать больше БД (suspend'ы других инстансов)
		if err := suspend.Init(appCtx); err != nil {
			logger.Fatal("failed to init suspend manager", zap.Error(err))
		}
	}
	go suspend.StartListener(appCtx)

	// 5. Бюджетный леджер: дефолтные лимиты из конфига, переопределения
	// из реестра агентов (с коротким кэшем, чтобы не ходить в БД на Hot Path)
	defaults := budget.Limits{
		LimitUSD: cfg.Engine.BudgetLimitUSD,
		Period:   domain.BudgetPeriod(cfg.Engine.BudgetPeriod),
	}
	limitsCache := gocache.New(time.Minute, 2*time.Minute)
	limitsFn := func(agentID string) (budget.Limits, bool) {
		if cached, ok := limitsCache.Get(agentID); ok {
			lim, ok := cached.(budget.Limits)
			return lim, ok
		}
		ctx, lcancel := context.WithTimeout(appCtx, 2*time.Second)
		defer lcancel()
		agent, err := agentRepo.GetAgent(ctx, agentID)
		if err != nil || agent == nil || agent.BudgetLimitUSD == nil {
			return budget.Limits{}, false
		}
		lim := budget.Limits{LimitUSD: *agent.BudgetLimitUSD, Period: defaults.Period}
		if agent.BudgetPeriod != nil {
			lim.Period = *agent.BudgetPeriod
		}
		limitsCache.SetDefault(agentID, lim)
		return lim, true
	}

	budgetLedger := budget.NewLedger(defaults, logger,
		budget.WithLimitsFn(limitsFn),
		budget.WithStore(budgetRepo),
		budget.WithThresholdHook(engine.BudgetThresholdHook(suspend, exporter, metrics, logger)),
	)
	saved, err := budgetRepo.LoadAll(appCtx)
	if err != nil {
		logger.Fatal("failed to restore budget state", zap.Error(err))
	}
	budgetLedger.Restore(saved)

	// 6. Policy: ruleset + evaluator + аттестация namespace
	rs := policy.DefaultRuleset()
	if cfg.Engine.RulesetPath != "" {
		rs, err = policy.LoadRuleset(cfg.Engine.RulesetPath)
		if err != nil {
			logger.Fatal("failed to load ruleset", zap.Error(err))
		}
	}
	evaluator := policy.NewEvaluator(rs)
	logger.Info("ruleset loaded", zap.String("version", rs.VersionID()))

	attestor := policy.NewCachedAttestor(
		policy.NewDirectoryAttestor(agentRepo, logger),
		cfg.Engine.AttestationTTL,
	)

	// 7. Decision Ledger над Postgres. Разрыв цепочки — алерт оператору.
	ldg, err := ledger.Open(appCtx, ledgerRepo, logger,
		ledger.WithBreakHook(func(seq uint64, detail string) {
			metrics.ChainBreaksTotal.Inc()
			logger.Error("LEDGER CHAIN BROKEN, writes halted",
				zap.Uint64("seq", seq), zap.String("detail", detail))
		}))
	if err != nil {
		logger.Fatal("failed to open decision ledger", zap.Error(err))
	}

	// 8. Эскалации: внешний тикетинг за reliability-оберткой
	var tickets connectors.TicketSystem
	if cfg.Tickets.BaseURL != "" {
		tickets = connectors.NewHTTPTicketSystem(cfg.Tickets.BaseURL, cfg.Tickets.APIKey)
	} else {
		logger.Warn("tickets.base_url is empty, using mock ticket system")
		tickets = connectors.NewMockTicketSystem()
	}
	reliableTickets := engine.NewReliableTicketSystem(tickets, metrics, engine.BreakerSettings{
		MaxRequests: cfg.Engine.CBMaxRequests,
		Interval:    cfg.Engine.CBInterval,
		Timeout:     cfg.Engine.CBTimeout,
	})

	// Исходы эскалаций доходят до ядра напрямую (fanout), до остальных
	// инстансов и консоли — через Redis
	var remote escalation.Notifier
	if rdb != nil {
		remote = engine.NewRedisResolutionNotifier(rdb)
	}
	fanout := engine.NewResolutionFanout(remote)

	escalations := escalation.NewManager(escRepo, ldg, reliableTickets, exporter, logger,
		escalation.WithSLA(cfg.Engine.SLAStandard, cfg.Engine.SLADeletion),
		escalation.WithSweepInterval(cfg.Engine.SweepInterval),
		escalation.WithNotifier(fanout),
	)
	go escalations.Run(appCtx)

	// 9. Core (сборка Decision-пайплайна)
	core := engine.NewCore(
		attestor,
		nil, // Cost oracle не развернут: неизвестная стоимость уходит в Tier 2
		budgetLedger,
		evaluator,
		ldg,
		escalations,
		suspend,
		metrics,
		exporter,
		logger,
	)
	fanout.Bind(core)
	if err := core.WarmApprovals(appCtx); err != nil {
		logger.Fatal("failed to warm approval counters", zap.Error(err))
	}
	go core.StartResolutionListener(appCtx, rdb)

	// Autonomy-монитор: периодический пересчет + алерт ниже цели
	mon := monitor.New(ldg, exporter, logger, monitor.WithTarget(cfg.Engine.AutonomyTarget))
	go mon.Run(appCtx, cfg.Engine.AutonomyInterval, cfg.Engine.AutonomyWindow)

	// Фоновые gauge: глубина очереди эскалаций, буфер телеметрии, автономия
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-appCtx.Done():
				return
			case <-ticker.C:
				if depth, err := escalations.PendingCount(appCtx); err == nil {
					metrics.EscalationQueueDepth.Set(float64(depth))
				}
				metrics.TelemetryBufferFill.Set(float64(exporter.Fill()))
				if report, err := mon.Rate(appCtx, "", cfg.Engine.AutonomyWindow); err == nil && report.Rate != nil {
					metrics.AutonomyRate.Set(*report.Rate)
				}
			}
		}
	}()

	// 10. HTTP Server данных. Цепочка: Trace-ID -> JWT (RS256) -> ядро
	validator := auth.NewBaseValidator(mustPublicKey(cfg, logger))
	endpoint := http.HandlerFunc(core.HandleAction)
	protected := engine.TracingMiddleware(
		auth.NewMiddleware(validator, logger)(endpoint),
	)

	mux := http.NewServeMux()
	mux.Handle("/v1/actions", protected)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:         cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 11. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("governance engine started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop // Ждем сигнал
	logger.Info("governance engine stopping")

	// Даем 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}

	cancel()        // Останавливаем фоновые циклы
	exporter.Stop() // Последним: дренируем буфер телеметрии в Postgres
	logger.Info("governance engine exited properly")
}

func mustPublicKey(cfg *infra.Config, logger *zap.Logger) *rsa.PublicKey {
	key, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("failed to parse auth public key", zap.Error(err))
	}
	return key
}
