package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xela07ax/agentgov-engine/internal/console/handler"
	"github.com/xela07ax/agentgov-engine/internal/infra"
	"github.com/xela07ax/agentgov-engine/internal/infra/auth"
	"go.uber.org/zap"
)

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger
	cfg    *infra.Config

	// Интерфейс для проверки токенов (RS256)
	// Реализуется через embedding BaseValidator в GovernanceService
	authValidator auth.TokenValidator

	// Обработчики бизнес-доменов
	authHandler       *handler.AuthHandler       // /auth/token
	agentHandler      *handler.AgentHandler      // /v1/agents
	escalationHandler *handler.EscalationHandler // /v1/escalations (HITL)
	proposalHandler   *handler.ProposalHandler   // /v1/proposals (self-improvement)
	ledgerHandler     *handler.LedgerHandler     // /v1/ledger (hash-цепочка)
	dashHandler       *handler.DashboardHandler  // /api/v1/dashboard
}

// NewConsoleServer инициализирует сервер админки со всеми зависимостями
func NewConsoleServer(
	cfg *infra.Config,
	logger *zap.Logger,
	validator auth.TokenValidator,
	authH *handler.AuthHandler,
	agentH *handler.AgentHandler,
	escH *handler.EscalationHandler,
	propH *handler.ProposalHandler,
	ledgerH *handler.LedgerHandler,
	dashH *handler.DashboardHandler,
) *ConsoleServer {
	s := &ConsoleServer{
		router:            chi.NewRouter(),
		logger:            logger.Named("console-api"),
		cfg:               cfg,
		authValidator:     validator,
		authHandler:       authH,
		agentHandler:      agentH,
		escalationHandler: escH,
		proposalHandler:   propH,
		ledgerHandler:     ledgerH,
		dashHandler:       dashH,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ (Открыты для всех) ---
	r.Group(func(r chi.Router) {
		// Логин должен быть доступен без токена
		r.Post("/auth/token", s.authHandler.Login)

		// Healthcheck для мониторинга
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (Требуют RS256 токен) ---
	r.Group(func(r chi.Router) {
		// Подключаем универсальный Middleware только для этой группы
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))

		// Dashboard & Stats
		r.Get("/api/v1/dashboard/stats", s.dashHandler.GetStats)
		r.Get("/v1/autonomy", s.dashHandler.GetAutonomy)

		// Управление Агентами (Suspend/Resume)
		r.Route("/v1/agents", func(r chi.Router) {
			r.Get("/", s.agentHandler.List) // Список всех агентов
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.agentHandler.Get)             // Информация об агенте
				r.Post("/suspend", s.agentHandler.Suspend) // Выключение автоодобрения
				r.Post("/resume", s.agentHandler.Resume)   // Возврат в строй
			})
		})

		// Human-in-the-loop (Escalations)
		r.Route("/v1/escalations", func(r chi.Router) {
			r.Get("/", s.escalationHandler.List) // Очередь ожидания решения
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.escalationHandler.Get)
				// Решение по эскалации требует отдельного скоупа
				r.With(auth.RequireScope("escalations.decide")).
					Post("/decide", s.escalationHandler.Decide) // Approve/Deny + Redis Publish
			})
		})

		// Self-improvement (Proposals + Reviews)
		r.Route("/v1/proposals", func(r chi.Router) {
			r.Get("/", s.proposalHandler.List)
			r.Post("/", s.proposalHandler.Submit)            // Прием + Pareto-проверка
			r.Get("/portfolio", s.proposalHandler.Portfolio) // Отбор в бюджет
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.proposalHandler.Get)
				r.Get("/reviews", s.proposalHandler.Reviews)
				r.Post("/reviews", s.proposalHandler.SubmitReview) // Свидетельство ревью
			})
		})

		// Decision Ledger (Observability, read-only)
		r.Get("/v1/ledger", s.ledgerHandler.Query)
		r.Get("/v1/ledger/verify", s.ledgerHandler.Verify)
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
