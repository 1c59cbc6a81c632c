package policy

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/xela07ax/agentgov-engine/internal/domain"
	"go.uber.org/zap"
)

// NamespaceAttestor — внешняя аттестация владения namespace.
// Ядро считает её авторитетной и не перепроверяет подписи само.
type NamespaceAttestor interface {
	VerifyNamespace(ctx context.Context, agentID, claimedNamespace string) (bool, error)
}

// CostOracle — опциональная внешняя оценка стоимости операции.
// Недоступность оракула => стоимость неизвестна => маршрут в Tier 2.
type CostOracle interface {
	EstimateCost(ctx context.Context, op domain.Operation, targetResource string) (float64, error)
}

// AgentDirectory — источник истины о регистрации агентов
type AgentDirectory interface {
	GetAgent(ctx context.Context, id string) (*domain.Agent, error)
}

// DirectoryAttestor сверяет заявленный namespace с регистрационной записью
type DirectoryAttestor struct {
	dir    AgentDirectory
	logger *zap.Logger
}

func NewDirectoryAttestor(dir AgentDirectory, logger *zap.Logger) *DirectoryAttestor {
	return &DirectoryAttestor{dir: dir, logger: logger.With(zap.String("mod", "attestor"))}
}

func (a *DirectoryAttestor) VerifyNamespace(ctx context.Context, agentID, claimed string) (bool, error) {
	agent, err := a.dir.GetAgent(ctx, agentID)
	if err != nil {
		return false, fmt.Errorf("attestor: lookup agent %s: %w", agentID, err)
	}
	if agent == nil {
		a.logger.Warn("attestation for unknown agent", zap.String("agent_id", agentID))
		return false, nil
	}
	return agent.Namespace == claimed, nil
}

// CachedAttestor — TTL-кэш поверх аттестатора, чтобы не ходить в
// директорию на каждом запросе Hot Path. Кэшируются ТОЛЬКО положительные
// ответы: отказ перепроверяется каждый раз.
type CachedAttestor struct {
	next  NamespaceAttestor
	cache *gocache.Cache
}

func NewCachedAttestor(next NamespaceAttestor, ttl time.Duration) *CachedAttestor {
	return &CachedAttestor{
		next:  next,
		cache: gocache.New(ttl, 2*ttl),
	}
}

func (c *CachedAttestor) VerifyNamespace(ctx context.Context, agentID, claimed string) (bool, error) {
	key := agentID + "\x00" + claimed
	if _, ok := c.cache.Get(key); ok {
		return true, nil
	}

	ok, err := c.next.VerifyNamespace(ctx, agentID, claimed)
	if err != nil {
		return false, err
	}
	if ok {
		c.cache.SetDefault(key, struct{}{})
	}
	return ok, nil
}
