package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "agentgov"
)

// Ключи для Sets (состояние)
const (
	RedisKeySuspendedAgents = RedisNamespace + ":agents:suspended_set"
	RedisKeyLockSuspended   = RedisNamespace + ":lock:warmup:suspended"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanEscalationDecisions — канал трансляции исходов эскалаций (HITL)
	RedisChanEscalationDecisions = RedisNamespace + ":escalations:decisions"
	RedisChanSuspendSignal       = RedisNamespace + ":agents:suspend-signal"
)

// GetWarmupLockKey Генератор ключей для блокировок (если нужны динамические)
func GetWarmupLockKey(resource string) string {
	return fmt.Sprintf("%s:lock:warmup:%s", RedisNamespace, resource)
}
