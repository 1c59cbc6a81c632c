package engine

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ListenStateResilient — живучая подписка на сигналы состояния агентов.
// Переживает обрывы соединения: на каждом реконнекте вызывает onReconnect
// для полной ресинхронизации L1 (сигналы, пропущенные в офлайне, иначе
// потеряны навсегда).
//
// Формат сигнала: "agent_id:on" / "agent_id:off".
func ListenStateResilient(
	ctx context.Context,
	rdb *redis.Client,
	logger *zap.Logger,
	channel string,
	onReconnect func() error,
	onSignal func(agentID string, on bool),
) {
	for {
		pubsub := rdb.Subscribe(ctx, channel)

		if _, err := pubsub.Receive(ctx); err != nil {
			logger.Error("failed to subscribe", zap.String("chan", channel), zap.Error(err))
			pubsub.Close()
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		if err := onReconnect(); err != nil {
			logger.Error("state sync failed on reconnect", zap.String("chan", channel), zap.Error(err))
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}

				agentID, state, found := strings.Cut(msg.Payload, ":")
				if !found || agentID == "" {
					logger.Error("invalid state signal", zap.String("payload", msg.Payload))
					continue
				}
				onSignal(agentID, state == "on" || state == "true")
			}
		}

		pubsub.Close()
		select {
		case <-ctx.Done():
			return
		case <-time.After(1 * time.Second):
		}
	}
}
