package notify

import (
	"context"

	"github.com/kasuganosora/questline/cache"
	"go.uber.org/zap"
)

// Hub relays published quest events to the monitors of this instance.
type Hub struct {
	ps       cache.PubSub
	registry *Registry
	logger   *zap.Logger
}

// NewHub creates a Hub relaying ps to the monitors in registry.
func NewHub(ps cache.PubSub, registry *Registry, logger *zap.Logger) *Hub {
	return &Hub{ps: ps, registry: registry, logger: logger}
}

// Run blocks until ctx is cancelled or the subscription ends.
func (h *Hub) Run(ctx context.Context) error {
	ch, unsub, err := h.ps.Subscribe(ctx, Channel)
	if err != nil {
		return err
	}
	defer unsub()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			n := h.registry.Broadcast([]byte(msg.Payload))
			h.logger.Debug("quest event relayed", zap.Int("monitors", n))
		case <-ctx.Done():
			return nil
		}
	}
}
