package notify

import (
	"context"
	"encoding/json"

	"github.com/kasuganosora/questline/cache"
	"go.uber.org/zap"
)

// Publisher sends events to every instance through pubsub.
type Publisher struct {
	ps     cache.PubSub
	logger *zap.Logger
}

// NewPublisher creates a Publisher on ps.
func NewPublisher(ps cache.PubSub, logger *zap.Logger) *Publisher {
	return &Publisher{ps: ps, logger: logger}
}

// Publish never fails the caller; errors are logged and the event is lost.
func (p *Publisher) Publish(ctx context.Context, ev Event) {
	raw, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("encode quest event", zap.Error(err))
		return
	}
	if err := p.ps.Publish(ctx, Channel, string(raw)); err != nil {
		p.logger.Warn("publish quest event failed",
			zap.String("quest", ev.Quest),
			zap.String("kind", string(ev.Kind)),
			zap.Error(err))
	}
}
