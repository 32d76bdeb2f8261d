package messaging

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/kasuganosora/questline/apperr"
	"github.com/kasuganosora/questline/identity"
	"github.com/kasuganosora/questline/metrics"
	"github.com/kasuganosora/questline/model"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Recipients expands an assignee into reachable users.
type Recipients interface {
	Recipients(ctx context.Context, a identity.Assignee) ([]model.User, error)
}

// BroadcastResult reports how far a broadcast got.
type BroadcastResult struct {
	Recipients int `json:"recipients"`
	Sent       int `json:"sent"`
}

// Broadcaster sends one message to every recipient of an assignee, one at a
// time, with a fixed pause between sends. The pause is a carrier
// requirement and applies across concurrent broadcasts too.
type Broadcaster struct {
	dir       Recipients
	transport Transport
	mu        sync.Mutex
	limiter   *rate.Limiter
	logger    *zap.Logger
}

// NewBroadcaster creates a Broadcaster that waits delay between sends. A
// zero delay disables throttling.
func NewBroadcaster(dir Recipients, transport Transport, delay time.Duration, logger *zap.Logger) *Broadcaster {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &Broadcaster{
		dir:       dir,
		transport: transport,
		limiter:   rate.NewLimiter(limit, 1),
		logger:    logger,
	}
}

// Send stops at the first failed delivery and reports it as a
// TransportFailure; recipients after it are not tried. Once started, a
// broadcast ignores cancellation of ctx.
func (b *Broadcaster) Send(ctx context.Context, a identity.Assignee, body string) (BroadcastResult, error) {
	if strings.TrimSpace(body) == "" {
		return BroadcastResult{}, apperr.InvalidRequest("message body is required")
	}
	users, err := b.dir.Recipients(ctx, a)
	if err != nil {
		return BroadcastResult{}, err
	}
	res := BroadcastResult{Recipients: len(users)}
	ctx = context.WithoutCancel(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, u := range users {
		if err := b.limiter.Wait(ctx); err != nil {
			return res, apperr.Wrap(apperr.KindTransportFailure, err, "throttle")
		}
		if err := b.transport.SendSMS(ctx, u.Phone, body); err != nil {
			metrics.Message("outbound", "failed")
			b.logger.Warn("broadcast aborted",
				zap.String("assignee", a.String()),
				zap.String("recipient", u.Name),
				zap.Int("sent", res.Sent),
				zap.Int("recipients", res.Recipients),
				zap.Error(err))
			return res, apperr.Wrap(apperr.KindTransportFailure, err,
				"sending to %s failed after %d of %d messages", u.Name, res.Sent, res.Recipients)
		}
		metrics.Message("outbound", "sent")
		res.Sent++
	}
	b.logger.Info("broadcast sent", zap.String("assignee", a.String()), zap.Int("sent", res.Sent))
	return res, nil
}
