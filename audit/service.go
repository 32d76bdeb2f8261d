package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/kasuganosora/questline/apperr"
	"github.com/kasuganosora/questline/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Actions recorded against a quest.
const (
	ActionActivate = "activate"
	ActionSolve    = "solve"
	ActionHint     = "hint"
	ActionSMS      = "sms"
	ActionVoice    = "voice"
)

// OutcomeOK marks a successful attempt. Failures carry the apperr kind name.
const OutcomeOK = "ok"

// Entry holds one attempt to be logged.
type Entry struct {
	TraceID string
	Actor   string
	Quest   string
	Puzzle  string
	Action  string
	Outcome string
	Detail  interface{}
}

// Origin identifies who made a request. It travels in the request context.
type Origin struct {
	TraceID string
	Actor   string
}

type originKey struct{}

// WithOrigin returns a context carrying o.
func WithOrigin(ctx context.Context, o Origin) context.Context {
	return context.WithValue(ctx, originKey{}, o)
}

// OriginFrom returns the Origin stored in ctx, if any.
func OriginFrom(ctx context.Context) Origin {
	o, _ := ctx.Value(originKey{}).(Origin)
	return o
}

// OutcomeOf maps an operation result to an outcome label.
func OutcomeOf(err error) string {
	if err == nil {
		return OutcomeOK
	}
	return apperr.KindOf(err).String()
}

// Service logs audit entries asynchronously in batches.
type Service struct {
	db     *gorm.DB
	ch     chan *model.AuditLog
	stopCh chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
	logger *zap.Logger
}

// New creates a new audit Service and starts its background worker.
func New(db *gorm.DB, logger *zap.Logger) *Service {
	svc := &Service{
		db:     db,
		ch:     make(chan *model.AuditLog, 1024),
		stopCh: make(chan struct{}),
		logger: logger,
	}
	svc.wg.Add(1)
	go svc.worker()
	return svc
}

// Log enqueues an audit entry for async DB write.
func (svc *Service) Log(entry Entry) {
	var detail datatypes.JSON
	if entry.Detail != nil {
		raw, _ := json.Marshal(entry.Detail)
		detail = datatypes.JSON(raw)
	}
	record := &model.AuditLog{
		TraceID: entry.TraceID,
		Actor:   entry.Actor,
		Quest:   entry.Quest,
		Puzzle:  entry.Puzzle,
		Action:  entry.Action,
		Outcome: entry.Outcome,
		Detail:  detail,
	}
	select {
	case svc.ch <- record:
	default:
		svc.logger.Warn("audit channel full, dropping entry",
			zap.String("action", entry.Action), zap.String("quest", entry.Quest))
	}
}

// Record logs the result of an attempt, taking trace and actor from ctx.
func (svc *Service) Record(ctx context.Context, action, quest, puzzle string, err error, detail interface{}) {
	o := OriginFrom(ctx)
	svc.Log(Entry{
		TraceID: o.TraceID,
		Actor:   o.Actor,
		Quest:   quest,
		Puzzle:  puzzle,
		Action:  action,
		Outcome: OutcomeOf(err),
		Detail:  detail,
	})
}

// ListByQuest returns the newest attempts against quest first.
func (svc *Service) ListByQuest(ctx context.Context, quest string, limit int) ([]model.AuditLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var logs []model.AuditLog
	err := svc.db.WithContext(ctx).
		Where("quest = ?", quest).
		Order("id DESC").
		Limit(limit).
		Find(&logs).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistenceFailure, err, "list attempts for %q", quest)
	}
	return logs, nil
}

// CountByOutcome tallies the recorded attempts against quest per outcome.
func (svc *Service) CountByOutcome(ctx context.Context, quest string) (map[string]int64, error) {
	var rows []struct {
		Outcome string
		N       int64
	}
	err := svc.db.WithContext(ctx).
		Model(&model.AuditLog{}).
		Select("outcome, COUNT(*) AS n").
		Where("quest = ?", quest).
		Group("outcome").
		Scan(&rows).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistenceFailure, err, "count attempts for %q", quest)
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Outcome] = r.N
	}
	return out, nil
}

// Prune deletes attempts recorded before cutoff and returns how many went.
func (svc *Service) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res := svc.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&model.AuditLog{})
	if res.Error != nil {
		return 0, apperr.Wrap(apperr.KindPersistenceFailure, res.Error, "prune attempts")
	}
	if res.RowsAffected > 0 {
		svc.logger.Info("audit pruned", zap.Int64("rows", res.RowsAffected), zap.Time("cutoff", cutoff))
	}
	return res.RowsAffected, nil
}

// Stop flushes remaining entries and shuts down the worker.
// It blocks until the worker goroutine has finished.
func (svc *Service) Stop(_ context.Context) {
	svc.once.Do(func() { close(svc.stopCh) })
	svc.wg.Wait()
}

func (svc *Service) worker() {
	defer svc.wg.Done()
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	batch := make([]*model.AuditLog, 0, 100)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := svc.db.Create(&batch).Error; err != nil {
			svc.logger.Error("audit batch write failed", zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-svc.ch:
			batch = append(batch, entry)
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-svc.stopCh:
			// Drain remaining entries.
			for {
				select {
				case entry := <-svc.ch:
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}
