package quest

import (
	"context"
	"errors"
	"time"

	"github.com/kasuganosora/questline/apperr"
	"github.com/kasuganosora/questline/model"
	"gorm.io/gorm"
)

// ErrConcurrentUpdate means the stored version moved on between read and
// write. Engine operations return it wrapped in a persistence failure; the
// caller may retry.
var ErrConcurrentUpdate = errors.New("quest version conflict")

// Store persists quests. Save is conditional on the version the caller read.
type Store interface {
	Create(ctx context.Context, q *model.Quest) error
	Get(ctx context.Context, name string) (*model.Quest, error)
	List(ctx context.Context) ([]model.Quest, error)
	ListByAssignees(ctx context.Context, names []string, status model.QuestStatus) ([]model.Quest, error)
	Save(ctx context.Context, q *model.Quest, expectedVersion int64) error
	Delete(ctx context.Context, name string) error
}

// GormStore keeps each quest, puzzles included, in a single row.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore returns a Store backed by db.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Create(ctx context.Context, q *model.Quest) error {
	var n int64
	if err := s.db.WithContext(ctx).Model(&model.Quest{}).Where("name = ?", q.Name).Count(&n).Error; err != nil {
		return apperr.Wrap(apperr.KindPersistenceFailure, err, "check quest %q", q.Name)
	}
	if n > 0 {
		return apperr.InvalidRequest("quest %q already exists", q.Name)
	}
	q.Version = 0
	if err := s.db.WithContext(ctx).Create(q).Error; err != nil {
		return apperr.Wrap(apperr.KindPersistenceFailure, err, "create quest %q", q.Name)
	}
	return nil
}

func (s *GormStore) Get(ctx context.Context, name string) (*model.Quest, error) {
	var q model.Quest
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&q).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("quest %q not found", name)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistenceFailure, err, "load quest %q", name)
	}
	return &q, nil
}

func (s *GormStore) List(ctx context.Context) ([]model.Quest, error) {
	var qs []model.Quest
	if err := s.db.WithContext(ctx).Order("id").Find(&qs).Error; err != nil {
		return nil, apperr.Wrap(apperr.KindPersistenceFailure, err, "list quests")
	}
	return qs, nil
}

// ListByAssignees returns the quests owned by any of names in the given
// status, oldest first.
func (s *GormStore) ListByAssignees(ctx context.Context, names []string, status model.QuestStatus) ([]model.Quest, error) {
	if len(names) == 0 {
		return nil, nil
	}
	var qs []model.Quest
	err := s.db.WithContext(ctx).
		Where("assignee IN ? AND status = ?", names, status).
		Order("id").
		Find(&qs).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistenceFailure, err, "list quests by assignee")
	}
	return qs, nil
}

// Save writes q only if the stored version still equals expectedVersion.
// On success q.Version is advanced.
func (s *GormStore) Save(ctx context.Context, q *model.Quest, expectedVersion int64) error {
	res := s.db.WithContext(ctx).
		Model(&model.Quest{}).
		Where("name = ? AND version = ?", q.Name, expectedVersion).
		Updates(map[string]interface{}{
			"display_name":  q.DisplayName,
			"assignee":      q.Assignee,
			"assignee_kind": q.AssigneeKind,
			"status":        q.Status,
			"puzzles":       q.Puzzles,
			"version":       expectedVersion + 1,
			"updated_at":    time.Now(),
		})
	if res.Error != nil {
		return apperr.Wrap(apperr.KindPersistenceFailure, res.Error, "save quest %q", q.Name)
	}
	if res.RowsAffected == 0 {
		return ErrConcurrentUpdate
	}
	q.Version = expectedVersion + 1
	return nil
}

func (s *GormStore) Delete(ctx context.Context, name string) error {
	res := s.db.WithContext(ctx).Where("name = ?", name).Delete(&model.Quest{})
	if res.Error != nil {
		return apperr.Wrap(apperr.KindPersistenceFailure, res.Error, "delete quest %q", name)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("quest %q not found", name)
	}
	return nil
}
