// Package catalog is the read-mostly store of puzzle templates.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/kasuganosora/questline/apperr"
	"github.com/kasuganosora/questline/cache"
	"github.com/kasuganosora/questline/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const keyPrefix = "puzzle:"

// Catalog serves puzzles from the database through a read-through cache.
type Catalog struct {
	db     *gorm.DB
	cache  cache.Cache
	ttl    time.Duration
	logger *zap.Logger
}

// New creates a Catalog. A nil cache disables caching.
func New(db *gorm.DB, c cache.Cache, ttl time.Duration, logger *zap.Logger) *Catalog {
	return &Catalog{db: db, cache: c, ttl: ttl, logger: logger}
}

// Get returns the puzzle called name.
func (c *Catalog) Get(ctx context.Context, name string) (*model.Puzzle, error) {
	if p, ok := c.fromCache(ctx, name); ok {
		return p, nil
	}
	var p model.Puzzle
	err := c.db.WithContext(ctx).Where("name = ?", name).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("puzzle %q not found", name)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistenceFailure, err, "load puzzle %q", name)
	}
	c.toCache(ctx, &p)
	return &p, nil
}

// Index loads every named puzzle and returns them keyed by name. Any missing
// name is a NotFound error.
func (c *Catalog) Index(ctx context.Context, names []string) (map[string]*model.Puzzle, error) {
	idx := make(map[string]*model.Puzzle, len(names))
	for _, name := range names {
		if _, ok := idx[name]; ok {
			continue
		}
		p, err := c.Get(ctx, name)
		if err != nil {
			return nil, err
		}
		idx[name] = p
	}
	return idx, nil
}

// List returns all puzzles ordered by name.
func (c *Catalog) List(ctx context.Context) ([]model.Puzzle, error) {
	var puzzles []model.Puzzle
	if err := c.db.WithContext(ctx).Order("name").Find(&puzzles).Error; err != nil {
		return nil, apperr.Wrap(apperr.KindPersistenceFailure, err, "list puzzles")
	}
	return puzzles, nil
}

// Put creates the puzzle or replaces the one with the same name.
func (c *Catalog) Put(ctx context.Context, p *model.Puzzle) error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return apperr.InvalidRequest("puzzle name is required")
	}
	if p.ContentKind == "" {
		p.ContentKind = model.ContentText
	}
	if !p.ContentKind.Valid() {
		return apperr.InvalidRequest("unknown content kind %q", p.ContentKind)
	}

	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.Puzzle
		err := tx.Where("name = ?", p.Name).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			p.ID = 0
			return tx.Create(p).Error
		case err != nil:
			return err
		}
		p.ID = existing.ID
		p.CreatedAt = existing.CreatedAt
		return tx.Save(p).Error
	})
	if err != nil {
		return apperr.Wrap(apperr.KindPersistenceFailure, err, "save puzzle %q", p.Name)
	}
	c.evict(ctx, p.Name)
	return nil
}

// Delete removes the puzzle called name. Quests that reference it will fail
// with NotFound on their next solve or hint.
func (c *Catalog) Delete(ctx context.Context, name string) error {
	res := c.db.WithContext(ctx).Where("name = ?", name).Delete(&model.Puzzle{})
	if res.Error != nil {
		return apperr.Wrap(apperr.KindPersistenceFailure, res.Error, "delete puzzle %q", name)
	}
	c.evict(ctx, name)
	if res.RowsAffected == 0 {
		return apperr.NotFound("puzzle %q not found", name)
	}
	return nil
}

func (c *Catalog) fromCache(ctx context.Context, name string) (*model.Puzzle, bool) {
	if c.cache == nil {
		return nil, false
	}
	raw, err := c.cache.Get(ctx, keyPrefix+name)
	if err != nil {
		if !cache.IsNotFound(err) {
			c.logger.Warn("catalog cache read failed", zap.String("puzzle", name), zap.Error(err))
		}
		return nil, false
	}
	var p model.Puzzle
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, false
	}
	return &p, true
}

func (c *Catalog) toCache(ctx context.Context, p *model.Puzzle) {
	if c.cache == nil {
		return
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, keyPrefix+p.Name, string(raw), c.ttl); err != nil {
		c.logger.Warn("catalog cache write failed", zap.String("puzzle", p.Name), zap.Error(err))
	}
}

func (c *Catalog) evict(ctx context.Context, name string) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Del(ctx, keyPrefix+name); err != nil {
		c.logger.Warn("catalog cache evict failed", zap.String("puzzle", name), zap.Error(err))
	}
}
