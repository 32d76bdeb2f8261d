package quest

import (
	"context"
	"strings"
	"time"

	"github.com/kasuganosora/questline/apperr"
	"github.com/kasuganosora/questline/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// PuzzleSpec names a catalog puzzle to include in a quest. An empty Code is
// replaced by a random one.
type PuzzleSpec struct {
	Name string `json:"name" binding:"required"`
	Code string `json:"code"`
}

// CreateRequest defines a new quest. Puzzles are listed in play order.
type CreateRequest struct {
	Name        string       `json:"name" binding:"required"`
	DisplayName string       `json:"display_name"`
	Assignee    string       `json:"assignee" binding:"required"`
	Puzzles     []PuzzleSpec `json:"puzzles"`
}

// UpdateRequest changes a quest. Nil fields are left alone.
type UpdateRequest struct {
	DisplayName *string      `json:"display_name"`
	Puzzles     []PuzzleSpec `json:"puzzles"`
}

// Create builds a not-started quest. The assignee is resolved to a user or a
// team here, once.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*model.Quest, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperr.InvalidRequest("quest name is required")
	}
	if strings.TrimSpace(req.Assignee) == "" {
		return nil, apperr.InvalidRequest("assignee is required")
	}
	assignee, err := e.dir.ResolveAssignee(ctx, strings.TrimSpace(req.Assignee))
	if err != nil {
		return nil, err
	}
	puzzles, err := e.buildPuzzles(ctx, req.Puzzles, nil)
	if err != nil {
		return nil, err
	}
	display := req.DisplayName
	if display == "" {
		display = name
	}
	q := &model.Quest{
		Name:         name,
		DisplayName:  display,
		Assignee:     assignee.Name,
		AssigneeKind: assignee.Kind,
		Status:       model.QuestNotStarted,
		Puzzles:      puzzles,
	}
	if err := Validate(q, nil); err != nil {
		return nil, apperr.Wrap(apperr.KindPersistenceFailure, err, "refusing to create quest %q", name)
	}
	if err := e.store.Create(ctx, q); err != nil {
		return nil, err
	}
	e.logger.Info("quest created",
		zap.String("quest", q.Name),
		zap.String("assignee", assignee.String()),
		zap.Int("puzzles", len(q.Puzzles)))
	return q, nil
}

// Update edits a quest. The puzzle list can only be replaced before the quest
// starts; codes of puzzles that stay are kept unless a new one is supplied.
func (e *Engine) Update(ctx context.Context, name string, req UpdateRequest) (*model.Quest, error) {
	var puzzles datatypes.JSONSlice[model.QuestPuzzle]
	if req.Puzzles != nil {
		cur, err := e.store.Get(ctx, name)
		if err != nil {
			return nil, err
		}
		puzzles, err = e.buildPuzzles(ctx, req.Puzzles, cur.Puzzles)
		if err != nil {
			return nil, err
		}
	}
	q, err := e.write(ctx, name, nil, false, func(q *model.Quest, _ time.Time) error {
		if req.DisplayName != nil {
			q.DisplayName = *req.DisplayName
		}
		if puzzles == nil {
			return nil
		}
		if q.Status != model.QuestNotStarted {
			return apperr.InvalidState("quest %q has started; reset it before changing its puzzles", q.Name)
		}
		q.Puzzles = puzzles
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("quest updated", zap.String("quest", name), zap.Int64("version", q.Version))
	return q, nil
}

// Delete removes a quest in any status.
func (e *Engine) Delete(ctx context.Context, name string) error {
	if err := e.store.Delete(ctx, name); err != nil {
		return err
	}
	e.logger.Info("quest deleted", zap.String("quest", name))
	return nil
}

// SetExpectedResponse stores the text an inbound SMS must match to solve the
// puzzle, and the reply sent when it does. An empty pattern changes nothing.
func (e *Engine) SetExpectedResponse(ctx context.Context, questName, puzzle, pattern, confirmation string) (*model.Quest, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return e.store.Get(ctx, questName)
	}
	if strings.TrimSpace(confirmation) == "" {
		return nil, apperr.InvalidRequest("an expected response needs a confirmation message")
	}
	return e.mutate(ctx, questName, nil, func(q *model.Quest, _ time.Time) error {
		i, err := entry(q, puzzle)
		if err != nil {
			return err
		}
		q.Puzzles[i].TextResponse = pattern
		q.Puzzles[i].TextConfirmation = confirmation
		return nil
	})
}

// buildPuzzles turns specs into fresh quest entries. Entries in prev with the
// same puzzle name lend their code and text response.
func (e *Engine) buildPuzzles(ctx context.Context, specs []PuzzleSpec, prev []model.QuestPuzzle) (datatypes.JSONSlice[model.QuestPuzzle], error) {
	names := make([]string, 0, len(specs))
	seen := make(map[string]bool, len(specs))
	for _, s := range specs {
		n := strings.TrimSpace(s.Name)
		if n == "" {
			return nil, apperr.InvalidRequest("puzzle name is required")
		}
		if seen[n] {
			return nil, apperr.InvalidRequest("puzzle %q appears twice", n)
		}
		seen[n] = true
		names = append(names, n)
	}
	if _, err := e.catalog.Index(ctx, names); err != nil {
		return nil, err
	}

	old := make(map[string]model.QuestPuzzle, len(prev))
	for _, p := range prev {
		old[p.PuzzleName] = p
	}
	out := make(datatypes.JSONSlice[model.QuestPuzzle], 0, len(specs))
	for i, s := range specs {
		qp := model.QuestPuzzle{
			PuzzleName: names[i],
			QuestOrder: i,
			Status:     model.PuzzleUnavailable,
		}
		if p, ok := old[qp.PuzzleName]; ok {
			qp.ActivationCode = p.ActivationCode
			qp.TextResponse = p.TextResponse
			qp.TextConfirmation = p.TextConfirmation
		}
		if code := strings.TrimSpace(s.Code); code != "" {
			qp.ActivationCode = code
		}
		if qp.ActivationCode == "" {
			code, err := NewActivationCode(e.codeLen)
			if err != nil {
				return nil, apperr.Wrap(apperr.KindPersistenceFailure, err, "generate activation code")
			}
			qp.ActivationCode = code
		}
		out = append(out, qp)
	}
	return out, nil
}
