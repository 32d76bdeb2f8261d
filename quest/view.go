package quest

import (
	"context"
	"errors"
	"time"

	"github.com/kasuganosora/questline/apperr"
	"github.com/kasuganosora/questline/model"
)

// View is the read model of a quest handed to the API layer.
type View struct {
	Name                string       `json:"name"`
	DisplayName         string       `json:"display_name"`
	Assignee            string       `json:"assignee"`
	AssigneeKind        string       `json:"assignee_kind"`
	Status              string       `json:"status"`
	Version             int64        `json:"version"`
	TotalPenaltySeconds int          `json:"total_penalty_seconds"`
	Puzzles             []PuzzleView `json:"puzzles"`
}

// HintView is a hint already shown to the players.
type HintView struct {
	Order           int    `json:"order"`
	Text            string `json:"text"`
	RevealsSolution bool   `json:"reveals_solution"`
	PenaltySeconds  int    `json:"penalty_seconds"`
}

// PuzzleView is one puzzle of a View. Content and solution appear only once
// the puzzle's status allows it.
type PuzzleView struct {
	Name              string     `json:"name"`
	DisplayName       string     `json:"display_name"`
	QuestOrder        int        `json:"quest_order"`
	Status            string     `json:"status"`
	StatusDescription string     `json:"status_description"`
	ContentKind       string     `json:"content_kind,omitempty"`
	Content           string     `json:"content,omitempty"`
	Solution          string     `json:"solution,omitempty"`
	Hints             []HintView `json:"hints"`
	HintsRemaining    int        `json:"hints_remaining"`
	PenaltySeconds    int        `json:"penalty_seconds"`
	// Preview of the next hint so a client can warn before requesting it.
	NextHintPenaltySeconds  *int       `json:"next_hint_penalty_seconds,omitempty"`
	NextHintRevealsSolution bool       `json:"next_hint_reveals_solution"`
	StartTime               *time.Time `json:"start_time,omitempty"`
	ActivationTime          *time.Time `json:"activation_time,omitempty"`
	EndTime                 *time.Time `json:"end_time,omitempty"`
	Missing                 bool       `json:"missing,omitempty"`

	// Admin only.
	ActivationCode   string `json:"activation_code,omitempty"`
	TextResponse     string `json:"text_response,omitempty"`
	TextConfirmation string `json:"text_confirmation,omitempty"`
}

// View loads a quest and projects it. The admin view adds activation codes,
// text responses and the content of puzzles not yet reached.
func (e *Engine) View(ctx context.Context, name string, admin bool) (*View, error) {
	q, err := e.store.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	idx, err := e.index(ctx, q)
	if err != nil {
		return nil, err
	}
	v := Project(q, idx, admin)
	return &v, nil
}

// index joins the quest's entries to the catalog. A renamed or deleted
// catalog puzzle is left out of the map rather than failing the view.
func (e *Engine) index(ctx context.Context, q *model.Quest) (map[string]*model.Puzzle, error) {
	names := make([]string, len(q.Puzzles))
	for i, p := range q.Puzzles {
		names[i] = p.PuzzleName
	}
	idx, err := e.catalog.Index(ctx, names)
	if err == nil {
		return idx, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	idx = make(map[string]*model.Puzzle, len(names))
	for _, n := range names {
		p, err := e.catalog.Get(ctx, n)
		switch {
		case err == nil:
			idx[n] = p
		case !errors.Is(err, apperr.ErrNotFound):
			return nil, err
		}
	}
	return idx, nil
}

// Project builds the read model from a quest and its catalog join.
func Project(q *model.Quest, idx map[string]*model.Puzzle, admin bool) View {
	v := View{
		Name:         q.Name,
		DisplayName:  q.DisplayName,
		Assignee:     q.Assignee,
		AssigneeKind: string(q.AssigneeKind),
		Status:       q.Status.String(),
		Version:      q.Version,
		Puzzles:      make([]PuzzleView, 0, len(q.Puzzles)),
	}
	for _, qp := range q.Puzzles {
		pv := PuzzleView{
			Name:              qp.PuzzleName,
			DisplayName:       qp.PuzzleName,
			QuestOrder:        qp.QuestOrder,
			Status:            qp.Status.String(),
			StatusDescription: qp.Status.Description(),
			Hints:             []HintView{},
			StartTime:         qp.StartTime,
			ActivationTime:    qp.ActivationTime,
			EndTime:           qp.EndTime,
		}
		if admin {
			pv.ActivationCode = qp.ActivationCode
			pv.TextResponse = qp.TextResponse
			pv.TextConfirmation = qp.TextConfirmation
		}

		p, ok := idx[qp.PuzzleName]
		if !ok {
			pv.Missing = true
			v.Puzzles = append(v.Puzzles, pv)
			continue
		}
		if p.DisplayName != "" {
			pv.DisplayName = p.DisplayName
		}
		unlocked := qp.Status == model.PuzzleInProgress || qp.Status == model.PuzzleCompleted
		if unlocked || admin {
			pv.ContentKind = string(p.ContentKind)
			pv.Content = p.Content
		}
		if qp.Status == model.PuzzleCompleted || admin {
			pv.Solution = p.Solution
		}

		hints := p.SortedHints()
		shown := qp.NextHintToDisplay
		if shown > len(hints) {
			shown = len(hints)
		}
		for _, h := range hints[:shown] {
			pv.Hints = append(pv.Hints, HintView{
				Order:           h.Order,
				Text:            h.Text,
				RevealsSolution: h.RevealsSolution,
				PenaltySeconds:  h.PenaltySeconds,
			})
			pv.PenaltySeconds += h.PenaltySeconds
		}
		pv.HintsRemaining = len(hints) - shown
		if shown < len(hints) {
			penalty := hints[shown].PenaltySeconds
			pv.NextHintPenaltySeconds = &penalty
			pv.NextHintRevealsSolution = hints[shown].RevealsSolution
		}
		v.TotalPenaltySeconds += pv.PenaltySeconds
		v.Puzzles = append(v.Puzzles, pv)
	}
	return v
}
