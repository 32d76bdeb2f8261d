package quest

import (
	"time"

	"github.com/kasuganosora/questline/apperr"
	"github.com/kasuganosora/questline/model"
)

// The functions in this file are the only code that changes quest or puzzle
// status. They mutate q in place and are pure apart from that, so a caller
// can re-run them against a fresh copy after losing a write race.

func entry(q *model.Quest, puzzle string) (int, error) {
	i := q.IndexOf(puzzle)
	if i < 0 {
		return -1, apperr.NotFound("quest %q has no puzzle %q", q.Name, puzzle)
	}
	return i, nil
}

func start(q *model.Quest, now time.Time) error {
	switch q.Status {
	case model.QuestNotStarted:
	case model.QuestInProgress:
		return apperr.InvalidState("quest %q is already started", q.Name)
	case model.QuestCompleted:
		return apperr.InvalidState("quest %q is already completed", q.Name)
	default:
		return apperr.InvalidState("quest %q has unknown status %d", q.Name, q.Status)
	}
	if len(q.Puzzles) == 0 {
		return apperr.InvalidState("quest %q has no puzzles", q.Name)
	}
	q.Status = model.QuestInProgress
	first := &q.Puzzles[0]
	first.Status = model.PuzzleAwaitingActivation
	first.StartTime = stamp(now)
	return nil
}

// activate checks the code before the status, so a wrong code is always
// reported as a wrong code whatever state the puzzle is in.
func activate(q *model.Quest, i int, code string, now time.Time) error {
	p := &q.Puzzles[i]
	if err := CheckActivation(p.ActivationCode, code); err != nil {
		return err
	}
	switch p.Status {
	case model.PuzzleAwaitingActivation:
	case model.PuzzleUnavailable:
		return apperr.InvalidState("puzzle %q is not yet available", p.PuzzleName)
	case model.PuzzleInProgress, model.PuzzleCompleted:
		return apperr.InvalidState("puzzle %q is already activated", p.PuzzleName)
	default:
		return apperr.InvalidState("puzzle %q has unknown status %d", p.PuzzleName, p.Status)
	}
	p.Status = model.PuzzleInProgress
	p.ActivationTime = stamp(now)
	return nil
}

// requireInProgress guards solve and hint.
func requireInProgress(p *model.QuestPuzzle) error {
	switch p.Status {
	case model.PuzzleInProgress:
		return nil
	case model.PuzzleUnavailable, model.PuzzleAwaitingActivation:
		return apperr.InvalidState("puzzle %q is not yet activated", p.PuzzleName)
	case model.PuzzleCompleted:
		return apperr.InvalidState("puzzle %q is already solved", p.PuzzleName)
	default:
		return apperr.InvalidState("puzzle %q has unknown status %d", p.PuzzleName, p.Status)
	}
}

// complete marks puzzle i solved and moves the quest on. It returns the name
// of the puzzle that is now awaiting activation, or "" when the quest is done.
func complete(q *model.Quest, i int, now time.Time) string {
	p := &q.Puzzles[i]
	p.Status = model.PuzzleCompleted
	p.EndTime = stamp(now)
	if i+1 < len(q.Puzzles) {
		next := &q.Puzzles[i+1]
		next.Status = model.PuzzleAwaitingActivation
		next.StartTime = stamp(now)
		return next.PuzzleName
	}
	q.Status = model.QuestCompleted
	return ""
}

// reset is an operator override and has no precondition. Activation codes
// and configured text responses survive it.
func reset(q *model.Quest) {
	q.Status = model.QuestNotStarted
	for i := range q.Puzzles {
		p := &q.Puzzles[i]
		p.Status = model.PuzzleUnavailable
		p.NextHintToDisplay = 0
		p.StartTime = nil
		p.ActivationTime = nil
		p.EndTime = nil
	}
}

func stamp(t time.Time) *time.Time {
	return &t
}
