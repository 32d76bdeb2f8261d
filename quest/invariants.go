package quest

import (
	"fmt"

	"github.com/kasuganosora/questline/model"
)

// Validate checks the structural rules every stored quest must satisfy.
// hintCounts, when non-nil, bounds each puzzle's hint cursor.
func Validate(q *model.Quest, hintCounts map[string]int) error {
	current := -1
	for i, p := range q.Puzzles {
		if p.QuestOrder != i {
			return fmt.Errorf("puzzle %q has order %d at position %d", p.PuzzleName, p.QuestOrder, i)
		}
		if p.Status.Actionable() {
			if current >= 0 {
				return fmt.Errorf("puzzles %q and %q are both current", q.Puzzles[current].PuzzleName, p.PuzzleName)
			}
			current = i
		}
	}

	// Everything before the frontier is completed, everything after is unavailable.
	frontier := current
	if frontier < 0 {
		frontier = 0
		for frontier < len(q.Puzzles) && q.Puzzles[frontier].Status == model.PuzzleCompleted {
			frontier++
		}
	}
	for i, p := range q.Puzzles {
		switch {
		case i < frontier && p.Status != model.PuzzleCompleted:
			return fmt.Errorf("puzzle %q precedes the current one but is %s", p.PuzzleName, p.Status)
		case i > frontier && p.Status != model.PuzzleUnavailable:
			return fmt.Errorf("puzzle %q follows the current one but is %s", p.PuzzleName, p.Status)
		case i == frontier && current < 0 && p.Status != model.PuzzleUnavailable:
			return fmt.Errorf("puzzle %q is %s", p.PuzzleName, p.Status)
		}
	}

	allUnavailable := true
	for _, p := range q.Puzzles {
		if p.Status != model.PuzzleUnavailable {
			allUnavailable = false
			break
		}
	}
	if (q.Status == model.QuestNotStarted) != allUnavailable {
		return fmt.Errorf("quest status %s disagrees with puzzle progress", q.Status)
	}

	if q.Status == model.QuestInProgress && current < 0 {
		return fmt.Errorf("quest is in progress without a current puzzle")
	}

	lastDone := len(q.Puzzles) > 0 && q.Puzzles[len(q.Puzzles)-1].Status == model.PuzzleCompleted
	if (q.Status == model.QuestCompleted) != lastDone {
		return fmt.Errorf("quest status %s disagrees with its last puzzle", q.Status)
	}

	for _, p := range q.Puzzles {
		if p.NextHintToDisplay < 0 {
			return fmt.Errorf("puzzle %q has a negative hint cursor", p.PuzzleName)
		}
		if p.NextHintToDisplay > 0 && p.Status != model.PuzzleInProgress && p.Status != model.PuzzleCompleted {
			return fmt.Errorf("puzzle %q revealed hints before activation", p.PuzzleName)
		}
		if n, ok := hintCounts[p.PuzzleName]; ok && p.NextHintToDisplay > n {
			return fmt.Errorf("puzzle %q hint cursor %d exceeds %d hints", p.PuzzleName, p.NextHintToDisplay, n)
		}
	}
	return nil
}

// sameCodes reports whether no activation code differs between a and b.
func sameCodes(a, b *model.Quest) bool {
	if len(a.Puzzles) != len(b.Puzzles) {
		return false
	}
	for i := range a.Puzzles {
		if a.Puzzles[i].ActivationCode != b.Puzzles[i].ActivationCode {
			return false
		}
	}
	return true
}
