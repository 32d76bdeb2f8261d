package quest

import "github.com/kasuganosora/questline/model"

// HintResult is what a hint request yields.
type HintResult struct {
	NoMoreHints     bool   `json:"no_more_hints"`
	Text            string `json:"text,omitempty"`
	Order           int    `json:"order"`
	PenaltySeconds  int    `json:"penalty_seconds"`
	RevealsSolution bool   `json:"reveals_solution"`
	HasMore         bool   `json:"has_more"`
	// Preview of the hint after this one, so callers can warn before it is requested.
	NextRevealsSolution bool `json:"next_reveals_solution"`
	NextPenaltySeconds  int  `json:"next_penalty_seconds"`
	Revealed            int  `json:"revealed"`
}

// dispense picks the hint at cursor from the sorted list and returns the
// result together with the new cursor. A cursor at or past the end yields
// NoMoreHints and is returned unchanged.
func dispense(hints []model.Hint, cursor int) (HintResult, int) {
	if cursor < 0 {
		cursor = 0
	}
	if cursor >= len(hints) {
		return HintResult{NoMoreHints: true, Revealed: cursor}, cursor
	}
	h := hints[cursor]
	cursor++
	res := HintResult{
		Text:            h.Text,
		Order:           h.Order,
		PenaltySeconds:  h.PenaltySeconds,
		RevealsSolution: h.RevealsSolution,
		HasMore:         cursor < len(hints),
		Revealed:        cursor,
	}
	if res.HasMore {
		res.NextRevealsSolution = hints[cursor].RevealsSolution
		res.NextPenaltySeconds = hints[cursor].PenaltySeconds
	}
	return res, cursor
}
