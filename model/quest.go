package model

import (
	"time"

	"gorm.io/datatypes"
)

// QuestStatus is the overall progress of a quest.
type QuestStatus int

const (
	QuestNotStarted QuestStatus = 0
	QuestInProgress QuestStatus = 1
	QuestCompleted  QuestStatus = 2
)

func (s QuestStatus) String() string {
	switch s {
	case QuestNotStarted:
		return "not_started"
	case QuestInProgress:
		return "in_progress"
	case QuestCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// PuzzleStatus is the progress of one puzzle within a quest.
// The only forward path is Unavailable → AwaitingActivation → InProgress → Completed.
type PuzzleStatus int

const (
	PuzzleUnavailable        PuzzleStatus = 0
	PuzzleAwaitingActivation PuzzleStatus = 1
	PuzzleInProgress         PuzzleStatus = 2
	PuzzleCompleted          PuzzleStatus = 3
)

func (s PuzzleStatus) String() string {
	switch s {
	case PuzzleUnavailable:
		return "unavailable"
	case PuzzleAwaitingActivation:
		return "awaiting_activation"
	case PuzzleInProgress:
		return "in_progress"
	case PuzzleCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Description is the player-facing label for the status.
func (s PuzzleStatus) Description() string {
	switch s {
	case PuzzleUnavailable:
		return "Not yet available"
	case PuzzleAwaitingActivation:
		return "Find the activation code to unlock this puzzle"
	case PuzzleInProgress:
		return "In progress"
	case PuzzleCompleted:
		return "Solved"
	default:
		return "Unknown"
	}
}

// Actionable reports whether a puzzle in this status is the current one of its quest.
func (s PuzzleStatus) Actionable() bool {
	return s == PuzzleAwaitingActivation || s == PuzzleInProgress
}

// AssigneeKind tells whether a quest assignee names a user or a team.
type AssigneeKind string

const (
	AssigneeUser AssigneeKind = "user"
	AssigneeTeam AssigneeKind = "team"
)

// QuestPuzzle is the per-quest instance of a catalog puzzle. It is embedded in
// the quest row and references the catalog by puzzle name only, so renaming a
// catalog puzzle breaks the quests that use it.
type QuestPuzzle struct {
	PuzzleName        string       `json:"puzzle_name"`
	QuestOrder        int          `json:"quest_order"`
	ActivationCode    string       `json:"activation_code"`
	NextHintToDisplay int          `json:"next_hint_to_display"`
	Status            PuzzleStatus `json:"status"`
	StartTime         *time.Time   `json:"start_time,omitempty"`
	ActivationTime    *time.Time   `json:"activation_time,omitempty"`
	EndTime           *time.Time   `json:"end_time,omitempty"`
	// Expected text response: an inbound SMS matching TextResponse counts as a solve
	// and is answered with TextConfirmation.
	TextResponse     string `json:"text_response,omitempty"`
	TextConfirmation string `json:"text_confirmation,omitempty"`
}

// Quest is a per-assignee ordered run through catalog puzzles.
// Version increases on every committed write and guards concurrent updates.
type Quest struct {
	ID           int64                            `gorm:"primaryKey;autoIncrement" json:"id"`
	Name         string                           `gorm:"uniqueIndex;size:64;not null" json:"name"`
	DisplayName  string                           `gorm:"size:128" json:"display_name"`
	Assignee     string                           `gorm:"index:idx_quest_assignee;size:64;not null" json:"assignee"`
	AssigneeKind AssigneeKind                     `gorm:"size:8;not null" json:"assignee_kind"`
	Status       QuestStatus                      `gorm:"index:idx_quest_status;not null;default:0" json:"status"`
	Version      int64                            `gorm:"not null;default:0" json:"version"`
	Puzzles      datatypes.JSONSlice[QuestPuzzle] `json:"puzzles"`
	CreatedAt    time.Time                        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time                        `gorm:"autoUpdateTime" json:"updated_at"`
}

// IndexOf returns the position of the entry for puzzleName, or -1.
func (q *Quest) IndexOf(puzzleName string) int {
	for i := range q.Puzzles {
		if q.Puzzles[i].PuzzleName == puzzleName {
			return i
		}
	}
	return -1
}

// Current returns the position of the actionable puzzle, or -1 when there is none.
func (q *Quest) Current() int {
	for i := range q.Puzzles {
		if q.Puzzles[i].Status.Actionable() {
			return i
		}
	}
	return -1
}

// Clone returns a copy whose puzzle slice can be mutated independently.
func (q *Quest) Clone() *Quest {
	c := *q
	c.Puzzles = make(datatypes.JSONSlice[QuestPuzzle], len(q.Puzzles))
	copy(c.Puzzles, q.Puzzles)
	return &c
}
