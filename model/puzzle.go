package model

import (
	"sort"
	"time"

	"gorm.io/datatypes"
)

// ContentKind is the media type of a puzzle body.
type ContentKind string

const (
	ContentText  ContentKind = "text"
	ContentImage ContentKind = "image"
	ContentAudio ContentKind = "audio"
	ContentVideo ContentKind = "video"
)

// Valid reports whether k is a known content kind.
func (k ContentKind) Valid() bool {
	switch k {
	case ContentText, ContentImage, ContentAudio, ContentVideo:
		return true
	}
	return false
}

// Hint is one entry of a puzzle's ordered hint list.
type Hint struct {
	Text            string `json:"text" yaml:"text"`
	Order           int    `json:"order" yaml:"order"`
	RevealsSolution bool   `json:"reveals_solution" yaml:"reveals_solution"`
	PenaltySeconds  int    `json:"penalty_seconds" yaml:"penalty_seconds"`
}

// Puzzle is a catalog template. It does not change while quests are played.
type Puzzle struct {
	ID          int64                     `gorm:"primaryKey;autoIncrement" json:"id" yaml:"-"`
	Name        string                    `gorm:"uniqueIndex;size:64;not null" json:"name" yaml:"name"`
	DisplayName string                    `gorm:"size:128" json:"display_name" yaml:"display_name"`
	ContentKind ContentKind               `gorm:"size:8;not null;default:text" json:"content_kind" yaml:"content_kind"`
	Content     string                    `gorm:"type:text" json:"content" yaml:"content"`
	Keywords    string                    `gorm:"type:text" json:"keywords" yaml:"keywords"` // comma-delimited patterns
	Solution    string                    `gorm:"type:text" json:"solution" yaml:"solution"`
	Hints       datatypes.JSONSlice[Hint] `json:"hints" yaml:"hints"`
	CreatedAt   time.Time                 `gorm:"autoCreateTime" json:"created_at" yaml:"-"`
	UpdatedAt   time.Time                 `gorm:"autoUpdateTime" json:"updated_at" yaml:"-"`
}

// SortedHints returns the hints ordered by Order. The catalog does not
// guarantee that Order is dense or that hints are stored in order.
func (p *Puzzle) SortedHints() []Hint {
	hints := make([]Hint, len(p.Hints))
	copy(hints, p.Hints)
	sort.SliceStable(hints, func(i, j int) bool { return hints[i].Order < hints[j].Order })
	return hints
}
