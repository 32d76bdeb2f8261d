// Package notify mirrors committed quest transitions to monitoring displays.
// Delivery is fire-and-forget: nothing here takes part in a transition.
package notify

import "time"

// Channel is the pubsub channel quest events are published on.
const Channel = "quest_events"

// Kind names the transition an Event reports.
type Kind string

const (
	KindStarted       Kind = "started"
	KindActivated     Kind = "activated"
	KindSolved        Kind = "solved"
	KindHintRequested Kind = "hint_requested"
	KindReset         Kind = "reset"
)

// Event is published after every committed transition.
type Event struct {
	Quest          string     `json:"quest"`
	Assignee       string     `json:"assignee"`
	Puzzle         string     `json:"puzzle,omitempty"`
	Kind           Kind       `json:"kind"`
	QuestStatus    string     `json:"quest_status"`
	At             time.Time  `json:"at"`
	StartTime      *time.Time `json:"start_time,omitempty"`
	ActivationTime *time.Time `json:"activation_time,omitempty"`
	EndTime        *time.Time `json:"end_time,omitempty"`
}
