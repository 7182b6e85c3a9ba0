package model

import "time"

// SessionProgress is the persisted state of one participant+exam session.
// StartTimeMs is written once and is the only input to the deadline.
type SessionProgress struct {
	StartTimeMs int64             `json:"startTimeMs"`
	Answers     map[string]string `json:"jawabanUser"`
	Flags       map[string]bool   `json:"raguRagu"`
	LastUpdated int64             `json:"lastUpdated"`
}

// Started reports whether the deadline anchor has been written.
func (p *SessionProgress) Started() bool {
	return p != nil && p.StartTimeMs > 0
}

// StartedAt converts StartTimeMs to a time.Time.
func (p *SessionProgress) StartedAt() time.Time {
	return time.UnixMilli(p.StartTimeMs)
}
