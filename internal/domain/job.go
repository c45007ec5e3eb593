package domain

import "time"

// JobStatus tracks an off-ledger resolution request.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// CanTransition reports whether a job may move from s to next.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusRunning || next == JobStatusFailed
	case JobStatusRunning:
		return next == JobStatusCompleted || next == JobStatusFailed
	}
	return false
}

// ResolutionJob is one attempt at resolving a market.
type ResolutionJob struct {
	ID              string    `json:"id"`
	MarketID        string    `json:"market_id"`
	Attempt         int       `json:"attempt"`
	Status          JobStatus `json:"status"`
	CallbackTarget  string    `json:"callback_target"`
	EncryptedOracle []byte    `json:"encrypted_oracle,omitempty"`
	Error           string    `json:"error,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
	UpdatedAt       time.Time `json:"updated_at"`
}
