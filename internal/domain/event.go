package domain

import "time"

// Signal bus channel and stream names.
const (
	ChannelMarketEvents  = "market_events"
	StreamResolutionJobs = "jobs:resolution"
)

// Market event types published on ChannelMarketEvents.
const (
	EventMarketCreated     = "market_created"
	EventBetPlaced         = "bet_placed"
	EventMarketEnqueued    = "market_enqueued"
	EventMarketCancelled   = "market_cancelled"
	EventSettlementStarted = "settlement_started"
	EventMarketSettled     = "market_settled"
	EventSettlementFailed  = "settlement_failed"
	EventResolutionFailed  = "resolution_failed"
)

// MarketEvent is the payload published whenever a market changes.
type MarketEvent struct {
	Type     string      `json:"type"`
	MarketID string      `json:"market_id"`
	State    MarketState `json:"state"`
	Detail   string      `json:"detail,omitempty"`
	At       time.Time   `json:"at"`
}

// JobMessage is the payload appended to StreamResolutionJobs.
type JobMessage struct {
	JobID    string `json:"job_id"`
	MarketID string `json:"market_id"`
}
