package domain

import "time"

// Settlement is the resumable payout cursor for a market in the settling
// state. Payouts[:Cursor] have been transferred.
type Settlement struct {
	MarketID    string    `json:"market_id"`
	ResultHash  Hash      `json:"result_hash"`
	ResultBytes []byte    `json:"result_bytes"`
	Signature   []byte    `json:"signature"`
	Payouts     []Payout  `json:"payouts"`
	Cursor      int       `json:"cursor"`
	Attempts    int       `json:"attempts"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Done reports whether every payout has been processed.
func (s Settlement) Done() bool {
	return s.Cursor >= len(s.Payouts)
}

// TransferRequest asks the asset-transfer service to move Amount from one
// account to another under the given signing authority.
type TransferRequest struct {
	From           string `json:"from"`
	To             string `json:"to"`
	Amount         uint64 `json:"amount"`
	Authority      string `json:"authority"`
	IdempotencyKey string `json:"idempotency_key"`
}
