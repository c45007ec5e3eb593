package domain

import "time"

// MaxBlobSize is the largest encrypted wager payload the ledger accepts.
const MaxBlobSize = 512

// BetLog is an immutable, append-only record of one deposit. The encrypted
// blob is opaque to the ledger; ChoiceHint is supplied by the depositor for
// display only and is never read during resolution.
type BetLog struct {
	ID            string    `json:"id"`
	MarketID      string    `json:"market_id"`
	Depositor     string    `json:"depositor"`
	Sequence      uint64    `json:"sequence"`
	Amount        uint64    `json:"amount"`
	EncryptedBlob []byte    `json:"encrypted_blob"`
	ChoiceHint    uint8     `json:"choice_hint"`
	Timestamp     time.Time `json:"timestamp"`
}
