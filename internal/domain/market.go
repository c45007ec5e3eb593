package domain

import (
	"encoding/hex"
	"time"
)

// MaxQuestionLen is the longest question text a market may carry.
const MaxQuestionLen = 280

// MaxFeeBps is the largest protocol fee, in basis points, that a market may
// register (100%).
const MaxFeeBps = 10000

// MarketState represents the lifecycle state of a market.
type MarketState string

const (
	MarketStateOpen      MarketState = "open"
	MarketStateEnqueued  MarketState = "enqueued"
	MarketStateSettling  MarketState = "settling"
	MarketStateSettled   MarketState = "settled"
	MarketStateCancelled MarketState = "cancelled"
	MarketStateFailed    MarketState = "failed"
)

// marketTransitions is the complete forward-only transition graph.
var marketTransitions = map[MarketState][]MarketState{
	MarketStateOpen:     {MarketStateEnqueued, MarketStateCancelled},
	MarketStateEnqueued: {MarketStateSettling},
	MarketStateSettling: {MarketStateSettled, MarketStateFailed},
}

// CanTransition reports whether the graph has an edge from s to next.
func (s MarketState) CanTransition(next MarketState) bool {
	for _, to := range marketTransitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s MarketState) Terminal() bool {
	switch s {
	case MarketStateSettled, MarketStateCancelled, MarketStateFailed:
		return true
	}
	return false
}

// Valid reports whether s is a known state.
func (s MarketState) Valid() bool {
	switch s {
	case MarketStateOpen, MarketStateEnqueued, MarketStateSettling,
		MarketStateSettled, MarketStateCancelled, MarketStateFailed:
		return true
	}
	return false
}

// Hash is a 32-byte digest rendered as hex in JSON.
type Hash [32]byte

// IsZero reports whether h is all zero bytes.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// Hex returns the 0x-prefixed hex encoding of h.
func (h Hash) Hex() string {
	return "0x" + hex.EncodeToString(h[:])
}

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	s := string(text)
	if len(s) >= 2 && s[:2] == "0x" {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(b) != len(h) {
		return ErrInvalidHash
	}
	copy(h[:], b)
	return nil
}

// Market is a single binary prediction market and its escrowed pool. It is
// owned by the ledger and mutated only through ledger operations.
type Market struct {
	ID        string      `json:"id"`
	Creator   string      `json:"creator"`
	Seed      string      `json:"seed"`
	Question  string      `json:"question"`
	Deadline  time.Time   `json:"deadline"`
	Authority string      `json:"authority"`
	Escrow    string      `json:"escrow"`
	FeeBps    uint16      `json:"fee_bps"`
	TotalPool uint64      `json:"total_pool"`
	State     MarketState `json:"state"`
	// ResultHash stays zero until the market settles.
	ResultHash Hash      `json:"result_hash"`
	BetCount   uint64    `json:"bet_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// EscrowAuthority returns the signing authority that may move this market's
// escrowed funds. It is derived from the market record alone.
func (m Market) EscrowAuthority() string {
	return EscrowAuthorityAddress(m.ID)
}
