package domain

// Choice values for a binary market.
const (
	ChoiceNo  uint8 = 0
	ChoiceYes uint8 = 1
)

// Payout is one recipient's share of a settled market.
type Payout struct {
	Recipient string `json:"recipient"`
	Amount    uint64 `json:"amount"`
}

// Exclusion records a bet that was left out of aggregation and why.
type Exclusion struct {
	Depositor string `json:"depositor"`
	Reason    string `json:"reason"`
}

// MarketResult is the attested outcome of one resolution. Fund conservation
// holds exactly: sum(Payouts) + FeeAmount + Dust == TotalPool.
type MarketResult struct {
	MarketID      string      `json:"market_id"`
	WinningChoice uint8       `json:"winning_choice"`
	TotalPool     uint64      `json:"total_pool"`
	FeeAmount     uint64      `json:"fee_amount"`
	Dust          uint64      `json:"dust"`
	Payouts       []Payout    `json:"payouts"`
	Excluded      []Exclusion `json:"excluded"`
	Timestamp     int64       `json:"timestamp"`
}

// PayoutSum returns the sum of all payout amounts and whether it overflowed.
func (r MarketResult) PayoutSum() (uint64, bool) {
	var sum uint64
	for _, p := range r.Payouts {
		next := sum + p.Amount
		if next < sum {
			return 0, false
		}
		sum = next
	}
	return sum, true
}

// Conserves reports whether payouts, fee and dust add up to TotalPool
// without overflow.
func (r MarketResult) Conserves() bool {
	sum, ok := r.PayoutSum()
	if !ok {
		return false
	}
	withFee := sum + r.FeeAmount
	if withFee < sum {
		return false
	}
	total := withFee + r.Dust
	if total < withFee {
		return false
	}
	return total == r.TotalPool
}

// EncryptedBet is one entry of a resolution request as seen by the
// computation process.
type EncryptedBet struct {
	Depositor      string `json:"depositor"`
	EncryptedBlob  []byte `json:"encrypted_blob"`
	DeclaredAmount uint64 `json:"declared_amount"`
}

// ResolutionRequest is the confidential input handed to the computation
// process for one market.
type ResolutionRequest struct {
	MarketID        string         `json:"market_id"`
	EncryptedBets   []EncryptedBet `json:"encrypted_bets"`
	EncryptedOracle []byte         `json:"encrypted_oracle,omitempty"`
	FeeBps          uint16         `json:"fee_bps"`
	Timestamp       int64          `json:"timestamp"`
}

// ResolutionResponse is the attested result returned across the trust
// boundary. ResultBytes is the canonical encoding of Result that Signature
// covers.
type ResolutionResponse struct {
	Result      MarketResult `json:"result"`
	ResultBytes []byte       `json:"result_bytes"`
	Signature   []byte       `json:"signature"`
}
