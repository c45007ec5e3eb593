package mxe

import (
	"fmt"
	"sort"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/sealedmarket/internal/domain"
)

const bpsDenominator = 10_000

// Pools holds the per-choice stake totals of a set of bets.
type Pools struct {
	No    uint64
	Yes   uint64
	Total uint64
}

// Of returns the pool for choice.
func (p Pools) Of(choice uint8) uint64 {
	if choice == domain.ChoiceYes {
		return p.Yes
	}
	return p.No
}

// AggregatePools sums stakes per choice, failing with ErrPoolOverflow if any
// total exceeds uint64.
func AggregatePools(bets []DecryptedBet) (Pools, error) {
	var p Pools
	for _, b := range bets {
		var ok bool
		if b.Choice == domain.ChoiceYes {
			p.Yes, ok = addU64(p.Yes, b.Stake)
		} else {
			p.No, ok = addU64(p.No, b.Stake)
		}
		if !ok {
			return Pools{}, domain.ErrPoolOverflow
		}
		if p.Total, ok = addU64(p.Total, b.Stake); !ok {
			return Pools{}, domain.ErrPoolOverflow
		}
	}
	return p, nil
}

// Payouts is the output of CalculatePayouts.
type Payouts struct {
	FeeAmount uint64
	Dust      uint64
	Refund    bool
	Payouts   []domain.Payout
}

// CalculatePayouts splits totalPool among the winners of the market.
//
// The fee is floor(total*bps/10000); each winning depositor receives
// floor(distributable*stake/winnersPool). Truncation remainder is returned as
// Dust and is never distributed. When nobody picked the winning side every
// depositor is refunded in full and no fee is taken.
//
// Payouts carry one entry per depositor, sorted by recipient; depositors with
// no winning stake appear with amount 0.
func CalculatePayouts(totalPool uint64, feeBps uint16, winning uint8, bets []DecryptedBet) (Payouts, error) {
	if len(bets) == 0 {
		return Payouts{}, domain.ErrNoBets
	}
	if feeBps > domain.MaxFeeBps {
		return Payouts{}, fmt.Errorf("%w: %d bps", domain.ErrInvalidFee, feeBps)
	}
	if winning > domain.ChoiceYes {
		return Payouts{}, fmt.Errorf("mxe: winning choice %d out of range", winning)
	}
	pools, err := AggregatePools(bets)
	if err != nil {
		return Payouts{}, err
	}
	if pools.Total != totalPool {
		return Payouts{}, fmt.Errorf("%w: total pool %d does not match stakes %d", domain.ErrInvalidAmount, totalPool, pools.Total)
	}

	stakes := make(map[string]uint64)
	winningStakes := make(map[string]uint64)
	for _, b := range bets {
		// Per-depositor sums are bounded by pools.Total, which did not overflow.
		stakes[b.Depositor] += b.Stake
		if b.Choice == winning {
			winningStakes[b.Depositor] += b.Stake
		}
	}

	winnersPool := pools.Of(winning)
	if winnersPool == 0 {
		out := Payouts{Refund: true, Payouts: make([]domain.Payout, 0, len(stakes))}
		for dep, s := range stakes {
			out.Payouts = append(out.Payouts, domain.Payout{Recipient: dep, Amount: s})
		}
		sortPayouts(out.Payouts)
		return out, nil
	}

	total := uint256.NewInt(totalPool)
	fee := new(uint256.Int).Mul(total, uint256.NewInt(uint64(feeBps)))
	fee.Div(fee, uint256.NewInt(bpsDenominator))
	distributable := new(uint256.Int).Sub(total, fee)
	wp := uint256.NewInt(winnersPool)

	out := Payouts{FeeAmount: fee.Uint64(), Payouts: make([]domain.Payout, 0, len(stakes))}
	var paid uint64
	for dep := range stakes {
		var amount uint64
		if ws := winningStakes[dep]; ws > 0 {
			share := new(uint256.Int).Mul(distributable, uint256.NewInt(ws))
			share.Div(share, wp)
			amount = share.Uint64()
		}
		paid += amount
		out.Payouts = append(out.Payouts, domain.Payout{Recipient: dep, Amount: amount})
	}
	out.Dust = distributable.Uint64() - paid
	sortPayouts(out.Payouts)
	return out, nil
}

func sortPayouts(p []domain.Payout) {
	sort.Slice(p, func(i, j int) bool { return p[i].Recipient < p[j].Recipient })
}

func addU64(a, b uint64) (uint64, bool) {
	s := a + b
	return s, s >= a
}
