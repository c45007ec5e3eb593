package mxe

import (
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sealedmarket/internal/domain"
)

func sumPayouts(p []domain.Payout) uint64 {
	var s uint64
	for _, x := range p {
		s += x.Amount
	}
	return s
}

func TestCalculatePayouts_Scenarios(t *testing.T) {
	tests := []struct {
		name     string
		total    uint64
		feeBps   uint16
		winning  uint8
		bets     []DecryptedBet
		wantFee  uint64
		wantDust uint64
		want     []domain.Payout
		refund   bool
	}{
		{
			name:    "fee rounds to zero",
			total:   150,
			feeBps:  50,
			winning: 1,
			bets: []DecryptedBet{
				{Depositor: "a", Choice: 1, Stake: 100},
				{Depositor: "b", Choice: 0, Stake: 50},
			},
			want: []domain.Payout{{Recipient: "a", Amount: 150}, {Recipient: "b", Amount: 0}},
		},
		{
			name:    "ten percent fee single winner",
			total:   1000,
			feeBps:  1000,
			winning: 1,
			bets:    []DecryptedBet{{Depositor: "a", Choice: 1, Stake: 1000}},
			wantFee: 100,
			want:    []domain.Payout{{Recipient: "a", Amount: 900}},
		},
		{
			name:    "zero winner refund",
			total:   300,
			feeBps:  500,
			winning: 1,
			bets: []DecryptedBet{
				{Depositor: "b", Choice: 0, Stake: 200},
				{Depositor: "a", Choice: 0, Stake: 100},
			},
			want:   []domain.Payout{{Recipient: "a", Amount: 100}, {Recipient: "b", Amount: 200}},
			refund: true,
		},
		{
			name:    "truncation leaves dust",
			total:   10,
			winning: 1,
			bets: []DecryptedBet{
				{Depositor: "a", Choice: 1, Stake: 3},
				{Depositor: "b", Choice: 1, Stake: 3},
				{Depositor: "c", Choice: 1, Stake: 3},
				{Depositor: "d", Choice: 0, Stake: 1},
			},
			wantDust: 1,
			want: []domain.Payout{
				{Recipient: "a", Amount: 3}, {Recipient: "b", Amount: 3},
				{Recipient: "c", Amount: 3}, {Recipient: "d", Amount: 0},
			},
		},
		{
			name:    "depositor aggregated across bets and sides",
			total:   400,
			winning: 0,
			bets: []DecryptedBet{
				{Depositor: "a", Choice: 0, Stake: 100},
				{Depositor: "a", Choice: 1, Stake: 100},
				{Depositor: "a", Choice: 0, Stake: 100},
				{Depositor: "b", Choice: 1, Stake: 100},
			},
			want: []domain.Payout{{Recipient: "a", Amount: 400}, {Recipient: "b", Amount: 0}},
		},
		{
			name:    "full fee",
			total:   100,
			feeBps:  10000,
			winning: 0,
			bets:    []DecryptedBet{{Depositor: "a", Choice: 0, Stake: 100}},
			wantFee: 100,
			want:    []domain.Payout{{Recipient: "a", Amount: 0}},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := CalculatePayouts(tc.total, tc.feeBps, tc.winning, tc.bets)
			require.NoError(t, err)
			assert.Equal(t, tc.wantFee, got.FeeAmount)
			assert.Equal(t, tc.wantDust, got.Dust)
			assert.Equal(t, tc.want, got.Payouts)
			assert.Equal(t, tc.refund, got.Refund)
			assert.Equal(t, tc.total, sumPayouts(got.Payouts)+got.FeeAmount+got.Dust)
		})
	}
}

func TestCalculatePayouts_Preconditions(t *testing.T) {
	_, err := CalculatePayouts(0, 0, 1, nil)
	assert.ErrorIs(t, err, domain.ErrNoBets)

	one := []DecryptedBet{{Depositor: "a", Choice: 1, Stake: 1}}
	_, err = CalculatePayouts(1, 10001, 1, one)
	assert.ErrorIs(t, err, domain.ErrInvalidFee)

	_, err = CalculatePayouts(2, 0, 1, one)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = CalculatePayouts(0, 0, 1, []DecryptedBet{
		{Depositor: "a", Choice: 1, Stake: math.MaxUint64},
		{Depositor: "b", Choice: 0, Stake: 1},
	})
	assert.ErrorIs(t, err, domain.ErrPoolOverflow)
}

func TestCalculatePayouts_LargeValuesDoNotOverflow(t *testing.T) {
	bets := []DecryptedBet{
		{Depositor: "a", Choice: 1, Stake: math.MaxUint64 - 1},
		{Depositor: "b", Choice: 0, Stake: 1},
	}
	got, err := CalculatePayouts(math.MaxUint64, 9999, 1, bets)
	require.NoError(t, err)

	s := sumPayouts(got.Payouts)
	assert.Equal(t, uint64(math.MaxUint64), s+got.FeeAmount+got.Dust)
	assert.Less(t, got.Dust, uint64(math.MaxUint64-1))
}

func TestCalculatePayouts_Conservation(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	for i := 0; i < 500; i++ {
		n := 1 + rng.IntN(20)
		bets := make([]DecryptedBet, n)
		var total uint64
		for j := range bets {
			bets[j] = DecryptedBet{
				Depositor: fmt.Sprintf("d%02d", rng.IntN(8)),
				Choice:    uint8(rng.IntN(2)),
				Stake:     1 + rng.Uint64N(1_000_000_000),
			}
			total += bets[j].Stake
		}
		fee := uint16(rng.IntN(10001))
		winning := uint8(rng.IntN(2))

		got, err := CalculatePayouts(total, fee, winning, bets)
		require.NoError(t, err)
		require.Equal(t, total, sumPayouts(got.Payouts)+got.FeeAmount+got.Dust, "iteration %d", i)

		pools, err := AggregatePools(bets)
		require.NoError(t, err)
		if wp := pools.Of(winning); wp > 0 {
			assert.LessOrEqual(t, got.Dust, wp-1)
		} else {
			assert.Zero(t, got.FeeAmount)
			assert.Zero(t, got.Dust)
		}

		seen := map[string]bool{}
		for k, p := range got.Payouts {
			assert.False(t, seen[p.Recipient], "duplicate recipient %s", p.Recipient)
			seen[p.Recipient] = true
			if k > 0 {
				assert.Less(t, got.Payouts[k-1].Recipient, p.Recipient)
			}
		}
	}
}
