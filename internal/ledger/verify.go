package ledger

import (
	"fmt"

	"github.com/alanyoungcy/sealedmarket/internal/codec"
	"github.com/alanyoungcy/sealedmarket/internal/crypto"
	"github.com/alanyoungcy/sealedmarket/internal/domain"
)

// VerifyResult is the gate between an attested callback and any state
// change. It checks, in order, that sig is the market authority's
// attestation over exactly resultBytes, that the bytes are a canonical
// result, that the result belongs to m, and that its amounts are coherent
// with the escrowed pool. It has no side effects.
func VerifyResult(m domain.Market, resultBytes, sig []byte) (domain.MarketResult, error) {
	if err := crypto.VerifyAttestation(resultBytes, sig, m.Authority); err != nil {
		return domain.MarketResult{}, domain.Guard("attestation", fmt.Errorf("%w: %v", domain.ErrInvalidAttestation, err))
	}

	r, err := codec.DecodeResult(resultBytes)
	if err != nil {
		return domain.MarketResult{}, domain.Guard("canonical_result", fmt.Errorf("%w: %v", domain.ErrMalformedResult, err))
	}

	if r.MarketID != m.ID {
		return domain.MarketResult{}, domain.Guard("result_market",
			fmt.Errorf("%w: result for %s, callback for %s", domain.ErrMarketMismatch, r.MarketID, m.ID))
	}

	if !r.Conserves() {
		return domain.MarketResult{}, domain.Guard("conservation",
			fmt.Errorf("%w: payouts, fee and dust do not sum to %d", domain.ErrInvalidResult, r.TotalPool))
	}
	if r.TotalPool > m.TotalPool {
		return domain.MarketResult{}, domain.Guard("escrow_cover",
			fmt.Errorf("%w: result pool %d exceeds escrow %d", domain.ErrInvalidResult, r.TotalPool, m.TotalPool))
	}
	seen := make(map[string]struct{}, len(r.Payouts))
	for _, p := range r.Payouts {
		if _, dup := seen[p.Recipient]; dup {
			return domain.MarketResult{}, domain.Guard("unique_recipients",
				fmt.Errorf("%w: duplicate recipient %s", domain.ErrInvalidResult, p.Recipient))
		}
		seen[p.Recipient] = struct{}{}
	}
	return r, nil
}

// unallocated returns the escrowed amount outside the result's pool: the
// deposits of excluded bets and any declared amount above a decoded stake.
// It stays in escrow alongside the fee and dust.
func unallocated(m domain.Market, r domain.MarketResult) uint64 {
	if r.TotalPool >= m.TotalPool {
		return 0
	}
	return m.TotalPool - r.TotalPool
}
