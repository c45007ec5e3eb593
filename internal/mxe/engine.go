// Package mxe is the confidential computation stage: it opens encrypted
// bets, resolves the outcome, computes payouts and attests the canonical
// result. Everything here is a pure function of the request and the
// injected capabilities, so independent parties produce byte-identical
// results.
package mxe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/sealedmarket/internal/codec"
	"github.com/alanyoungcy/sealedmarket/internal/domain"
)

var (
	// ErrNoValidBets is returned when every bet in a request failed to decode.
	ErrNoValidBets = errors.New("mxe: no valid bets")
	// ErrEmptyMarketID is returned for a request without a market ID.
	ErrEmptyMarketID = errors.New("mxe: empty market id")
)

// ReasonStakeExceedsDeclared is recorded for bets whose sealed stake is
// larger than the amount actually escrowed.
const ReasonStakeExceedsDeclared = "stake exceeds declared amount"

// Attester signs canonical result bytes.
type Attester interface {
	Attest(resultBytes []byte) ([]byte, error)
}

// Computer resolves a market. Implemented by Engine in-process and by Client
// against a remote computation node.
type Computer interface {
	Resolve(ctx context.Context, req domain.ResolutionRequest) (domain.ResolutionResponse, error)
}

// Engine runs decode, resolve, calculate and attest for one request.
type Engine struct {
	cipher   Cipher
	attester Attester
	workers  int
	logger   *slog.Logger
}

// NewEngine creates an Engine. workers bounds concurrent bet decoding; zero
// or less means one goroutine per bet.
func NewEngine(c Cipher, a Attester, workers int, logger *slog.Logger) *Engine {
	return &Engine{
		cipher:   c,
		attester: a,
		workers:  workers,
		logger:   logger.With(slog.String("component", "mxe")),
	}
}

// Validate checks a request before any decoding. A failing request is
// rejected as a whole.
func Validate(req domain.ResolutionRequest) error {
	if req.MarketID == "" {
		return ErrEmptyMarketID
	}
	if len(req.EncryptedBets) == 0 {
		return domain.ErrNoBets
	}
	if req.FeeBps > domain.MaxFeeBps {
		return fmt.Errorf("%w: %d bps", domain.ErrInvalidFee, req.FeeBps)
	}
	for i, b := range req.EncryptedBets {
		if len(b.EncryptedBlob) > domain.MaxBlobSize {
			return fmt.Errorf("bet %d: %w: %d bytes", i, domain.ErrBlobTooLarge, len(b.EncryptedBlob))
		}
		if b.DeclaredAmount == 0 {
			return fmt.Errorf("bet %d: %w", i, domain.ErrInvalidAmount)
		}
	}
	return nil
}

type decoded struct {
	bet DecryptedBet
	err error
}

// Resolve computes and attests the result for req.
func (e *Engine) Resolve(ctx context.Context, req domain.ResolutionRequest) (domain.ResolutionResponse, error) {
	if err := Validate(req); err != nil {
		return domain.ResolutionResponse{}, fmt.Errorf("mxe: validate: %w", err)
	}

	valid, excluded, err := e.decodeAll(ctx, req)
	if err != nil {
		return domain.ResolutionResponse{}, err
	}
	if len(valid) == 0 {
		return domain.ResolutionResponse{}, fmt.Errorf("%w: %d bets excluded", ErrNoValidBets, len(excluded))
	}

	pools, err := AggregatePools(valid)
	if err != nil {
		return domain.ResolutionResponse{}, fmt.Errorf("mxe: aggregate: %w", err)
	}

	var report *OracleReport
	if len(req.EncryptedOracle) > 0 {
		r, err := NewOracleDecoder(e.cipher, req.MarketID).Decode(req.EncryptedOracle)
		if err != nil {
			return domain.ResolutionResponse{}, err
		}
		report = &r
	}
	winning := ResolveOutcome(report, pools.No, pools.Yes)

	payouts, err := CalculatePayouts(pools.Total, req.FeeBps, winning, valid)
	if err != nil {
		return domain.ResolutionResponse{}, fmt.Errorf("mxe: payouts: %w", err)
	}

	result := domain.MarketResult{
		MarketID:      req.MarketID,
		WinningChoice: winning,
		TotalPool:     pools.Total,
		FeeAmount:     payouts.FeeAmount,
		Dust:          payouts.Dust,
		Payouts:       payouts.Payouts,
		Excluded:      excluded,
		Timestamp:     req.Timestamp,
	}
	resultBytes := codec.EncodeResult(result)
	sig, err := e.attester.Attest(resultBytes)
	if err != nil {
		return domain.ResolutionResponse{}, fmt.Errorf("mxe: attest: %w", err)
	}

	e.logger.InfoContext(ctx, "market resolved",
		slog.String("market_id", req.MarketID),
		slog.Int("bets", len(req.EncryptedBets)),
		slog.Int("excluded", len(excluded)),
		slog.Bool("oracle", report != nil),
		slog.Bool("refund", payouts.Refund),
	)

	return domain.ResolutionResponse{Result: result, ResultBytes: resultBytes, Signature: sig}, nil
}

// decodeAll opens every bet concurrently. Results are written by index, so
// the returned order follows the request regardless of scheduling.
func (e *Engine) decodeAll(ctx context.Context, req domain.ResolutionRequest) ([]DecryptedBet, []domain.Exclusion, error) {
	dec := NewBetDecoder(e.cipher, req.MarketID)
	out := make([]decoded, len(req.EncryptedBets))

	g, gctx := errgroup.WithContext(ctx)
	if e.workers > 0 {
		g.SetLimit(e.workers)
	}
	for i, b := range req.EncryptedBets {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			bet, err := dec.Decode(b.Depositor, b.EncryptedBlob)
			out[i] = decoded{bet: bet, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("mxe: decode: %w", err)
	}

	var (
		valid    []DecryptedBet
		excluded []domain.Exclusion
	)
	for i, d := range out {
		depositor := req.EncryptedBets[i].Depositor
		var de *DecodeError
		switch {
		case errors.As(d.err, &de):
			excluded = append(excluded, domain.Exclusion{Depositor: depositor, Reason: de.Reason()})
		case d.err != nil:
			excluded = append(excluded, domain.Exclusion{Depositor: depositor, Reason: d.err.Error()})
		case d.bet.Stake > req.EncryptedBets[i].DeclaredAmount:
			excluded = append(excluded, domain.Exclusion{Depositor: depositor, Reason: ReasonStakeExceedsDeclared})
		default:
			valid = append(valid, d.bet)
		}
	}
	return valid, excluded, nil
}
