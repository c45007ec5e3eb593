// Package codec implements the canonical binary encoding of a MarketResult.
//
// The encoding uses protobuf wire primitives with a fixed layout: fields are
// written in ascending field-number order, every scalar is always present,
// and repeated fields keep slice order. There are no maps and no floating
// point values, so every computing party derives the same byte string for
// the same result.
package codec

import (
	"bytes"
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/alanyoungcy/sealedmarket/internal/domain"
)

// Version is the layout version written as field 1.
const Version = 1

const (
	fieldVersion       protowire.Number = 1
	fieldMarketID      protowire.Number = 2
	fieldWinningChoice protowire.Number = 3
	fieldTotalPool     protowire.Number = 4
	fieldFeeAmount     protowire.Number = 5
	fieldDust          protowire.Number = 6
	fieldTimestamp     protowire.Number = 7
	fieldPayout        protowire.Number = 8
	fieldExclusion     protowire.Number = 9

	fieldPayoutRecipient protowire.Number = 1
	fieldPayoutAmount    protowire.Number = 2

	fieldExclusionDepositor protowire.Number = 1
	fieldExclusionReason    protowire.Number = 2
)

// ErrNonCanonical is returned when bytes decode but are not the canonical
// encoding of the decoded value.
var ErrNonCanonical = errors.New("codec: non-canonical encoding")

// EncodeResult returns the canonical encoding of r.
func EncodeResult(r domain.MarketResult) []byte {
	var b []byte
	b = appendVarint(b, fieldVersion, Version)
	b = appendString(b, fieldMarketID, r.MarketID)
	b = appendVarint(b, fieldWinningChoice, uint64(r.WinningChoice))
	b = appendVarint(b, fieldTotalPool, r.TotalPool)
	b = appendVarint(b, fieldFeeAmount, r.FeeAmount)
	b = appendVarint(b, fieldDust, r.Dust)
	b = appendVarint(b, fieldTimestamp, protowire.EncodeZigZag(r.Timestamp))
	for _, p := range r.Payouts {
		var msg []byte
		msg = appendString(msg, fieldPayoutRecipient, p.Recipient)
		msg = appendVarint(msg, fieldPayoutAmount, p.Amount)
		b = protowire.AppendTag(b, fieldPayout, protowire.BytesType)
		b = protowire.AppendBytes(b, msg)
	}
	for _, e := range r.Excluded {
		var msg []byte
		msg = appendString(msg, fieldExclusionDepositor, e.Depositor)
		msg = appendString(msg, fieldExclusionReason, e.Reason)
		b = protowire.AppendTag(b, fieldExclusion, protowire.BytesType)
		b = protowire.AppendBytes(b, msg)
	}
	return b
}

// DecodeResult parses canonical result bytes. Unknown fields, wrong wire
// types, truncation and any encoding that does not re-encode to the exact
// same bytes are rejected.
func DecodeResult(data []byte) (domain.MarketResult, error) {
	var (
		r       domain.MarketResult
		version uint64
	)
	rest := data
	for len(rest) > 0 {
		num, typ, n := protowire.ConsumeTag(rest)
		if n < 0 {
			return domain.MarketResult{}, fmt.Errorf("codec: tag: %w", protowire.ParseError(n))
		}
		rest = rest[n:]

		switch num {
		case fieldVersion, fieldWinningChoice, fieldTotalPool, fieldFeeAmount, fieldDust, fieldTimestamp:
			if typ != protowire.VarintType {
				return domain.MarketResult{}, fmt.Errorf("codec: field %d: unexpected wire type %d", num, typ)
			}
			v, n := protowire.ConsumeVarint(rest)
			if n < 0 {
				return domain.MarketResult{}, fmt.Errorf("codec: field %d: %w", num, protowire.ParseError(n))
			}
			rest = rest[n:]
			switch num {
			case fieldVersion:
				version = v
			case fieldWinningChoice:
				if v > uint64(domain.ChoiceYes) {
					return domain.MarketResult{}, fmt.Errorf("codec: winning choice %d out of range", v)
				}
				r.WinningChoice = uint8(v)
			case fieldTotalPool:
				r.TotalPool = v
			case fieldFeeAmount:
				r.FeeAmount = v
			case fieldDust:
				r.Dust = v
			case fieldTimestamp:
				r.Timestamp = protowire.DecodeZigZag(v)
			}

		case fieldMarketID, fieldPayout, fieldExclusion:
			if typ != protowire.BytesType {
				return domain.MarketResult{}, fmt.Errorf("codec: field %d: unexpected wire type %d", num, typ)
			}
			v, n := protowire.ConsumeBytes(rest)
			if n < 0 {
				return domain.MarketResult{}, fmt.Errorf("codec: field %d: %w", num, protowire.ParseError(n))
			}
			rest = rest[n:]
			switch num {
			case fieldMarketID:
				r.MarketID = string(v)
			case fieldPayout:
				p, err := decodePayout(v)
				if err != nil {
					return domain.MarketResult{}, err
				}
				r.Payouts = append(r.Payouts, p)
			case fieldExclusion:
				e, err := decodeExclusion(v)
				if err != nil {
					return domain.MarketResult{}, err
				}
				r.Excluded = append(r.Excluded, e)
			}

		default:
			return domain.MarketResult{}, fmt.Errorf("codec: unknown field %d", num)
		}
	}

	if version != Version {
		return domain.MarketResult{}, fmt.Errorf("codec: unsupported version %d", version)
	}
	if !bytes.Equal(EncodeResult(r), data) {
		return domain.MarketResult{}, ErrNonCanonical
	}
	return r, nil
}

func decodePayout(data []byte) (domain.Payout, error) {
	var p domain.Payout
	err := consumeFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldPayoutRecipient && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			p.Recipient = v
			return n, nil
		case num == fieldPayoutAmount && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			p.Amount = v
			return n, nil
		}
		return 0, fmt.Errorf("codec: payout: unexpected field %d type %d", num, typ)
	})
	return p, err
}

func decodeExclusion(data []byte) (domain.Exclusion, error) {
	var e domain.Exclusion
	err := consumeFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.BytesType {
			return 0, fmt.Errorf("codec: exclusion: unexpected field %d type %d", num, typ)
		}
		v, n := protowire.ConsumeString(b)
		switch num {
		case fieldExclusionDepositor:
			e.Depositor = v
		case fieldExclusionReason:
			e.Reason = v
		default:
			return 0, fmt.Errorf("codec: exclusion: unknown field %d", num)
		}
		return n, nil
	})
	return e, err
}

// consumeFields walks an embedded message, handing each field's value bytes
// to fn, which returns how many bytes it consumed.
func consumeFields(data []byte, fn func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("codec: tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		m, err := fn(num, typ, data)
		if err != nil {
			return err
		}
		if m < 0 {
			return fmt.Errorf("codec: field %d: %w", num, protowire.ParseError(m))
		}
		data = data[m:]
	}
	return nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}
