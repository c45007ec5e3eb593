package mxe

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/alanyoungcy/sealedmarket/internal/domain"
)

// BetPlaintextLen is the cleartext bet layout: choice(1) || stake(8, LE).
const BetPlaintextLen = 9

var (
	ErrBadLength = errors.New("bad plaintext length")
	ErrBadChoice = errors.New("choice out of range")
	ErrZeroStake = errors.New("zero stake")
)

// DecryptedBet is a bet opened inside the computation boundary. It is never
// persisted or serialized.
type DecryptedBet struct {
	Depositor string
	Choice    uint8
	Stake     uint64
}

// DecodeError reports a bet that could not be opened or parsed.
type DecodeError struct {
	Depositor string
	Err       error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("mxe: decode bet from %s: %v", e.Depositor, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Reason is the short text recorded in a result's exclusion list.
func (e *DecodeError) Reason() string {
	switch {
	case errors.Is(e.Err, ErrBadLength):
		return "malformed payload"
	case errors.Is(e.Err, ErrBadChoice):
		return "invalid choice"
	case errors.Is(e.Err, ErrZeroStake):
		return "zero stake"
	default:
		return "authentication failed"
	}
}

// BetDecoder opens and parses encrypted bet blobs for one market.
type BetDecoder struct {
	cipher   Cipher
	marketID string
}

// NewBetDecoder returns a decoder bound to marketID.
func NewBetDecoder(c Cipher, marketID string) *BetDecoder {
	return &BetDecoder{cipher: c, marketID: marketID}
}

// Decode opens blob and parses the cleartext bet. It never panics on
// malformed input; every failure is a *DecodeError.
func (d *BetDecoder) Decode(depositor string, blob []byte) (DecryptedBet, error) {
	pt, err := d.cipher.Open(d.marketID, blob)
	if err != nil {
		return DecryptedBet{}, &DecodeError{Depositor: depositor, Err: err}
	}
	choice, stake, err := ParseBet(pt)
	if err != nil {
		return DecryptedBet{}, &DecodeError{Depositor: depositor, Err: err}
	}
	return DecryptedBet{Depositor: depositor, Choice: choice, Stake: stake}, nil
}

// ParseBet parses the 9-byte cleartext layout.
func ParseBet(pt []byte) (uint8, uint64, error) {
	if len(pt) != BetPlaintextLen {
		return 0, 0, fmt.Errorf("%w: %d", ErrBadLength, len(pt))
	}
	choice := pt[0]
	if choice > domain.ChoiceYes {
		return 0, 0, fmt.Errorf("%w: %d", ErrBadChoice, choice)
	}
	stake := binary.LittleEndian.Uint64(pt[1:])
	if stake == 0 {
		return 0, 0, ErrZeroStake
	}
	return choice, stake, nil
}

// EncodeBet returns the cleartext layout for a bet, ready to be sealed.
func EncodeBet(choice uint8, stake uint64) []byte {
	b := make([]byte, BetPlaintextLen)
	b[0] = choice
	binary.LittleEndian.PutUint64(b[1:], stake)
	return b
}
