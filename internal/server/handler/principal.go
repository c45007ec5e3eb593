package handler

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/sealedmarket/internal/crypto"
	"github.com/alanyoungcy/sealedmarket/internal/domain"
	"github.com/alanyoungcy/sealedmarket/internal/ledger"
)

// Actions a principal signs. Each signature covers the action and the fields
// returned by the matching *Fields function.
const (
	ActionCreateMarket = "create_market"
	ActionCancelMarket = "cancel_market"
	ActionDepositBet   = "deposit_bet"
)

// CreateMarketFields lists the signed fields of a market creation.
func CreateMarketFields(p ledger.CreateMarketParams) []string {
	fee := ""
	if p.FeeBps != nil {
		fee = strconv.FormatUint(uint64(*p.FeeBps), 10)
	}
	return []string{p.Seed, p.Question, strconv.FormatInt(p.Deadline.Unix(), 10), p.Authority, fee}
}

// CancelMarketFields lists the signed fields of a cancellation.
func CancelMarketFields(marketID string) []string {
	return []string{marketID}
}

// DepositFields lists the signed fields of a deposit. sequence is the bet
// count the depositor expects the market to have.
func DepositFields(marketID string, amount, sequence uint64, choiceHint uint8, blob []byte) []string {
	return []string{
		marketID,
		strconv.FormatUint(amount, 10),
		strconv.FormatUint(sequence, 10),
		strconv.FormatUint(uint64(choiceHint), 10),
		hex.EncodeToString(blob),
	}
}

var errMissingSignature = errors.New("missing request signature")

// principal recovers the address that signed action over fields and checks
// that it is the address the request claims to act for. The returned status
// is 401 for an unusable signature and 403 for a signer that is not claimed.
func principal(sig []byte, claimed, action string, fields ...string) (string, int, error) {
	if len(sig) == 0 {
		return "", http.StatusUnauthorized, errMissingSignature
	}
	signer, err := crypto.RecoverRequestSigner(sig, action, fields...)
	if err != nil {
		return "", http.StatusUnauthorized, err
	}
	want, ok := domain.NormalizeAddress(claimed)
	if !ok || want != signer {
		return "", http.StatusForbidden, fmt.Errorf("request signed by %s, not %q", signer, claimed)
	}
	return signer, 0, nil
}
