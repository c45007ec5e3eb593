package crypto

import (
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// requestTag separates signed API requests from result attestations.
var requestTag = []byte("\x19sealedmarket signed request v1:")

// RequestDigest returns the digest a principal signs to authorize action.
// Fields are joined with a zero byte so that no two field lists share an
// encoding.
func RequestDigest(action string, fields ...string) []byte {
	parts := make([][]byte, 0, 2+2*len(fields))
	parts = append(parts, requestTag, []byte(action))
	for _, f := range fields {
		parts = append(parts, []byte{0}, []byte(f))
	}
	return ethcrypto.Keccak256(parts...)
}

// SignRequest signs RequestDigest(action, fields...) with the key.
func (a *Attester) SignRequest(action string, fields ...string) ([]byte, error) {
	sig, err := ethcrypto.Sign(RequestDigest(action, fields...), a.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/request: signing: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

// RecoverRequestSigner returns the checksummed address that signed action
// over fields.
func RecoverRequestSigner(sig []byte, action string, fields ...string) (string, error) {
	addr, err := recoverSigner(RequestDigest(action, fields...), sig)
	if err != nil {
		return "", err
	}
	return addr.Hex(), nil
}
