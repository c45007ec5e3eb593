package crypto

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// SignatureLen is the length of an attestation: r || s || v.
const SignatureLen = 65

// attestationTag separates result attestations from any other message the
// authority key might sign.
var attestationTag = []byte("\x19sealedmarket result attestation v1:")

var (
	// ErrBadSignature is returned for signatures that are malformed, use a
	// non-canonical (high) S value, or recover to a different address.
	ErrBadSignature = errors.New("crypto: bad attestation signature")
	// ErrBadAuthority is returned when the expected authority is not a valid
	// 20-byte hex address.
	ErrBadAuthority = errors.New("crypto: bad authority address")
)

// Attester holds a secp256k1 key. The computation authority uses it to attest
// result bytes; API clients use it to sign requests.
type Attester struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewAttester creates an Attester from a hex-encoded secp256k1 private key.
func NewAttester(privateKeyHex string) (*Attester, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/attest: invalid private key: %w", err)
	}
	return &Attester{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Authority returns the checksummed address that markets register as their
// computation authority.
func (a *Attester) Authority() string {
	return a.address.Hex()
}

// Attest signs keccak256(tag || resultBytes). The signature is deterministic
// (RFC 6979) and carries v in {27, 28}.
func (a *Attester) Attest(resultBytes []byte) ([]byte, error) {
	sig, err := ethcrypto.Sign(AttestationDigest(resultBytes), a.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/attest: signing: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

// AttestationDigest returns the 32-byte digest an attestation signs.
func AttestationDigest(resultBytes []byte) []byte {
	return ethcrypto.Keccak256(attestationTag, resultBytes)
}

// VerifyAttestation checks that sig is a valid attestation over resultBytes
// produced by the key behind authority.
func VerifyAttestation(resultBytes, sig []byte, authority string) error {
	if !common.IsHexAddress(authority) {
		return ErrBadAuthority
	}
	signer, err := recoverSigner(AttestationDigest(resultBytes), sig)
	if err != nil {
		return err
	}
	if signer != common.HexToAddress(authority) {
		return fmt.Errorf("%w: signer mismatch", ErrBadSignature)
	}
	return nil
}

// recoverSigner returns the address behind a 65-byte r || s || v signature
// over digest. High-S signatures are rejected.
func recoverSigner(digest, sig []byte) (common.Address, error) {
	if len(sig) != SignatureLen {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrBadSignature, len(sig))
	}

	v := sig[64]
	if v >= 27 {
		v -= 27
	}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])
	if !ethcrypto.ValidateSignatureValues(v, r, s, true) {
		return common.Address{}, fmt.Errorf("%w: invalid r, s or v", ErrBadSignature)
	}

	normalized := make([]byte, SignatureLen)
	copy(normalized, sig)
	normalized[64] = v

	pub, err := ethcrypto.SigToPub(digest, normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// ResultHash returns keccak256(resultBytes), the value recorded on a
// settled market.
func ResultHash(resultBytes []byte) [32]byte {
	return ethcrypto.Keccak256Hash(resultBytes)
}
