package domain

import (
	"encoding/binary"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Record addresses are derived deterministically from identifiers, so every
// record can be located without a secondary index:
//
//	market    keccak256("market"    || creator || seed)
//	escrow    keccak256("escrow"    || market)
//	authority keccak256("authority" || market)
//	bet       keccak256("bet"       || market || depositor || le64(sequence))
//	job       keccak256("rqueue"    || market || le64(attempt))
//
// The last 20 bytes of the digest are rendered as a checksummed 0x address.

func deriveAddress(seeds ...[]byte) string {
	digest := ethcrypto.Keccak256(seeds...)
	return common.BytesToAddress(digest[12:]).Hex()
}

func le64(n uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], n)
	return b[:]
}

// NormalizeAddress returns the canonical checksummed form of a 0x address.
// ok is false when s is not a valid 20-byte hex address.
func NormalizeAddress(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return "", false
	}
	return common.HexToAddress(s).Hex(), true
}

// MarketAddress derives a market ID from its creator and a creator-chosen seed.
func MarketAddress(creator, seed string) string {
	return deriveAddress([]byte("market"), []byte(creator), []byte(seed))
}

// EscrowAddress derives the escrow account that holds a market's pool.
func EscrowAddress(marketID string) string {
	return deriveAddress([]byte("escrow"), []byte(marketID))
}

// EscrowAuthorityAddress derives the signing authority over a market's escrow.
func EscrowAuthorityAddress(marketID string) string {
	return deriveAddress([]byte("authority"), []byte(marketID))
}

// BetAddress derives the address of one bet log entry.
func BetAddress(marketID, depositor string, sequence uint64) string {
	return deriveAddress([]byte("bet"), []byte(marketID), []byte(depositor), le64(sequence))
}

// JobAddress derives the address of one resolution job attempt.
func JobAddress(marketID string, attempt int) string {
	return deriveAddress([]byte("rqueue"), []byte(marketID), le64(uint64(attempt)))
}
