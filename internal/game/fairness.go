package game

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

const (
	MIN_MULTIPLIER = 1.00

	// CRASH_MODULUS controls the instant-crash rate: a salted digest whose
	// 4-hex-group fold lands on 0 mod 20 crashes immediately, roughly 1 in 20.
	CRASH_MODULUS = 20

	// DEFAULT_SALT is the published salt the multiplier derivation authenticates.
	// Previously committed chains were verified against this exact value, so it
	// must never change for historical rounds.
	DEFAULT_SALT = "0000000000000000000fa3b65e43e4240d71762a5bf397d5304b2596d116859c"
)

// NewChainSeed creates the head of a new hash chain from a random 16-byte seed.
func NewChainSeed() string {
	b := make([]byte, 16)
	rand.Read(b)
	return NextSeed(hex.EncodeToString(b))
}

// NextSeed advances the chain: plain SHA-256 of the current seed, no salt.
// The advance is deliberately unsalted so the multiplier salt can be disclosed
// without revealing anything about future seeds.
func NextSeed(seed string) string {
	h := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(h[:])
}

// saltedDigest keys the HMAC with the seed and authenticates the salt. The
// key/message order looks backwards but matches the committed chain; swapping
// it would break verification of every historical round.
func saltedDigest(seed, salt string) string {
	mac := hmac.New(sha256.New, []byte(seed))
	mac.Write([]byte(salt))
	return hex.EncodeToString(mac.Sum(nil))
}

// foldDigest folds the digest's 4-hex-digit groups into a single residue:
// acc = ((acc << 16) + group) mod m, dropping len%4 leading characters so
// only whole groups remain.
func foldDigest(digest string, mod uint64) uint64 {
	var acc uint64
	for i := len(digest) % 4; i < len(digest); i += 4 {
		group, err := strconv.ParseUint(digest[i:i+4], 16, 64)
		if err != nil {
			return 1 // non-hex digest cannot occur for our own output
		}
		acc = ((acc << 16) + group) % mod
	}
	return acc
}

// DeriveMultiplier computes the round's crash multiplier from the lobby's
// current seed. Identical seed and salt always produce the identical
// multiplier; players verify rounds by recomputing it after the seed reveal.
func DeriveMultiplier(seed, salt string) float64 {
	digest := saltedDigest(seed, salt)

	if foldDigest(digest, CRASH_MODULUS) == 0 {
		return MIN_MULTIPLIER // instant crash, the house edge
	}

	h, err := strconv.ParseUint(digest[:13], 16, 64)
	if err != nil {
		return MIN_MULTIPLIER
	}

	const e = uint64(1) << 52
	// Integer floor before dividing keeps the result truncated to a hundredth.
	return float64((100*e-h)/(e-h)) / 100
}

// VerifyRound lets a player confirm a finished round: the revealed seed must
// reproduce the claimed crash multiplier exactly.
func VerifyRound(seed, salt string, claimed float64) bool {
	return DeriveMultiplier(seed, salt) == claimed
}
