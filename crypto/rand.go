package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"
)

// GenerateSecureToken returns length cryptographically random bytes,
// hex-encoded (2*length characters), or "" if the system source fails.
func GenerateSecureToken(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	return hex.EncodeToString(b)
}

// AlphanumericAlphabet backs opaque identifiers that need to be URL- and
// log-safe.
const AlphanumericAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// DigitAlphabet backs numeric one-time codes.
const DigitAlphabet = "0123456789"

// RandomString returns a cryptographically random string of length
// drawn uniformly from alphabet. Panics on an empty alphabet — that's a
// caller bug, not a runtime condition to handle gracefully.
func RandomString(length int, alphabet string) string {
	if len(alphabet) == 0 {
		panic("crypto: RandomString called with empty alphabet")
	}
	result := make([]byte, length)
	max := big.NewInt(int64(len(alphabet)))
	for i := range result {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("crypto: " + err.Error())
		}
		result[i] = alphabet[n.Int64()]
	}
	return string(result)
}
