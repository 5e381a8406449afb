package security

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"strings"
)

const (
	// DefaultCodeLength is the number of digits in a handoff verification code.
	DefaultCodeLength = 6
	maxCodeLength     = 12
)

// GenerateVerificationCode mints a numeric code the courier must present at
// a pickup or delivery handoff. Codes are drawn from crypto/rand.
func GenerateVerificationCode(length int) (string, error) {
	if length <= 0 {
		length = DefaultCodeLength
	}
	if length > maxCodeLength {
		return "", fmt.Errorf("verification code length %d exceeds maximum %d", length, maxCodeLength)
	}

	var sb strings.Builder
	sb.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("generating verification code: %w", err)
		}
		sb.WriteByte(byte('0' + n.Int64()))
	}
	return sb.String(), nil
}

// VerifyCode compares a presented code against the minted one in constant time.
func VerifyCode(minted, presented string) bool {
	minted = strings.TrimSpace(minted)
	presented = strings.TrimSpace(presented)
	if minted == "" || len(minted) != len(presented) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(minted), []byte(presented)) == 1
}
