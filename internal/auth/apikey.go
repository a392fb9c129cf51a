// Package auth provides the authentication primitives for the data API:
// opaque API key generation, verification challenge codes, and the session
// token verifier used by the key-or-session gate strategy.
// See internal/middleware/auth.go for the request-time logic that uses these.
package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// KeyLength is the length of an issued API key in characters.
	KeyLength = 30

	// KeyAlphabet is the fixed alphabet keys are drawn from (62 characters).
	KeyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	// ChallengeDigits is the number of decimal digits in a verification code.
	ChallengeDigits = 6

	// BcryptCost is the cost factor for hashing challenge codes.
	BcryptCost = 10

	// HeaderName is the request header carrying the API key.
	HeaderName = "x-api-key"

	// QueryParam is the query-string fallback for clients that cannot set headers.
	QueryParam = "apiKey"
)

// GenerateKey creates a new uniformly random API key of KeyLength characters
// drawn from KeyAlphabet. The key is the stored secret itself (looked up by
// value under a unique index), so no hash form is returned.
func GenerateKey() (string, error) {
	var b strings.Builder
	b.Grow(KeyLength)
	max := big.NewInt(int64(len(KeyAlphabet)))
	for i := 0; i < KeyLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate random key: %w", err)
		}
		b.WriteByte(KeyAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// GenerateChallenge creates a random 6-digit verification code and its bcrypt
// hash. The plaintext code goes out by email; only the hash is stored.
func GenerateChallenge() (code string, hash string, err error) {
	max := big.NewInt(1)
	for i := 0; i < ChallengeDigits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate challenge code: %w", err)
	}
	code = fmt.Sprintf("%0*d", ChallengeDigits, n)

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(code), BcryptCost)
	if err != nil {
		return "", "", fmt.Errorf("failed to hash challenge code: %w", err)
	}
	return code, string(hashBytes), nil
}

// ValidateChallenge checks a provided code against the stored bcrypt hash.
func ValidateChallenge(providedCode, storedHash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(providedCode))
	return err == nil
}

// ErrNoKey is returned when neither the header nor the query parameter carries a key.
var ErrNoKey = errors.New("no api key presented")

// keyCarrier is the minimal request surface ExtractKey needs. *gin.Context
// satisfies it directly.
type keyCarrier interface {
	GetHeader(string) string
	Query(string) string
}

// ExtractKey pulls the presented API key from the x-api-key header, falling
// back to the apiKey query parameter. Whitespace is trimmed; an empty result
// yields ErrNoKey.
func ExtractKey(c keyCarrier) (string, error) {
	key := strings.TrimSpace(c.GetHeader(HeaderName))
	if key == "" {
		key = strings.TrimSpace(c.Query(QueryParam))
	}
	if key == "" {
		return "", ErrNoKey
	}
	return key, nil
}
