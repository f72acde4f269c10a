package deliverycode

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

const (
	// Alphabet omits 0/O and 1/I. 256 is a multiple of its length so byte%len is unbiased.
	Alphabet    = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	CodeLength  = 6
	MaxAttempts = 5

	maxSubmittedLength = 32
)

// Generate draws a fresh code from crypto/rand.
func Generate() (string, error) {
	return generateFrom(rand.Reader)
}

func generateFrom(r io.Reader) (string, error) {
	buf := make([]byte, CodeLength)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	out := make([]byte, CodeLength)
	for i, b := range buf {
		out[i] = Alphabet[int(b)%len(Alphabet)]
	}
	return string(out), nil
}

// Hash returns the hex sha256 of the raw code bytes.
func Hash(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// Matches compares in constant time.
func Matches(storedHash, submitted string) bool {
	computed := Hash(submitted)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) == 1
}

// Normalize trims and upper-cases user input; codes are printed upper-case.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
