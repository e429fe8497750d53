package knol

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"math/big"
	"strings"

	"github.com/conorfennell/recall/internal/domain"
)

const (
	idLength   = 8
	idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// NewID returns a random 8-character alphanumeric card id.
func NewID() string {
	var b strings.Builder
	b.Grow(idLength)
	limit := big.NewInt(int64(len(idAlphabet)))
	for i := 0; i < idLength; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			// crypto/rand only fails when the OS entropy source is broken.
			panic(fmt.Sprintf("knol: reading random bytes: %v", err))
		}
		b.WriteByte(idAlphabet[n.Int64()])
	}
	return b.String()
}

// IsID reports whether s has the shape of a card id.
func IsID(s string) bool {
	if len(s) != idLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !strings.ContainsRune(idAlphabet, rune(s[i])) {
			return false
		}
	}
	return true
}

// Normalize concatenates the parts of an entry that sync copies into its
// card record. Each part is trimmed and has its line endings normalized;
// case is kept, since a capitalization fix is a real edit.
func Normalize(entry domain.Entry) string {
	normalizePart := func(part string) string {
		p := strings.ReplaceAll(part, "\r\n", "\n")
		return strings.TrimSpace(p)
	}

	// Joined with a separator that cannot appear in a single-line field, so
	// "ab" + "c" and "a" + "bc" stay distinct.
	return strings.Join([]string{
		normalizePart(entry.Front),
		normalizePart(entry.Back),
		normalizePart(entry.Path),
	}, "\x00")
}

// Hash takes an entry, normalizes it, and returns its SHA-256 hash as a hex string.
func Hash(entry domain.Entry) string {
	normalized := Normalize(entry)
	hashBytes := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("%x", hashBytes)
}
