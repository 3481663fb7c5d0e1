package fulfillment

import (
	"crypto/rand"
	"fmt"
	"strings"
)

// keyAlphabet leaves out 0, O, 1 and I.
const keyAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	keyGroups    = 4
	keyGroupSize = 4
)

// MintFallbackKey returns PREFIX-XXXX-XXXX-XXXX-XXXX with 80 random bits.
func MintFallbackKey(prefix string) (string, error) {
	buf := make([]byte, keyGroups*keyGroupSize)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}

	var b strings.Builder
	b.WriteString(prefix)
	for i, c := range buf {
		if i%keyGroupSize == 0 {
			b.WriteByte('-')
		}
		// 256 is a multiple of 32, so masking keeps the distribution uniform
		b.WriteByte(keyAlphabet[int(c)&(len(keyAlphabet)-1)])
	}
	return b.String(), nil
}

// IsFallbackKey reports whether key has the shape MintFallbackKey produces.
func IsFallbackKey(prefix, key string) bool {
	rest, ok := strings.CutPrefix(key, prefix+"-")
	if !ok {
		return false
	}
	groups := strings.Split(rest, "-")
	if len(groups) != keyGroups {
		return false
	}
	for _, g := range groups {
		if len(g) != keyGroupSize {
			return false
		}
		for _, r := range g {
			if !strings.ContainsRune(keyAlphabet, r) {
				return false
			}
		}
	}
	return true
}
