package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

func GenerateCode(n int) (string, error) {
	// Make a slice of nBytes random bytes.
	byt := make([]byte, n)

	// Read into the slice.
	if _, err := rand.Read(byt); err != nil {
		return "", err
	}

	// Return the hexadecimal string.
	return strings.ToUpper(hex.EncodeToString(byt)), nil
}

// TimestampedReference builds "<prefix>-<epochMillis>-<random>". The random
// suffix keeps references minted in the same millisecond apart.
func TimestampedReference(prefix string, now time.Time) (string, error) {
	suffix, err := GenerateCode(4)
	if err != nil {
		return "", fmt.Errorf("reference suffix: %w", err)
	}
	return fmt.Sprintf("%s-%d-%s", prefix, now.UnixMilli(), suffix), nil
}

// Fingerprint is a stable digest of request fields, used to tell whether an
// idempotency key is being reused for a different request.
func Fingerprint(fields ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(fields, "\x1f")))
	return hex.EncodeToString(sum[:16])
}
