// Package util provides small helpers shared across CoachPipe components.
package util

import (
	"crypto/rand"
	"encoding/hex"
)

// GenerateRandomHex returns a random lowercase hexadecimal string of the given length, drawn
// from crypto/rand. It backs generated account passwords and outbox message ids.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}
	buf := make([]byte, (length+1)/2)
	// crypto/rand.Read never returns an error on supported platforms.
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)[:length]
}
