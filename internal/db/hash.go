package db

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// SampleKey returns the idempotency key of the statistics sample for (videoID, dayIndex).
// Downstream sinks use it to drop redelivered samples.
func SampleKey(videoID string, dayIndex int) string {
	hash := sha256.Sum256([]byte(videoID + ":" + strconv.Itoa(dayIndex)))
	return hex.EncodeToString(hash[:])
}
