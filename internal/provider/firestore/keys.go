package firestore

import (
	"strings"
	"time"
)

// Firestore does not allow "/" in document IDs, and snapshot keys are
// colon-separated, so only the slash needs escaping.
const (
	prefixSnapshot = "SNAPSHOT|"
	prefixLock     = "LOCK|"
)

func snapshotDocID(key string) string { return prefixSnapshot + escapeID(key) }
func lockDocID(key string) string     { return prefixLock + escapeID(key) }

func escapeID(key string) string { return strings.ReplaceAll(key, "/", "%2F") }

func ttlEpoch(d time.Duration) int64 {
	return time.Now().Add(d).Unix()
}

func isExpired(epoch int64) bool {
	return epoch > 0 && time.Now().Unix() >= epoch
}
