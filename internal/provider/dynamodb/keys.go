package dynamodb

import "time"

// PK/SK prefix constants.
const (
	prefixSnapshot = "SNAPSHOT#"
	prefixLock     = "LOCK#"

	skSnapshot = "SNAPSHOT"
	skLock     = "LOCK"
)

func snapshotPK(key string) string { return prefixSnapshot + key }
func lockPK(key string) string     { return prefixLock + key }

func ttlEpoch(d time.Duration) int64 {
	return time.Now().Add(d).Unix()
}

func isExpired(epoch int64) bool {
	return epoch > 0 && time.Now().Unix() >= epoch
}
