package firestore

import (
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// isNotFound returns true if the error is a Firestore NotFound error.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	return status.Code(err) == codes.NotFound
}

// snapInt64 extracts an int64 field (TTL) from a Firestore document snapshot.
// A missing field reads as zero.
func snapInt64(snap *firestore.DocumentSnapshot, key string) (int64, error) {
	raw, err := snap.DataAt(key)
	if err != nil {
		return 0, nil
	}
	switch v := raw.(type) {
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("field %q is not numeric", key)
	}
}
