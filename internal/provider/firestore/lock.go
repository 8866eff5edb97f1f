package firestore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
)

// AcquireLock attempts to acquire a distributed lock with the given key and TTL.
// Uses a Firestore transaction: succeeds only if the lock doesn't exist or has expired.
func (p *FirestoreProvider) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ref := p.coll().Doc(lockDocID(key))
	lease := map[string]interface{}{"ttl": ttlEpoch(ttl)}

	var acquired bool
	err := p.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		acquired = false

		snap, err := tx.Get(ref)
		if err != nil {
			if isNotFound(err) {
				acquired = true
				return tx.Set(ref, lease)
			}
			return err
		}

		existing, err := snapInt64(snap, "ttl")
		if err != nil {
			return err
		}
		if isExpired(existing) {
			acquired = true
			return tx.Set(ref, lease)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return acquired, nil
}

// ReleaseLock releases a distributed lock.
func (p *FirestoreProvider) ReleaseLock(ctx context.Context, key string) error {
	_, err := p.coll().Doc(lockDocID(key)).Delete(ctx)
	return err
}
