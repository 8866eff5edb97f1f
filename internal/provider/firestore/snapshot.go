package firestore

import (
	"context"
	"fmt"
	"time"
)

// snapshotDoc is replaced wholesale by Set, so readers see either the old
// or the new key set.
type snapshotDoc struct {
	Members    []string  `firestore:"members"`
	CapturedAt time.Time `firestore:"capturedAt"`
	TTL        int64     `firestore:"ttl,omitempty"`
}

// LoadSnapshot reads the snapshot document. Documents past their TTL read as
// absent.
func (p *FirestoreProvider) LoadSnapshot(ctx context.Context, key string) ([]string, time.Time, error) {
	snap, err := p.coll().Doc(snapshotDocID(key)).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, time.Time{}, nil
		}
		return nil, time.Time{}, fmt.Errorf("getting snapshot %s: %w", key, err)
	}

	var doc snapshotDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, time.Time{}, fmt.Errorf("decoding snapshot %s: %w", key, err)
	}
	if isExpired(doc.TTL) {
		return nil, time.Time{}, nil
	}
	if len(doc.Members) == 0 {
		doc.Members = nil
	}
	return doc.Members, doc.CapturedAt.UTC(), nil
}

// ReplaceSnapshot overwrites the snapshot document.
func (p *FirestoreProvider) ReplaceSnapshot(ctx context.Context, key string, members []string, capturedAt time.Time, ttl time.Duration) error {
	doc := snapshotDoc{
		Members:    members,
		CapturedAt: capturedAt.UTC(),
	}
	if doc.Members == nil {
		doc.Members = []string{}
	}
	if ttl > 0 {
		doc.TTL = ttlEpoch(ttl)
	}
	if _, err := p.coll().Doc(snapshotDocID(key)).Set(ctx, doc); err != nil {
		return fmt.Errorf("setting snapshot %s: %w", key, err)
	}
	return nil
}
