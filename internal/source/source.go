// Package source defines the object store holding cached feed payloads.
package source

import (
	"context"
	"sort"
	"strings"
	"time"
)

// Object is one cached payload.
type Object struct {
	Name     string
	Updated  time.Time
	Size     int64
	Metadata map[string]string
}

// Store lists, reads and retires cached objects.
type Store interface {
	// List returns up to limit objects under prefix, oldest update first.
	// A limit <= 0 returns every object.
	List(ctx context.Context, prefix string, limit int) ([]Object, error)
	Read(ctx context.Context, name string) ([]byte, error)
	Delete(ctx context.Context, name string) error
	// Move copies src to dst and deletes src.
	Move(ctx context.Context, src, dst string) error
}

// SortAndLimit orders objects by update time, then name, and truncates to limit.
func SortAndLimit(objs []Object, limit int) []Object {
	sort.SliceStable(objs, func(i, j int) bool {
		if !objs[i].Updated.Equal(objs[j].Updated) {
			return objs[i].Updated.Before(objs[j].Updated)
		}
		return objs[i].Name < objs[j].Name
	})
	if limit > 0 && len(objs) > limit {
		objs = objs[:limit]
	}
	return objs
}

// FinalName maps an object under cachePrefix to its place under finalPrefix.
// Names outside cachePrefix are placed under finalPrefix unchanged.
func FinalName(name, cachePrefix, finalPrefix string) string {
	rest := strings.TrimPrefix(name, cachePrefix)
	rest = strings.TrimLeft(rest, "/")
	return strings.TrimRight(finalPrefix, "/") + "/" + rest
}
