package config

import (
	"os"
	"strings"

	"github.com/dwsmith1983/gtfsload/pkg/types"
)

// FeedsFromEnv builds one feed per dataset in the comma separated FEEDS
// variable. Each caches under CACHE_ROOT/<dataset>/ and, when FINAL_ROOT is
// set, retires to FINAL_ROOT/<dataset>/. Realtime feeds get snapshot dedup
// when SNAPSHOT_TTL is set.
func FeedsFromEnv() []types.FeedConfig {
	var feeds []types.FeedConfig
	cacheRoot := prefixRoot(os.Getenv("CACHE_ROOT"))
	finalRoot := prefixRoot(os.Getenv("FINAL_ROOT"))
	ttl := os.Getenv("SNAPSHOT_TTL")

	for _, ds := range strings.Split(os.Getenv("FEEDS"), ",") {
		ds = strings.TrimSpace(ds)
		if ds == "" {
			continue
		}
		fc := types.FeedConfig{
			Dataset:     ds,
			CachePrefix: cacheRoot + ds + "/",
			Write:       types.WriteConfig{Method: types.WriteMethod(os.Getenv("WRITE_METHOD"))},
		}
		if finalRoot != "" {
			fc.FinalPrefix = finalRoot + ds + "/"
		}
		if ds == "schedule" {
			fc.Kind = types.KindSchedule
		} else if ttl != "" {
			fc.Snapshot = &types.FeedSnapshotConfig{Enabled: true, TTL: ttl}
		}
		feeds = append(feeds, fc)
	}
	return feeds
}

func prefixRoot(s string) string {
	s = strings.Trim(s, "/")
	if s == "" {
		return ""
	}
	return s + "/"
}
