package lambda

import (
	"encoding/json"
	"net/url"
	"sort"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/dwsmith1983/gtfsload/pkg/types"
)

// TransformRequest is the direct-invoke input to the transform Lambda. An
// empty Datasets list runs every configured feed.
type TransformRequest struct {
	Datasets []string `json:"datasets,omitempty"`
}

// TransformResponse is the output of the transform Lambda.
type TransformResponse struct {
	Results []*types.BatchResult `json:"results"`
	Error   string               `json:"error,omitempty"`
}

// ParseEvent resolves the datasets to run from a raw invocation payload.
// S3 notifications select the feeds whose cache prefix holds a new object;
// anything else is decoded as a TransformRequest. The bool reports whether
// the payload was an S3 notification.
func ParseEvent(payload []byte, feeds []types.FeedConfig) ([]string, bool, error) {
	var probe struct {
		Records []struct {
			EventSource string `json:"eventSource"`
		} `json:"Records"`
	}
	if err := json.Unmarshal(payload, &probe); err == nil && len(probe.Records) > 0 && probe.Records[0].EventSource == "aws:s3" {
		var ev events.S3Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, true, err
		}
		return DatasetsForS3Event(ev, feeds), true, nil
	}

	var req TransformRequest
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, false, err
		}
	}
	return req.Datasets, false, nil
}

// DatasetsForS3Event returns, sorted and without repeats, the datasets whose
// cache prefix contains one of the event's object keys.
func DatasetsForS3Event(ev events.S3Event, feeds []types.FeedConfig) []string {
	seen := make(map[string]bool)
	for _, rec := range ev.Records {
		key := rec.S3.Object.URLDecodedKey
		if key == "" {
			key = rec.S3.Object.Key
			if k, err := url.QueryUnescape(key); err == nil {
				key = k
			}
		}
		for _, f := range feeds {
			if f.CachePrefix != "" && strings.HasPrefix(key, f.CachePrefix) {
				seen[f.Dataset] = true
			}
		}
	}
	out := make([]string, 0, len(seen))
	for ds := range seen {
		out = append(out, ds)
	}
	sort.Strings(out)
	return out
}
