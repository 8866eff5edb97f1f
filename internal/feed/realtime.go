// Package feed decodes cached GTFS payloads: GTFS-RT feed messages in
// protobuf or JSON form, and static schedule ZIP archives.
package feed

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// Payload is a decoded GTFS-RT feed message.
type Payload struct {
	Header   map[string]any
	Entities []map[string]any
}

// HeaderTimestamp returns the feed header's timestamp, or nil.
func (p *Payload) HeaderTimestamp() any {
	if p.Header == nil {
		return nil
	}
	return p.Header["timestamp"]
}

var gzipMagic = []byte{0x1f, 0x8b}

// DefaultMaxPayloadBytes caps a realtime payload after decompression.
const DefaultMaxPayloadBytes int64 = 64 << 20

// ErrPayloadTooLarge is returned when a gzip payload inflates past its cap.
var ErrPayloadTooLarge = errors.New("payload exceeds size limit")

var protoJSON = protojson.MarshalOptions{UseProtoNames: true, UseEnumNumbers: true}

// DecodeRealtime decodes one cached realtime object with the default size
// cap. Gzip is detected by magic bytes. Objects named *.pb, or whose content
// does not open with a JSON object, are parsed as a gtfs.FeedMessage and
// rendered with proto field names and numeric enums. JSON numbers are kept
// as json.Number.
func DecodeRealtime(name string, data []byte) (*Payload, error) {
	return DecodeRealtimeLimit(name, data, DefaultMaxPayloadBytes)
}

// DecodeRealtimeLimit is DecodeRealtime with an explicit cap on the
// decompressed size. A limit <= 0 uses DefaultMaxPayloadBytes.
func DecodeRealtimeLimit(name string, data []byte, limit int64) (*Payload, error) {
	if limit <= 0 {
		limit = DefaultMaxPayloadBytes
	}
	if bytes.HasPrefix(data, gzipMagic) {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("opening gzip %s: %w", name, err)
		}
		data, err = io.ReadAll(io.LimitReader(zr, limit+1))
		if err != nil {
			return nil, fmt.Errorf("reading gzip %s: %w", name, err)
		}
		if int64(len(data)) > limit {
			return nil, fmt.Errorf("inflating %s: %w (%d bytes)", name, ErrPayloadTooLarge, limit)
		}
	}

	trimmed := bytes.TrimSpace(data)
	if strings.HasSuffix(strings.TrimSuffix(name, ".gz"), ".pb") || !bytes.HasPrefix(trimmed, []byte("{")) {
		msg := &gtfs.FeedMessage{}
		if err := proto.Unmarshal(data, msg); err != nil {
			return nil, fmt.Errorf("decoding protobuf %s: %w", name, err)
		}
		rendered, err := protoJSON.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("rendering protobuf %s: %w", name, err)
		}
		trimmed = rendered
	}

	var root map[string]any
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("decoding json %s: %w", name, err)
	}
	return fromTree(root), nil
}

// fromTree takes entities from response.entity, falling back to entity.
func fromTree(root map[string]any) *Payload {
	p := &Payload{}
	src := root
	if resp, ok := root["response"].(map[string]any); ok {
		if _, has := resp["entity"]; has {
			src = resp
		}
	}
	if h, ok := src["header"].(map[string]any); ok {
		p.Header = h
	} else if h, ok := root["header"].(map[string]any); ok {
		p.Header = h
	}
	list, _ := src["entity"].([]any)
	for _, e := range list {
		if m, ok := e.(map[string]any); ok {
			p.Entities = append(p.Entities, m)
		}
	}
	return p
}
