package ingest

import (
	"encoding/json"
	"fmt"

	"github.com/user/viewstream"
)

// DecodeJSONEnvelope decodes a generic JSON-encoded ChangeEvent, the wire
// shape an HTTP/gRPC producer that already speaks viewstream's own schema
// would send (as opposed to the Mongo/Postgres/MySQL decoders, which
// translate a foreign CDC shape). It is the envelope internal/admin/rpc's
// ingest endpoint feeds into a Registry.
func DecodeJSONEnvelope(data []byte) (viewstream.ChangeEvent, error) {
	var ev viewstream.ChangeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return viewstream.ChangeEvent{}, fmt.Errorf("ingest: json: %w", err)
	}
	if ev.SourceID == "" {
		return viewstream.ChangeEvent{}, fmt.Errorf("ingest: json: envelope missing sourceId")
	}
	if ev.EntityType == "" {
		return viewstream.ChangeEvent{}, fmt.Errorf("ingest: json: envelope missing entityType")
	}
	switch ev.Kind {
	case viewstream.Insert, viewstream.Update, viewstream.Delete, viewstream.Snapshot:
	default:
		return viewstream.ChangeEvent{}, fmt.Errorf("ingest: json: unrecognized change kind %q", ev.Kind)
	}
	return ev, nil
}
