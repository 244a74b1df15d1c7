package ingest

import (
	"testing"

	"github.com/user/viewstream"
)

func TestDecodeJSONEnvelope(t *testing.T) {
	raw := []byte(`{
		"type": "INSERT",
		"sourceId": "S1",
		"entityType": "Order",
		"entityId": "42",
		"after": {"status": "PENDING"},
		"timestamp": "2026-01-01T00:00:00Z"
	}`)

	ev, err := DecodeJSONEnvelope(raw)
	if err != nil {
		t.Fatalf("DecodeJSONEnvelope: %v", err)
	}
	if ev.Kind != viewstream.Insert {
		t.Errorf("Kind = %v, want Insert", ev.Kind)
	}
	if ev.SourceID != "S1" || ev.EntityType != "Order" {
		t.Errorf("SourceID/EntityType = %q/%q", ev.SourceID, ev.EntityType)
	}
	if ev.After["status"] != "PENDING" {
		t.Errorf("After = %v", ev.After)
	}
}

func TestDecodeJSONEnvelopeMissingSourceID(t *testing.T) {
	raw := []byte(`{"type": "INSERT", "entityType": "Order", "entityId": "42"}`)
	if _, err := DecodeJSONEnvelope(raw); err == nil {
		t.Fatal("expected error for missing sourceId")
	}
}

func TestDecodeJSONEnvelopeUnknownKind(t *testing.T) {
	raw := []byte(`{"type": "UPSERT", "sourceId": "S1", "entityType": "Order", "entityId": "42"}`)
	if _, err := DecodeJSONEnvelope(raw); err == nil {
		t.Fatal("expected error for unrecognized change kind")
	}
}

func TestDecodeJSONEnvelopeInvalidJSON(t *testing.T) {
	if _, err := DecodeJSONEnvelope([]byte("not json")); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}
