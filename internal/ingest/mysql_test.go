package ingest

import (
	"testing"

	"github.com/go-mysql-org/go-mysql/canal"
	"github.com/go-mysql-org/go-mysql/schema"

	"github.com/user/viewstream"
)

func ordersTable() *schema.Table {
	return &schema.Table{
		Name:   "orders",
		Schema: "shop",
		Columns: []schema.TableColumn{
			{Name: "id"},
			{Name: "status"},
		},
		PKColumns: []int{0},
	}
}

func TestDecodeRowsEventInsert(t *testing.T) {
	e := &canal.RowsEvent{
		Table:  ordersTable(),
		Action: canal.InsertAction,
		Rows: [][]any{
			{int64(42), "PENDING"},
		},
	}

	evs, err := DecodeRowsEvent(e, "S1")
	if err != nil {
		t.Fatalf("DecodeRowsEvent: %v", err)
	}
	if len(evs) != 1 {
		t.Fatalf("len(evs) = %d, want 1", len(evs))
	}
	if evs[0].Kind != viewstream.Insert {
		t.Errorf("Kind = %v, want Insert", evs[0].Kind)
	}
	if evs[0].EntityID != int64(42) {
		t.Errorf("EntityID = %v, want 42", evs[0].EntityID)
	}
	if evs[0].After["status"] != "PENDING" {
		t.Errorf("After = %v", evs[0].After)
	}
}

func TestDecodeRowsEventUpdatePairsBeforeAfter(t *testing.T) {
	e := &canal.RowsEvent{
		Table:  ordersTable(),
		Action: canal.UpdateAction,
		Rows: [][]any{
			{int64(42), "PENDING"},
			{int64(42), "READY_FOR_PICKUP"},
		},
	}

	evs, err := DecodeRowsEvent(e, "S1")
	if err != nil {
		t.Fatalf("DecodeRowsEvent: %v", err)
	}
	if len(evs) != 1 {
		t.Fatalf("len(evs) = %d, want 1", len(evs))
	}
	if evs[0].Kind != viewstream.Update {
		t.Errorf("Kind = %v, want Update", evs[0].Kind)
	}
	if evs[0].Before["status"] != "PENDING" || evs[0].After["status"] != "READY_FOR_PICKUP" {
		t.Errorf("Before/After = %v / %v", evs[0].Before, evs[0].After)
	}
}

func TestDecodeRowsEventDelete(t *testing.T) {
	e := &canal.RowsEvent{
		Table:  ordersTable(),
		Action: canal.DeleteAction,
		Rows: [][]any{
			{int64(42), "READY_FOR_PICKUP"},
		},
	}

	evs, err := DecodeRowsEvent(e, "S1")
	if err != nil {
		t.Fatalf("DecodeRowsEvent: %v", err)
	}
	if evs[0].Kind != viewstream.Delete {
		t.Errorf("Kind = %v, want Delete", evs[0].Kind)
	}
	if evs[0].Before["id"] != int64(42) {
		t.Errorf("Before = %v", evs[0].Before)
	}
}

func TestDecodeRowsEventByteValuesBecomeStrings(t *testing.T) {
	e := &canal.RowsEvent{
		Table:  ordersTable(),
		Action: canal.InsertAction,
		Rows: [][]any{
			{int64(1), []byte("PENDING")},
		},
	}

	evs, err := DecodeRowsEvent(e, "S1")
	if err != nil {
		t.Fatalf("DecodeRowsEvent: %v", err)
	}
	if _, ok := evs[0].After["status"].(string); !ok {
		t.Errorf("status = %#v, want decoded string", evs[0].After["status"])
	}
}
