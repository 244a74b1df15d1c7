package ingest

import (
	"fmt"
	"time"

	"github.com/go-mysql-org/go-mysql/canal"

	"github.com/user/viewstream"
)

// DecodeRowsEvent translates one go-mysql canal.RowsEvent (the shape
// pkg/source/mysql.mysqlEventHandler.OnRow receives off a running binlog
// stream) into the one or more viewstream.ChangeEvent values it carries.
// An update event's canal.Rows interleaves before/after row pairs; this
// decoder pairs them up the same way the teacher's OnRow handler does.
func DecodeRowsEvent(e *canal.RowsEvent, sourceID string) ([]viewstream.ChangeEvent, error) {
	switch e.Action {
	case canal.InsertAction:
		return decodeRows(e, sourceID, viewstream.Insert, false)
	case canal.DeleteAction:
		return decodeRows(e, sourceID, viewstream.Delete, false)
	case canal.UpdateAction:
		return decodeUpdateRows(e, sourceID)
	default:
		return nil, &ErrUnsupportedOperation{Source: "mysql", Operation: e.Action}
	}
}

func decodeRows(e *canal.RowsEvent, sourceID string, kind viewstream.ChangeKind, _ bool) ([]viewstream.ChangeEvent, error) {
	out := make([]viewstream.ChangeEvent, 0, len(e.Rows))
	for _, row := range e.Rows {
		data, pk, err := mysqlRowData(e, row)
		if err != nil {
			return nil, err
		}
		ev := viewstream.ChangeEvent{
			Kind:       kind,
			SourceID:   sourceID,
			EntityType: e.Table.Name,
			EntityID:   pk,
			Timestamp:  time.Now(),
			Metadata:   map[string]string{"schema": e.Table.Schema, "table": e.Table.Name},
		}
		if kind == viewstream.Delete {
			ev.Before = data
		} else {
			ev.After = data
		}
		out = append(out, ev)
	}
	return out, nil
}

// decodeUpdateRows pairs e.Rows as [before, after, before, after, ...],
// exactly as the teacher's OnRow handler interprets canal's update-row
// convention.
func decodeUpdateRows(e *canal.RowsEvent, sourceID string) ([]viewstream.ChangeEvent, error) {
	if len(e.Rows)%2 != 0 {
		return nil, fmt.Errorf("ingest: mysql: update event has odd row count %d", len(e.Rows))
	}
	out := make([]viewstream.ChangeEvent, 0, len(e.Rows)/2)
	for i := 0; i+1 < len(e.Rows); i += 2 {
		before, _, err := mysqlRowData(e, e.Rows[i])
		if err != nil {
			return nil, err
		}
		after, pk, err := mysqlRowData(e, e.Rows[i+1])
		if err != nil {
			return nil, err
		}
		out = append(out, viewstream.ChangeEvent{
			Kind:       viewstream.Update,
			SourceID:   sourceID,
			EntityType: e.Table.Name,
			EntityID:   pk,
			Before:     before,
			After:      after,
			Timestamp:  time.Now(),
			Metadata:   map[string]string{"schema": e.Table.Schema, "table": e.Table.Name},
		})
	}
	return out, nil
}

func mysqlRowData(e *canal.RowsEvent, row []any) (map[string]any, any, error) {
	if len(row) != len(e.Table.Columns) {
		return nil, nil, fmt.Errorf("ingest: mysql: row has %d values, table %q has %d columns", len(row), e.Table.Name, len(e.Table.Columns))
	}
	data := make(map[string]any, len(row))
	for i, col := range e.Table.Columns {
		val := row[i]
		if b, ok := val.([]byte); ok {
			val = string(b)
		}
		data[col.Name] = val
	}
	var pk any
	if len(e.Table.PKColumns) > 0 {
		idx := e.Table.PKColumns[0]
		if idx < len(row) {
			pk = data[e.Table.Columns[idx].Name]
		}
	}
	if pk == nil {
		pk = fmt.Sprintf("%s.%s:%v", e.Table.Schema, e.Table.Name, row)
	}
	return data, pk, nil
}
