package ingest

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/user/viewstream"
)

// DecodeMongoChangeEvent translates one MongoDB change-stream document
// (as produced by mongo.ChangeStream.Decode into a bson.M, the shape
// pkg/source/mongodb.MongoDBSource.Read decodes in the teacher) into a
// viewstream.ChangeEvent. sourceID identifies the SourceSubscription this
// database/collection pair is registered under; entityType is normally
// the collection name.
//
// event["operationType"] drives the mapping:
//
//	insert           -> Insert  (After = fullDocument)
//	update, replace   -> Update  (Before = fullDocumentBeforeChange if present, After = fullDocument)
//	delete           -> Delete  (Before = fullDocumentBeforeChange if present, else documentKey)
//
// "invalidate" and any other operationType return ErrUnsupportedOperation;
// the change stream itself must be restarted by the caller, not this
// package, which never manages a stream lifecycle.
func DecodeMongoChangeEvent(event bson.M, sourceID, entityType string) (viewstream.ChangeEvent, error) {
	opType, _ := event["operationType"].(string)

	entityID, err := mongoEntityID(event)
	if err != nil {
		return viewstream.ChangeEvent{}, err
	}

	ev := viewstream.ChangeEvent{
		SourceID:   sourceID,
		EntityType: entityType,
		EntityID:   entityID,
		Timestamp:  mongoClusterTime(event),
		Metadata: map[string]string{
			"operation_type": opType,
		},
	}

	switch opType {
	case "insert":
		ev.Kind = viewstream.Insert
		ev.After = mongoDocument(event["fullDocument"])
	case "update", "replace":
		ev.Kind = viewstream.Update
		ev.Before = mongoDocument(event["fullDocumentBeforeChange"])
		ev.After = mongoDocument(event["fullDocument"])
	case "delete":
		ev.Kind = viewstream.Delete
		if before := mongoDocument(event["fullDocumentBeforeChange"]); before != nil {
			ev.Before = before
		} else {
			ev.Before = map[string]any{"_id": entityID}
		}
	default:
		return viewstream.ChangeEvent{}, &ErrUnsupportedOperation{Source: "mongodb", Operation: opType}
	}

	return ev, nil
}

func mongoEntityID(event bson.M) (any, error) {
	documentKey, ok := event["documentKey"].(bson.M)
	if !ok {
		return nil, fmt.Errorf("ingest: mongodb: change event missing documentKey")
	}
	id, ok := documentKey["_id"]
	if !ok {
		return nil, fmt.Errorf("ingest: mongodb: documentKey missing _id")
	}
	return fmt.Sprintf("%v", id), nil
}

func mongoDocument(v any) map[string]any {
	if v == nil {
		return nil
	}
	m, ok := v.(bson.M)
	if !ok {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, val := range m {
		out[k] = val
	}
	return out
}

func mongoClusterTime(event bson.M) time.Time {
	if ct, ok := event["clusterTime"].(time.Time); ok {
		return ct
	}
	return time.Now()
}
