// Package document is the Document type (spec §3): an identity-bearing,
// insertion-ordered field map with a version counter, plus the BSON/JSON
// boundary conversions the teacher's pkg/storage/bson.go already practices
// for the same purpose. The composing facade (out of scope for the core)
// is the only consumer of the JSON side of this package.
package document

import (
	"time"

	"github.com/google/uuid"
	derrors "github.com/kastellan/docengine/pkg/errors"
	"github.com/kastellan/docengine/pkg/types"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Document is one stored record. Fields preserves insertion order via
// bson.D, exactly like the teacher's bson.D documents.
type Document struct {
	ID      string
	Version uint64
	Created time.Time
	Updated time.Time
	Fields  bson.D
}

// New creates a document, auto-generating an id (uuid v7, time-ordered,
// matching the teacher's GenerateKey) if id is empty.
func New(id string, fields bson.D) *Document {
	if id == "" {
		id = GenerateID()
	}
	now := time.Now().UTC()
	return &Document{
		ID:      id,
		Version: 1,
		Created: now,
		Updated: now,
		Fields:  fields,
	}
}

// GenerateID mints a time-ordered unique id the way the teacher's
// GenerateKey does.
func GenerateID() string {
	id, err := uuid.NewV7()
	if err != nil {
		panic(err)
	}
	return id.String()
}

// Clone returns a copy of d whose Fields slice has its own backing array,
// so later in-place edits to d.Fields (or the clone's) never alias each
// other — callers that diff a document's fields before and after a
// mutation (collection.Update's secondary-index maintenance) need this;
// a plain `*d` shallow-copies the Fields slice header only.
func (d *Document) Clone() *Document {
	clone := *d
	clone.Fields = append(bson.D(nil), d.Fields...)
	return &clone
}

// Touch bumps Version and Updated; called on every successful write
// inside a committed transaction.
func (d *Document) Touch() {
	d.Version++
	d.Updated = time.Now().UTC()
}

// Marshal serializes the document to BSON bytes.
func Marshal(d *Document) ([]byte, error) {
	const op = "document.Marshal"
	payload := struct {
		ID      string    `bson:"_id"`
		Version uint64    `bson:"_version"`
		Created time.Time `bson:"_created"`
		Updated time.Time `bson:"_updated"`
		Fields  bson.D    `bson:"fields"`
	}{d.ID, d.Version, d.Created, d.Updated, d.Fields}

	buf, err := bson.Marshal(payload)
	if err != nil {
		return nil, derrors.Wrap(derrors.KindInvalidArgument, op, err)
	}
	return buf, nil
}

// Unmarshal reverses Marshal.
func Unmarshal(buf []byte) (*Document, error) {
	const op = "document.Unmarshal"
	var payload struct {
		ID      string    `bson:"_id"`
		Version uint64    `bson:"_version"`
		Created time.Time `bson:"_created"`
		Updated time.Time `bson:"_updated"`
		Fields  bson.D    `bson:"fields"`
	}
	if err := bson.Unmarshal(buf, &payload); err != nil {
		return nil, derrors.Wrap(derrors.KindCorruption, op, err)
	}
	return &Document{
		ID:      payload.ID,
		Version: payload.Version,
		Created: payload.Created,
		Updated: payload.Updated,
		Fields:  payload.Fields,
	}, nil
}

// ToJSON renders the document as extended JSON, the document<->JSON
// boundary conversion spec §1 assigns to the (out-of-scope) facade; kept
// here because it is a pure function of a Document and the rest of the
// pack (teacher's BsonToJson) already co-locates it with the BSON helpers.
func ToJSON(d *Document) (string, error) {
	buf, err := Marshal(d)
	if err != nil {
		return "", err
	}
	var doc bson.D
	if err := bson.Unmarshal(buf, &doc); err != nil {
		return "", derrors.Wrap(derrors.KindInvalidArgument, "document.ToJSON", err)
	}
	jsonBytes, err := bson.MarshalExtJSON(doc, false, false)
	if err != nil {
		return "", derrors.Wrap(derrors.KindInvalidArgument, "document.ToJSON", err)
	}
	return string(jsonBytes), nil
}

// FieldValue looks up a top-level field as a types.Comparable, the way
// the teacher's GetValueFromBson resolves index key values out of a
// bson.D, generalized to look inside Document.Fields.
func FieldValue(d *Document, key string) (types.Comparable, bool) {
	for _, e := range d.Fields {
		if e.Key != key {
			continue
		}
		switch v := e.Value.(type) {
		case int:
			return types.IntKey(v), true
		case int32:
			return types.IntKey(v), true
		case int64:
			return types.IntKey(v), true
		case string:
			return types.VarcharKey(v), true
		case bool:
			return types.BoolKey(v), true
		case float32:
			return types.FloatKey(v), true
		case float64:
			return types.FloatKey(v), true
		case time.Time:
			return types.DateKey(v), true
		default:
			return nil, false
		}
	}
	return nil, false
}
