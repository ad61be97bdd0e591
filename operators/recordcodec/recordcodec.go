// Package recordcodec converts between the loosely typed JSON payloads the
// teacher's components exchanged (map[string]interface{}) and dagflow's
// typed Record/Schema pair, so every operator in operators/ can share one
// conversion path instead of reimplementing field coercion.
package recordcodec

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/dagflow/dagflow"
)

// FieldNames returns schema's field names in declared order.
func FieldNames(schema dagflow.Schema) []string {
	names := make([]string, len(schema.Fields))
	for i, f := range schema.Fields {
		names[i] = f.Name
	}
	return names
}

// InferSchema builds a Schema by sampling the keys of one decoded JSON
// payload, sorted for determinism. Operators without a fixed schema (most
// of the teacher's JSON-map sources) use this in place of a real catalog
// lookup.
func InferSchema(sample map[string]interface{}) dagflow.Schema {
	names := make([]string, 0, len(sample))
	for k := range sample {
		names = append(names, k)
	}
	sort.Strings(names)

	fields := make([]dagflow.FieldDef, 0, len(names))
	for _, name := range names {
		fields = append(fields, dagflow.FieldDef{Name: name, Kind: kindOf(sample[name]), Nullable: true})
	}
	return dagflow.Schema{Fields: fields}
}

func kindOf(v interface{}) dagflow.FieldKind {
	switch v.(type) {
	case nil:
		return dagflow.KindNull
	case bool:
		return dagflow.KindBool
	case int, int32, int64:
		return dagflow.KindInt
	case float32, float64:
		return dagflow.KindFloat
	case []byte:
		return dagflow.KindBytes
	case time.Time:
		return dagflow.KindTimestamp
	default:
		return dagflow.KindString
	}
}

// ToRecord maps a decoded JSON payload onto schema's declared fields, in
// field order, falling back to NullField for any key the payload omits.
func ToRecord(schema dagflow.Schema, payload map[string]interface{}) dagflow.Record {
	values := make([]dagflow.Field, len(schema.Fields))
	for i, f := range schema.Fields {
		values[i] = toField(f.Kind, payload[f.Name])
	}
	return dagflow.Record{Values: values}
}

func toField(kind dagflow.FieldKind, v interface{}) dagflow.Field {
	if v == nil {
		return dagflow.NullField()
	}
	switch kind {
	case dagflow.KindInt:
		switch n := v.(type) {
		case int:
			return dagflow.IntField(int64(n))
		case int32:
			return dagflow.IntField(int64(n))
		case int64:
			return dagflow.IntField(n)
		case float64:
			return dagflow.IntField(int64(n))
		}
	case dagflow.KindFloat:
		if f, ok := v.(float64); ok {
			return dagflow.FloatField(f)
		}
	case dagflow.KindBool:
		if b, ok := v.(bool); ok {
			return dagflow.BoolField(b)
		}
	case dagflow.KindBytes:
		if b, ok := v.([]byte); ok {
			return dagflow.BytesField(b)
		}
	case dagflow.KindTimestamp:
		if ts, ok := v.(time.Time); ok {
			return dagflow.TimestampField(ts)
		}
	}
	return dagflow.StringField(fmt.Sprintf("%v", v))
}

// ToPayload reverses ToRecord, producing the map[string]interface{} shape
// downstream JSON encoders (kafka, http, sqs, pubsub) expect.
func ToPayload(schema dagflow.Schema, rec dagflow.Record) map[string]interface{} {
	payload := make(map[string]interface{}, len(rec.Values))
	for i, f := range rec.Values {
		if i >= len(schema.Fields) {
			break
		}
		payload[schema.Fields[i].Name] = fromField(f)
	}
	return payload
}

func fromField(f dagflow.Field) interface{} {
	switch f.Kind {
	case dagflow.KindNull:
		return nil
	case dagflow.KindInt:
		return f.Int
	case dagflow.KindFloat:
		return f.Flt
	case dagflow.KindBool:
		return f.Bln
	case dagflow.KindBytes:
		return f.Byt
	case dagflow.KindTimestamp:
		return f.Tms
	default:
		return f.Str
	}
}

// NewSeq mints a random, monotonically-meaningless identifier for payloads
// that arrive with no natural sequence number (message brokers, HTTP posts),
// used as a per-batch correlation id the way the teacher's sqs/Initium
// stamped a ReceiveRequestAttemptId.
func NewSeq() string {
	return uuid.NewString()
}
