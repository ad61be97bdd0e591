package recordcodec_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dagflow/dagflow"
	"github.com/dagflow/dagflow/operators/recordcodec"
)

func TestInferSchemaSortsFieldNames(t *testing.T) {
	schema := recordcodec.InferSchema(map[string]interface{}{
		"zebra": "z",
		"alpha": 1,
	})
	require.Equal(t, []string{"alpha", "zebra"}, recordcodec.FieldNames(schema))
}

func TestToRecordAndBackRoundTrips(t *testing.T) {
	schema := dagflow.Schema{Fields: []dagflow.FieldDef{
		{Name: "id", Kind: dagflow.KindInt},
		{Name: "name", Kind: dagflow.KindString},
		{Name: "active", Kind: dagflow.KindBool},
	}}

	payload := map[string]interface{}{"id": float64(7), "name": "widget", "active": true}
	rec := recordcodec.ToRecord(schema, payload)

	require.Equal(t, int64(7), rec.Values[0].Int)
	require.Equal(t, "widget", rec.Values[1].Str)
	require.True(t, rec.Values[2].Bln)

	back := recordcodec.ToPayload(schema, rec)
	require.Equal(t, int64(7), back["id"])
	require.Equal(t, "widget", back["name"])
	require.Equal(t, true, back["active"])
}

func TestToRecordFillsMissingKeysWithNull(t *testing.T) {
	schema := dagflow.Schema{Fields: []dagflow.FieldDef{{Name: "missing", Kind: dagflow.KindString}}}
	rec := recordcodec.ToRecord(schema, map[string]interface{}{})
	require.Equal(t, dagflow.KindNull, rec.Values[0].Kind)
}
