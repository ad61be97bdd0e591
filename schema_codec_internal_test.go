package dagflow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeSchemaRoundTrips(t *testing.T) {
	schema := Schema{
		Fields: []FieldDef{
			{Name: "id", Kind: KindInt, Nullable: false},
			{Name: "name", Kind: KindString, Nullable: true},
		},
		PrimaryIndex: []int{0},
	}

	buf, err := encodeSchema(schema)
	require.NoError(t, err)

	got, err := decodeSchema(buf)
	require.NoError(t, err)
	require.Equal(t, schema, got)
}

func TestDecodeSchemaRejectsGarbage(t *testing.T) {
	_, err := decodeSchema([]byte("not gob data"))
	require.Error(t, err)
}
