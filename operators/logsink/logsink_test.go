package logsink_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dagflow/dagflow"
	"github.com/dagflow/dagflow/operators/logsink"
)

func TestSinkWritesOpThenCommitFrames(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stream.log")

	factory := &logsink.SinkFactory{Cfg: logsink.SinkConfig{Path: path}}
	require.False(t, factory.IsStateful())

	sink := factory.Build()
	require.NoError(t, sink.Init(nil))

	schema := dagflow.Schema{Fields: []dagflow.FieldDef{{Name: "id", Kind: dagflow.KindInt}}}
	require.NoError(t, sink.UpdateSchema(map[dagflow.PortHandle]dagflow.Schema{dagflow.DefaultPort: schema}))

	op := dagflow.Operation{Kind: dagflow.OpInsert, New: dagflow.Record{Values: []dagflow.Field{dagflow.IntField(1)}}}
	require.NoError(t, sink.Process(context.Background(), dagflow.DefaultPort, 1, op, nil))
	require.NoError(t, sink.Process(context.Background(), dagflow.DefaultPort, 2, op, nil))

	concrete := sink.(*logsink.Sink)
	require.NoError(t, concrete.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	frames, err := logsink.ReadFrames(f)
	require.NoError(t, err)
	require.Len(t, frames, 4)

	require.Equal(t, logsink.FrameOp, frames[0].Kind)
	require.Equal(t, dagflow.OpInsert, frames[0].Op.Kind)
	require.Equal(t, logsink.FrameCommit, frames[1].Kind)
	require.Equal(t, uint64(1), frames[1].Epoch)

	require.Equal(t, logsink.FrameOp, frames[2].Kind)
	require.Equal(t, logsink.FrameCommit, frames[3].Kind)
	require.Equal(t, uint64(2), frames[3].Epoch)
}

func TestReadFramesOnEmptyFileReturnsNone(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.log")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	frames, err := logsink.ReadFrames(f)
	require.NoError(t, err)
	require.Empty(t, frames)
}
