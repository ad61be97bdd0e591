package dagflow_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dagflow/dagflow"
	"github.com/dagflow/dagflow/storage"
)

func tempCheckpointDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "dagflow-checkpoint-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func writeCommit(t *testing.T, base, node, source string, seq uint64) {
	t.Helper()
	env, err := storage.Open(base, node)
	require.NoError(t, err)
	defer env.Close()

	txn, err := env.Begin()
	require.NoError(t, err)
	require.NoError(t, txn.PutCommit(source, seq))
	require.NoError(t, txn.Commit())
}

// Scenario 5 from spec.md §8: every descendant of a source committed the
// same sequence number - fully consistent.
func TestAnalyzeFullyConsistentWhenAllCommitsAgree(t *testing.T) {
	base := tempCheckpointDir(t)

	dag := dagflow.NewDAG()
	dag.AddNode("src", dagflow.Node{Kind: dagflow.KindSource, Source: &fakeSrcFactory{}})
	dag.AddNode("sink1", dagflow.Node{Kind: dagflow.KindSink, Sink: &fakeSinkFactoryStateful{}})
	dag.AddNode("sink2", dagflow.Node{Kind: dagflow.KindSink, Sink: &fakeSinkFactoryStateful{}})
	require.NoError(t, dag.Connect(dagflow.Endpoint{Node: "src", Port: dagflow.DefaultPort}, dagflow.Endpoint{Node: "sink1", Port: dagflow.DefaultPort}))
	require.NoError(t, dag.Connect(dagflow.Endpoint{Node: "src", Port: dagflow.DefaultPort}, dagflow.Endpoint{Node: "sink2", Port: dagflow.DefaultPort}))

	writeCommit(t, base, "src", "src", 7)
	writeCommit(t, base, "sink1", "src", 7)
	writeCommit(t, base, "sink2", "src", 7)

	a := dagflow.NewAnalyzer(base)
	result, err := a.Analyze(dag)
	require.NoError(t, err)

	c := result["src"]
	require.True(t, c.Fully)
	require.Equal(t, uint64(7), c.Seq)
}

// Scenario from spec.md §8: descendants disagree on committed sequence -
// partially consistent, partitioned by sequence number.
func TestAnalyzePartiallyConsistentWhenCommitsDisagree(t *testing.T) {
	base := tempCheckpointDir(t)

	dag := dagflow.NewDAG()
	dag.AddNode("src", dagflow.Node{Kind: dagflow.KindSource, Source: &fakeSrcFactory{}})
	dag.AddNode("sink1", dagflow.Node{Kind: dagflow.KindSink, Sink: &fakeSinkFactoryStateful{}})
	dag.AddNode("sink2", dagflow.Node{Kind: dagflow.KindSink, Sink: &fakeSinkFactoryStateful{}})
	require.NoError(t, dag.Connect(dagflow.Endpoint{Node: "src", Port: dagflow.DefaultPort}, dagflow.Endpoint{Node: "sink1", Port: dagflow.DefaultPort}))
	require.NoError(t, dag.Connect(dagflow.Endpoint{Node: "src", Port: dagflow.DefaultPort}, dagflow.Endpoint{Node: "sink2", Port: dagflow.DefaultPort}))

	writeCommit(t, base, "src", "src", 7)
	writeCommit(t, base, "sink1", "src", 7)
	writeCommit(t, base, "sink2", "src", 5)

	a := dagflow.NewAnalyzer(base)
	result, err := a.Analyze(dag)
	require.NoError(t, err)

	c := result["src"]
	require.False(t, c.Fully)
	require.ElementsMatch(t, []dagflow.NodeHandle{"src", "sink1"}, c.Partition[7])
	require.ElementsMatch(t, []dagflow.NodeHandle{"sink2"}, c.Partition[5])
}

// Scenario 6 from spec.md §8: a corrupted env (file present but unreadable
// as a checkpoint database) is removed and excluded from the metadata set
// rather than failing the whole analysis; its absence is treated as an
// uncommitted (seq 0) descendant.
func TestAnalyzeRemovesCorruptEnvAndTreatsItAsUncommitted(t *testing.T) {
	base := tempCheckpointDir(t)

	dag := dagflow.NewDAG()
	dag.AddNode("src", dagflow.Node{Kind: dagflow.KindSource, Source: &fakeSrcFactory{}})
	dag.AddNode("sink1", dagflow.Node{Kind: dagflow.KindSink, Sink: &fakeSinkFactoryStateful{}})
	require.NoError(t, dag.Connect(dagflow.Endpoint{Node: "src", Port: dagflow.DefaultPort}, dagflow.Endpoint{Node: "sink1", Port: dagflow.DefaultPort}))

	require.NoError(t, os.WriteFile(filepath.Join(base, "sink1.db"), []byte("not a bolt database"), 0o644))
	require.True(t, storage.Exists(base, "sink1"))

	a := dagflow.NewAnalyzer(base)
	result, err := a.Analyze(dag)
	require.NoError(t, err)

	require.False(t, storage.Exists(base, "sink1"))

	c := result["src"]
	require.True(t, c.Fully)
	require.Equal(t, uint64(0), c.Seq)
}

type fakeSrcFactory struct{}

func (f *fakeSrcFactory) OutputPorts() []dagflow.PortHandle { return []dagflow.PortHandle{dagflow.DefaultPort} }
func (f *fakeSrcFactory) IsStateful() bool                  { return false }
func (f *fakeSrcFactory) Build() dagflow.Source              { return nil }

type fakeSinkFactoryStateful struct{}

func (f *fakeSinkFactoryStateful) InputPorts() []dagflow.PortHandle { return []dagflow.PortHandle{dagflow.DefaultPort} }
func (f *fakeSinkFactoryStateful) IsStateful() bool                 { return true }
func (f *fakeSinkFactoryStateful) Build() dagflow.Sink               { return nil }
