package dagflow_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dagflow/dagflow"
	"github.com/dagflow/dagflow/dagflowtest"
)

func newSourceNode() dagflow.Node {
	return dagflow.Node{Kind: dagflow.KindSource, Source: &dagflowtest.FakeSourceFactory{
		Ports: []dagflow.PortHandle{dagflow.DefaultPort},
		Port:  dagflow.DefaultPort,
	}}
}

func newProcessorNode() dagflow.Node {
	return dagflow.Node{Kind: dagflow.KindProcessor, Processor: &dagflowtest.FakeProcessorFactory{
		In: dagflow.DefaultPort, Out: dagflow.DefaultPort,
	}}
}

func newSinkNode() dagflow.Node {
	return dagflow.Node{Kind: dagflow.KindSink, Sink: &dagflowtest.FakeSinkFactory{
		Ports: []dagflow.PortHandle{dagflow.DefaultPort},
	}}
}

func TestConnectValidatesEndpoints(t *testing.T) {
	dag := dagflow.NewDAG()
	dag.AddNode("s", newSourceNode())
	dag.AddNode("k", newSinkNode())

	err := dag.Connect(
		dagflow.Endpoint{Node: "s", Port: dagflow.DefaultPort},
		dagflow.Endpoint{Node: "k", Port: dagflow.DefaultPort},
	)
	require.NoError(t, err)
	require.Len(t, dag.Edges, 1)
}

func TestConnectUnknownNode(t *testing.T) {
	dag := dagflow.NewDAG()
	dag.AddNode("s", newSourceNode())

	err := dag.Connect(
		dagflow.Endpoint{Node: "s", Port: dagflow.DefaultPort},
		dagflow.Endpoint{Node: "missing", Port: dagflow.DefaultPort},
	)
	require.Error(t, err)
	var execErr *dagflow.ExecutionError
	require.ErrorAs(t, err, &execErr)
	require.Equal(t, dagflow.ErrUnknownNode, execErr.Kind)
}

func TestConnectUnknownPort(t *testing.T) {
	dag := dagflow.NewDAG()
	dag.AddNode("s", newSourceNode())
	dag.AddNode("k", newSinkNode())

	err := dag.Connect(
		dagflow.Endpoint{Node: "s", Port: 7},
		dagflow.Endpoint{Node: "k", Port: dagflow.DefaultPort},
	)
	require.Error(t, err)
	var execErr *dagflow.ExecutionError
	require.ErrorAs(t, err, &execErr)
	require.Equal(t, dagflow.ErrUnknownPort, execErr.Kind)
}

func TestOutputPortsOnSinkIsInvalidDirection(t *testing.T) {
	dag := dagflow.NewDAG()
	dag.AddNode("k", newSinkNode())

	_, err := dag.OutputPorts("k")
	require.Error(t, err)
	var execErr *dagflow.ExecutionError
	require.ErrorAs(t, err, &execErr)
	require.Equal(t, dagflow.ErrInvalidPortDirection, execErr.Kind)
}

func TestMergeNamespacesHandlesAndDetectsCollision(t *testing.T) {
	outer := dagflow.NewDAG()
	outer.AddNode("s", newSourceNode())

	inner := dagflow.NewDAG()
	inner.AddNode("s", newSourceNode())
	inner.AddNode("k", newSinkNode())
	require.NoError(t, inner.Connect(
		dagflow.Endpoint{Node: "s", Port: dagflow.DefaultPort},
		dagflow.Endpoint{Node: "k", Port: dagflow.DefaultPort},
	))

	require.NoError(t, outer.Merge("ns", inner))
	require.Contains(t, outer.Nodes, dagflow.NodeHandle("ns/s"))
	require.Contains(t, outer.Nodes, dagflow.NodeHandle("ns/k"))
	require.Equal(t, dagflow.NodeHandle("ns/s"), outer.Edges[0].From.Node)

	collide := dagflow.NewDAG()
	collide.AddNode("s", newSourceNode())
	err := outer.Merge("ns", collide)
	require.Error(t, err)
}

func TestValidateRejectsSelfLoopAndCycle(t *testing.T) {
	dag := dagflow.NewDAG()
	dag.AddNode("p", newProcessorNode())
	dag.Edges = append(dag.Edges, dagflow.Edge{
		From: dagflow.Endpoint{Node: "p", Port: dagflow.DefaultPort},
		To:   dagflow.Endpoint{Node: "p", Port: dagflow.DefaultPort},
	})
	require.Error(t, dag.Validate())

	cyclic := dagflow.NewDAG()
	cyclic.AddNode("a", newProcessorNode())
	cyclic.AddNode("b", newProcessorNode())
	cyclic.Edges = append(cyclic.Edges,
		dagflow.Edge{From: dagflow.Endpoint{Node: "a", Port: dagflow.DefaultPort}, To: dagflow.Endpoint{Node: "b", Port: dagflow.DefaultPort}},
		dagflow.Edge{From: dagflow.Endpoint{Node: "b", Port: dagflow.DefaultPort}, To: dagflow.Endpoint{Node: "a", Port: dagflow.DefaultPort}},
	)
	require.Error(t, cyclic.Validate())
}

func TestValidateAcceptsFanOutFanIn(t *testing.T) {
	dag := dagflow.NewDAG()
	dag.AddNode("s", newSourceNode())
	dag.AddNode("p", newProcessorNode())
	dag.AddNode("k1", newSinkNode())
	dag.AddNode("k2", newSinkNode())

	require.NoError(t, dag.Connect(dagflow.Endpoint{Node: "s", Port: dagflow.DefaultPort}, dagflow.Endpoint{Node: "p", Port: dagflow.DefaultPort}))
	require.NoError(t, dag.Connect(dagflow.Endpoint{Node: "p", Port: dagflow.DefaultPort}, dagflow.Endpoint{Node: "k1", Port: dagflow.DefaultPort}))
	require.NoError(t, dag.Connect(dagflow.Endpoint{Node: "p", Port: dagflow.DefaultPort}, dagflow.Endpoint{Node: "k2", Port: dagflow.DefaultPort}))

	require.NoError(t, dag.Validate())
}
