package dagflow_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dagflow/dagflow"
)

func TestExecutionErrorIsComparesKindNotMessage(t *testing.T) {
	a := &dagflow.ExecutionError{Kind: dagflow.ErrUnknownNode, Node: "x"}
	b := &dagflow.ExecutionError{Kind: dagflow.ErrUnknownNode, Node: "y", Msg: "different message"}
	c := &dagflow.ExecutionError{Kind: dagflow.ErrUnknownPort, Node: "x"}

	require.True(t, errors.Is(a, b))
	require.False(t, errors.Is(a, c))
}

func TestExecutionErrorUnwrapsWrappedCause(t *testing.T) {
	cause := fmt.Errorf("disk full")
	wrapped := &dagflow.ExecutionError{Kind: dagflow.ErrInternalDatabase, Node: "n", Err: cause}

	require.ErrorIs(t, wrapped, cause)
	require.Equal(t, cause, errors.Unwrap(wrapped))
}

func TestExecutionErrorAsRecoversKind(t *testing.T) {
	var err error = &dagflow.ExecutionError{Kind: dagflow.ErrCyclicGraph, Node: "p"}

	var execErr *dagflow.ExecutionError
	require.True(t, errors.As(err, &execErr))
	require.Equal(t, dagflow.ErrCyclicGraph, execErr.Kind)
}

func TestErrorKindStringIsStable(t *testing.T) {
	cases := map[dagflow.ErrorKind]string{
		dagflow.ErrUnknownNode:            "unknown_node",
		dagflow.ErrSchemaNotInitialized:   "schema_not_initialized",
		dagflow.ErrInvalidCheckpointState: "invalid_checkpoint_state",
		dagflow.ErrCyclicGraph:            "cyclic_graph",
	}
	for kind, want := range cases {
		require.Equal(t, want, kind.String())
	}
}
