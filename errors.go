package dagflow

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed taxonomy of failures the kernel can raise.
type ErrorKind int

const (
	// ErrUnknownNode is returned when an edge references a node that was
	// never added to the DAG.
	ErrUnknownNode ErrorKind = iota
	// ErrUnknownPort is returned when an edge references a port the node
	// does not declare.
	ErrUnknownPort
	// ErrInvalidPortDirection is returned when a port is used on the wrong
	// side of an edge, or introspected from the wrong side of a node.
	ErrInvalidPortDirection
	// ErrMissingNodeInput is returned at executor pre-start validation when
	// a processor or sink has no incoming edges.
	ErrMissingNodeInput
	// ErrMissingNodeOutput is returned at executor pre-start validation
	// when a processor has no outgoing edges.
	ErrMissingNodeOutput
	// ErrSchemaNotInitialized is returned when a data op reaches an
	// operator before every input port has absorbed a SchemaUpdate.
	ErrSchemaNotInitialized
	// ErrInvalidOperation is returned when a control message appears where
	// a data op was required.
	ErrInvalidOperation
	// ErrSinkReceiver is returned when a sink's upstream channel closes
	// unexpectedly.
	ErrSinkReceiver
	// ErrProcessorReceiver is returned when a processor's upstream channel
	// closes unexpectedly.
	ErrProcessorReceiver
	// ErrInvalidCheckpointState is returned when a node's checkpoint env or
	// database is absent or corrupt.
	ErrInvalidCheckpointState
	// ErrInternalDatabase is returned for storage-layer failures not
	// attributable to a malformed record.
	ErrInternalDatabase
	// ErrDeserialization is returned when a persisted value cannot be
	// decoded back into its Go type.
	ErrDeserialization
	// ErrInvalidPortHandle is returned when a persisted key does not decode
	// to a well-formed PortHandle.
	ErrInvalidPortHandle
	// ErrCyclicGraph is returned by Validate when the edge set contains a
	// cycle or a self-loop.
	ErrCyclicGraph
	// ErrHandleCollision is returned by Merge when a rewritten handle from
	// the merged-in DAG already exists in the receiver.
	ErrHandleCollision
)

func (k ErrorKind) String() string {
	switch k {
	case ErrUnknownNode:
		return "unknown_node"
	case ErrUnknownPort:
		return "unknown_port"
	case ErrInvalidPortDirection:
		return "invalid_port_direction"
	case ErrMissingNodeInput:
		return "missing_node_input"
	case ErrMissingNodeOutput:
		return "missing_node_output"
	case ErrSchemaNotInitialized:
		return "schema_not_initialized"
	case ErrInvalidOperation:
		return "invalid_operation"
	case ErrSinkReceiver:
		return "sink_receiver_error"
	case ErrProcessorReceiver:
		return "processor_receiver_error"
	case ErrInvalidCheckpointState:
		return "invalid_checkpoint_state"
	case ErrInternalDatabase:
		return "internal_database_error"
	case ErrDeserialization:
		return "deserialization_error"
	case ErrInvalidPortHandle:
		return "invalid_port_handle"
	case ErrCyclicGraph:
		return "cyclic_graph"
	case ErrHandleCollision:
		return "handle_collision"
	default:
		return "unknown"
	}
}

// ExecutionError is the single error type returned by every kernel
// component. It carries enough addressing context (node, port, receiver
// index) to be logged without a second lookup into the DAG.
type ExecutionError struct {
	Kind  ErrorKind
	Node  NodeHandle
	Port  PortHandle
	Index int
	Msg   string
	Err   error
}

func (e *ExecutionError) Error() string {
	switch e.Kind {
	case ErrUnknownNode:
		return fmt.Sprintf("unknown node %q", e.Node)
	case ErrUnknownPort:
		return fmt.Sprintf("node %q has no port %d", e.Node, e.Port)
	case ErrInvalidPortDirection:
		return fmt.Sprintf("node %q: invalid port direction: %s", e.Node, e.Msg)
	case ErrMissingNodeInput:
		return fmt.Sprintf("node %q declared as having no incoming edges", e.Node)
	case ErrMissingNodeOutput:
		return fmt.Sprintf("node %q declared as having no outgoing edges", e.Node)
	case ErrSchemaNotInitialized:
		return fmt.Sprintf("node %q: data op received before schema handshake completed", e.Node)
	case ErrInvalidOperation:
		return fmt.Sprintf("node %q: invalid control message %s where data op expected", e.Node, e.Msg)
	case ErrSinkReceiver:
		return fmt.Sprintf("node %q: receiver %d closed unexpectedly: %v", e.Node, e.Index, e.Err)
	case ErrProcessorReceiver:
		return fmt.Sprintf("node %q: receiver %d closed unexpectedly: %v", e.Node, e.Index, e.Err)
	case ErrInvalidCheckpointState:
		return fmt.Sprintf("node %q: checkpoint state missing or corrupt", e.Node)
	case ErrInternalDatabase:
		return fmt.Sprintf("node %q: internal database error: %v", e.Node, e.Err)
	case ErrDeserialization:
		return fmt.Sprintf("failed to deserialize %s: %v", e.Msg, e.Err)
	case ErrInvalidPortHandle:
		return fmt.Sprintf("invalid port handle bytes for port %d", e.Port)
	case ErrCyclicGraph:
		return fmt.Sprintf("dag contains a cycle involving node %q", e.Node)
	case ErrHandleCollision:
		return fmt.Sprintf("node %q: handle collision during merge", e.Node)
	default:
		return fmt.Sprintf("execution error: %s", e.Msg)
	}
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Is supports errors.Is checks against another *ExecutionError by comparing
// Kind only (Node, Msg and Err of the target are ignored). For any other
// target it reports false; errors.Is then goes on to the cause via Unwrap.
func (e *ExecutionError) Is(target error) bool {
	var other *ExecutionError
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

func newErr(kind ErrorKind, node NodeHandle, msg string) *ExecutionError {
	return &ExecutionError{Kind: kind, Node: node, Msg: msg}
}

func wrapErr(kind ErrorKind, node NodeHandle, err error) *ExecutionError {
	return &ExecutionError{Kind: kind, Node: node, Err: err}
}
