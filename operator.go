package dagflow

import (
	"context"

	"github.com/dagflow/dagflow/storage"
)

// Txn is the transactional handle threaded through stateful operator
// calls: the executor begins it, the operator may read/write through it
// (including into buckets of its own inside the same env), and the
// executor commits it once the operator returns.
type Txn = *storage.Txn

// SourceFactory builds Source instances and declares their static shape.
type SourceFactory interface {
	OutputPorts() []PortHandle
	IsStateful() bool
	Build() Source
}

// Source drives an op forwarder until it decides to terminate. ResumeHint,
// when non-nil, is the checkpoint-derived sequence number the source
// should resume emitting from.
type Source interface {
	OutputSchema(port PortHandle) (Schema, bool)
	Start(ctx context.Context, fw OpForwarder, state StateForwarder, txn Txn, resumeHint *uint64) error
}

// ProcessorFactory builds Processor instances and declares their static
// shape.
type ProcessorFactory interface {
	InputPorts() []PortHandle
	OutputPorts() []PortHandle
	IsStateful() bool
	Build() Processor
}

// Processor transforms ops from its input ports and forwards results to
// its output ports.
type Processor interface {
	Init(txn Txn) error
	UpdateSchema(outPort PortHandle, inputSchemas map[PortHandle]Schema) (Schema, error)
	Process(ctx context.Context, fromPort PortHandle, op Operation, fw OpForwarder, txn Txn) error
}

// SinkFactory builds Sink instances and declares their static shape.
type SinkFactory interface {
	InputPorts() []PortHandle
	IsStateful() bool
	Build() Sink
}

// Sink commits ops to a durable or external destination, terminating the
// graph on that branch.
type Sink interface {
	Init(txn Txn) error
	UpdateSchema(inputSchemas map[PortHandle]Schema) error
	Process(ctx context.Context, fromPort PortHandle, seq uint64, op Operation, txn Txn) error
}

// OpForwarder is the operator-facing side of LocalChannelForwarder used to
// emit data ops and schema updates.
type OpForwarder interface {
	UpdateSchema(schema Schema, port PortHandle) error
	Send(op ExecutorMessage, port PortHandle) error
	SendTerm() error
}

// StateForwarder lets a source tag the sequence number of the ops it is
// about to emit, so the forwarder can stamp them before broadcast.
type StateForwarder interface {
	UpdateSeqNo(seq uint64)
}
