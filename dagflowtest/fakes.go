// Package dagflowtest provides in-memory fake Source/Processor/Sink
// implementations for exercising the executor without a real backend,
// adapted from the teacher's testing/plugin.go artifacts (testSub,
// Subscription, Retriever, Fold) to the Source/Processor/Sink contracts.
package dagflowtest

import (
	"context"
	"sync"

	"github.com/dagflow/dagflow"
)

// RecordedCall captures one invocation of a FakeSink's Process method, used
// by tests to assert ordering and interleaving.
type RecordedCall struct {
	Port dagflow.PortHandle
	Seq  uint64
	Op   dagflow.Operation
}

// FakeSourceFactory builds a FakeSource that emits a fixed schema followed
// by a fixed list of messages, then terminates.
type FakeSourceFactory struct {
	Ports     []dagflow.PortHandle
	Stateful  bool
	Schema    dagflow.Schema
	HasSchema bool
	Messages  []dagflow.ExecutorMessage
	Port      dagflow.PortHandle
}

func (f *FakeSourceFactory) OutputPorts() []dagflow.PortHandle { return f.Ports }
func (f *FakeSourceFactory) IsStateful() bool                 { return f.Stateful }
func (f *FakeSourceFactory) Build() dagflow.Source {
	return &FakeSource{factory: f}
}

// FakeSource replays FakeSourceFactory.Messages onto FakeSourceFactory.Port.
type FakeSource struct {
	factory *FakeSourceFactory
}

func (s *FakeSource) OutputSchema(port dagflow.PortHandle) (dagflow.Schema, bool) {
	if port == s.factory.Port && s.factory.HasSchema {
		return s.factory.Schema, true
	}
	return dagflow.Schema{}, false
}

func (s *FakeSource) Start(ctx context.Context, fw dagflow.OpForwarder, state dagflow.StateForwarder, txn dagflow.Txn, resumeHint *uint64) error {
	for _, msg := range s.factory.Messages {
		if msg.Kind != dagflow.MsgSchemaUpdate && msg.Kind != dagflow.MsgTerminate {
			state.UpdateSeqNo(msg.Seq)
		}
		if err := fw.Send(msg, s.factory.Port); err != nil {
			return err
		}
	}
	return nil
}

// FakeProcessorFactory builds a FakeProcessor that forwards every op
// unchanged from its single input port to its single output port.
type FakeProcessorFactory struct {
	In, Out  dagflow.PortHandle
	Stateful bool
}

func (f *FakeProcessorFactory) InputPorts() []dagflow.PortHandle  { return []dagflow.PortHandle{f.In} }
func (f *FakeProcessorFactory) OutputPorts() []dagflow.PortHandle { return []dagflow.PortHandle{f.Out} }
func (f *FakeProcessorFactory) IsStateful() bool                  { return f.Stateful }
func (f *FakeProcessorFactory) Build() dagflow.Processor {
	return &FakeProcessor{out: f.Out}
}

// FakeProcessor passes its single input schema through unchanged and
// forwards every operation to its output port with Seq 0, so the forwarder
// stamps it with the sequence number the executor recorded for the input.
type FakeProcessor struct {
	out dagflow.PortHandle
}

func (p *FakeProcessor) Init(txn dagflow.Txn) error { return nil }

func (p *FakeProcessor) UpdateSchema(outPort dagflow.PortHandle, inputSchemas map[dagflow.PortHandle]dagflow.Schema) (dagflow.Schema, error) {
	for _, s := range inputSchemas {
		return s, nil
	}
	return dagflow.Schema{}, nil
}

func (p *FakeProcessor) Process(ctx context.Context, fromPort dagflow.PortHandle, op dagflow.Operation, fw dagflow.OpForwarder, txn dagflow.Txn) error {
	var msg dagflow.ExecutorMessage
	switch op.Kind {
	case dagflow.OpInsert:
		msg = dagflow.InsertMessage(0, op.New)
	case dagflow.OpUpdate:
		msg = dagflow.UpdateMessage(0, op.Old, op.New)
	case dagflow.OpDelete:
		msg = dagflow.DeleteMessage(0, op.Old)
	}
	return fw.Send(msg, p.out)
}

// CountAggregatorFactory builds a CountAggregator - a trivial stateless
// stand-in for the external aggregator collaborators the spec keeps out of
// scope, kept here purely to exercise the Processor contract end-to-end in
// tests.
type CountAggregatorFactory struct {
	In, Out dagflow.PortHandle
}

func (f *CountAggregatorFactory) InputPorts() []dagflow.PortHandle  { return []dagflow.PortHandle{f.In} }
func (f *CountAggregatorFactory) OutputPorts() []dagflow.PortHandle { return []dagflow.PortHandle{f.Out} }
func (f *CountAggregatorFactory) IsStateful() bool                  { return false }
func (f *CountAggregatorFactory) Build() dagflow.Processor {
	return &CountAggregator{out: f.Out}
}

// CountAggregator keeps a running count (inserts add one, deletes subtract
// one, updates leave it unchanged) and forwards it as an Insert for every
// input op.
type CountAggregator struct {
	out   dagflow.PortHandle
	mu    sync.Mutex
	count int64
}

func (a *CountAggregator) Init(txn dagflow.Txn) error { return nil }

func (a *CountAggregator) UpdateSchema(outPort dagflow.PortHandle, inputSchemas map[dagflow.PortHandle]dagflow.Schema) (dagflow.Schema, error) {
	return dagflow.Schema{Fields: []dagflow.FieldDef{{Name: "count", Kind: dagflow.KindInt}}}, nil
}

func (a *CountAggregator) Process(ctx context.Context, fromPort dagflow.PortHandle, op dagflow.Operation, fw dagflow.OpForwarder, txn dagflow.Txn) error {
	a.mu.Lock()
	switch op.Kind {
	case dagflow.OpInsert:
		a.count++
	case dagflow.OpDelete:
		a.count--
	}
	count := a.count
	a.mu.Unlock()

	rec := dagflow.Record{Values: []dagflow.Field{dagflow.IntField(count)}}
	return fw.Send(dagflow.InsertMessage(0, rec), a.out)
}

// FakeSinkFactory builds a FakeSink that records every Process call.
type FakeSinkFactory struct {
	Ports    []dagflow.PortHandle
	Stateful bool
	Sink     *FakeSink
}

func (f *FakeSinkFactory) InputPorts() []dagflow.PortHandle { return f.Ports }
func (f *FakeSinkFactory) IsStateful() bool                 { return f.Stateful }
func (f *FakeSinkFactory) Build() dagflow.Sink {
	if f.Sink == nil {
		f.Sink = NewFakeSink()
	}
	return f.Sink
}

// FakeSink records every call it receives and optionally signals a done
// channel once it has recorded Want calls.
type FakeSink struct {
	mu     sync.Mutex
	calls  []RecordedCall
	Schema map[dagflow.PortHandle]dagflow.Schema
	Done   chan struct{}
	Want   int
}

// NewFakeSink returns an empty FakeSink.
func NewFakeSink() *FakeSink {
	return &FakeSink{Done: make(chan struct{}, 1)}
}

func (s *FakeSink) Init(txn dagflow.Txn) error { return nil }

func (s *FakeSink) UpdateSchema(inputSchemas map[dagflow.PortHandle]dagflow.Schema) error {
	s.mu.Lock()
	s.Schema = inputSchemas
	s.mu.Unlock()
	return nil
}

func (s *FakeSink) Process(ctx context.Context, fromPort dagflow.PortHandle, seq uint64, op dagflow.Operation, txn dagflow.Txn) error {
	s.mu.Lock()
	s.calls = append(s.calls, RecordedCall{Port: fromPort, Seq: seq, Op: op})
	n := len(s.calls)
	s.mu.Unlock()

	if s.Want > 0 && n == s.Want {
		select {
		case s.Done <- struct{}{}:
		default:
		}
	}
	return nil
}

// Calls returns a snapshot of every recorded call, in receive order.
func (s *FakeSink) Calls() []RecordedCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RecordedCall, len(s.calls))
	copy(out, s.calls)
	return out
}
