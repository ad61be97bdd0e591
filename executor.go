package dagflow

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"reflect"
	"sync"

	"github.com/dagflow/dagflow/storage"
)

// Executor runs a validated DAG: it indexes edges into per-node sender and
// receiver maps, spawns one goroutine per node, drives the schema-handshake
// and data-processing state machines on each processor/sink, and joins all
// goroutines before returning.
type Executor struct {
	cfg *Config
	tel *telemetry
}

// NewExecutor builds an Executor from the given configuration.
func NewExecutor(cfg *Config) *Executor {
	if cfg == nil {
		cfg = NewConfig()
	}
	return &Executor{cfg: cfg, tel: newTelemetry()}
}

type edgeIndex struct {
	senders   map[NodeHandle]map[PortHandle][]chan ExecutorMessage
	receivers map[NodeHandle]map[PortHandle][]chan ExecutorMessage
}

func (e *Executor) indexEdges(dag *DAG) edgeIndex {
	idx := edgeIndex{
		senders:   map[NodeHandle]map[PortHandle][]chan ExecutorMessage{},
		receivers: map[NodeHandle]map[PortHandle][]chan ExecutorMessage{},
	}

	for _, edge := range dag.Edges {
		ch := make(chan ExecutorMessage, e.cfg.ChannelBufSz)

		if idx.senders[edge.From.Node] == nil {
			idx.senders[edge.From.Node] = map[PortHandle][]chan ExecutorMessage{}
		}
		idx.senders[edge.From.Node][edge.From.Port] = append(idx.senders[edge.From.Node][edge.From.Port], ch)

		if idx.receivers[edge.To.Node] == nil {
			idx.receivers[edge.To.Node] = map[PortHandle][]chan ExecutorMessage{}
		}
		idx.receivers[edge.To.Node][edge.To.Port] = append(idx.receivers[edge.To.Node][edge.To.Port], ch)
	}

	return idx
}

// Start validates the DAG, spawns a worker per node (sinks first, then
// processors, then sources - so receivers exist before producers begin),
// and joins them, returning the first error encountered.
func (e *Executor) Start(ctx context.Context, dag *DAG) error {
	if err := dag.Validate(); err != nil {
		return err
	}

	idx := e.indexEdges(dag)

	var sources, processors, sinks []NodeHandle
	for handle, node := range dag.Nodes {
		switch node.Kind {
		case KindSource:
			sources = append(sources, handle)
		case KindProcessor:
			processors = append(processors, handle)
		case KindSink:
			sinks = append(sinks, handle)
		}
	}

	for _, handle := range sinks {
		if len(idx.receivers[handle]) == 0 {
			return newErr(ErrMissingNodeInput, handle, "")
		}
	}
	for _, handle := range processors {
		if len(idx.receivers[handle]) == 0 {
			return newErr(ErrMissingNodeInput, handle, "")
		}
		if len(idx.senders[handle]) == 0 {
			return newErr(ErrMissingNodeOutput, handle, "")
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)

	fail := func(err error) {
		if err == nil {
			return
		}
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	spawn := func(handle NodeHandle, run func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fail(run())
		}()
	}

	origins := resolveOrigins(dag)

	for _, handle := range sinks {
		handle, node := handle, dag.Nodes[handle]
		receivers := idx.receivers[handle]
		origin := origins[handle]
		spawn(handle, func() error {
			return e.runSink(runCtx, handle, origin, node.Sink, receivers)
		})
	}

	for _, handle := range processors {
		handle, node := handle, dag.Nodes[handle]
		receivers := idx.receivers[handle]
		senders := idx.senders[handle]
		origin := origins[handle]
		spawn(handle, func() error {
			return e.runProcessor(runCtx, handle, origin, node.Processor, senders, receivers)
		})
	}

	for _, handle := range sources {
		handle, node := handle, dag.Nodes[handle]
		senders := idx.senders[handle]
		spawn(handle, func() error {
			return e.runSource(runCtx, handle, node.Source, senders)
		})
	}

	wg.Wait()
	return firstErr
}

// resolveOrigins maps every node to the Source it descends from by walking
// incoming edges backward until a Source node is reached. A node reachable
// from more than one Source (a true multi-source merge) is attributed to
// whichever incoming edge is walked first; the checkpoint consistency model
// only reasons about single-source dependency trees, matching buildDependencyTree.
func resolveOrigins(dag *DAG) map[NodeHandle]NodeHandle {
	memo := map[NodeHandle]NodeHandle{}
	var resolve func(handle NodeHandle) NodeHandle
	resolve = func(handle NodeHandle) NodeHandle {
		if origin, ok := memo[handle]; ok {
			return origin
		}
		if node, ok := dag.Nodes[handle]; ok && node.Kind == KindSource {
			memo[handle] = handle
			return handle
		}
		for _, e := range dag.Edges {
			if e.To.Node == handle {
				origin := resolve(e.From.Node)
				memo[handle] = origin
				return origin
			}
		}
		memo[handle] = handle
		return handle
	}

	origins := map[NodeHandle]NodeHandle{}
	for handle := range dag.Nodes {
		origins[handle] = resolve(handle)
	}
	return origins
}

func (e *Executor) openEnv(handle NodeHandle) (*storage.Env, error) {
	return storage.Open(e.cfg.BasePath, string(handle))
}

func (e *Executor) runSource(ctx context.Context, handle NodeHandle, factory SourceFactory, senders map[PortHandle][]chan ExecutorMessage) error {
	log := nodeLogger(e.cfg.Logger, handle, KindSource)
	src := factory.Build()
	fw := newForwarder(ctx, handle, senders, e.tel.recordSend)

	for _, port := range factory.OutputPorts() {
		if schema, ok := src.OutputSchema(port); ok {
			if err := fw.UpdateSchema(schema, port); err != nil {
				return err
			}
		}
	}

	var txn *storage.Txn
	var env *storage.Env
	if factory.IsStateful() {
		var err error
		env, err = e.openEnv(handle)
		if err != nil {
			return wrapErr(ErrInternalDatabase, handle, err)
		}
		defer env.Close()

		txn, err = env.Begin()
		if err != nil {
			return wrapErr(ErrInternalDatabase, handle, err)
		}
	}

	err := src.Start(ctx, fw, fw, txn, nil)
	if err != nil {
		if txn != nil {
			txn.Rollback()
		}
		e.tel.recordError(ctx, handle)
		log.WithError(err).Warn("source exited with error")
		return wrapErr(ErrInternalDatabase, handle, err)
	}

	// A source's dependency-tree node is itself: the analyzer buckets every
	// node in a source's tree (root included) by its own commit for that
	// source, so the source must record its own progress the same way a
	// downstream stateful sink records the source's.
	if factory.IsStateful() {
		if err := txn.PutCommit(string(handle), fw.SeqNo()); err != nil {
			return wrapErr(ErrInternalDatabase, handle, err)
		}
		if err := txn.Commit(); err != nil {
			return wrapErr(ErrInternalDatabase, handle, err)
		}
	}

	// The runtime, not the source, guarantees Terminate propagates even if
	// Start returned Ok without emitting it itself (resolves the spec's
	// open question on this point). SendTerm is idempotent.
	return fw.SendTerm()
}

type fanIn struct {
	ports []PortHandle
	chans []chan ExecutorMessage
}

func buildFanIn(receivers map[PortHandle][]chan ExecutorMessage) fanIn {
	var f fanIn
	for port, chs := range receivers {
		for _, ch := range chs {
			f.ports = append(f.ports, port)
			f.chans = append(f.chans, ch)
		}
	}
	return f
}

// selectNext blocks until one of the fan-in's channels is ready or ctx is
// canceled, using reflect.Select as the readiness-selection primitive the
// spec calls for (Go's equivalent of a crossbeam Select over many
// receivers). Returns the index, the message, whether the channel is still
// open, and whether ctx was canceled.
func selectNext(ctx context.Context, f fanIn) (int, ExecutorMessage, bool, bool) {
	cases := make([]reflect.SelectCase, 0, len(f.chans)+1)
	for _, ch := range f.chans {
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ch)})
	}
	cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())})

	chosen, recv, ok := reflect.Select(cases)
	if chosen == len(f.chans) {
		return 0, ExecutorMessage{}, false, true
	}
	if !ok {
		return chosen, ExecutorMessage{}, false, false
	}
	return chosen, recv.Interface().(ExecutorMessage), true, false
}

// runProcessor drives a processor's schema handshake and Process loop.
// origin is the handle of the upstream Source this processor's incoming
// edges trace back to (resolveOrigins); a stateful processor persists its
// commits under that key, the same as runSink, so the Analyzer can place it
// in the source's dependency tree.
func (e *Executor) runProcessor(ctx context.Context, handle NodeHandle, origin NodeHandle, factory ProcessorFactory, senders, receivers map[PortHandle][]chan ExecutorMessage) error {
	log := nodeLogger(e.cfg.Logger, handle, KindProcessor)
	proc := factory.Build()
	fw := newForwarder(ctx, handle, senders, e.tel.recordSend)
	fanin := buildFanIn(receivers)

	var env *storage.Env
	var initTxn *storage.Txn
	stateful := factory.IsStateful()
	if stateful {
		var err error
		env, err = e.openEnv(handle)
		if err != nil {
			return wrapErr(ErrInternalDatabase, handle, err)
		}
		defer env.Close()

		initTxn, err = env.Begin()
		if err != nil {
			return wrapErr(ErrInternalDatabase, handle, err)
		}
	}
	if err := proc.Init(initTxn); err != nil {
		return err
	}
	if stateful {
		if err := initTxn.Commit(); err != nil {
			return wrapErr(ErrInternalDatabase, handle, err)
		}
	}

	inputSchemas := map[PortHandle]Schema{}
	outputSchemas := map[PortHandle]Schema{}
	declaredInputs := factory.InputPorts()
	ready := false
	terminated := make([]bool, len(fanin.chans))
	remaining := len(fanin.chans)

	for {
		index, msg, ok, canceled := selectNext(ctx, fanin)
		if canceled {
			return ctx.Err()
		}
		if !ok {
			return wrapErr(ErrProcessorReceiver, handle, fmt.Errorf("receiver %d closed", index))
		}
		port := fanin.ports[index]

		switch msg.Kind {
		case MsgSchemaUpdate:
			inputSchemas[port] = msg.Schema
			if !ready && allPortsPresent(declaredInputs, inputSchemas) {
				if stateful {
					if err := e.persistSchemas(env, inputSchemas, nil); err != nil {
						return err
					}
				}
				for _, outPort := range factory.OutputPorts() {
					outSchema, err := proc.UpdateSchema(outPort, inputSchemas)
					if err != nil {
						return err
					}
					outputSchemas[outPort] = outSchema
					if err := fw.UpdateSchema(outSchema, outPort); err != nil {
						return err
					}
				}
				if stateful {
					if err := e.persistSchemas(env, nil, outputSchemas); err != nil {
						return err
					}
				}
				ready = true
			}

		case MsgTerminate:
			// With fan-in every incoming edge delivers its own Terminate;
			// propagate only once all of them have arrived.
			if !terminated[index] {
				terminated[index] = true
				remaining--
			}
			if remaining > 0 {
				continue
			}
			return fw.SendTerm()

		default:
			if !ready {
				return newErr(ErrSchemaNotInitialized, handle, "")
			}

			seq, op, err := toOperation(msg)
			if err != nil {
				return err
			}
			fw.UpdateSeqNo(seq)

			ctx2, span := e.tel.startSpan(ctx, handle, "process")
			if stateful {
				txn, err := env.Begin()
				if err != nil {
					span.End()
					return wrapErr(ErrInternalDatabase, handle, err)
				}
				if err := proc.Process(ctx2, port, op, fw, txn); err != nil {
					txn.Rollback()
					span.End()
					e.tel.recordError(ctx, handle)
					log.WithError(err).Warn("processor.Process failed")
					return err
				}
				if err := txn.PutCommit(string(origin), seq); err != nil {
					span.End()
					return wrapErr(ErrInternalDatabase, handle, err)
				}
				if err := txn.Commit(); err != nil {
					span.End()
					return wrapErr(ErrInternalDatabase, handle, err)
				}
				e.tel.recordCommit(ctx, handle)
			} else if err := proc.Process(ctx2, port, op, fw, nil); err != nil {
				span.End()
				e.tel.recordError(ctx, handle)
				log.WithError(err).Warn("processor.Process failed")
				return err
			}
			span.End()
		}
	}
}

// runSink drives a sink's schema handshake and Process loop. origin is the
// handle of the upstream Source this sink's incoming edges trace back to
// (resolveOrigins), and is the key commits are persisted under so the
// Analyzer can match a sink's progress against the source that produced it.
func (e *Executor) runSink(ctx context.Context, handle NodeHandle, origin NodeHandle, factory SinkFactory, receivers map[PortHandle][]chan ExecutorMessage) error {
	log := nodeLogger(e.cfg.Logger, handle, KindSink)
	sink := factory.Build()
	fanin := buildFanIn(receivers)

	var env *storage.Env
	var initTxn *storage.Txn
	stateful := factory.IsStateful()
	if stateful {
		var err error
		env, err = e.openEnv(handle)
		if err != nil {
			return wrapErr(ErrInternalDatabase, handle, err)
		}
		defer env.Close()

		initTxn, err = env.Begin()
		if err != nil {
			return wrapErr(ErrInternalDatabase, handle, err)
		}
	}
	if err := sink.Init(initTxn); err != nil {
		return err
	}
	if stateful {
		if err := initTxn.Commit(); err != nil {
			return wrapErr(ErrInternalDatabase, handle, err)
		}
	}

	inputSchemas := map[PortHandle]Schema{}
	declaredInputs := factory.InputPorts()
	ready := false

	for {
		index, msg, ok, canceled := selectNext(ctx, fanin)
		if canceled {
			return ctx.Err()
		}
		if !ok {
			return wrapErr(ErrSinkReceiver, handle, fmt.Errorf("receiver %d closed", index))
		}
		port := fanin.ports[index]

		switch msg.Kind {
		case MsgSchemaUpdate:
			inputSchemas[port] = msg.Schema
			if !ready && allPortsPresent(declaredInputs, inputSchemas) {
				if stateful {
					if err := e.persistSchemas(env, inputSchemas, nil); err != nil {
						return err
					}
				}
				if err := sink.UpdateSchema(inputSchemas); err != nil {
					return err
				}
				ready = true
			}

		case MsgTerminate:
			return nil

		default:
			if !ready {
				return newErr(ErrSchemaNotInitialized, handle, "")
			}

			seq, op, err := toOperation(msg)
			if err != nil {
				return err
			}

			ctx2, span := e.tel.startSpan(ctx, handle, "process")
			if stateful {
				txn, err := env.Begin()
				if err != nil {
					span.End()
					return wrapErr(ErrInternalDatabase, handle, err)
				}
				if err := sink.Process(ctx2, port, seq, op, txn); err != nil {
					txn.Rollback()
					span.End()
					e.tel.recordError(ctx, handle)
					log.WithError(err).Warn("sink.Process failed")
					return err
				}
				if err := txn.PutCommit(string(origin), seq); err != nil {
					span.End()
					return wrapErr(ErrInternalDatabase, handle, err)
				}
				if err := txn.Commit(); err != nil {
					span.End()
					return wrapErr(ErrInternalDatabase, handle, err)
				}
				e.tel.recordCommit(ctx, handle)
			} else if err := sink.Process(ctx2, port, seq, op, nil); err != nil {
				span.End()
				e.tel.recordError(ctx, handle)
				log.WithError(err).Warn("sink.Process failed")
				return err
			}
			span.End()
		}
	}
}

func allPortsPresent(declared []PortHandle, present map[PortHandle]Schema) bool {
	for _, p := range declared {
		if _, ok := present[p]; !ok {
			return false
		}
	}
	return true
}

func (e *Executor) persistSchemas(env *storage.Env, inputs, outputs map[PortHandle]Schema) error {
	txn, err := env.Begin()
	if err != nil {
		return err
	}
	for port, schema := range inputs {
		buf, err := encodeSchema(schema)
		if err != nil {
			txn.Rollback()
			return wrapErr(ErrDeserialization, "", err)
		}
		if err := txn.PutInputSchema(uint16(port), buf); err != nil {
			txn.Rollback()
			return err
		}
	}
	for port, schema := range outputs {
		buf, err := encodeSchema(schema)
		if err != nil {
			txn.Rollback()
			return wrapErr(ErrDeserialization, "", err)
		}
		if err := txn.PutOutputSchema(uint16(port), buf); err != nil {
			txn.Rollback()
			return err
		}
	}
	return txn.Commit()
}

func encodeSchema(schema Schema) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(schema); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeSchema(b []byte) (Schema, error) {
	var schema Schema
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&schema); err != nil {
		return Schema{}, err
	}
	return schema, nil
}
