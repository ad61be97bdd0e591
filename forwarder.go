package dagflow

import (
	"context"
	"sync"
)

// LocalChannelForwarder is the operator-facing output object a worker hands
// to its Source/Processor. It owns the bounded sender channels for every
// declared output port and broadcasts schema updates, data ops, and the
// terminate signal to every subscriber of a port, the way the teacher's
// outChannel/edge broadcast a Payload to every downstream consumer.
type LocalChannelForwarder struct {
	mu         sync.Mutex
	ctx        context.Context
	senders    map[PortHandle][]chan ExecutorMessage
	seqNo      uint64
	terminated map[PortHandle]bool
	onSend     func(ctx context.Context, node NodeHandle, port PortHandle, msg ExecutorMessage)
	node       NodeHandle
}

// newForwarder builds a forwarder over the given per-port sender lists. ctx
// is checked on every blocking send so a canceled run unblocks a stalled
// broadcast instead of hanging forever.
func newForwarder(ctx context.Context, node NodeHandle, senders map[PortHandle][]chan ExecutorMessage, onSend func(context.Context, NodeHandle, PortHandle, ExecutorMessage)) *LocalChannelForwarder {
	return &LocalChannelForwarder{
		ctx:        ctx,
		node:       node,
		senders:    senders,
		terminated: map[PortHandle]bool{},
		onSend:     onSend,
	}
}

// UpdateSchema broadcasts a SchemaUpdate to every sender of port.
func (f *LocalChannelForwarder) UpdateSchema(schema Schema, port PortHandle) error {
	return f.broadcast(port, SchemaUpdateMessage(schema))
}

// Send broadcasts a data op to every sender of port, stamping it with the
// forwarder's current source sequence number when the op carries Seq==0
// and a source has called UpdateSeqNo.
func (f *LocalChannelForwarder) Send(op ExecutorMessage, port PortHandle) error {
	f.mu.Lock()
	if op.Seq == 0 && f.seqNo != 0 {
		op.Seq = f.seqNo
	}
	f.mu.Unlock()
	return f.broadcast(port, op)
}

// SendTerm broadcasts Terminate on every port that has not already seen one.
// The sender channels are neither closed nor dropped. Idempotent: calling
// it twice (once from a cooperative Source/Processor, once from the executor's
// always-terminate-after-Start-returns guarantee) only broadcasts once per
// port.
func (f *LocalChannelForwarder) SendTerm() error {
	f.mu.Lock()
	ports := make([]PortHandle, 0, len(f.senders))
	for port := range f.senders {
		if !f.terminated[port] {
			ports = append(ports, port)
			f.terminated[port] = true
		}
	}
	f.mu.Unlock()

	for _, port := range ports {
		if err := f.broadcast(port, TerminateMessage()); err != nil {
			return err
		}
	}
	return nil
}

// UpdateSeqNo records the current source sequence so that subsequent Send
// calls without an explicit Seq are tagged with it.
func (f *LocalChannelForwarder) UpdateSeqNo(seq uint64) {
	f.mu.Lock()
	f.seqNo = seq
	f.mu.Unlock()
}

// SeqNo returns the sequence number most recently recorded by UpdateSeqNo,
// letting a stateful Source's own checkpoint commit reflect what it has
// actually emitted.
func (f *LocalChannelForwarder) SeqNo() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seqNo
}

func (f *LocalChannelForwarder) broadcast(port PortHandle, msg ExecutorMessage) error {
	f.mu.Lock()
	chans := f.senders[port]
	onSend := f.onSend
	node := f.node
	ctx := f.ctx
	f.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if onSend != nil {
		onSend(ctx, node, port, msg)
	}
	return nil
}
