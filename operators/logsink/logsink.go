// Package logsink appends every committed op to a flat, append-only file
// as frames: a fixed-width length prefix followed by a gob-encoded payload.
// Adapted from original_source/dozer-orchestrator's pipeline/log_sink.rs,
// which frames a bincode-encoded ExecutorOperation
// enum (Op/Commit/SnapshottingDone) behind an 8-byte little-endian length.
// This sink only ever emits Op and Commit frames: the kernel commits a
// sink's transaction after every single Process call rather than batching
// by epoch, so there is no distinct snapshot-complete signal to frame.
package logsink

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"io"
	"os"
	"sync"

	"github.com/dagflow/dagflow"
)

// FrameKind tags the variant of a persisted Frame.
type FrameKind uint8

// Frame kinds, matching log_sink.rs's ExecutorOperation variants.
const (
	FrameOp FrameKind = iota
	FrameCommit
	FrameSnapshottingDone
)

// Frame is one record in the log file.
type Frame struct {
	Kind  FrameKind
	Op    dagflow.Operation
	Epoch uint64
}

// SinkConfig configures where the log file lives.
type SinkConfig struct {
	Path   string `mapstructure:"path"`
	Schema dagflow.Schema
}

// SinkFactory builds a Sink appending to Cfg.Path.
type SinkFactory struct {
	Cfg SinkConfig
}

func (f *SinkFactory) InputPorts() []dagflow.PortHandle {
	return []dagflow.PortHandle{dagflow.DefaultPort}
}
func (f *SinkFactory) IsStateful() bool { return false }
func (f *SinkFactory) Build() dagflow.Sink {
	return &Sink{cfg: f.Cfg}
}

// Sink writes every op it receives, followed by a Commit frame carrying
// the sink's own monotonic epoch counter.
type Sink struct {
	cfg    SinkConfig
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	epoch  uint64
}

func (s *Sink) Init(txn dagflow.Txn) error {
	f, err := os.OpenFile(s.cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	s.file = f
	s.writer = bufio.NewWriter(f)
	return nil
}

func (s *Sink) UpdateSchema(inputSchemas map[dagflow.PortHandle]dagflow.Schema) error {
	if schema, ok := inputSchemas[dagflow.DefaultPort]; ok {
		s.cfg.Schema = schema
	}
	return nil
}

func (s *Sink) Process(ctx context.Context, fromPort dagflow.PortHandle, seq uint64, op dagflow.Operation, txn dagflow.Txn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeFrame(s.writer, Frame{Kind: FrameOp, Op: op}); err != nil {
		return err
	}
	s.epoch++
	if err := writeFrame(s.writer, Frame{Kind: FrameCommit, Epoch: s.epoch}); err != nil {
		return err
	}
	return s.writer.Flush()
}

// Close flushes and closes the underlying file. Not part of the Sink
// interface - the executor has no node-shutdown hook - but exposed for
// callers that build a Sink directly in tests or tooling.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer != nil {
		if err := s.writer.Flush(); err != nil {
			return err
		}
	}
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

func writeFrame(w io.Writer, f Frame) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(f); err != nil {
		return err
	}

	var lenPrefix [8]byte
	binary.LittleEndian.PutUint64(lenPrefix[:], uint64(buf.Len()))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// ReadFrames decodes every frame written by a Sink back out of r, in
// order, stopping cleanly at EOF.
func ReadFrames(r io.Reader) ([]Frame, error) {
	var frames []Frame
	for {
		var lenPrefix [8]byte
		_, err := io.ReadFull(r, lenPrefix[:])
		if err == io.EOF {
			return frames, nil
		}
		if err != nil {
			return nil, err
		}

		n := binary.LittleEndian.Uint64(lenPrefix[:])
		payload := make([]byte, n)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}

		var f Frame
		if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&f); err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
}
