// Package redis adapts the teacher's subscriptions/redis.New (a pub/sub
// Subscription built on gomodule/redigo) into a dagflow Source that emits
// one Insert per message received on a subscribed channel, and adds a
// stateful Sink (grounded on the same redigo client, the teacher has no
// matching write-side component) that writes each record as a JSON value
// keyed by its primary index.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	ps "github.com/gomodule/redigo/redis"

	"github.com/dagflow/dagflow"
	"github.com/dagflow/dagflow/operators/recordcodec"
)

// SourceConfig mirrors the pool/channel settings subscriptions/redis.New
// took as constructor arguments.
type SourceConfig struct {
	Channels []string `mapstructure:"channels"`
	Schema   dagflow.Schema
}

// SourceFactory builds a Source subscribed to Cfg.Channels over pool.
type SourceFactory struct {
	Pool *ps.Pool
	Cfg  SourceConfig
}

func (f *SourceFactory) OutputPorts() []dagflow.PortHandle { return []dagflow.PortHandle{dagflow.DefaultPort} }
func (f *SourceFactory) IsStateful() bool                  { return false }
func (f *SourceFactory) Build() dagflow.Source {
	return &Source{pool: f.Pool, cfg: f.Cfg}
}

// Source wraps a redigo PubSubConn, decoding each received message as either
// a single JSON object or a JSON array of objects.
type Source struct {
	pool *ps.Pool
	cfg  SourceConfig
	seq  uint64
}

func (s *Source) OutputSchema(port dagflow.PortHandle) (dagflow.Schema, bool) {
	if port == dagflow.DefaultPort {
		return s.cfg.Schema, true
	}
	return dagflow.Schema{}, false
}

func (s *Source) Start(ctx context.Context, fw dagflow.OpForwarder, state dagflow.StateForwarder, txn dagflow.Txn, resumeHint *uint64) error {
	if resumeHint != nil {
		s.seq = *resumeHint
	}

	conn := &ps.PubSubConn{Conn: s.pool.Get()}
	defer conn.Close()

	chans := make([]interface{}, len(s.cfg.Channels))
	for i, c := range s.cfg.Channels {
		chans[i] = c
	}
	if err := conn.Subscribe(chans...); err != nil {
		return err
	}

	results := make(chan interface{})
	go func() {
		for {
			results <- conn.Receive()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case v := <-results:
			payloads := decodePayloads(v)
			for _, p := range payloads {
				s.seq++
				state.UpdateSeqNo(s.seq)
				rec := recordcodec.ToRecord(s.cfg.Schema, p)
				if err := fw.Send(dagflow.InsertMessage(s.seq, rec), dagflow.DefaultPort); err != nil {
					return err
				}
			}
		}
	}
}

// SinkConfig configures the key prefix records are written under.
type SinkConfig struct {
	KeyPrefix string `mapstructure:"key_prefix"`
	Schema    dagflow.Schema
}

// SinkFactory builds a stateful Sink writing through Pool. Statefulness
// buys it a bbolt checkpoint env solely for the commit-sequence bookkeeping
// the core requires of every stateful sink; Redis itself is the record of
// record.
type SinkFactory struct {
	Pool *ps.Pool
	Cfg  SinkConfig
}

func (f *SinkFactory) InputPorts() []dagflow.PortHandle {
	return []dagflow.PortHandle{dagflow.DefaultPort}
}
func (f *SinkFactory) IsStateful() bool { return true }
func (f *SinkFactory) Build() dagflow.Sink {
	return &Sink{pool: f.Pool, cfg: f.Cfg}
}

// Sink writes one SET (or DEL, for a delete op) per incoming record.
type Sink struct {
	pool *ps.Pool
	cfg  SinkConfig
}

func (s *Sink) Init(txn dagflow.Txn) error { return nil }

func (s *Sink) UpdateSchema(inputSchemas map[dagflow.PortHandle]dagflow.Schema) error {
	if schema, ok := inputSchemas[dagflow.DefaultPort]; ok {
		s.cfg.Schema = schema
	}
	return nil
}

func (s *Sink) Process(ctx context.Context, fromPort dagflow.PortHandle, seq uint64, op dagflow.Operation, txn dagflow.Txn) error {
	conn := s.pool.Get()
	defer conn.Close()

	if op.Kind == dagflow.OpDelete {
		key := s.recordKey(s.cfg.Schema, op.Old)
		_, err := conn.Do("DEL", key)
		return err
	}

	key := s.recordKey(s.cfg.Schema, op.New)
	payload := recordcodec.ToPayload(s.cfg.Schema, op.New)
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = conn.Do("SET", key, body)
	return err
}

func (s *Sink) recordKey(schema dagflow.Schema, rec dagflow.Record) string {
	payload := recordcodec.ToPayload(schema, rec)
	names := recordcodec.FieldNames(schema)

	parts := make([]string, 0, len(schema.PrimaryIndex))
	for _, idx := range schema.PrimaryIndex {
		if idx < 0 || idx >= len(names) {
			continue
		}
		parts = append(parts, fmt.Sprint(payload[names[idx]]))
	}
	if s.cfg.KeyPrefix == "" {
		return strings.Join(parts, ":")
	}
	return s.cfg.KeyPrefix + ":" + strings.Join(parts, ":")
}

func decodePayloads(v interface{}) []map[string]interface{} {
	msg, ok := v.(ps.Message)
	if !ok {
		return nil
	}

	var single map[string]interface{}
	if err := json.Unmarshal(msg.Data, &single); err == nil {
		return []map[string]interface{}{single}
	}

	var batch []map[string]interface{}
	if err := json.Unmarshal(msg.Data, &batch); err == nil {
		return batch
	}
	return nil
}
