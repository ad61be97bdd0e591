// Package cassandra adapts the teacher's components/cassandra Initium/
// Terminus into a dagflow Source/Sink pair backed by gocql, keeping the
// teacher's page-state cursor pattern for incremental polling.
package cassandra

import (
	"context"
	"time"

	"github.com/gocql/gocql"

	"github.com/dagflow/dagflow"
	"github.com/dagflow/dagflow/operators/recordcodec"
)

// SourceConfig mirrors components/cassandra.Initium's settings.
type SourceConfig struct {
	Hosts    []string      `mapstructure:"hosts"`
	Keyspace string        `mapstructure:"keyspace"`
	Query    string        `mapstructure:"query"`
	PageSize int           `mapstructure:"page_size"`
	Interval time.Duration `mapstructure:"interval"`
	Schema   dagflow.Schema
}

// SourceFactory builds a Source that pages through Cfg.Query on a cycle,
// carrying the cursor's page state forward between ticks.
type SourceFactory struct {
	Cfg SourceConfig
}

func (f *SourceFactory) OutputPorts() []dagflow.PortHandle { return []dagflow.PortHandle{dagflow.DefaultPort} }
func (f *SourceFactory) IsStateful() bool                  { return false }
func (f *SourceFactory) Build() dagflow.Source {
	return &Source{cfg: f.Cfg}
}

// Source re-issues Cfg.Query every Cfg.Interval, resuming from the page
// state the previous tick left off at.
type Source struct {
	cfg SourceConfig
	seq uint64
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

	cluster := gocql.NewCluster(s.cfg.Hosts...)
	cluster.Keyspace = s.cfg.Keyspace
	cluster.Consistency = gocql.Quorum
	session, err := cluster.CreateSession()
	if err != nil {
		return err
	}
	defer session.Close()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	pageState := []byte{}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			it := session.Query(s.cfg.Query).WithContext(ctx).PageSize(s.cfg.PageSize).PageState(pageState).Iter()
			rows, err := it.SliceMap()
			if err != nil {
				continue
			}
			pageState = it.PageState()
			for _, row := range rows {
				s.seq++
				state.UpdateSeqNo(s.seq)
				rec := recordcodec.ToRecord(s.cfg.Schema, row)
				if err := fw.Send(dagflow.InsertMessage(s.seq, rec), dagflow.DefaultPort); err != nil {
					return err
				}
			}
		}
	}
}

// SinkConfig mirrors components/cassandra.Terminus's settings.
type SinkConfig struct {
	Hosts    []string `mapstructure:"hosts"`
	Keyspace string   `mapstructure:"keyspace"`
	Query    string   `mapstructure:"query"`
	Keys     []string `mapstructure:"keys"`
	Schema   dagflow.Schema
}

// SinkFactory builds a Sink that executes Cfg.Query once per op, binding
// Cfg.Keys as positional parameters pulled out of the Record by name.
type SinkFactory struct {
	Cfg SinkConfig
}

func (f *SinkFactory) InputPorts() []dagflow.PortHandle { return []dagflow.PortHandle{dagflow.DefaultPort} }
func (f *SinkFactory) IsStateful() bool                 { return false }
func (f *SinkFactory) Build() dagflow.Sink {
	cluster := gocql.NewCluster(f.Cfg.Hosts...)
	cluster.Keyspace = f.Cfg.Keyspace
	cluster.Consistency = gocql.Quorum
	session, _ := cluster.CreateSession()
	return &Sink{cfg: f.Cfg, session: session}
}

// Sink issues one parameterized query per incoming op.
type Sink struct {
	cfg     SinkConfig
	session *gocql.Session
}

func (s *Sink) Init(txn dagflow.Txn) error { return nil }

func (s *Sink) UpdateSchema(inputSchemas map[dagflow.PortHandle]dagflow.Schema) error {
	if schema, ok := inputSchemas[dagflow.DefaultPort]; ok {
		s.cfg.Schema = schema
	}
	return nil
}

func (s *Sink) Process(ctx context.Context, fromPort dagflow.PortHandle, seq uint64, op dagflow.Operation, txn dagflow.Txn) error {
	payload := recordcodec.ToPayload(s.cfg.Schema, op.New)
	values := make([]interface{}, len(s.cfg.Keys))
	for i, key := range s.cfg.Keys {
		values[i] = payload[key]
	}
	return s.session.Query(s.cfg.Query, values...).WithContext(ctx).Exec()
}
