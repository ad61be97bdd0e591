// Package bigquery adapts the teacher's components/bigquery Initium/Terminus
// into a dagflow Source/Sink pair, using cloud.google.com/go/bigquery for
// the client and google.golang.org/api/iterator to drain query results the
// same way components/bigquery.Initium did.
package bigquery

import (
	"context"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dagflow/dagflow"
	"github.com/dagflow/dagflow/operators/recordcodec"
)

// SourceConfig mirrors components/bigquery.Initium's settings.
type SourceConfig struct {
	ProjectID string        `mapstructure:"project_id"`
	Query     string        `mapstructure:"query"`
	Interval  time.Duration `mapstructure:"interval"`
	Schema    dagflow.Schema
}

// SourceFactory builds a Source that re-runs Cfg.Query on each tick.
type SourceFactory struct {
	Cfg SourceConfig
}

func (f *SourceFactory) OutputPorts() []dagflow.PortHandle { return []dagflow.PortHandle{dagflow.DefaultPort} }
func (f *SourceFactory) IsStateful() bool                  { return false }
func (f *SourceFactory) Build() dagflow.Source {
	return &Source{cfg: f.Cfg}
}

// loader adapts a flat row onto bigquery.ValueLoader, the same shape
// components/bigquery used to drain an iterator into a map.
type loader map[string]interface{}

func (l loader) Load(v []bigquery.Value, s bigquery.Schema) error {
	for i := 0; i < len(s) && i < len(v); i++ {
		l[s[i].Name] = v[i]
	}
	return nil
}

func (l loader) Save() (row map[string]bigquery.Value, id string, err error) {
	row = map[string]bigquery.Value{}
	for k, v := range l {
		row[k] = v
	}
	return row, "", nil
}

// Source polls bigquery on Cfg.Interval, draining the query iterator fully
// on each tick.
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

	client, err := bigquery.NewClient(ctx, s.cfg.ProjectID)
	if err != nil {
		return err
	}
	defer client.Close()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			it, err := client.Query(s.cfg.Query).Read(ctx)
			if err != nil {
				continue
			}
			for {
				row := loader{}
				if err := it.Next(&row); err == iterator.Done {
					break
				} else if err != nil {
					break
				}
				s.seq++
				state.UpdateSeqNo(s.seq)
				rec := recordcodec.ToRecord(s.cfg.Schema, map[string]interface{}(row))
				if err := fw.Send(dagflow.InsertMessage(s.seq, rec), dagflow.DefaultPort); err != nil {
					return err
				}
			}
		}
	}
}

// SinkConfig mirrors components/bigquery.Terminus's settings.
type SinkConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Dataset   string `mapstructure:"dataset"`
	Table     string `mapstructure:"table"`
	Schema    dagflow.Schema
}

// SinkFactory builds a Sink that streams Records into one BigQuery table.
type SinkFactory struct {
	Cfg SinkConfig
}

func (f *SinkFactory) InputPorts() []dagflow.PortHandle { return []dagflow.PortHandle{dagflow.DefaultPort} }
func (f *SinkFactory) IsStateful() bool                 { return false }
func (f *SinkFactory) Build() dagflow.Sink {
	return &Sink{cfg: f.Cfg}
}

// Sink lazily opens a bigquery client/table handle on first Process call.
type Sink struct {
	cfg   SinkConfig
	table *bigquery.Table
}

func (s *Sink) Init(txn dagflow.Txn) error { return nil }

func (s *Sink) UpdateSchema(inputSchemas map[dagflow.PortHandle]dagflow.Schema) error {
	if schema, ok := inputSchemas[dagflow.DefaultPort]; ok {
		s.cfg.Schema = schema
	}
	return nil
}

func (s *Sink) Process(ctx context.Context, fromPort dagflow.PortHandle, seq uint64, op dagflow.Operation, txn dagflow.Txn) error {
	if op.Kind == dagflow.OpDelete {
		return nil
	}
	if s.table == nil {
		client, err := bigquery.NewClient(ctx, s.cfg.ProjectID)
		if err != nil {
			return err
		}
		s.table = client.Dataset(s.cfg.Dataset).Table(s.cfg.Table)
	}

	payload := recordcodec.ToPayload(s.cfg.Schema, op.New)
	return s.table.Inserter().Put(ctx, loader(payload))
}
