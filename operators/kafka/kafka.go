// Package kafka adapts the teacher's kafka-backed Initium/Terminus
// (components/kafka, subscriptions/kafka) into dagflow SourceFactory and
// SinkFactory implementations: a reader-loop Source that decodes JSON
// payloads into Records on a fixed poll interval, and a writer Sink that
// re-encodes Records as JSON on the way out.
package kafka

import (
	"context"
	"encoding/json"
	"time"

	kaf "github.com/segmentio/kafka-go"

	"github.com/dagflow/dagflow"
	"github.com/dagflow/dagflow/operators/recordcodec"
)

// SourceConfig mirrors the settings the teacher's components/kafka.Initium
// pulled off a viper.Viper.
type SourceConfig struct {
	Brokers       []string      `mapstructure:"brokers"`
	Topic         string        `mapstructure:"topic"`
	Partition     int           `mapstructure:"partition"`
	Deadline      time.Duration `mapstructure:"deadline"`
	Retries       int           `mapstructure:"retries"`
	BatchInterval time.Duration `mapstructure:"batch_interval"`
	BatchSize     int           `mapstructure:"batch_size"`
	Schema        dagflow.Schema
}

// SourceFactory builds a Source that polls one kafka topic/partition.
type SourceFactory struct {
	Cfg SourceConfig
}

func (f *SourceFactory) OutputPorts() []dagflow.PortHandle { return []dagflow.PortHandle{dagflow.DefaultPort} }
func (f *SourceFactory) IsStateful() bool                  { return false }
func (f *SourceFactory) Build() dagflow.Source {
	reader := kaf.NewReader(kaf.ReaderConfig{
		Brokers:     f.Cfg.Brokers,
		Topic:       f.Cfg.Topic,
		Partition:   f.Cfg.Partition,
		MaxWait:     f.Cfg.Deadline,
		MaxAttempts: f.Cfg.Retries,
	})
	return &Source{cfg: f.Cfg, reader: reader}
}

// Source polls reader every BatchInterval, collecting up to BatchSize
// messages per tick and forwarding each as an Insert.
type Source struct {
	cfg    SourceConfig
	reader *kaf.Reader
	seq    uint64
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
	ticker := time.NewTicker(s.cfg.BatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for i := 0; i < s.cfg.BatchSize; i++ {
				msg, err := s.reader.ReadMessage(ctx)
				if err != nil {
					break
				}
				var payload map[string]interface{}
				if err := json.Unmarshal(msg.Value, &payload); err != nil {
					continue
				}
				s.seq++
				state.UpdateSeqNo(s.seq)
				rec := recordcodec.ToRecord(s.cfg.Schema, payload)
				if err := fw.Send(dagflow.InsertMessage(s.seq, rec), dagflow.DefaultPort); err != nil {
					return err
				}
			}
		}
	}
}

// SinkConfig mirrors components/kafka.Terminus's settings.
type SinkConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	Retries int      `mapstructure:"retries"`
	Schema  dagflow.Schema
}

// SinkFactory builds a Sink that writes Records to one kafka topic.
type SinkFactory struct {
	Cfg SinkConfig
}

func (f *SinkFactory) InputPorts() []dagflow.PortHandle { return []dagflow.PortHandle{dagflow.DefaultPort} }
func (f *SinkFactory) IsStateful() bool                 { return false }
func (f *SinkFactory) Build() dagflow.Sink {
	writer := &kaf.Writer{
		Addr:        kaf.TCP(f.Cfg.Brokers...),
		Topic:       f.Cfg.Topic,
		Balancer:    &kaf.LeastBytes{},
		MaxAttempts: f.Cfg.Retries,
	}
	return &Sink{cfg: f.Cfg, writer: writer}
}

// Sink writes one kafka message per incoming op.
type Sink struct {
	cfg    SinkConfig
	writer *kaf.Writer
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
	payload := recordcodec.ToPayload(s.cfg.Schema, op.New)
	value, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.writer.WriteMessages(ctx, kaf.Message{Value: value})
}
