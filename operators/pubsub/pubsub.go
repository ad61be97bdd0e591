// Package pubsub adapts the teacher's components/pubsub Initium/Terminus
// into a dagflow Source/Sink pair backed by cloud.google.com/go/pubsub.
package pubsub

import (
	"context"
	"encoding/json"

	gpubsub "cloud.google.com/go/pubsub"

	"github.com/dagflow/dagflow"
	"github.com/dagflow/dagflow/operators/recordcodec"
)

// SourceConfig mirrors components/pubsub.Initium's settings.
type SourceConfig struct {
	ProjectID    string `mapstructure:"project_id"`
	Topic        string `mapstructure:"topic"`
	Subscription string `mapstructure:"subscription"`
	Schema       dagflow.Schema
}

// SourceFactory builds a Source that receives from one pubsub subscription,
// creating it against Topic if it does not already exist.
type SourceFactory struct {
	Cfg SourceConfig
}

func (f *SourceFactory) OutputPorts() []dagflow.PortHandle { return []dagflow.PortHandle{dagflow.DefaultPort} }
func (f *SourceFactory) IsStateful() bool                  { return false }
func (f *SourceFactory) Build() dagflow.Source {
	return &Source{cfg: f.Cfg}
}

// Source drives gpubsub.Subscription.Receive in a goroutine, forwarding one
// Insert per decoded message and Acking it once forwarded.
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

	client, err := gpubsub.NewClient(ctx, s.cfg.ProjectID)
	if err != nil {
		return err
	}
	defer client.Close()

	sub := client.Subscription(s.cfg.Subscription)
	ok, err := sub.Exists(ctx)
	if err != nil {
		return err
	}
	if !ok {
		sub, err = client.CreateSubscription(ctx, s.cfg.Subscription, gpubsub.SubscriptionConfig{
			Topic: client.Topic(s.cfg.Topic),
		})
		if err != nil {
			return err
		}
	}

	var sendErr error
	err = sub.Receive(ctx, func(msgCtx context.Context, m *gpubsub.Message) {
		var payload map[string]interface{}
		if json.Unmarshal(m.Data, &payload) != nil {
			m.Nack()
			return
		}
		s.seq++
		state.UpdateSeqNo(s.seq)
		rec := recordcodec.ToRecord(s.cfg.Schema, payload)
		if err := fw.Send(dagflow.InsertMessage(s.seq, rec), dagflow.DefaultPort); err != nil {
			sendErr = err
			m.Nack()
			return
		}
		m.Ack()
	})
	if sendErr != nil {
		return sendErr
	}
	return err
}

// SinkConfig mirrors components/pubsub.Terminus's settings.
type SinkConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
	Schema    dagflow.Schema
}

// SinkFactory builds a Sink that publishes one message per op.
type SinkFactory struct {
	Cfg SinkConfig
}

func (f *SinkFactory) InputPorts() []dagflow.PortHandle { return []dagflow.PortHandle{dagflow.DefaultPort} }
func (f *SinkFactory) IsStateful() bool                 { return false }
func (f *SinkFactory) Build() dagflow.Sink {
	return &Sink{cfg: f.Cfg}
}

// Sink lazily opens a pubsub client/topic handle on first Process call.
type Sink struct {
	cfg    SinkConfig
	client *gpubsub.Client
	topic  *gpubsub.Topic
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
	if s.topic == nil {
		client, err := gpubsub.NewClient(ctx, s.cfg.ProjectID)
		if err != nil {
			return err
		}
		s.client = client
		s.topic = client.Topic(s.cfg.Topic)
	}

	payload := recordcodec.ToPayload(s.cfg.Schema, op.New)
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	result := s.topic.Publish(ctx, &gpubsub.Message{Data: data})
	_, err = result.Get(ctx)
	return err
}
