// Package sqs adapts the teacher's components/sqs Initium/Terminus into a
// dagflow Source/Sink pair backed by aws-sdk-go's sqs client.
package sqs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/google/uuid"

	"github.com/dagflow/dagflow"
	"github.com/dagflow/dagflow/operators/recordcodec"
)

// SourceConfig mirrors components/sqs.Initium's settings.
type SourceConfig struct {
	Region            string        `mapstructure:"region"`
	QueueURL          string        `mapstructure:"queue_url"`
	VisibilityTimeout int64         `mapstructure:"visibility_timeout"`
	BatchSize         int64         `mapstructure:"batch_size"`
	WaitTimeSeconds   int64         `mapstructure:"wait_time_seconds"`
	Interval          time.Duration `mapstructure:"interval"`
	Schema            dagflow.Schema
}

// SourceFactory builds a Source that polls one SQS queue.
type SourceFactory struct {
	Cfg SourceConfig
}

func (f *SourceFactory) OutputPorts() []dagflow.PortHandle { return []dagflow.PortHandle{dagflow.DefaultPort} }
func (f *SourceFactory) IsStateful() bool                  { return false }
func (f *SourceFactory) Build() dagflow.Source {
	sess := session.Must(session.NewSession())
	svc := sqs.New(sess, aws.NewConfig().WithRegion(f.Cfg.Region))
	return &Source{cfg: f.Cfg, svc: svc}
}

// Source polls SQS on Cfg.Interval, decoding each message body as JSON.
type Source struct {
	cfg SourceConfig
	svc *sqs.SQS
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
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			attemptID := uuid.NewString()
			out, err := s.svc.ReceiveMessageWithContext(ctx, &sqs.ReceiveMessageInput{
				QueueUrl:                &s.cfg.QueueURL,
				MaxNumberOfMessages:     &s.cfg.BatchSize,
				VisibilityTimeout:       &s.cfg.VisibilityTimeout,
				WaitTimeSeconds:         &s.cfg.WaitTimeSeconds,
				ReceiveRequestAttemptId: &attemptID,
			})
			if err != nil {
				continue
			}
			for _, msg := range out.Messages {
				var payload map[string]interface{}
				if err := json.Unmarshal([]byte(*msg.Body), &payload); err != nil {
					continue
				}
				s.seq++
				state.UpdateSeqNo(s.seq)
				rec := recordcodec.ToRecord(s.cfg.Schema, payload)
				if err := fw.Send(dagflow.InsertMessage(s.seq, rec), dagflow.DefaultPort); err != nil {
					return err
				}
				_, _ = s.svc.DeleteMessageWithContext(ctx, &sqs.DeleteMessageInput{
					QueueUrl:      &s.cfg.QueueURL,
					ReceiptHandle: msg.ReceiptHandle,
				})
			}
		}
	}
}

// SinkConfig mirrors components/sqs.Terminus's settings.
type SinkConfig struct {
	Region   string `mapstructure:"region"`
	QueueURL string `mapstructure:"queue_url"`
	Schema   dagflow.Schema
}

// SinkFactory builds a Sink that sends one SQS message per op.
type SinkFactory struct {
	Cfg SinkConfig
}

func (f *SinkFactory) InputPorts() []dagflow.PortHandle { return []dagflow.PortHandle{dagflow.DefaultPort} }
func (f *SinkFactory) IsStateful() bool                 { return false }
func (f *SinkFactory) Build() dagflow.Sink {
	sess := session.Must(session.NewSession())
	svc := sqs.New(sess, aws.NewConfig().WithRegion(f.Cfg.Region))
	return &Sink{cfg: f.Cfg, svc: svc}
}

// Sink sends each Record as a single SQS message.
type Sink struct {
	cfg SinkConfig
	svc *sqs.SQS
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
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	bodyStr := string(body)
	_, err = s.svc.SendMessageWithContext(ctx, &sqs.SendMessageInput{
		QueueUrl:    &s.cfg.QueueURL,
		MessageBody: &bodyStr,
	})
	return err
}
