// Package httpsink adapts the teacher's components/http.Terminus (an
// http.Client POSTing a JSON batch per call) into a dagflow Sink. The
// teacher's matching Initium used fiber as a push-based HTTP server; that
// shape does not fit a Source's pull/cooperative contract (see DESIGN.md),
// so only the outbound Terminus side is adapted here.
package httpsink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dagflow/dagflow"
	"github.com/dagflow/dagflow/operators/recordcodec"
)

// SinkConfig mirrors components/http.Terminus's settings.
type SinkConfig struct {
	Host    string        `mapstructure:"host"`
	Timeout time.Duration `mapstructure:"timeout"`
	Schema  dagflow.Schema
}

// SinkFactory builds a Sink that POSTs each Record as a JSON object.
type SinkFactory struct {
	Cfg SinkConfig
}

func (f *SinkFactory) InputPorts() []dagflow.PortHandle { return []dagflow.PortHandle{dagflow.DefaultPort} }
func (f *SinkFactory) IsStateful() bool                 { return false }
func (f *SinkFactory) Build() dagflow.Sink {
	return &Sink{
		cfg:    f.Cfg,
		client: &http.Client{Timeout: f.Cfg.Timeout},
	}
}

// Sink posts one HTTP request per incoming op.
type Sink struct {
	cfg    SinkConfig
	client *http.Client
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

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Host, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode > 299 {
		return fmt.Errorf("httpsink: %s responded %d", s.cfg.Host, resp.StatusCode)
	}
	return nil
}
