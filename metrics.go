package dagflow

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// telemetry bundles the counters and tracer the executor uses to
// instrument every node, following the teacher's vertex.go pattern of a
// package-level meter/tracer pair rather than threading one through every
// call site.
type telemetry struct {
	tracer        trace.Tracer
	messages      metric.Int64Counter
	errors        metric.Int64Counter
	commits       metric.Int64Counter
}

func newTelemetry() *telemetry {
	meter := otel.Meter("dagflow")
	messages, _ := meter.Int64Counter("dagflow.edge.messages")
	errs, _ := meter.Int64Counter("dagflow.node.errors")
	commits, _ := meter.Int64Counter("dagflow.node.commits")
	return &telemetry{
		tracer:   otel.Tracer("dagflow"),
		messages: messages,
		errors:   errs,
		commits:  commits,
	}
}

func (t *telemetry) recordSend(ctx context.Context, node NodeHandle, port PortHandle, msg ExecutorMessage) {
	if t == nil || t.messages == nil {
		return
	}
	t.messages.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("node", string(node)),
			attribute.Int("port", int(port)),
			attribute.String("kind", msg.String()),
		),
	)
}

func (t *telemetry) recordCommit(ctx context.Context, node NodeHandle) {
	if t == nil || t.commits == nil {
		return
	}
	t.commits.Add(ctx, 1, metric.WithAttributes(attribute.String("node", string(node))))
}

func (t *telemetry) recordError(ctx context.Context, node NodeHandle) {
	if t == nil || t.errors == nil {
		return
	}
	t.errors.Add(ctx, 1, metric.WithAttributes(attribute.String("node", string(node))))
}

// startSpan opens a span for one operator invocation, named
// "<node handle>.<op>" where op is the caller-supplied operation name.
func (t *telemetry) startSpan(ctx context.Context, node NodeHandle, op string) (context.Context, trace.Span) {
	if t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, string(node)+"."+op, trace.WithAttributes(attribute.String("node", string(node))))
}
