package engine

import (
	"context"
	"time"

	"github.com/kbukum/sdtmforge/errors"
	"github.com/kbukum/sdtmforge/logger"
	"github.com/kbukum/sdtmforge/observability"
	"github.com/kbukum/sdtmforge/pipeline"
)

// WithTracing wraps a Node with OpenTelemetry span creation.
// Each invocation creates a span named "stage.{name}".
func WithTracing(node Node) Node {
	return &tracingNode{inner: node}
}

type tracingNode struct {
	inner Node
}

func (n *tracingNode) Stage() string { return n.inner.Stage() }

func (n *tracingNode) Run(ctx context.Context, view *pipeline.Snapshot, unit *pipeline.DomainUnit) pipeline.StageResult {
	ctx, span := observability.StartSpan(ctx, "stage."+n.inner.Stage())
	defer span.End()

	observability.SetSpanAttribute(ctx, "pipeline.stage", n.inner.Stage())
	if unit != nil {
		observability.SetSpanAttribute(ctx, "pipeline.domain", unit.Domain)
	}

	res := n.inner.Run(ctx, view, unit)

	observability.SetSpanAttribute(ctx, "pipeline.status", string(res.Status))
	if res.Status == pipeline.StatusFailed {
		observability.SetSpanError(ctx, errors.New(res.Code, res.Reason))
	}
	return res
}

// WithLogging wraps a Node with invocation logging: stage, domain,
// duration, and outcome status.
func WithLogging(node Node, log *logger.Logger) Node {
	return &loggingNode{inner: node, log: log}
}

type loggingNode struct {
	inner Node
	log   *logger.Logger
}

func (n *loggingNode) Stage() string { return n.inner.Stage() }

func (n *loggingNode) Run(ctx context.Context, view *pipeline.Snapshot, unit *pipeline.DomainUnit) pipeline.StageResult {
	start := time.Now()
	res := n.inner.Run(ctx, view, unit)
	duration := time.Since(start)

	fields := map[string]interface{}{
		logger.FieldStage:    n.inner.Stage(),
		logger.FieldStatus:   string(res.Status),
		logger.FieldDuration: duration.Milliseconds(),
	}
	if unit != nil {
		fields[logger.FieldDomain] = unit.Domain
	}

	switch res.Status {
	case pipeline.StatusFailed:
		fields[logger.FieldError] = res.Reason
		n.log.Error("stage invocation failed", fields)
	case pipeline.StatusSkipped:
		n.log.Debug("stage invocation skipped", fields)
	default:
		n.log.Info("stage invocation completed", fields)
	}
	return res
}

// WithNodeMetrics wraps a Node with metric recording: in-flight gauge,
// per-outcome counters, and wall-time histogram.
func WithNodeMetrics(node Node, metrics *observability.Metrics) Node {
	return &metricsNode{inner: node, metrics: metrics}
}

type metricsNode struct {
	inner   Node
	metrics *observability.Metrics
}

func (n *metricsNode) Stage() string { return n.inner.Stage() }

func (n *metricsNode) Run(ctx context.Context, view *pipeline.Snapshot, unit *pipeline.DomainUnit) pipeline.StageResult {
	domain := ""
	if unit != nil {
		domain = unit.Domain
	}

	n.metrics.RecordStageStart(ctx)
	start := time.Now()
	res := n.inner.Run(ctx, view, unit)
	duration := time.Since(start)

	if res.Status == pipeline.StatusFailed {
		n.metrics.RecordError(ctx, string(res.Code), n.inner.Stage())
	}
	n.metrics.RecordStageEnd(ctx, n.inner.Stage(), domain, string(res.Status), duration)
	return res
}
