// Package otlp exposes an OTLP LogsService whose log records feed the ingest buffer.
package otlp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"

	"dash0.com/window-drain-backend/internal/orchestrator"
)

type logsServiceServer struct {
	orchestratorSvc orchestrator.Orchestrator
	nowFn           func() time.Time
	collogspb.UnimplementedLogsServiceServer
}

// NewServer returns a LogsServiceServer backed by the provided Orchestrator.
func NewServer(svc orchestrator.Orchestrator) collogspb.LogsServiceServer {
	return &logsServiceServer{orchestratorSvc: svc, nowFn: time.Now}
}

func (l *logsServiceServer) Export(ctx context.Context, request *collogspb.ExportLogsServiceRequest) (*collogspb.ExportLogsServiceResponse, error) {
	// Use the span started by the gRPC OTel interceptor.
	span := oteltrace.SpanFromContext(ctx)

	slog.DebugContext(ctx, "Received ExportLogsServiceRequest")

	arrival := l.nowFn()

	var receivedCount int64

	var appendedCount int64

	var malformed int64

	var firstErr error

	for _, rl := range request.GetResourceLogs() {
		// Safe even if Resource is nil; GetAttributes() returns nil in that case.
		resAttrs := rl.GetResource().GetAttributes()

		for _, sl := range rl.GetScopeLogs() {
			scopeAttrs := sl.GetScope().GetAttributes()

			for _, rec := range sl.GetLogRecords() {
				receivedCount++

				r, err := RecordFromLog(rec, scopeAttrs, resAttrs)
				if err != nil {
					// not representable as JSON: no data
					malformed++

					if firstErr == nil {
						firstErr = err
					}

					continue
				}

				l.orchestratorSvc.Append(r, arrival)
				appendedCount++
			}
		}
	}

	l.orchestratorSvc.IncrMetric(ctx, orchestrator.MetricRecordsReceived, appendedCount)

	resp := &collogspb.ExportLogsServiceResponse{}
	if malformed > 0 {
		resp.PartialSuccess = &collogspb.ExportLogsPartialSuccess{
			RejectedLogRecords: malformed,
			ErrorMessage:       fmt.Sprintf("%d log records could not be encoded: %v", malformed, firstErr),
		}
	}
	// Add summary attributes to the RPC span and exit debug log
	span.SetAttributes(
		attribute.Int64("logs.received", receivedCount),
		attribute.Int64("logs.appended", appendedCount),
		attribute.Int64("logs.malformed", malformed),
	)
	slog.DebugContext(
		ctx,
		"Completed ExportLogsServiceRequest",
		slog.Int64("received", receivedCount),
		slog.Int64("appended", appendedCount),
		slog.Int64("malformed", malformed),
	)

	return resp, nil
}
