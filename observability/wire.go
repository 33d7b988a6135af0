package observability

import (
	"context"

	"github.com/croakml/guard/command"
)

// Recorder adapts an AuditLogger to the guard's Auditor seam.
type Recorder struct {
	Logger AuditLogger
}

// Record implements command.Auditor.
func (r *Recorder) Record(ctx context.Context, req *command.Request, result *command.Result, policyVersion string) error {
	return r.Logger.Log(ctx, NewAuditEvent(req, result, policyVersion))
}

// GuardTelemetry adapts a Telemetry to the guard's narrower interface,
// which has no span options.
type GuardTelemetry struct {
	T Telemetry
}

// StartSpan implements command.Telemetry.
func (g GuardTelemetry) StartSpan(ctx context.Context, name string) (context.Context, func()) {
	return g.T.StartSpan(ctx, name)
}

// RecordDuration implements command.Telemetry.
func (g GuardTelemetry) RecordDuration(seconds float64, labels map[string]string) {
	g.T.RecordDuration(seconds, labels)
}

// CountExecution implements command.Telemetry.
func (g GuardTelemetry) CountExecution(labels map[string]string) {
	g.T.CountExecution(labels)
}

// CountDenial implements command.Telemetry.
func (g GuardTelemetry) CountDenial(labels map[string]string) {
	g.T.CountDenial(labels)
}

// AddActive implements command.Telemetry.
func (g GuardTelemetry) AddActive(delta int64) {
	g.T.AddActive(delta)
}
