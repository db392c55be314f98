package api

// AuditSink receives lifecycle events from the audit pipeline. Deliver is
// called from pipeline workers and may be retried on error, so
// implementations should be idempotent per event.
type AuditSink interface {
	Deliver(Event) error
}
