// Package httpapi serves a small read-only JSON API over the reminder
// registry, the audit trail and recent deliveries, plus optional pprof.
package httpapi
