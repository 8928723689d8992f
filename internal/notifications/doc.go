// Package notifications delivers cbuildbot build events via pluggable notifiers.
//
// Two transports exist: ntfy push notifications posted over HTTP, and JSON
// events published to a NATS subject for downstream automation. NewService
// builds whichever are configured, fans out to all of them, and applies the
// per-event toggles from the [notifications] config section. When nothing is
// configured a no-op implementation is returned so builders never need to
// check.
package notifications
