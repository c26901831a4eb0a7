package log

// Canonical field name constants for structured logging. Log aggregators
// index these by name, so they are part of the event contract.
const (
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldStatus    = "status"
	FieldDuration  = "duration_ms"
	FieldEntityID  = "entity_id"
	FieldMeta      = "meta"

	FieldJobID    = "job_id"
	FieldJobType  = "job_type"
	FieldOwner    = "owner"
	FieldAttempt  = "attempt"
	FieldArtistID = "artist_id"

	FieldRequestID     = "request_id"
	FieldCorrelationID = "correlation_id"
)
