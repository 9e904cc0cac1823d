package logging

// Standardized attribute keys used across components.
const (
	FieldComponent = "component"
	FieldEventType = "event_type"
	FieldErrorHint = "error_hint"
	FieldJobID     = "job_id"
	FieldSessionID = "sid"
	FieldQuality   = "quality"
	FieldEndpoint  = "endpoint"
	FieldStatus    = "status"
)
