package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID     = "request_id"
	FieldCorrelationID = "correlation_id" // renderer UDN
	FieldJobID         = "job_id"         // RPC cookie

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// Renderer / device fields
	FieldUDN          = "udn"
	FieldFriendlyName = "friendly_name"
	FieldMAC          = "mac"
	FieldIP           = "ip"

	// Transport / queue fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldCookie   = "cookie"
	FieldAction   = "action"

	// Streaming origin fields
	FieldSlot      = "slot"
	FieldPath      = "path"
	FieldCodec     = "codec"
	FieldByteCount = "bytes"
)
