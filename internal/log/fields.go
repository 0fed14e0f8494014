package log

// Canonical field names for structured logging.
const (
	FieldComponent = "component"
	FieldEvent     = "event"
	FieldCycleID   = "cycle_id"
	FieldPID       = "pid"
	FieldName      = "name"
	FieldAction    = "action"
	FieldStatus    = "status"
	FieldPath      = "path"
)
