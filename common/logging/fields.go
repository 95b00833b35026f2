package logging

import "log/slog"

// Common field names for consistent logging across the basket pipeline.
const (
	FieldService   = "service"
	FieldComponent = "component"
	FieldRequestID = "request_id"
	FieldClientID  = "client_id"
	FieldOrigin    = "origin"
	FieldIP        = "ip"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldDuration  = "duration_ms"
	FieldError     = "error"
	FieldEventID   = "event_id"
	FieldEventType = "event_type"
	FieldBot       = "bot"
	FieldCount     = "count"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// Component returns a slog attribute naming the pipeline stage.
func Component(name string) slog.Attr {
	return slog.String(FieldComponent, name)
}

// ClientID returns a slog attribute for the website client ID.
func ClientID(id string) slog.Attr {
	return slog.String(FieldClientID, id)
}

// Origin returns a slog attribute for the request Origin header.
func Origin(origin string) slog.Attr {
	return slog.String(FieldOrigin, origin)
}

// IP returns a slog attribute for an (already anonymized) IP address.
func IP(ip string) slog.Attr {
	return slog.String(FieldIP, ip)
}

// Method returns a slog attribute for the HTTP method.
func Method(method string) slog.Attr {
	return slog.String(FieldMethod, method)
}

// Path returns a slog attribute for the HTTP path.
func Path(path string) slog.Attr {
	return slog.String(FieldPath, path)
}

// Status returns a slog attribute for the HTTP status code.
func Status(code int) slog.Attr {
	return slog.Int(FieldStatus, code)
}

// Duration returns a slog attribute for duration in milliseconds.
func Duration(ms int64) slog.Attr {
	return slog.Int64(FieldDuration, ms)
}

// Error returns a slog attribute for an error. A nil error yields an empty value.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}

// EventID returns a slog attribute for an event ID.
func EventID(id string) slog.Attr {
	return slog.String(FieldEventID, id)
}

// EventType returns a slog attribute for an envelope type.
func EventType(t string) slog.Attr {
	return slog.String(FieldEventType, t)
}

// Bot returns a slog attribute for a matched bot signature name.
func Bot(name string) slog.Attr {
	return slog.String(FieldBot, name)
}

// Count returns a slog attribute for a number of items.
func Count(n int) slog.Attr {
	return slog.Int(FieldCount, n)
}
