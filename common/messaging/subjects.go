package messaging

import "strings"

// Subject constants for the basket message bus.
// Follow the pattern: {domain}.{resource}[.{tenant}]
const (
	SubjectEventsPrefix = "basket.events" // Accepted events, append .{client_id}
	SubjectDLQPrefix    = "basket.dlq"    // Dead letters, append .{reason}
)

// Stream names used by JetStream-backed publishers.
const (
	StreamEvents = "BASKET_EVENTS"
	StreamDLQ    = "BASKET_DLQ"
)

// EventsSubject returns the subject for accepted events of a website.
// Example: basket.events.site_123
func EventsSubject(clientID string) string {
	return SubjectEventsPrefix + "." + SubjectToken(clientID)
}

// DLQSubject returns the dead letter subject for a failure reason.
// Example: basket.dlq.sink_error
func DLQSubject(reason string) string {
	return SubjectDLQPrefix + "." + SubjectToken(reason)
}

// SubjectToken makes s safe to use as a single subject token. Wildcards,
// separators and whitespace are replaced with underscores.
func SubjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}
