package logging

import (
	"errors"
	"log/slog"
	"testing"
)

func TestStringFields(t *testing.T) {
	tests := []struct {
		name  string
		attr  slog.Attr
		key   string
		value string
	}{
		{"service", Service("basket"), FieldService, "basket"},
		{"component", Component("resolver"), FieldComponent, "resolver"},
		{"client id", ClientID("site-1"), FieldClientID, "site-1"},
		{"origin", Origin("https://example.com"), FieldOrigin, "https://example.com"},
		{"ip", IP("203.0.113.0"), FieldIP, "203.0.113.0"},
		{"method", Method("POST"), FieldMethod, "POST"},
		{"path", Path("/basket"), FieldPath, "/basket"},
		{"event id", EventID("evt-1"), FieldEventID, "evt-1"},
		{"event type", EventType("track"), FieldEventType, "track"},
		{"bot", Bot("Googlebot"), FieldBot, "Googlebot"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.attr.Key != tt.key {
				t.Errorf("key = %q, want %q", tt.attr.Key, tt.key)
			}
			if tt.attr.Value.String() != tt.value {
				t.Errorf("value = %q, want %q", tt.attr.Value.String(), tt.value)
			}
		})
	}
}

func TestIntFields(t *testing.T) {
	if attr := Status(403); attr.Key != FieldStatus || attr.Value.Int64() != 403 {
		t.Errorf("Status() = %v", attr)
	}
	if attr := Duration(12); attr.Key != FieldDuration || attr.Value.Int64() != 12 {
		t.Errorf("Duration() = %v", attr)
	}
	if attr := Count(3); attr.Key != FieldCount || attr.Value.Int64() != 3 {
		t.Errorf("Count() = %v", attr)
	}
}

func TestError(t *testing.T) {
	attr := Error(errors.New("directory unavailable"))
	if attr.Key != FieldError || attr.Value.String() != "directory unavailable" {
		t.Errorf("Error() = %v", attr)
	}
	if attr := Error(nil); attr.Value.String() != "" {
		t.Errorf("Error(nil) = %q, want empty", attr.Value.String())
	}
}
