package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestParseEventTypes(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"pageview,track", []string{"pageview", "track"}},
		{" vitals , ,alias ", []string{"vitals", "alias"}},
		{"", []string{"pageview"}},
	}
	for _, tt := range tests {
		got := parseEventTypes(tt.in)
		if len(got) != len(tt.want) {
			t.Fatalf("parseEventTypes(%q) = %v, want %v", tt.in, got, tt.want)
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("parseEventTypes(%q)[%d] = %q, want %q", tt.in, i, got[i], tt.want[i])
			}
		}
	}
}

func TestGenerateEvent(t *testing.T) {
	now := time.Now()
	v := newVisitors(1, now)[0]

	tests := []struct {
		kind     string
		wantType string
		wantName bool
	}{
		{"pageview", "track", true},
		{"track", "track", true},
		{"vitals", "track", true},
		{"alias", "alias", false},
		{"increment", "increment", true},
		{"decrement", "decrement", true},
		{"unknown", "track", true},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			ev := generateEvent(tt.kind, v, now)
			if ev.Type != tt.wantType {
				t.Errorf("type = %q, want %q", ev.Type, tt.wantType)
			}
			if _, ok := ev.Payload["name"]; ok != tt.wantName {
				t.Errorf("name present = %v, want %v", ok, tt.wantName)
			}
			if ev.Payload["anonymousId"] != v.anonymousID {
				t.Errorf("anonymousId = %v, want %s", ev.Payload["anonymousId"], v.anonymousID)
			}
			if ev.Payload["timestamp"] != now.UnixMilli() {
				t.Errorf("timestamp = %v, want %d", ev.Payload["timestamp"], now.UnixMilli())
			}
		})
	}
}

func TestGeneratePageviewEvent_ScrollDepthInRange(t *testing.T) {
	v := newVisitors(1, time.Now())[0]
	for i := 0; i < 200; i++ {
		depth := generatePageviewEvent(v, time.Now()).Payload["scroll_depth"].(float64)
		if depth < 0 || depth > 100 {
			t.Fatalf("scroll_depth %v out of range", depth)
		}
	}
}

func TestNewVisitors(t *testing.T) {
	pool := newVisitors(0, time.Now())
	if len(pool) != 1 {
		t.Fatalf("newVisitors(0) returned %d visitors, want 1", len(pool))
	}

	pool = newVisitors(10, time.Now())
	seen := map[string]bool{}
	for _, v := range pool {
		seen[v.anonymousID] = true
	}
	if len(seen) != 10 {
		t.Errorf("expected 10 distinct anonymous ids, got %d", len(seen))
	}
}

func TestSendBatch(t *testing.T) {
	var (
		gotPath   string
		gotClient string
		gotOrigin string
		gotEvents []Event
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotClient = r.Header.Get(clientIDHeader)
		gotOrigin = r.Header.Get("Origin")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotEvents)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success"}`))
	}))
	defer srv.Close()

	v := newVisitors(1, time.Now())[0]
	events := []Event{generatePageviewEvent(v, time.Now()), generateAliasEvent(v, time.Now())}

	if err := sendBatch(srv.Client(), srv.URL+"/", "site_123", "https://example.com", v.userAgent, events); err != nil {
		t.Fatalf("sendBatch() error = %v", err)
	}
	if gotPath != "/basket/batch" {
		t.Errorf("path = %q, want /basket/batch", gotPath)
	}
	if gotClient != "site_123" {
		t.Errorf("client id header = %q", gotClient)
	}
	if gotOrigin != "https://example.com" {
		t.Errorf("origin header = %q", gotOrigin)
	}
	if len(gotEvents) != 2 || gotEvents[1].Type != "alias" {
		t.Errorf("unexpected body: %+v", gotEvents)
	}
}

func TestSendBatch_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"Invalid client ID"}`))
	}))
	defer srv.Close()

	err := sendBatch(srv.Client(), srv.URL, "nope", "https://example.com", "test", nil)
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
}
