package models

import (
	"encoding/json"
	"time"
)

// EventType is the envelope discriminator.
type EventType string

const (
	EventTypeTrack     EventType = "track"
	EventTypeAlias     EventType = "alias"
	EventTypeIncrement EventType = "increment"
	EventTypeDecrement EventType = "decrement"
)

// RawEventEnvelope is an inbound event as sent by the browser SDK.
type RawEventEnvelope struct {
	Type    EventType    `json:"type" validate:"required,oneof=track alias increment decrement"`
	Payload EventPayload `json:"payload"`
}

// EventPayload is the closed set of fields an SDK may send. Pointer fields
// distinguish "absent" from zero values so the mapper can apply precedence.
type EventPayload struct {
	EventID          *string  `json:"eventId,omitempty" validate:"omitempty,max=512"`
	Name             *string  `json:"name,omitempty" validate:"omitempty,min=1,max=128"`
	AnonymousID      *string  `json:"anonymousId,omitempty" validate:"omitempty,max=128"`
	SessionID        *string  `json:"sessionId,omitempty" validate:"omitempty,max=128"`
	SessionStartTime *float64 `json:"sessionStartTime,omitempty" validate:"omitempty,gte=0"`
	Timestamp        *float64 `json:"timestamp,omitempty" validate:"omitempty,gte=0"`
	PreviousID       *string  `json:"previousId,omitempty" validate:"omitempty,max=128"`

	Referrer         *string `json:"referrer,omitempty" validate:"omitempty,max=2048"`
	Path             *string `json:"path,omitempty" validate:"omitempty,max=2048"`
	Title            *string `json:"title,omitempty" validate:"omitempty,max=512"`
	ScreenResolution *string `json:"screen_resolution,omitempty" validate:"omitempty,max=32"`
	ViewportSize     *string `json:"viewport_size,omitempty" validate:"omitempty,max=32"`
	Timezone         *string `json:"timezone,omitempty" validate:"omitempty,max=64"`
	Language         *string `json:"language,omitempty" validate:"omitempty,max=35"`

	UTMSource   *string `json:"utm_source,omitempty" validate:"omitempty,max=512"`
	UTMMedium   *string `json:"utm_medium,omitempty" validate:"omitempty,max=512"`
	UTMCampaign *string `json:"utm_campaign,omitempty" validate:"omitempty,max=512"`
	UTMTerm     *string `json:"utm_term,omitempty" validate:"omitempty,max=512"`
	UTMContent  *string `json:"utm_content,omitempty" validate:"omitempty,max=512"`

	LoadTime         *float64 `json:"load_time,omitempty" validate:"omitempty,gte=0"`
	DOMReadyTime     *float64 `json:"dom_ready_time,omitempty" validate:"omitempty,gte=0"`
	DOMInteractive   *float64 `json:"dom_interactive,omitempty" validate:"omitempty,gte=0"`
	TTFB             *float64 `json:"ttfb,omitempty" validate:"omitempty,gte=0"`
	ConnectionTime   *float64 `json:"connection_time,omitempty" validate:"omitempty,gte=0"`
	RequestTime      *float64 `json:"request_time,omitempty" validate:"omitempty,gte=0"`
	RenderTime       *float64 `json:"render_time,omitempty" validate:"omitempty,gte=0"`
	RedirectTime     *float64 `json:"redirect_time,omitempty" validate:"omitempty,gte=0"`
	DomainLookupTime *float64 `json:"domain_lookup_time,omitempty" validate:"omitempty,gte=0"`

	FCP *float64 `json:"fcp,omitempty" validate:"omitempty,gte=0"`
	LCP *float64 `json:"lcp,omitempty" validate:"omitempty,gte=0"`
	CLS *float64 `json:"cls,omitempty" validate:"omitempty,gte=0"`
	FID *float64 `json:"fid,omitempty" validate:"omitempty,gte=0"`
	INP *float64 `json:"inp,omitempty" validate:"omitempty,gte=0"`

	ConnectionType *string  `json:"connection_type,omitempty" validate:"omitempty,max=32"`
	RTT            *float64 `json:"rtt,omitempty" validate:"omitempty,gte=0"`
	Downlink       *float64 `json:"downlink,omitempty" validate:"omitempty,gte=0"`

	TimeOnPage       *float64 `json:"time_on_page,omitempty" validate:"omitempty,gte=0"`
	ScrollDepth      *float64 `json:"scroll_depth,omitempty" validate:"omitempty,gte=0,lte=100"`
	InteractionCount *int64   `json:"interaction_count,omitempty" validate:"omitempty,gte=0"`
	ExitIntent       *bool    `json:"exit_intent,omitempty"`
	PageCount        *int64   `json:"page_count,omitempty" validate:"omitempty,gte=0"`
	IsBounce         *bool    `json:"is_bounce,omitempty"`
	Value            *float64 `json:"value,omitempty"`

	Properties map[string]any `json:"properties,omitempty"`

	OverridePath         *string `json:"__path,omitempty" validate:"omitempty,max=2048"`
	OverrideReferrer     *string `json:"__referrer,omitempty" validate:"omitempty,max=2048"`
	OverrideReferrerType *string `json:"__referrer_type,omitempty" validate:"omitempty,max=64"`
	OverrideReferrerName *string `json:"__referrer_name,omitempty" validate:"omitempty,max=128"`
	OverrideTitle        *string `json:"__title,omitempty" validate:"omitempty,max=512"`
	OverrideSDKName      *string `json:"__sdk_name,omitempty" validate:"omitempty,max=64"`
	OverrideSDKVersion   *string `json:"__sdk_version,omitempty" validate:"omitempty,max=64"`
}

// CanonicalEventSchemaVersion is bumped whenever the column set changes.
const CanonicalEventSchemaVersion = 1

// CanonicalEvent is the fixed-column record handed to the event sink.
type CanonicalEvent struct {
	ID            string    `json:"id"`
	ClientID      string    `json:"client_id"`
	EventType     EventType `json:"event_type"`
	EventName     string    `json:"event_name"`
	AnonymousID   string    `json:"anonymous_id"`
	SessionID     string    `json:"session_id"`
	SessionStart  *int64    `json:"session_start,omitempty"`
	PreviousID    string    `json:"previous_id,omitempty"`
	Time          time.Time `json:"time"`
	IngestedAt    time.Time `json:"ingested_at"`
	SchemaVersion int       `json:"schema_version"`

	URL            string `json:"url"`
	Path           string `json:"path"`
	Title          string `json:"title"`
	Referrer       string `json:"referrer"`
	ReferrerDomain string `json:"referrer_domain"`
	ReferrerType   string `json:"referrer_type"`
	ReferrerName   string `json:"referrer_name"`

	UserAgent        string `json:"user_agent"`
	Browser          string `json:"browser"`
	BrowserVersion   string `json:"browser_version"`
	OS               string `json:"os"`
	OSVersion        string `json:"os_version"`
	DeviceType       string `json:"device_type"`
	ScreenResolution string `json:"screen_resolution"`
	ViewportSize     string `json:"viewport_size"`
	Language         string `json:"language"`
	Timezone         string `json:"timezone"`

	IP      string `json:"ip"`
	Country string `json:"country"`
	Region  string `json:"region"`
	City    string `json:"city"`

	UTMSource   string `json:"utm_source"`
	UTMMedium   string `json:"utm_medium"`
	UTMCampaign string `json:"utm_campaign"`
	UTMTerm     string `json:"utm_term"`
	UTMContent  string `json:"utm_content"`

	LoadTime         *float64 `json:"load_time,omitempty"`
	DOMReadyTime     *float64 `json:"dom_ready_time,omitempty"`
	DOMInteractive   *float64 `json:"dom_interactive,omitempty"`
	TTFB             *float64 `json:"ttfb,omitempty"`
	ConnectionTime   *float64 `json:"connection_time,omitempty"`
	RequestTime      *float64 `json:"request_time,omitempty"`
	RenderTime       *float64 `json:"render_time,omitempty"`
	RedirectTime     *float64 `json:"redirect_time,omitempty"`
	DomainLookupTime *float64 `json:"domain_lookup_time,omitempty"`

	FCP *float64 `json:"fcp,omitempty"`
	LCP *float64 `json:"lcp,omitempty"`
	CLS *float64 `json:"cls,omitempty"`
	FID *float64 `json:"fid,omitempty"`
	INP *float64 `json:"inp,omitempty"`

	ConnectionType string   `json:"connection_type"`
	RTT            *float64 `json:"rtt,omitempty"`
	Downlink       *float64 `json:"downlink,omitempty"`

	TimeOnPage       *float64 `json:"time_on_page,omitempty"`
	ScrollDepth      *float64 `json:"scroll_depth,omitempty"`
	InteractionCount *int64   `json:"interaction_count,omitempty"`
	ExitIntent       *bool    `json:"exit_intent,omitempty"`
	PageCount        *int64   `json:"page_count,omitempty"`
	IsBounce         *bool    `json:"is_bounce,omitempty"`
	Value            *float64 `json:"value,omitempty"`

	SDKName    string `json:"sdk_name"`
	SDKVersion string `json:"sdk_version"`

	RawProperties json.RawMessage   `json:"__raw_properties"`
	Enriched      EnrichmentContext `json:"__enriched"`
}

// Result statuses shared by sinks and the orchestrator.
const (
	StatusSuccess = "success"
	StatusSkipped = "skipped"
	StatusError   = "error"
)

// Result is the event sink's answer for a single event. It is returned to
// the client unchanged for single-event requests.
type Result struct {
	Status  string    `json:"status"`
	Type    EventType `json:"type,omitempty"`
	EventID string    `json:"eventId,omitempty"`
	Reason  string    `json:"reason,omitempty"`
}

// BatchItemResult is the in-band acknowledgement for one batch entry.
// AnonymousID only ever carries a short prefix.
type BatchItemResult struct {
	Status      string `json:"status"`
	EventName   string `json:"eventName,omitempty"`
	AnonymousID string `json:"anonymousId,omitempty"`
	EventID     string `json:"eventId,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Error       string `json:"error,omitempty"`
}

// BatchResponse is the body of a batch ingestion response.
type BatchResponse struct {
	Status    string            `json:"status"`
	Message   string            `json:"message"`
	Processed []BatchItemResult `json:"processed"`
}
