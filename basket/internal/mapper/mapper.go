// Package mapper merges a validated envelope with its enrichment context
// into the fixed-column record consumed by sinks.
//
// For every derived column the first non-empty source wins:
//
//  1. the typed payload field
//  2. the matching properties entry
//  3. the private "__" override
//  4. the enrichment context
//
// Columns with no source stay empty.
package mapper

import (
	"encoding/json"
	"math"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/databuddy-analytics/databuddy/basket/internal/enrich"
	"github.com/databuddy-analytics/databuddy/basket/internal/models"
)

// Map builds the canonical event for env. It performs no I/O. An event
// without an eventId gets a random one.
func Map(clientID string, env *models.RawEventEnvelope, ec models.EnrichmentContext) *models.CanonicalEvent {
	p := &env.Payload
	props := p.Properties

	ev := &models.CanonicalEvent{
		ID:            firstString(str(p.EventID), propString(props, "eventId")),
		ClientID:      clientID,
		EventType:     env.Type,
		EventName:     firstString(str(p.Name), propString(props, "name")),
		AnonymousID:   firstString(str(p.AnonymousID), propString(props, "anonymousId")),
		SessionID:     firstString(str(p.SessionID), propString(props, "sessionId")),
		PreviousID:    firstString(str(p.PreviousID), propString(props, "previousId")),
		IngestedAt:    ec.ReceivedAt,
		SchemaVersion: models.CanonicalEventSchemaVersion,

		URL:   ec.URL,
		Path:  firstString(str(p.Path), propString(props, "path"), str(p.OverridePath), ec.Path),
		Title: firstString(str(p.Title), propString(props, "title"), str(p.OverrideTitle)),

		UserAgent:        ec.UserAgent,
		Browser:          ec.Browser,
		BrowserVersion:   ec.BrowserVersion,
		OS:               ec.OS,
		OSVersion:        ec.OSVersion,
		DeviceType:       ec.DeviceType,
		ScreenResolution: firstString(str(p.ScreenResolution), propString(props, "screen_resolution")),
		ViewportSize:     firstString(str(p.ViewportSize), propString(props, "viewport_size")),
		Language:         firstString(str(p.Language), propString(props, "language"), ec.Language),
		Timezone:         firstString(str(p.Timezone), propString(props, "timezone"), ec.Geo.Timezone),

		IP:      ec.IP,
		Country: ec.Geo.Country,
		Region:  ec.Geo.Region,
		City:    ec.Geo.City,

		UTMSource:   firstString(str(p.UTMSource), propString(props, "utm_source"), ec.UTM.Source),
		UTMMedium:   firstString(str(p.UTMMedium), propString(props, "utm_medium"), ec.UTM.Medium),
		UTMCampaign: firstString(str(p.UTMCampaign), propString(props, "utm_campaign"), ec.UTM.Campaign),
		UTMTerm:     firstString(str(p.UTMTerm), propString(props, "utm_term"), ec.UTM.Term),
		UTMContent:  firstString(str(p.UTMContent), propString(props, "utm_content"), ec.UTM.Content),

		LoadTime:         firstFloat(p.LoadTime, props, "load_time"),
		DOMReadyTime:     firstFloat(p.DOMReadyTime, props, "dom_ready_time"),
		DOMInteractive:   firstFloat(p.DOMInteractive, props, "dom_interactive"),
		TTFB:             firstFloat(p.TTFB, props, "ttfb"),
		ConnectionTime:   firstFloat(p.ConnectionTime, props, "connection_time"),
		RequestTime:      firstFloat(p.RequestTime, props, "request_time"),
		RenderTime:       firstFloat(p.RenderTime, props, "render_time"),
		RedirectTime:     firstFloat(p.RedirectTime, props, "redirect_time"),
		DomainLookupTime: firstFloat(p.DomainLookupTime, props, "domain_lookup_time"),

		FCP: firstFloat(p.FCP, props, "fcp"),
		LCP: firstFloat(p.LCP, props, "lcp"),
		CLS: firstFloat(p.CLS, props, "cls"),
		FID: firstFloat(p.FID, props, "fid"),
		INP: firstFloat(p.INP, props, "inp"),

		ConnectionType: firstString(str(p.ConnectionType), propString(props, "connection_type")),
		RTT:            firstFloat(p.RTT, props, "rtt"),
		Downlink:       firstFloat(p.Downlink, props, "downlink"),

		TimeOnPage:       firstFloat(p.TimeOnPage, props, "time_on_page"),
		ScrollDepth:      firstFloat(p.ScrollDepth, props, "scroll_depth"),
		InteractionCount: firstInt(p.InteractionCount, props, "interaction_count"),
		ExitIntent:       firstBool(p.ExitIntent, props, "exit_intent"),
		PageCount:        firstInt(p.PageCount, props, "page_count"),
		IsBounce:         firstBool(p.IsBounce, props, "is_bounce"),
		Value:            firstFloat(p.Value, props, "value"),

		SDKName:    firstString(propString(props, "sdk_name"), str(p.OverrideSDKName)),
		SDKVersion: firstString(propString(props, "sdk_version"), str(p.OverrideSDKVersion)),

		RawProperties: rawProperties(props),
		Enriched:      ec,
	}

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	ev.Time = ec.ReceivedAt
	if ts := firstFloat(p.Timestamp, props, "timestamp"); ts != nil && validMillis(*ts) {
		ev.Time = millis(*ts)
	}
	if start := firstFloat(p.SessionStartTime, props, "sessionStartTime"); start != nil && validMillis(*start) {
		v := int64(*start)
		ev.SessionStart = &v
	}

	mapReferrer(ev, p, props, ec)
	return ev
}

// mapReferrer fills the referrer columns. A referrer supplied by the event
// is re-parsed so its domain and type match the URL actually stored.
func mapReferrer(ev *models.CanonicalEvent, p *models.EventPayload, props map[string]any, ec models.EnrichmentContext) {
	ref := ec.Referrer
	if raw := firstString(str(p.Referrer), propString(props, "referrer"), str(p.OverrideReferrer)); raw != "" {
		ref = enrich.ParseReferrer(raw, pageHost(ec.URL))
	}

	ev.Referrer = ref.URL
	ev.ReferrerDomain = ref.Domain
	ev.ReferrerType = firstString(propString(props, "referrer_type"), str(p.OverrideReferrerType), ref.Type)
	ev.ReferrerName = firstString(propString(props, "referrer_name"), str(p.OverrideReferrerName), ref.Name)
}

func pageHost(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// maxMillis is 9999-12-31T23:59:59.999Z, the last instant time.Time can
// encode as JSON.
const maxMillis = 253402300799999

// validMillis reports whether ms is a positive epoch-millisecond value that
// survives encoding. Anything else falls back to the receive time.
func validMillis(ms float64) bool {
	return ms > 0 && ms <= maxMillis
}

func millis(ms float64) time.Time {
	return time.UnixMilli(int64(ms)).UTC()
}

func rawProperties(props map[string]any) json.RawMessage {
	if len(props) == 0 {
		return json.RawMessage(`{}`)
	}
	data, err := json.Marshal(props)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func firstString(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func propString(props map[string]any, key string) string {
	if s, ok := props[key].(string); ok {
		return s
	}
	return ""
}

func firstFloat(typed *float64, props map[string]any, key string) *float64 {
	if typed != nil {
		return typed
	}
	if f, ok := props[key].(float64); ok && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return &f
	}
	return nil
}

func firstInt(typed *int64, props map[string]any, key string) *int64 {
	if typed != nil {
		return typed
	}
	if f, ok := props[key].(float64); ok && f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
		v := int64(f)
		return &v
	}
	return nil
}

func firstBool(typed *bool, props map[string]any, key string) *bool {
	if typed != nil {
		return typed
	}
	if b, ok := props[key].(bool); ok {
		return &b
	}
	return nil
}
