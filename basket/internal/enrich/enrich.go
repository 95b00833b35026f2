// Package enrich derives per-request context (device, geo, referrer,
// campaign) from an inbound HTTP request.
package enrich

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/quartz"
	"github.com/mssola/useragent"

	"github.com/databuddy-analytics/databuddy/basket/internal/bots"
	"github.com/databuddy-analytics/databuddy/basket/internal/geo"
	"github.com/databuddy-analytics/databuddy/basket/internal/models"
	"github.com/databuddy-analytics/databuddy/common/httputil"
	"github.com/databuddy-analytics/databuddy/common/logging"
)

// Device types.
const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceBot     = "bot"
)

// Result is the output of Enrich. Bot.IsBot tells the caller to stop
// processing and acknowledge the request without storing anything.
type Result struct {
	Context models.EnrichmentContext
	Bot     bots.Match
}

// Enricher builds EnrichmentContext values. It never fails: missing or
// unparseable inputs leave the corresponding fields empty.
type Enricher struct {
	bots   *bots.Matcher
	geo    geo.Lookup
	anon   *Anonymizer
	clock  quartz.Clock
	logger *logging.Logger
}

// Option configures an Enricher.
type Option func(*Enricher)

// WithClock overrides the clock used for ReceivedAt and hash rotation.
func WithClock(c quartz.Clock) Option {
	return func(e *Enricher) { e.clock = c }
}

// New creates an Enricher. A nil lookup disables geo resolution.
func New(matcher *bots.Matcher, lookup geo.Lookup, anon *Anonymizer, logger *logging.Logger, opts ...Option) *Enricher {
	if lookup == nil {
		lookup = geo.Noop{}
	}
	if matcher == nil {
		matcher = bots.Default()
	}
	if anon == nil {
		anon = NewAnonymizer(IPModeHash, "")
	}
	e := &Enricher{
		bots:   matcher,
		geo:    lookup,
		anon:   anon,
		clock:  quartz.NewReal(),
		logger: logging.OrDefault(logger).With(logging.Component("enrich")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enrich derives the context for r. The raw client IP is only used for the
// geo lookup and is anonymized before it is placed in the context.
func (e *Enricher) Enrich(ctx context.Context, r *http.Request) Result {
	now := e.clock.Now()
	ua := r.Header.Get("User-Agent")

	out := models.EnrichmentContext{
		UserAgent:  ua,
		ReceivedAt: now,
	}

	match := e.bots.Classify(ua)
	parseUserAgent(ua, &out)
	if match.IsBot {
		out.DeviceType = DeviceBot
	}

	if rawIP := httputil.GetClientIP(r); rawIP != "" {
		g, err := e.geo.Resolve(ctx, rawIP)
		if err != nil {
			e.logger.DebugContext(ctx, "geo lookup failed", logging.Error(err))
		}
		out.Geo = g
		out.IP = e.anon.Anonymize(rawIP, now)
	}

	pageURL := r.Header.Get("Referer")
	if pageURL == "" {
		pageURL = r.Header.Get("Origin")
	}
	out.URL = pageURL
	var page *url.URL
	if u, err := url.Parse(pageURL); err == nil && pageURL != "" {
		page = u
		out.Path = u.Path
	}

	out.Referrer = ParseReferrer(r.Header.Get("Referer"), originHost(r.Header.Get("Origin")))
	out.UTM = extractUTM(r.URL.Query(), page)
	out.Language = ParseAcceptLanguage(r.Header.Get("Accept-Language"))

	return Result{Context: out, Bot: match}
}

// ClientKey returns the anonymized client IP of r, for use as a rate limit
// key. It is "" when no IP can be determined.
func (e *Enricher) ClientKey(r *http.Request) string {
	ip := httputil.GetClientIP(r)
	if ip == "" {
		return ""
	}
	return e.anon.Anonymize(ip, e.clock.Now())
}

func parseUserAgent(s string, out *models.EnrichmentContext) {
	if s == "" {
		return
	}
	ua := useragent.New(s)

	out.Browser, out.BrowserVersion = ua.Browser()
	osInfo := ua.OSInfo()
	out.OS = osInfo.Name
	out.OSVersion = osInfo.Version

	lower := strings.ToLower(s)
	switch {
	case ua.Bot():
		out.DeviceType = DeviceBot
	case strings.Contains(lower, "ipad") || strings.Contains(lower, "tablet") ||
		(strings.Contains(lower, "android") && !strings.Contains(lower, "mobile")):
		out.DeviceType = DeviceTablet
	case ua.Mobile():
		out.DeviceType = DeviceMobile
	default:
		out.DeviceType = DeviceDesktop
	}
}

func extractUTM(q url.Values, page *url.URL) models.UTM {
	get := func(key string) string {
		if v := q.Get(key); v != "" {
			return v
		}
		if page != nil {
			return page.Query().Get(key)
		}
		return ""
	}
	return models.UTM{
		Source:   get("utm_source"),
		Medium:   get("utm_medium"),
		Campaign: get("utm_campaign"),
		Term:     get("utm_term"),
		Content:  get("utm_content"),
	}
}

// ParseAcceptLanguage returns the first language tag of an Accept-Language
// header, ignoring quality values and wildcards.
func ParseAcceptLanguage(header string) string {
	for _, part := range strings.Split(header, ",") {
		tag, _, _ := strings.Cut(part, ";")
		tag = strings.TrimSpace(tag)
		if tag == "" || tag == "*" || len(tag) > 35 {
			continue
		}
		return tag
	}
	return ""
}

func originHost(origin string) string {
	if origin == "" {
		return ""
	}
	u, err := url.Parse(origin)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
