package enrich

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/databuddy-analytics/databuddy/basket/internal/bots"
	"github.com/databuddy-analytics/databuddy/basket/internal/geo"
	"github.com/databuddy-analytics/databuddy/basket/internal/models"
	"github.com/databuddy-analytics/databuddy/common/logging"
)

const chromeMac = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func newTestEnricher(t *testing.T, lookup geo.Lookup) (*Enricher, *quartz.Mock) {
	t.Helper()
	clk := quartz.NewMock(t)
	e := New(bots.Default(), lookup, NewAnonymizer(IPModeTruncate, ""), logging.Nop(), WithClock(clk))
	return e, clk
}

func TestEnrich_FullRequest(t *testing.T) {
	lookup := geo.Static{"203.0.113.7": {Country: "NZ", Region: "Wellington", City: "Wellington", Timezone: "Pacific/Auckland"}}
	e, clk := newTestEnricher(t, lookup)

	req := httptest.NewRequest(http.MethodPost, "/basket?utm_source=newsletter&utm_campaign=launch", nil)
	req.RemoteAddr = "203.0.113.7:51000"
	req.Header.Set("User-Agent", chromeMac)
	req.Header.Set("Origin", "https://www.example.com")
	req.Header.Set("Referer", "https://www.google.com/search?q=databuddy")
	req.Header.Set("Accept-Language", "en-NZ,en;q=0.9")

	res := e.Enrich(context.Background(), req)
	c := res.Context

	assert.False(t, res.Bot.IsBot)
	assert.Equal(t, chromeMac, c.UserAgent)
	assert.Equal(t, "Chrome", c.Browser)
	assert.Equal(t, "120.0.0.0", c.BrowserVersion)
	assert.Equal(t, DeviceDesktop, c.DeviceType)
	assert.NotEmpty(t, c.OS)
	assert.Equal(t, "en-NZ", c.Language)
	assert.Equal(t, "203.0.113.0", c.IP)
	assert.Equal(t, "NZ", c.Geo.Country)
	assert.Equal(t, "Pacific/Auckland", c.Geo.Timezone)
	assert.Equal(t, ReferrerSearch, c.Referrer.Type)
	assert.Equal(t, "Google", c.Referrer.Name)
	assert.Equal(t, "google.com", c.Referrer.Domain)
	assert.Equal(t, "/search", c.Path)
	assert.Equal(t, "newsletter", c.UTM.Source)
	assert.Equal(t, "launch", c.UTM.Campaign)
	assert.Equal(t, clk.Now(), c.ReceivedAt)
}

func TestEnrich_Bot(t *testing.T) {
	e, _ := newTestEnricher(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/basket", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)")

	res := e.Enrich(context.Background(), req)
	assert.True(t, res.Bot.IsBot)
	assert.Equal(t, "Googlebot", res.Bot.Name)
	assert.Equal(t, DeviceBot, res.Context.DeviceType)
}

func TestEnrich_EmptyRequestDegradesGracefully(t *testing.T) {
	e, _ := newTestEnricher(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/basket", nil)
	req.RemoteAddr = ""

	res := e.Enrich(context.Background(), req)
	c := res.Context
	assert.False(t, res.Bot.IsBot)
	assert.Empty(t, c.Browser)
	assert.Empty(t, c.DeviceType)
	assert.Empty(t, c.IP)
	assert.Empty(t, c.Language)
	assert.Equal(t, models.Geo{}, c.Geo)
	assert.Equal(t, ReferrerDirect, c.Referrer.Type)
	assert.Equal(t, models.UTM{}, c.UTM)
}

type failingLookup struct{}

func (failingLookup) Resolve(ctx context.Context, ip string) (models.Geo, error) {
	return models.Geo{}, geo.ErrInvalidIP
}

func TestEnrich_GeoFailureIsNotFatal(t *testing.T) {
	e, _ := newTestEnricher(t, failingLookup{})

	req := httptest.NewRequest(http.MethodPost, "/basket", nil)
	req.RemoteAddr = "198.51.100.20:443"

	res := e.Enrich(context.Background(), req)
	assert.Equal(t, models.Geo{}, res.Context.Geo)
	assert.Equal(t, "198.51.100.0", res.Context.IP)
}

func TestEnrich_UTMFallsBackToPageURL(t *testing.T) {
	e, _ := newTestEnricher(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/basket", nil)
	req.Header.Set("Referer", "https://example.com/pricing?utm_source=twitter&utm_medium=social")

	c := e.Enrich(context.Background(), req).Context
	assert.Equal(t, "twitter", c.UTM.Source)
	assert.Equal(t, "social", c.UTM.Medium)
	assert.Equal(t, "/pricing", c.Path)
}

func TestParseUserAgent_DeviceTypes(t *testing.T) {
	tests := []struct {
		name string
		ua   string
		want string
	}{
		{"iphone", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1", DeviceMobile},
		{"ipad", "Mozilla/5.0 (iPad; CPU OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1", DeviceTablet},
		{"android tablet", "Mozilla/5.0 (Linux; Android 13; SM-X700) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36", DeviceTablet},
		{"android phone", "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36", DeviceMobile},
		{"desktop", chromeMac, DeviceDesktop},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c models.EnrichmentContext
			parseUserAgent(tt.ua, &c)
			assert.Equal(t, tt.want, c.DeviceType)
		})
	}
}

func TestParseAcceptLanguage(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"en-US,en;q=0.9", "en-US"},
		{"fr", "fr"},
		{" de-DE ; q=0.8, en", "de-DE"},
		{"*", ""},
		{"*, es", "es"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseAcceptLanguage(tt.header))
		})
	}
}

func TestAnonymizer(t *testing.T) {
	day := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("truncate ipv4", func(t *testing.T) {
		a := NewAnonymizer(IPModeTruncate, "")
		assert.Equal(t, "192.0.2.0", a.Anonymize("192.0.2.55", day))
	})

	t.Run("truncate ipv6", func(t *testing.T) {
		a := NewAnonymizer(IPModeTruncate, "")
		assert.Equal(t, "2001:db8:abcd::", a.Anonymize("2001:db8:abcd:12::1", day))
	})

	t.Run("invalid", func(t *testing.T) {
		assert.Empty(t, NewAnonymizer(IPModeHash, "salt").Anonymize("not-an-ip", day))
	})

	t.Run("hash is stable within a day and rotates", func(t *testing.T) {
		a := NewAnonymizer(IPModeHash, "secret")
		first := a.Anonymize("192.0.2.55", day)
		require.Len(t, first, 32)
		assert.NotContains(t, first, "192")
		assert.Equal(t, first, a.Anonymize("192.0.2.55", day.Add(time.Hour)))
		assert.NotEqual(t, first, a.Anonymize("192.0.2.55", day.Add(24*time.Hour)))
		assert.NotEqual(t, first, a.Anonymize("192.0.2.56", day))
	})

	t.Run("hash depends on salt", func(t *testing.T) {
		a := NewAnonymizer(IPModeHash, "one").Anonymize("192.0.2.55", day)
		b := NewAnonymizer(IPModeHash, "two").Anonymize("192.0.2.55", day)
		assert.NotEqual(t, a, b)
	})

	t.Run("oversized salt", func(t *testing.T) {
		a := NewAnonymizer(IPModeHash, string(make([]byte, 200)))
		assert.Len(t, a.Anonymize("192.0.2.55", day), 32)
	})
}

func TestParseReferrer(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		host     string
		wantType string
		wantName string
		wantDom  string
	}{
		{"empty", "", "example.com", ReferrerDirect, "", ""},
		{"garbage", "not a url", "", ReferrerDirect, "", ""},
		{"google", "https://www.google.com/", "example.com", ReferrerSearch, "Google", "google.com"},
		{"google country", "https://www.google.co.uk/", "example.com", ReferrerSearch, "Google", "google.co.uk"},
		{"twitter shortener", "https://t.co/abc", "example.com", ReferrerSocial, "Twitter", "t.co"},
		{"linkedin subdomain", "https://uk.linkedin.com/in/x", "example.com", ReferrerSocial, "LinkedIn", "uk.linkedin.com"},
		{"gmail", "https://mail.google.com/mail/u/0/", "example.com", ReferrerEmail, "Gmail", "mail.google.com"},
		{"internal", "https://www.example.com/blog", "example.com", ReferrerInternal, "example.com", "example.com"},
		{"other", "https://blog.someone.dev/post", "example.com", ReferrerOther, "blog.someone.dev", "blog.someone.dev"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseReferrer(tt.raw, tt.host)
			assert.Equal(t, tt.wantType, got.Type)
			assert.Equal(t, tt.wantName, got.Name)
			assert.Equal(t, tt.wantDom, got.Domain)
		})
	}
}

func TestEnricher_ClientKey(t *testing.T) {
	e, _ := newTestEnricher(t, nil)

	r := httptest.NewRequest(http.MethodPost, "/basket", nil)
	r.RemoteAddr = "203.0.113.77:51234"
	assert.Equal(t, "203.0.113.0", e.ClientKey(r))

	r.RemoteAddr = "not-an-ip"
	assert.Empty(t, e.ClientKey(r))
}
