package cors

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/databuddy-analytics/databuddy/common/logging"
	"github.com/databuddy-analytics/databuddy/common/middleware"
)

var testHeaders = middleware.CORSHeaders{
	AllowedMethods: []string{"POST", "OPTIONS", "GET"},
	AllowedHeaders: []string{"Content-Type", "databuddy-client-id"},
	MaxAge:         86400,
}

func TestDecide(t *testing.T) {
	lookupErr := errors.New("directory unavailable")

	tests := []struct {
		name       string
		policy     Policy
		req        Request
		wantAllow  bool
		wantOrigin string
		wantReason string
	}{
		{
			name:       "no origin post",
			req:        Request{Method: http.MethodPost, Domain: "example.com"},
			wantAllow:  true,
			wantReason: ReasonNoOrigin,
		},
		{
			name:       "no origin preflight",
			req:        Request{Method: http.MethodOptions},
			wantAllow:  true,
			wantReason: ReasonNoOrigin,
		},
		{
			name:       "localhost subdomain always allowed",
			req:        Request{Origin: "https://app.localhost", Method: http.MethodPost, Domain: "example.com"},
			wantAllow:  true,
			wantOrigin: "https://app.localhost",
			wantReason: ReasonLocalhost,
		},
		{
			name:       "loopback with port",
			policy:     PolicyStrict,
			req:        Request{Origin: "http://127.0.0.1:3000", Method: http.MethodPost, Domain: "example.com"},
			wantAllow:  true,
			wantOrigin: "http://127.0.0.1:3000",
			wantReason: ReasonLocalhost,
		},
		{
			name:       "exact domain",
			req:        Request{Origin: "https://example.com", Method: http.MethodPost, Domain: "example.com"},
			wantAllow:  true,
			wantOrigin: "https://example.com",
			wantReason: ReasonMatch,
		},
		{
			name:       "subdomain",
			req:        Request{Origin: "https://sub.example.com", Method: http.MethodPost, Domain: "example.com"},
			wantAllow:  true,
			wantOrigin: "https://sub.example.com",
			wantReason: ReasonMatch,
		},
		{
			name:       "www origin and domain with scheme",
			req:        Request{Origin: "https://www.example.com", Method: http.MethodPost, Domain: "https://www.example.com/"},
			wantAllow:  true,
			wantOrigin: "https://www.example.com",
			wantReason: ReasonMatch,
		},
		{
			name:       "mismatch allowed with warning when lenient",
			policy:     PolicyLenient,
			req:        Request{Origin: "https://evil.com", Method: http.MethodPost, Domain: "example.com"},
			wantAllow:  true,
			wantOrigin: "https://evil.com",
			wantReason: ReasonMismatchAllowed,
		},
		{
			name:       "suffix without dot is a mismatch",
			policy:     PolicyStrict,
			req:        Request{Origin: "https://notexample.com", Method: http.MethodPost, Domain: "example.com"},
			wantReason: ReasonMismatchDenied,
		},
		{
			name:       "mismatch denied when strict",
			policy:     PolicyStrict,
			req:        Request{Origin: "https://evil.com", Method: http.MethodPost, Domain: "example.com"},
			wantReason: ReasonMismatchDenied,
		},
		{
			name:       "missing domain follows policy",
			policy:     PolicyStrict,
			req:        Request{Origin: "https://example.com", Method: http.MethodPost},
			wantReason: ReasonMismatchDenied,
		},
		{
			name:       "lookup failure blocks",
			req:        Request{Origin: "https://example.com", Method: http.MethodPost, Domain: "example.com", LookupErr: lookupErr},
			wantReason: ReasonLookupFailed,
		},
		{
			name:       "unscoped preflight reflects",
			policy:     PolicyStrict,
			req:        Request{Origin: "https://example.com", Method: http.MethodOptions, Unscoped: true},
			wantAllow:  true,
			wantOrigin: "https://example.com",
			wantReason: ReasonUnscoped,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New(testHeaders, tt.policy, logging.Nop())
			d := g.Decide(context.Background(), tt.req)

			assert.Equal(t, tt.wantAllow, d.Allow)
			assert.Equal(t, tt.wantOrigin, d.Origin)
			assert.Equal(t, tt.wantReason, d.Reason)
			assert.Equal(t, tt.req.Method == http.MethodOptions, d.Preflight)
		})
	}
}

func TestApply(t *testing.T) {
	g := New(testHeaders, PolicyStrict, logging.Nop())
	ctx := context.Background()

	t.Run("allowed origin is reflected with credentials", func(t *testing.T) {
		h := http.Header{}
		g.Apply(h, g.Decide(ctx, Request{Origin: "https://sub.example.com", Method: http.MethodPost, Domain: "example.com"}))

		assert.Equal(t, "https://sub.example.com", h.Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", h.Get("Access-Control-Allow-Credentials"))
		assert.Equal(t, "POST, OPTIONS, GET", h.Get("Access-Control-Allow-Methods"))
		assert.Equal(t, "86400", h.Get("Access-Control-Max-Age"))
	})

	t.Run("denied preflight still lists methods and headers", func(t *testing.T) {
		h := http.Header{}
		g.Apply(h, g.Decide(ctx, Request{Origin: "https://evil.com", Method: http.MethodOptions, Domain: "example.com"}))

		assert.Empty(t, h.Get("Access-Control-Allow-Origin"))
		assert.Empty(t, h.Get("Access-Control-Allow-Credentials"))
		assert.NotEmpty(t, h.Get("Access-Control-Allow-Methods"))
		assert.NotEmpty(t, h.Get("Access-Control-Allow-Headers"))
	})

	t.Run("lookup failure sets nothing on a post", func(t *testing.T) {
		h := http.Header{}
		g.Apply(h, g.Decide(ctx, Request{Origin: "https://example.com", Method: http.MethodPost, LookupErr: errors.New("down")}))
		assert.Empty(t, h)
	})

	t.Run("no origin post sets nothing", func(t *testing.T) {
		h := http.Header{}
		g.Apply(h, g.Decide(ctx, Request{Method: http.MethodPost, Domain: "example.com"}))
		assert.Empty(t, h)
	})

	t.Run("no origin preflight gets generic headers", func(t *testing.T) {
		h := http.Header{}
		g.Apply(h, g.Decide(ctx, Request{Method: http.MethodOptions}))
		assert.Empty(t, h.Get("Access-Control-Allow-Origin"))
		assert.NotEmpty(t, h.Get("Access-Control-Allow-Methods"))
	})
}

func TestMatchesDomain(t *testing.T) {
	tests := []struct {
		host, domain string
		want         bool
	}{
		{"example.com", "example.com", true},
		{"a.b.example.com", "example.com", true},
		{"EXAMPLE.com", "Example.COM", true},
		{"example.com", "example.com:8443", true},
		{"example.com.evil.com", "example.com", false},
		{"example.com", "", false},
		{"", "example.com", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MatchesDomain(tt.host, tt.domain), "%s vs %s", tt.host, tt.domain)
	}
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyLenient, p)

	p, err = ParsePolicy("STRICT")
	require.NoError(t, err)
	assert.Equal(t, PolicyStrict, p)

	_, err = ParsePolicy("open")
	assert.Error(t, err)
}
