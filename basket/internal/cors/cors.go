// Package cors decides, per tenant, whether a browser origin may submit
// events and writes the matching response headers.
package cors

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/databuddy-analytics/databuddy/basket/internal/enrich"
	"github.com/databuddy-analytics/databuddy/basket/internal/metrics"
	"github.com/databuddy-analytics/databuddy/common/logging"
	"github.com/databuddy-analytics/databuddy/common/middleware"
)

// Policy controls what happens to an origin that does not match the
// tenant's registered domain.
type Policy string

const (
	// PolicyLenient allows mismatched origins and logs a warning.
	PolicyLenient Policy = "lenient"
	// PolicyStrict rejects mismatched origins.
	PolicyStrict Policy = "strict"
)

// ParsePolicy accepts "lenient" or "strict"; empty means lenient.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(s)) {
	case "", PolicyLenient:
		return PolicyLenient, nil
	case PolicyStrict:
		return PolicyStrict, nil
	}
	return "", fmt.Errorf("unknown cors policy %q", s)
}

// Reasons recorded on a Decision.
const (
	ReasonNoOrigin        = "no_origin"
	ReasonLocalhost       = "localhost"
	ReasonMatch           = "match"
	ReasonUnscoped        = "unscoped_preflight"
	ReasonMismatchAllowed = "mismatch_allowed"
	ReasonMismatchDenied  = "mismatch_denied"
	ReasonLookupFailed    = "lookup_failed"
)

// Request is the input to Decide.
type Request struct {
	Origin string
	Method string
	// Domain is the tenant's registered domain, possibly empty.
	Domain string
	// Unscoped is set for preflights that carry no client id. The real
	// request is checked again once the tenant is known.
	Unscoped bool
	// LookupErr is set when the tenant's domain could not be determined.
	LookupErr error
}

// Decision is the outcome for one request.
type Decision struct {
	Allow     bool
	Preflight bool
	// Origin is the value to reflect, empty when no origin is reflected.
	Origin string
	Reason string
}

// Gatekeeper applies the origin rules for one deployment.
type Gatekeeper struct {
	headers middleware.CORSHeaders
	policy  Policy
	logger  *logging.Logger
}

// New creates a Gatekeeper.
func New(headers middleware.CORSHeaders, policy Policy, logger *logging.Logger) *Gatekeeper {
	if policy == "" {
		policy = PolicyLenient
	}
	return &Gatekeeper{
		headers: headers,
		policy:  policy,
		logger:  logging.OrDefault(logger).With(logging.Component("cors")),
	}
}

// Policy returns the configured mismatch policy.
func (g *Gatekeeper) Policy() Policy { return g.policy }

// Decide evaluates req. It never writes to the response.
func (g *Gatekeeper) Decide(ctx context.Context, req Request) Decision {
	d := g.decide(req)
	metrics.CORSDecisions.WithLabelValues(d.Reason).Inc()

	switch d.Reason {
	case ReasonMismatchAllowed:
		g.logger.WarnContext(ctx, "origin does not match website domain, allowing",
			logging.Origin(req.Origin), "domain", req.Domain)
	case ReasonMismatchDenied:
		g.logger.WarnContext(ctx, "origin does not match website domain, rejecting",
			logging.Origin(req.Origin), "domain", req.Domain)
	case ReasonLookupFailed:
		g.logger.WarnContext(ctx, "website domain unavailable, blocking origin",
			logging.Origin(req.Origin), logging.Error(req.LookupErr))
	}
	return d
}

func (g *Gatekeeper) decide(req Request) Decision {
	d := Decision{Preflight: req.Method == http.MethodOptions}

	if req.Origin == "" {
		d.Allow = true
		d.Reason = ReasonNoOrigin
		return d
	}
	if req.LookupErr != nil {
		d.Reason = ReasonLookupFailed
		return d
	}

	host := originHost(req.Origin)
	switch {
	case isLocalhost(host):
		d.Reason = ReasonLocalhost
	case req.Unscoped:
		d.Reason = ReasonUnscoped
	case MatchesDomain(host, req.Domain):
		d.Reason = ReasonMatch
	case g.policy == PolicyStrict:
		d.Reason = ReasonMismatchDenied
		return d
	default:
		d.Reason = ReasonMismatchAllowed
	}

	d.Allow = true
	d.Origin = req.Origin
	return d
}

// Apply writes the headers for d. Preflights always get the method and
// header lists; the origin is only reflected when allowed.
func (g *Gatekeeper) Apply(h http.Header, d Decision) {
	switch {
	case d.Allow && d.Origin != "":
		g.headers.WriteAllowed(h, d.Origin)
	case d.Preflight:
		g.headers.WritePreflight(h)
	}
}

// MatchesDomain reports whether host is domain or one of its subdomains.
// domain may carry a scheme, a port or a leading "www.".
func MatchesDomain(host, domain string) bool {
	domain = normalizeDomain(domain)
	host = enrich.NormalizeHost(host)
	if host == "" || domain == "" {
		return false
	}
	return host == domain || strings.HasSuffix(host, "."+domain)
}

func normalizeDomain(domain string) string {
	domain = strings.TrimSpace(domain)
	if strings.Contains(domain, "://") {
		if u, err := url.Parse(domain); err == nil {
			domain = u.Host
		}
	}
	domain, _, _ = strings.Cut(domain, "/")
	return enrich.NormalizeHost(domain)
}

func originHost(origin string) string {
	u, err := url.Parse(origin)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func isLocalhost(host string) bool {
	switch host {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return strings.HasSuffix(host, ".localhost")
}
