package enrich

import (
	"net/url"
	"strings"

	"github.com/databuddy-analytics/databuddy/basket/internal/models"
)

// Referrer types.
const (
	ReferrerDirect   = "direct"
	ReferrerSearch   = "search"
	ReferrerSocial   = "social"
	ReferrerEmail    = "email"
	ReferrerInternal = "internal"
	ReferrerOther    = "referral"
)

type knownSource struct {
	name string
	kind string
}

// Keyed by registrable domain without "www.".
var knownSources = map[string]knownSource{
	"google.com":           {"Google", ReferrerSearch},
	"bing.com":             {"Bing", ReferrerSearch},
	"duckduckgo.com":       {"DuckDuckGo", ReferrerSearch},
	"yahoo.com":            {"Yahoo", ReferrerSearch},
	"yandex.ru":            {"Yandex", ReferrerSearch},
	"yandex.com":           {"Yandex", ReferrerSearch},
	"baidu.com":            {"Baidu", ReferrerSearch},
	"ecosia.org":           {"Ecosia", ReferrerSearch},
	"search.brave.com":     {"Brave Search", ReferrerSearch},
	"startpage.com":        {"Startpage", ReferrerSearch},
	"perplexity.ai":        {"Perplexity", ReferrerSearch},
	"chatgpt.com":          {"ChatGPT", ReferrerSearch},
	"facebook.com":         {"Facebook", ReferrerSocial},
	"m.facebook.com":       {"Facebook", ReferrerSocial},
	"l.facebook.com":       {"Facebook", ReferrerSocial},
	"instagram.com":        {"Instagram", ReferrerSocial},
	"twitter.com":          {"Twitter", ReferrerSocial},
	"x.com":                {"Twitter", ReferrerSocial},
	"t.co":                 {"Twitter", ReferrerSocial},
	"linkedin.com":         {"LinkedIn", ReferrerSocial},
	"lnkd.in":              {"LinkedIn", ReferrerSocial},
	"reddit.com":           {"Reddit", ReferrerSocial},
	"old.reddit.com":       {"Reddit", ReferrerSocial},
	"news.ycombinator.com": {"Hacker News", ReferrerSocial},
	"youtube.com":          {"YouTube", ReferrerSocial},
	"tiktok.com":           {"TikTok", ReferrerSocial},
	"pinterest.com":        {"Pinterest", ReferrerSocial},
	"github.com":           {"GitHub", ReferrerSocial},
	"mail.google.com":      {"Gmail", ReferrerEmail},
	"outlook.live.com":     {"Outlook", ReferrerEmail},
	"mail.yahoo.com":       {"Yahoo Mail", ReferrerEmail},
}

// ParseReferrer turns a Referer header into a structured referrer. currentHost
// is the host of the page being tracked; a referrer on the same host is
// internal. An empty or unparseable value is direct traffic.
func ParseReferrer(raw, currentHost string) models.Referrer {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return models.Referrer{Type: ReferrerDirect}
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return models.Referrer{URL: raw, Type: ReferrerDirect}
	}

	domain := NormalizeHost(u.Hostname())
	ref := models.Referrer{URL: raw, Domain: domain, Type: ReferrerOther, Name: domain}

	if currentHost != "" && domain == NormalizeHost(currentHost) {
		ref.Type = ReferrerInternal
		return ref
	}

	if src, ok := lookupSource(domain); ok {
		ref.Type = src.kind
		ref.Name = src.name
		return ref
	}
	if strings.HasPrefix(domain, "mail.") || strings.HasPrefix(domain, "webmail.") {
		ref.Type = ReferrerEmail
	}
	return ref
}

// lookupSource matches the exact host first, then strips leading labels so
// that country and regional subdomains resolve to their parent.
func lookupSource(domain string) (knownSource, bool) {
	for d := domain; d != ""; {
		if src, ok := knownSources[d]; ok {
			return src, true
		}
		i := strings.IndexByte(d, '.')
		if i < 0 {
			break
		}
		d = d[i+1:]
		if !strings.Contains(d, ".") {
			break
		}
	}
	// google.co.uk, google.de and friends
	if name, _, ok := strings.Cut(domain, "."); ok {
		switch name {
		case "google", "bing", "yahoo", "yandex":
			return knownSources[name+".com"], true
		}
	}
	return knownSource{}, false
}

// NormalizeHost lower-cases host and strips a leading "www." and any port.
func NormalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, ok := strings.Cut(host, ":"); ok && !strings.Contains(host, "]") {
		host = h
	}
	host = strings.TrimSuffix(host, ".")
	return strings.TrimPrefix(host, "www.")
}
