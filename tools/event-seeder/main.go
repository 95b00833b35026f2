package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"
)

var (
	basketURL  = flag.String("url", "http://localhost:4000", "basket base URL")
	clientID   = flag.String("client-id", "", "website client id (required)")
	origin     = flag.String("origin", "", "Origin header to send (default: https://<random domain>)")
	count      = flag.Int("count", 100, "Number of events to generate")
	interval   = flag.Duration("interval", 100*time.Millisecond, "Interval between events")
	eventTypes = flag.String("types", "pageview,track,vitals,alias,increment", "Comma-separated list of event kinds")
	timeSpread = flag.Duration("time-spread", 24*time.Hour, "Spread events over this time period (0 for real-time)")
	batchSize  = flag.Int("batch-size", 10, "Number of events per batch")
	visitors   = flag.Int("visitors", 25, "Number of distinct anonymous visitors")
)

const clientIDHeader = "databuddy-client-id"

// Event is one entry of a /basket/batch body.
type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type visitor struct {
	anonymousID string
	sessionID   string
	userAgent   string
	language    string
	timezone    string
	screen      string
	started     time.Time
}

func main() {
	flag.Parse()

	if *clientID == "" {
		log.Fatal("client id is required. Use -client-id flag")
	}
	if *batchSize < 1 {
		*batchSize = 1
	}

	gofakeit.Seed(time.Now().UnixNano())

	log.Printf("Starting event seeder:")
	log.Printf("  Basket URL: %s", *basketURL)
	log.Printf("  Client ID: %s", *clientID)
	log.Printf("  Event count: %d", *count)
	log.Printf("  Interval: %v", *interval)
	log.Printf("  Batch size: %d", *batchSize)
	log.Printf("  Time spread: %v", *timeSpread)

	types := parseEventTypes(*eventTypes)
	log.Printf("  Event types: %v", types)

	org := *origin
	if org == "" {
		org = "https://" + gofakeit.DomainName()
	}
	pool := newVisitors(*visitors, time.Now())

	client := &http.Client{
		Timeout: 10 * time.Second,
	}

	successCount := 0
	failCount := 0

	batch := make([]Event, 0, *batchSize)

	for i := 0; i < *count; i++ {
		v := pool[rand.Intn(len(pool))]
		batch = append(batch, generateEvent(types[rand.Intn(len(types))], v, eventTime(time.Now())))

		if len(batch) >= *batchSize || i == *count-1 {
			if err := sendBatch(client, *basketURL, *clientID, org, v.userAgent, batch); err != nil {
				log.Printf("Failed to send batch: %v", err)
				failCount += len(batch)
			} else {
				successCount += len(batch)
				if successCount%50 == 0 {
					log.Printf("Progress: %d/%d events sent", successCount, *count)
				}
			}
			batch = batch[:0]
		}

		if *interval > 0 && i < *count-1 {
			time.Sleep(*interval)
		}
	}

	log.Printf("\nSeeding complete:")
	log.Printf("  Success: %d events", successCount)
	log.Printf("  Failed: %d events", failCount)
}

func parseEventTypes(types string) []string {
	var result []string
	for _, t := range strings.Split(types, ",") {
		if t = strings.TrimSpace(t); t != "" {
			result = append(result, t)
		}
	}
	if len(result) == 0 {
		result = []string{"pageview"}
	}
	return result
}

func newVisitors(n int, now time.Time) []visitor {
	if n < 1 {
		n = 1
	}
	out := make([]visitor, n)
	for i := range out {
		out[i] = visitor{
			anonymousID: "anon_" + gofakeit.UUID(),
			sessionID:   "sess_" + gofakeit.UUID(),
			userAgent:   gofakeit.UserAgent(),
			language:    gofakeit.RandomString([]string{"en-US", "en-GB", "de-DE", "fr-FR", "es-ES", "ja-JP"}),
			timezone:    gofakeit.TimeZoneRegion(),
			screen:      gofakeit.RandomString([]string{"1920x1080", "1440x900", "2560x1440", "390x844", "412x915"}),
			started:     now.Add(-time.Duration(rand.Intn(1800)) * time.Second),
		}
	}
	return out
}

func eventTime(now time.Time) time.Time {
	if *timeSpread > 0 {
		return now.Add(-time.Duration(rand.Int63n(int64(*timeSpread))))
	}
	return now
}

func generateEvent(kind string, v visitor, at time.Time) Event {
	switch kind {
	case "track":
		return generateTrackEvent(v, at)
	case "vitals":
		return generateVitalsEvent(v, at)
	case "alias":
		return generateAliasEvent(v, at)
	case "increment", "decrement":
		return generateCounterEvent(kind, v, at)
	default:
		return generatePageviewEvent(v, at)
	}
}

// basePayload carries the fields the browser SDK attaches to every event.
func basePayload(v visitor, at time.Time) map[string]any {
	return map[string]any{
		"eventId":           gofakeit.UUID(),
		"anonymousId":       v.anonymousID,
		"sessionId":         v.sessionID,
		"sessionStartTime":  v.started.UnixMilli(),
		"timestamp":         at.UnixMilli(),
		"language":          v.language,
		"timezone":          v.timezone,
		"screen_resolution": v.screen,
		"__sdk_name":        "event-seeder",
		"__sdk_version":     "1.0.0",
	}
}

func randomPath() string {
	paths := []string{
		"/",
		"/pricing",
		"/docs",
		"/docs/getting-started",
		"/blog",
		"/blog/" + gofakeit.Word(),
		"/signup",
		"/login",
	}
	return paths[rand.Intn(len(paths))]
}

func generatePageviewEvent(v visitor, at time.Time) Event {
	p := basePayload(v, at)
	p["name"] = "screen_view"
	p["path"] = randomPath()
	p["title"] = gofakeit.Sentence(3)
	p["time_on_page"] = gofakeit.Float64Range(0.5, 300)
	p["scroll_depth"] = float64(rand.Intn(101))
	p["interaction_count"] = rand.Intn(20)
	p["is_bounce"] = rand.Float32() < 0.4

	if rand.Float32() < 0.5 {
		p["referrer"] = gofakeit.RandomString([]string{
			"https://www.google.com/",
			"https://duckduckgo.com/",
			"https://t.co/" + gofakeit.LetterN(8),
			"https://news.ycombinator.com/",
			"https://" + gofakeit.DomainName() + "/",
		})
	}
	if rand.Float32() < 0.2 {
		p["utm_source"] = gofakeit.RandomString([]string{"newsletter", "twitter", "google"})
		p["utm_medium"] = gofakeit.RandomString([]string{"email", "social", "cpc"})
		p["utm_campaign"] = gofakeit.BuzzWord()
	}
	return Event{Type: "track", Payload: p}
}

func generateTrackEvent(v visitor, at time.Time) Event {
	p := basePayload(v, at)
	p["name"] = gofakeit.RandomString([]string{"signup", "button_click", "checkout", "download", "search"})
	p["path"] = randomPath()
	p["properties"] = map[string]any{
		"plan":   gofakeit.RandomString([]string{"free", "pro", "team"}),
		"button": gofakeit.HackerVerb(),
		"value":  gofakeit.Price(1, 500),
	}
	return Event{Type: "track", Payload: p}
}

func generateVitalsEvent(v visitor, at time.Time) Event {
	p := basePayload(v, at)
	p["name"] = "web_vitals"
	p["path"] = randomPath()
	p["load_time"] = gofakeit.Float64Range(200, 4000)
	p["dom_ready_time"] = gofakeit.Float64Range(100, 2500)
	p["ttfb"] = gofakeit.Float64Range(20, 800)
	p["fcp"] = gofakeit.Float64Range(300, 3000)
	p["lcp"] = gofakeit.Float64Range(800, 5000)
	p["cls"] = gofakeit.Float64Range(0, 0.5)
	p["inp"] = gofakeit.Float64Range(20, 600)
	p["connection_type"] = gofakeit.RandomString([]string{"4g", "wifi", "3g"})
	p["rtt"] = float64(rand.Intn(300))
	return Event{Type: "track", Payload: p}
}

func generateAliasEvent(v visitor, at time.Time) Event {
	p := basePayload(v, at)
	p["previousId"] = "anon_" + gofakeit.UUID()
	return Event{Type: "alias", Payload: p}
}

func generateCounterEvent(kind string, v visitor, at time.Time) Event {
	p := basePayload(v, at)
	p["name"] = gofakeit.RandomString([]string{"cart_items", "credits", "seats"})
	p["value"] = float64(rand.Intn(5) + 1)
	return Event{Type: kind, Payload: p}
}

func sendBatch(client *http.Client, baseURL, clientID, origin, userAgent string, events []Event) error {
	body, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("failed to encode batch: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(baseURL, "/")+"/basket/batch", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set(clientIDHeader, clientID)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", origin)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Referer", origin+"/")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
