package models

import "time"

// Geo is a coarse location derived from the client IP.
type Geo struct {
	Country  string `json:"country,omitempty"`
	Region   string `json:"region,omitempty"`
	City     string `json:"city,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// Referrer is the parsed Referer header.
type Referrer struct {
	URL    string `json:"url,omitempty"`
	Domain string `json:"domain,omitempty"`
	Type   string `json:"type,omitempty"`
	Name   string `json:"name,omitempty"`
}

// UTM holds campaign parameters.
type UTM struct {
	Source   string `json:"source,omitempty"`
	Medium   string `json:"medium,omitempty"`
	Campaign string `json:"campaign,omitempty"`
	Term     string `json:"term,omitempty"`
	Content  string `json:"content,omitempty"`
}

// EnrichmentContext is request metadata derived once per request. Values are
// passed down the pipeline and never modified after creation. IP is always
// anonymized.
type EnrichmentContext struct {
	URL            string    `json:"url,omitempty"`
	Path           string    `json:"path,omitempty"`
	UserAgent      string    `json:"user_agent,omitempty"`
	Browser        string    `json:"browser,omitempty"`
	BrowserVersion string    `json:"browser_version,omitempty"`
	OS             string    `json:"os,omitempty"`
	OSVersion      string    `json:"os_version,omitempty"`
	DeviceType     string    `json:"device_type,omitempty"`
	Language       string    `json:"language,omitempty"`
	IP             string    `json:"ip,omitempty"`
	Geo            Geo       `json:"geo"`
	Referrer       Referrer  `json:"referrer"`
	UTM            UTM       `json:"utm"`
	ReceivedAt     time.Time `json:"received_at"`
}
