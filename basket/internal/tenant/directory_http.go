package tenant

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/databuddy-analytics/databuddy/basket/internal/models"
)

// HTTPDirectory looks websites up through the API service.
type HTTPDirectory struct {
	baseURL    string
	secret     []byte
	httpClient *http.Client
	now        func() time.Time
}

// NewHTTPDirectory creates a client for baseURL. When secret is non-empty
// every request carries a short-lived HS256 service token.
func NewHTTPDirectory(baseURL, secret string, timeout time.Duration) *HTTPDirectory {
	return &HTTPDirectory{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  []byte(secret),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		now: time.Now,
	}
}

const serviceTokenTTL = time.Minute

func (d *HTTPDirectory) serviceToken() (string, error) {
	now := d.now()
	claims := jwt.RegisteredClaims{
		Issuer:    "basket",
		Subject:   "basket",
		Audience:  jwt.ClaimStrings{"websites"},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(serviceTokenTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(d.secret)
}

func (d *HTTPDirectory) FindByID(ctx context.Context, id string) (*models.Website, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/v1/websites/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	request.Header.Set("Accept", "application/json")

	if len(d.secret) > 0 {
		token, err := d.serviceToken()
		if err != nil {
			return nil, fmt.Errorf("sign service token: %w", err)
		}
		request.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := d.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("directory returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var w models.Website
	if err := json.NewDecoder(resp.Body).Decode(&w); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if w.ID == "" {
		return nil, fmt.Errorf("decode response: website has no id")
	}
	return &w, nil
}
