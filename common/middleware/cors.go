package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSHeaders is the fixed part of a CORS response. The origin decision is
// made by the caller; this type only knows how to write the headers.
type CORSHeaders struct {
	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         int
}

// WritePreflight sets Allow-Methods, Allow-Headers and Max-Age without
// reflecting any origin.
func (c CORSHeaders) WritePreflight(h http.Header) {
	h.Set("Access-Control-Allow-Methods", strings.Join(c.AllowedMethods, ", "))
	h.Set("Access-Control-Allow-Headers", strings.Join(c.AllowedHeaders, ", "))

	maxAge := 300
	if c.MaxAge > 0 {
		maxAge = c.MaxAge
	}
	h.Set("Access-Control-Max-Age", strconv.Itoa(maxAge))
}

// WriteAllowed reflects origin with credentials enabled. Origin is never "*".
func (c CORSHeaders) WriteAllowed(h http.Header, origin string) {
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Credentials", "true")
	h.Add("Vary", "Origin")
	c.WritePreflight(h)
}

