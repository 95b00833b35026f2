// Package apierr is the single place where pipeline errors become HTTP
// responses.
package apierr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/databuddy-analytics/databuddy/basket/internal/metrics"
	"github.com/databuddy-analytics/databuddy/basket/internal/validator"
	"github.com/databuddy-analytics/databuddy/common/httputil"
	"github.com/databuddy-analytics/databuddy/common/logging"
)

// Kind classifies an Error.
type Kind string

const (
	KindAuth         Kind = "auth"
	KindOrigin       Kind = "origin"
	KindValidation   Kind = "validation"
	KindLimit        Kind = "limit"
	KindLookupFailed Kind = "lookup_failed"
	KindProcessing   Kind = "processing"
	KindInternal     Kind = "internal"
)

// Client-facing messages.
const (
	MsgMissingClientID = "Missing client ID"
	MsgInvalidClientID = "Invalid client ID"
	MsgInactive        = "Website is not active"
	MsgOriginDenied    = "Origin not allowed"
	MsgInvalidSchema   = "Invalid event schema"
	MsgTooLarge        = "Request body too large"
	MsgRateLimited     = "Too many requests"
	MsgInternal        = "Internal server error"
)

// Error is a pipeline failure with its HTTP mapping.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Fields  []validator.FieldError
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Auth covers a missing, unknown or inactive client id.
func Auth(status int, msg string) *Error {
	return &Error{Kind: KindAuth, Status: status, Message: msg}
}

// Origin rejects a CORS-disallowed request.
func Origin() *Error {
	return &Error{Kind: KindOrigin, Status: http.StatusForbidden, Message: MsgOriginDenied}
}

// Validation carries field-level schema violations.
func Validation(fields []validator.FieldError) *Error {
	return &Error{Kind: KindValidation, Status: http.StatusBadRequest, Message: MsgInvalidSchema, Fields: fields}
}

// Limit covers body size and rate limits.
func Limit(status int, msg string) *Error {
	return &Error{Kind: KindLimit, Status: status, Message: msg}
}

// LookupFailed reports an unavailable tenant directory.
func LookupFailed(err error) *Error {
	return &Error{Kind: KindLookupFailed, Status: http.StatusInternalServerError, Message: MsgInternal, Err: err}
}

// Processing reports a sink failure for a single event.
func Processing(err error) *Error {
	return &Error{Kind: KindProcessing, Status: http.StatusInternalServerError, Message: MsgInternal, Err: err}
}

// Internal wraps anything unexpected.
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Status: http.StatusInternalServerError, Message: MsgInternal, Err: err}
}

type body struct {
	Error  string                 `json:"error"`
	Errors []validator.FieldError `json:"errors,omitempty"`
}

// Writer renders errors. When exposeInternal is set, 5xx bodies carry the
// underlying error text instead of a generic message.
type Writer struct {
	exposeInternal bool
	logger         *logging.Logger
}

// NewWriter creates a Writer.
func NewWriter(exposeInternal bool, logger *logging.Logger) *Writer {
	return &Writer{
		exposeInternal: exposeInternal,
		logger:         logging.OrDefault(logger).With(logging.Component("apierr")),
	}
}

// Write sends err as a JSON response. Errors that are not *Error are
// treated as internal.
func (wr *Writer) Write(w http.ResponseWriter, r *http.Request, err error) {
	var e *Error
	if !errors.As(err, &e) {
		e = Internal(err)
	}

	b := body{Error: e.Message, Errors: e.Fields}
	if e.Status >= http.StatusInternalServerError {
		wr.logger.ErrorContext(r.Context(), "request failed",
			"kind", string(e.Kind), logging.Path(r.URL.Path), logging.Error(e.Err))
		if wr.exposeInternal && e.Err != nil {
			b.Error = e.Err.Error()
		}
	}

	metrics.RejectedRequests.WithLabelValues(string(e.Kind)).Inc()
	httputil.WriteJSON(w, e.Status, b)
}

// Panic renders a recovered panic. It matches middleware.PanicHandler.
func (wr *Writer) Panic(w http.ResponseWriter, r *http.Request, recovered any) {
	wr.Write(w, r, Internal(fmt.Errorf("panic: %v", recovered)))
}
