package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/storefront/api/internal/platform/requestctx"
)

const (
	maxCodeLen    = 80
	maxMessageLen = 512
	maxIDLen      = 80
)

// Error is the JSON error envelope every endpoint answers with:
//
//	{"error": "<code>", "message": "...", "status": 409, "request_id": "...", "trace_id": "..."}
//
// Details are merged into the top level but never replace the fields above.
type Error struct {
	Code       string
	Message    string
	Status     int
	RequestID  string
	TraceID    string
	Details    map[string]any
	RetryAfter time.Duration
}

func (e Error) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

// NewError builds an envelope. A zero status means 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    oneLine(code, maxCodeLen),
		Message: oneLine(message, maxMessageLen),
		Status:  status,
	}
}

func NewErrorf(code string, status int, format string, args ...any) Error {
	return NewError(code, fmt.Sprintf(format, args...), status)
}

func (e Error) WithRequestID(id string) Error {
	e.RequestID = oneLine(id, maxIDLen)
	return e
}

func (e Error) WithTraceID(id string) Error {
	e.TraceID = oneLine(id, maxIDLen)
	return e
}

// WithDetails attaches extra top-level fields, e.g. failed_products on a stock conflict.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) > 0 {
		e.Details = maps.Clone(details)
	}
	return e
}

// WithRetryAfter sets the Retry-After header, rounded up to whole seconds.
func (e Error) WithRetryAfter(d time.Duration) Error {
	e.RetryAfter = d
	return e
}

func (e Error) payload(ctx context.Context) map[string]any {
	out := make(map[string]any, len(e.Details)+5)
	for k, v := range e.Details {
		out[k] = v
	}
	out["error"] = e.Code
	out["message"] = e.Message
	out["status"] = e.Status

	requestID := e.RequestID
	if requestID == "" {
		requestID = oneLine(middleware.GetReqID(ctx), maxIDLen)
	}
	if requestID != "" {
		out["request_id"] = requestID
	} else {
		delete(out, "request_id")
	}

	traceID := e.TraceID
	if traceID == "" {
		traceID = oneLine(requestctx.TraceID(ctx), maxIDLen)
	}
	if traceID != "" {
		out["trace_id"] = traceID
	} else {
		delete(out, "trace_id")
	}
	return out
}

// WriteError renders err, filling request and trace ids from ctx when unset.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	if err.Status == 0 {
		err.Status = http.StatusInternalServerError
	}
	if err.RetryAfter > 0 {
		seconds := int((err.RetryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Status)
	_ = json.NewEncoder(w).Encode(err.payload(ctx))
}

// oneLine flattens control characters to spaces, trims, and cuts value to limit bytes.
func oneLine(value string, limit int) string {
	value = strings.TrimSpace(strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, value))
	if len(value) > limit {
		value = strings.ToValidUTF8(value[:limit], "")
	}
	return value
}
