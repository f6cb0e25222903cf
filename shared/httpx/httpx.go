package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Error codes carried in the envelope. Clients branch on these, not on
// the message text.
const (
	CodeInvalidArgument    = "INVALID_ARGUMENT"
	CodeNotFound           = "NOT_FOUND"
	CodeFailedPrecondition = "FAILED_PRECONDITION"
	CodeBodyTooLarge       = "PAYLOAD_TOO_LARGE"
	CodeRateLimited        = "RESOURCE_EXHAUSTED"
	CodeForbidden          = "FORBIDDEN"
	CodeTimeout            = "TIMEOUT"
	CodeInternal           = "INTERNAL_ERROR"
)

// DefaultMaxBody bounds request bodies when the caller does not pick a
// limit. Raw batches from the scrapers stay well under it.
const DefaultMaxBody int64 = 8 << 20

type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Details   any    `json:"details,omitempty"`
}

// Error is a client-facing failure with its HTTP status already decided.
type Error struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

func InvalidArgument(message string, details any) *Error {
	return &Error{Status: http.StatusBadRequest, Code: CodeInvalidArgument, Message: message, Details: details}
}

func NotFound(message string) *Error {
	return &Error{Status: http.StatusNotFound, Code: CodeNotFound, Message: message}
}

func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, r *http.Request, statusCode int, code string, message string, details any) {
	WriteJSON(w, statusCode, ErrorEnvelope{
		Error: ErrorBody{
			Code:      code,
			Message:   message,
			RequestID: RequestIDFromContext(r.Context()),
			Details:   details,
		},
	})
}

// WriteErr writes err as an envelope. Anything that is not an *Error is
// reported as an internal error without leaking its text.
func WriteErr(w http.ResponseWriter, r *http.Request, err error) {
	var e *Error
	if errors.As(err, &e) {
		WriteError(w, r, e.Status, e.Code, e.Message, e.Details)
		return
	}
	WriteError(w, r, http.StatusInternalServerError, CodeInternal, "internal server error", nil)
}

// ReadJSON decodes a single JSON document of at most maxBytes into dst.
// Unknown fields are rejected and numbers are kept as json.Number so raw
// batch cells survive untouched. Failures come back as *Error.
func ReadJSON(r *http.Request, maxBytes int64, dst any) error {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBody
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBytes))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return decodeError(err, maxBytes)
	}
	if dec.More() {
		return InvalidArgument("request body must hold a single JSON document", nil)
	}
	return nil
}

func decodeError(err error, limit int64) *Error {
	var (
		tooLarge *http.MaxBytesError
		syntax   *json.SyntaxError
		typ      *json.UnmarshalTypeError
	)
	switch {
	case errors.As(err, &tooLarge):
		return &Error{
			Status:  http.StatusRequestEntityTooLarge,
			Code:    CodeBodyTooLarge,
			Message: "request body too large",
			Details: map[string]any{"limit_bytes": limit},
		}
	case errors.As(err, &syntax):
		return InvalidArgument("malformed JSON", map[string]any{"offset": syntax.Offset})
	case errors.As(err, &typ):
		return InvalidArgument("invalid request body", map[string]any{"field": typ.Field, "expected": typ.Type.String()})
	case errors.Is(err, io.EOF):
		return InvalidArgument("request body is empty", nil)
	case errors.Is(err, io.ErrUnexpectedEOF):
		return InvalidArgument("malformed JSON", nil)
	}
	if field, ok := strings.CutPrefix(err.Error(), "json: unknown field "); ok {
		return InvalidArgument("invalid request body", map[string]any{"unknown_field": strings.Trim(field, `"`)})
	}
	return InvalidArgument(fmt.Sprintf("invalid request body: %v", err), nil)
}
