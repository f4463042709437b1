// Package respond writes the JSON envelope shared by every API route.
package respond

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/uuru/uuru/internal/apperr"
)

// maxRequestBodySize caps JSON request bodies.
const maxRequestBodySize = 1 << 20

// Envelope is the standard API response wrapper:
// { "data": ..., "error": ... }
type Envelope struct {
	Data  any    `json:"data"`
	Error string `json:"error,omitempty"`
}

// JSON writes data with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(Envelope{Data: data}); err != nil {
		slog.Error("failed to encode json response", "error", err)
	}
}

// Error writes an error message with the given status code.
func Error(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(Envelope{Error: msg}); err != nil {
		slog.Error("failed to encode json error response", "error", err)
	}
}

// Err maps err to a status through its apperr kind. Errors without a kind
// are logged and reported as internal errors.
func Err(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindInternal {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	Error(w, kind.Status(), apperr.Message(err))
}

// Decode reads a single JSON object from the request body into dst.
// It returns an error message suitable for the client, or "".
func Decode(r *http.Request, dst any) string {
	r.Body = http.MaxBytesReader(nil, r.Body, maxRequestBodySize)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return "request body must not be empty"
		case errors.As(err, &syntaxErr), errors.Is(err, io.ErrUnexpectedEOF):
			return "malformed json"
		case errors.As(err, &typeErr):
			return fmt.Sprintf("invalid value for field %q", typeErr.Field)
		case strings.HasPrefix(err.Error(), "json: unknown field "):
			return "unknown field " + strings.TrimPrefix(err.Error(), "json: unknown field ")
		case errors.As(err, &maxErr):
			return "request body too large"
		default:
			return "invalid request body"
		}
	}
	if dec.More() {
		return "request body must contain a single json object"
	}
	return ""
}
