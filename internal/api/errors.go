package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fortune-cook1e/iot-smart-parking-system/internal/result"
)

// statusFor maps a failure code onto an HTTP status.
func statusFor(code result.Code) int {
	switch code {
	case result.CodeValidation, result.CodeBadRequest:
		return http.StatusBadRequest
	case result.CodeUnauthorized, result.CodeTokenExpired, result.CodeTokenInvalid, result.CodeTokenRevoked:
		return http.StatusUnauthorized
	case result.CodeNotFound:
		return http.StatusNotFound
	case result.CodeConflict:
		return http.StatusConflict
	case result.CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeOK writes a successful Result envelope.
func writeOK[T any](w http.ResponseWriter, status int, data T) {
	writeJSON(w, status, result.Ok(data))
}

// okMessage is a successful envelope that also carries a human-readable message.
type okMessage[T any] struct {
	result.Result[T]
	Message string `json:"message,omitempty"`
}

// writeOKMessage writes a successful Result envelope with a message.
func writeOKMessage[T any](w http.ResponseWriter, status int, data T, message string) {
	writeJSON(w, status, okMessage[T]{Result: result.Ok(data), Message: message})
}

// writeError writes a failed Result envelope. Internal failures are logged
// and their detail is never sent to the client.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := result.CodeOf(err)
	if code == result.CodeInternal {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", r.Context().Value(ctxKeyRequestID),
			"error", err,
		)
	}
	writeJSON(w, statusFor(code), result.Fail[any](err))
}

// writeFailure writes a failed envelope for a code and message.
func writeFailure(w http.ResponseWriter, code result.Code, message string) {
	writeJSON(w, statusFor(code), result.Fail[any](result.New(code, message)))
}

// decodeJSON decodes the request body into dst. Oversized and malformed
// bodies become bad_request errors. Classified errors from a custom
// UnmarshalJSON pass through unchanged.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return result.New(result.CodeBadRequest, "request body too large")
		}
		var classified *result.Error
		if errors.As(err, &classified) {
			return err
		}
		return result.Wrap(result.CodeBadRequest, err, "invalid JSON body")
	}
	return nil
}
