// Package response writes the admin API's JSON bodies. Every error leaves
// through the same envelope so clients can switch on a stable code instead of
// parsing messages.
package response

import (
	"bytes"
	"encoding/json"
	"net/http"
)

// Error codes carried in the envelope. Gate and delivery rejections are not
// errors at this layer; they travel in the publish result with their own
// reason codes.
const (
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeValidationFailed   = "VALIDATION_FAILED"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeGatewayTimeout     = "GATEWAY_TIMEOUT"
	ErrCodeInternalServer     = "INTERNAL_SERVER_ERROR"
)

// ErrorResponse is the envelope for every non-2xx body.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the machine code, the human message and the request ID
// so a client report can be matched to server logs.
type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

// JSON writes data as a JSON body with the given status. The body is encoded
// before any header is written, so an unencodable value produces a clean 500
// rather than a truncated response.
func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")

	if data == nil {
		w.WriteHeader(status)
		return
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"code":"INTERNAL_SERVER_ERROR","message":"failed to encode response"}}` + "\n"))
		return
	}

	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

// Error writes the standard error envelope.
func Error(w http.ResponseWriter, status int, code, message, requestID string) {
	JSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:      code,
			Message:   message,
			RequestID: requestID,
		},
	})
}
