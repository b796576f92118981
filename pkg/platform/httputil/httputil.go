// Package httputil holds the JSON response helpers shared by all handlers.
package httputil

import (
	"encoding/json"
	"net/http"

	dErrors "credverify/pkg/domain-errors"
)

// WriteJSON writes v as a JSON body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ErrorBody is the error envelope returned by every endpoint.
type ErrorBody struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// WriteError translates a domain error into its HTTP status and envelope.
// Internal errors never leak their description.
func WriteError(w http.ResponseWriter, err error) {
	WriteJSON(w, dErrors.ToHTTPStatus(dErrors.CodeOf(err)), NewErrorBody(err))
}

// NewErrorBody builds the envelope for err; it is also embedded in larger
// responses such as the session snapshot.
func NewErrorBody(err error) ErrorBody {
	code := dErrors.CodeOf(err)
	body := ErrorBody{Error: string(code)}
	if code != dErrors.CodeInternal {
		body.Description = dErrors.MessageOf(err)
	}
	return body
}
