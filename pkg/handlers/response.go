package handlers

import (
	"encoding/json"
	"net/http"
)

// ErrorDTO is the error payload returned to API clients. Clients match on
// the numeric Code; Message is a stable identifier and Description carries
// human-readable detail.
type ErrorDTO struct {
	Code        int64  `json:"code"`
	Message     string `json:"message"`
	Description string `json:"description,omitempty"`
}

// WriteError writes a governance error response and returns any encoding error.
func WriteError(w http.ResponseWriter, statusCode int, code int64, message, description string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(ErrorDTO{
		Code:        code,
		Message:     message,
		Description: description,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}
