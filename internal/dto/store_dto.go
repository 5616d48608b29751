package dto

import "encoding/json"

// SaveRequest is the body of POST /api/save.
type SaveRequest struct {
	Key  string          `json:"key" validate:"required"`
	Data json.RawMessage `json:"data" validate:"required"`
}

// SaveResponse acknowledges an accepted save.
type SaveResponse struct {
	Success bool `json:"success"`
}

// ErrorResponse is the error body of the store endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ChangeEvent announces that a collection was replaced.
type ChangeEvent struct {
	Key    string `json:"key"`
	Source string `json:"source"`
	At     int64  `json:"at"`
}
