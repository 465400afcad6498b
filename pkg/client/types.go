package client

import (
	"fmt"
	"time"
)

// ServiceStatus is the API view of one supervised service.
type ServiceStatus struct {
	Name      string    `json:"name"`
	Tag       string    `json:"tag"`
	Lifecycle string    `json:"lifecycle"`
	PID       int       `json:"pid,omitempty"`
	Alive     bool      `json:"alive"`
	StartedAt time.Time `json:"started_at,omitempty"`
	LastExit  string    `json:"last_exit,omitempty"`
}

// StatusResponse is returned by the status and bulk endpoints.
type StatusResponse struct {
	Services []ServiceStatus `json:"services"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// APIError is a non-2xx answer from the control API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}
