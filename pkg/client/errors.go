package client

import "fmt"

// TransportError is a failure to obtain a usable response: connection errors, timeouts,
// non-2xx statuses and malformed JSON bodies.
type TransportError struct {
	Endpoint string
	Status   int
	Timeout  bool
	Message  string
}

func (e *TransportError) Error() string {
	return e.Message
}

// AppError is a failure reported by the backend inside a 2xx body. Message is passed
// through verbatim.
type AppError struct {
	Endpoint string
	Message  string
}

func (e *AppError) Error() string {
	return e.Message
}

func newAppError(endpoint, message, fallback string) *AppError {
	if message == "" {
		message = fallback
	}
	if message == "" {
		message = fmt.Sprintf("%s request failed", endpoint)
	}
	return &AppError{Endpoint: endpoint, Message: message}
}
