package types

type SuccessEnvelope struct {
	Data any `json:"data"`
}

// APIError is the public error body. Retryable tells callers whether the same
// request (with the same idempotency key) may be sent again.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Details   any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}
