package middleware

// HTTP header constants.
const (
	// HeaderContentType is the Content-Type header name.
	HeaderContentType = "Content-Type"

	// HeaderRetryAfter is the Retry-After header name.
	HeaderRetryAfter = "Retry-After"

	// HeaderXRequestID is the X-Request-ID header name.
	HeaderXRequestID = "X-Request-ID"
)

// ContentTypeJSON is the JSON content type.
const ContentTypeJSON = "application/json"

// Error response bodies.
const (
	// ErrRateLimitExceeded is the error message for rate limit exceeded.
	ErrRateLimitExceeded = `{"error":"rate limit exceeded"}`

	// ErrGatewayTimeout is the error message for gateway timeout.
	ErrGatewayTimeout = `{"error":"gateway timeout"}`

	// ErrServiceUnavailable is the error message for service unavailable.
	ErrServiceUnavailable = `{"error":"service unavailable","message":"circuit breaker open"}`

	// ErrBadGateway is the error message for bad gateway.
	ErrBadGateway = `{"error":"bad gateway"}`

	// ErrNotFound is the error message for unmatched requests.
	ErrNotFound = `{"error":"not found"}`

	// ErrInternalServerError is the error message for internal server error.
	ErrInternalServerError = `{"error":"internal server error"}`

	// ErrRequestEntityTooLarge is the error message for request body too large.
	ErrRequestEntityTooLarge = `{"error":"request entity too large"}`
)
