// Package middleware provides the http.Handler wrappers shared by the
// gateway binary and the built-in pipeline actions.
//
// Recovery and Logging wrap the whole application. Headers, RequestID and
// BodyLimit are exposed to pipelines through the action registry, and
// CircuitBreaker guards proxied backends.
//
//	handler := middleware.Recovery(logger)(
//	    middleware.Logging(logger)(app),
//	)
package middleware
