// Package util provides shared error types and context helpers for the
// pipeline gateway.
//
// # Error Conventions
//
// This project follows a standardized error pattern across all packages:
//
//   - Sentinel errors (errors.New) for well-known, stable conditions
//     that callers check with errors.Is(). Example: ErrConfigInvalid.
//   - Structured error types for context-rich errors that carry
//     additional fields (e.g., ConfigurationError, BackendError). Each
//     type implements Error(), Unwrap() (if wrapping), and Is().
//   - fmt.Errorf with %w for ad-hoc wrapping that adds context to an
//     existing error without introducing a new type.
//
// ConfigurationError is the only error raised while building the
// dispatch structure. Everything else is raised per request by pipeline
// actions and travels to the host application's error handler.
//
// # Context Helpers
//
//	ctx = util.ContextWithStartTime(ctx, time.Now())
//	elapsed := util.ElapsedTime(ctx)
package util
