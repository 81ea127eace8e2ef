// Package router dispatches requests of one virtual host to the pipeline
// of the first matching route.
//
// A Router is built from a host table entry. Rules are tried in the order
// they were configured and the first one whose path matches wins:
//
//   - a rule with pathRegex matches only through the regex, and its paths
//     are never consulted;
//   - otherwise its paths globs are tried in order, defaulting to **.
//
// Requests for another host, or for a path no rule accepts, are passed to
// the next handler unchanged.
//
//	rt, err := router.New(entry, pipelines, router.WithErrorHandler(app.HandleError))
//	handler := rt.Middleware()(notFound)
package router
