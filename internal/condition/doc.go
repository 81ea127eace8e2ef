// Package condition provides the default condition resolver for policy
// steps.
//
// Conditions are written as a name plus parameters:
//
//	condition: {name: pathExact, path: /ping}
//	condition:
//	  name: allOf
//	  conditions:
//	    - {name: method, methods: [GET, HEAD]}
//	    - {name: headerMatch, header: X-Debug}
//
// The expression condition evaluates a CEL expression against the request
// and the matched endpoint, for example
// request.headers["X-Env"] == "dev" && "admin" in endpoint.scopes.
package condition
