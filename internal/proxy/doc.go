// Package proxy forwards requests to a single service endpoint for the
// proxy action.
//
// Forward reports transport failures as errors instead of writing a
// response, so the pipeline's error handler decides what the client sees:
//
//	p, err := proxy.New("users", "http://users.internal:8080",
//	    proxy.WithStripPath(true),
//	    proxy.WithCircuitBreaker(middleware.NewCircuitBreaker("users", 5, 30*time.Second)),
//	)
//	if err != nil {
//	    return err
//	}
//	err = p.Forward(w, r)
package proxy
