// Package gateway mounts compiled pipelines on a host application and
// serves it.
//
// Bootstrap validates a configuration, compiles every pipeline, builds the
// host table and mounts one router per host on an App, in host table
// order. Nothing is mounted when any part fails to build. The App ends its
// chain with a JSON 404 and maps pipeline errors to status codes in
// HandleError.
//
// Server fronts the App with a gin engine that answers /healthz itself and
// passes every other request to the current handler. SetHandler swaps the
// handler atomically, which is how a reloaded configuration takes effect:
//
//	app, err := gateway.Bootstrap(gateway.NewApp(), cfg)
//	if err != nil {
//	    return err
//	}
//	srv := gateway.NewServer(app, gateway.WithHTTPConfig(cfg.HTTP))
//	if err := srv.Start(ctx); err != nil {
//	    return err
//	}
package gateway
