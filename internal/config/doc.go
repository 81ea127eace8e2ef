// Package config provides the gateway configuration model, loading,
// validation, and file watching.
//
// The two required keys are apiEndpoints and pipelines. Both decode into
// OrderedMap so that the order entries are written in is the order the
// gateway matches them in. Policy groups may be written as a mapping or as
// a list of single-key mappings:
//
//	pipelines:
//	  public:
//	    apiEndpoints: [api]
//	    policies:
//	      - headers:
//	          - action: {name: headers, responseSet: {X: "1"}}
//
// Values of the form ${VAR} and ${VAR:-default} are replaced from the
// environment before parsing; $$ produces a literal dollar sign.
package config
