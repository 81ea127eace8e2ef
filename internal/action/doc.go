// Package action provides the default action resolver for policy steps.
//
// Each built-in is created by a Factory from the step parameters:
//
//	- action: {name: headers, responseSet: {X-Gateway: avapipe}}
//	- action: {name: rateLimit, rps: 10, perClient: true}
//	- action: {name: proxy, serviceEndpoint: "http://users:8080", stripPath: true}
//
// Actions that hold resources, such as rate limiters and the shared Redis
// client, register them with the Registry; Close releases them once the
// pipelines built from it are no longer served.
package action
