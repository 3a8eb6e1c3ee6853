// Package api hosts the method dispatcher that fronts every named API call.
//
// A Dispatcher owns the method registry and runs each call through a fixed
// pipeline: method lookup, store connectivity, authorization, the admin
// check, required parameters, rate limiting and finally the handler. The
// first failing gate short-circuits into an error Response; handlers never
// see a request that did not pass every gate configured for their method.
//
// The package does not read HTTP requests itself. The transport layer in
// internal/server extracts parameters and headers into a Request and writes
// the returned Response; Serve is the single place where handler errors and
// panics become the fixed 500 response.
package api
