// Package server exposes a Dispatcher over HTTP.
//
// Every call arrives at /method/{name}. The server merges query, form and
// JSON body parameters into an api.Request, resolves the client address and
// hands the request to Dispatcher.Serve; the returned Response is written
// verbatim. Health and metrics endpoints share the same middleware chain of
// request IDs, logging, metrics, throttling, CORS and security headers.
package server
