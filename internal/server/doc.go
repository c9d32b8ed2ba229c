// Package server hosts the Fiber HTTP service: the request-id middleware, the
// Host → hub registry built from config, and the shared HTTP clients used for
// upstream fetches and cache-presence probes. Handlers are injected through
// ProxyHandler so the proxy package and tests can plug in independently.
package server
