// Package router selects the backend provider for each request. It keeps a
// record per registered provider with priority, health, and exponentially
// weighted success-rate and latency aggregates, picks the best eligible
// candidate per request, and feeds invocation outcomes back into the
// records. A circuit breaker per provider stops traffic to backends that
// fail repeatedly.
package router
