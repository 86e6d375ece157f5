// Package api defines the vendor-neutral protocol types for the polygate
// gateway.
//
// This package provides the canonical intermediate representation that all
// protocol codecs translate to and from: conversation turns with tagged
// content parts, generation parameters, the universal streaming event, the
// gateway error taxonomy, deterministic token estimation, and ID generation.
//
// The package has zero external dependencies (Go standard library only) and
// performs no I/O. Vendor wire formats never appear here; they live in
// pkg/codec.
//
// Core types:
//   - [Request]: Canonical inference request (turns, generation parameters, model hint)
//   - [Response]: Canonical complete response (content parts, stop reason, usage)
//   - [Event]: Universal streaming unit all vendor SSE framings are generated from
//   - [GatewayError]: Structured error with a closed kind taxonomy
package api
