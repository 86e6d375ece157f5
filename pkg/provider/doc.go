// Package provider abstracts an LLM inference backend. The interface is
// protocol-agnostic: each adapter handles its own backend protocol (Chat
// Completions, job-execution APIs, etc.) internally and speaks the canonical
// model at the boundary.
package provider
