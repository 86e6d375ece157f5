// Package openaicompat implements provider.Provider for OpenAI-compatible
// Chat Completions backends (vLLM, LiteLLM, llama.cpp server, and the like).
// It serves both the Synchronous and NativeStreaming invocation modes.
package openaicompat
