// Package gateway wires the protocol codecs, the provider router, and the
// exchange store into the HTTP surface of polygate.
//
// A request arrives in any of the supported vendor dialects, is detected and
// decoded into the canonical model, routed to the best backend, and the
// result is encoded back in the dialect the client spoke. Streaming clients
// get the vendor's own framing synthesized from canonical events, whatever
// mode the serving backend uses.
package gateway
