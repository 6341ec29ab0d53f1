// Package correlator translates transaction IDs between clients and the upstream resolver. Every
// forwarded query is bound to a fresh proxy-assigned ID; the matching response consumes the
// binding to recover the client's address and original ID. Bindings that are never answered are
// evicted by a periodic sweep.
//
// The proxy ID space holds 65536 values. Under sustained load that cycles through the whole space
// within one timeout window, a new binding can displace one that is still pending. This is an
// accepted limit of the design: Bind reports the displacement, but the displaced request is lost.
package correlator
