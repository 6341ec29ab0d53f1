// Package metrics contains abstractions for emission of metrics generated throughout the lifetime
// of the relay. Currently, the only supported metrics output engine is statsd.
//
// Metrics are generated at various points in a single datagram's lifecycle. The emissions in this
// package are therefore structured around the notion of hooks: a hook interface defines methods
// that are invoked by the listener and relay logic while serving a datagram. Implementations of
// hook interfaces actually output the metrics to a backend engine; this responsibility is
// decoupled from the semantics of "hooking" into business logic.
package metrics
