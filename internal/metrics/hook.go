package metrics

import (
	"fmt"
	"net"
	"os"
	"time"
)

// ConnectionIOHook is a metrics hook interface for reporting I/O events on the relay's UDP socket,
// scoped to one kind of peer.
type ConnectionIOHook interface {
	// EmitReadError reports the event that a socket read failed.
	EmitReadError(addr net.Addr)

	// EmitWriteError reports the event that a socket write failed.
	EmitWriteError(addr net.Addr)

	// EmitOversized reports the event that a datagram was dropped for exceeding the receive
	// buffer.
	EmitOversized(addr net.Addr)
}

// RelayHook is a metrics hook interface for reporting events and latencies related to relaying
// queries and responses between clients and the upstream resolver.
type RelayHook interface {
	// EmitQuery reports a client query forwarded upstream, with its size on the wire.
	EmitQuery(bytes int64, client net.Addr)

	// EmitResponse reports an upstream response relayed to a client, with its size on the wire.
	EmitResponse(bytes int64, client net.Addr)

	// EmitRewrite reports a response rewritten by the given number of interception rules.
	EmitRewrite(rules int)

	// EmitRTT reports the time between a query's arrival and the relay of its response.
	EmitRTT(latency time.Duration, client net.Addr)

	// EmitProcess reports the time spent handling a single datagram.
	EmitProcess(latency time.Duration)

	// EmitCollision reports a new binding displacing a pending one after ID wraparound.
	EmitCollision()

	// EmitEviction reports bindings removed by a sweep, and the number left pending.
	EmitEviction(evicted int, pending int)

	// EmitDecodeError reports a datagram dropped because it could not be decoded.
	EmitDecodeError(source net.Addr)

	// EmitError reports the occurrence of an error that causes a datagram to not be correctly
	// served.
	EmitError()
}

// AsyncStatsdConnectionIOHook is an implementation of ConnectionIOHook that outputs metrics
// asynchronously to statsd.
type AsyncStatsdConnectionIOHook struct {
	client *StatsdClient
	source string
}

// AsyncStatsdRelayHook is an implementation of RelayHook that outputs metrics asynchronously to
// statsd.
type AsyncStatsdRelayHook struct {
	client *StatsdClient
}

// NoopConnectionIOHook implements the ConnectionIOHook interface but noops on all emissions.
type NoopConnectionIOHook struct{}

// NoopRelayHook implements the RelayHook interface but noops on all emissions.
type NoopRelayHook struct{}

// NewAsyncStatsdConnectionIOHook creates a new client with the specified source, statsd address,
// and statsd sample rate. The source denotes the kind of peer with whom the relay performs I/O.
func NewAsyncStatsdConnectionIOHook(source string, addr string, sampleRate float32, version string) (ConnectionIOHook, error) {
	client, err := statsdClientFactory(addr, sampleRate, version)
	if err != nil {
		return nil, err
	}

	return &AsyncStatsdConnectionIOHook{
		client: client,
		source: source,
	}, nil
}

// EmitReadError statsd implementation.
func (h *AsyncStatsdConnectionIOHook) EmitReadError(addr net.Addr) {
	go h.client.Count(fmt.Sprintf("event.%s.read_error", h.source), 1, map[string]string{
		"addr": ipFromAddr(addr),
	})
}

// EmitWriteError statsd implementation.
func (h *AsyncStatsdConnectionIOHook) EmitWriteError(addr net.Addr) {
	go h.client.Count(fmt.Sprintf("event.%s.write_error", h.source), 1, map[string]string{
		"addr": ipFromAddr(addr),
	})
}

// EmitOversized statsd implementation.
func (h *AsyncStatsdConnectionIOHook) EmitOversized(addr net.Addr) {
	go h.client.Count(fmt.Sprintf("event.%s.oversized", h.source), 1, map[string]string{
		"addr": ipFromAddr(addr),
	})
}

// NewNoopConnectionIOHook creates a noop implementation of ConnectionIOHook.
func NewNoopConnectionIOHook() ConnectionIOHook {
	return &NoopConnectionIOHook{}
}

// EmitReadError noops.
func (h *NoopConnectionIOHook) EmitReadError(addr net.Addr) {}

// EmitWriteError noops.
func (h *NoopConnectionIOHook) EmitWriteError(addr net.Addr) {}

// EmitOversized noops.
func (h *NoopConnectionIOHook) EmitOversized(addr net.Addr) {}

// NewAsyncStatsdRelayHook creates a new client with the specified statsd address and sample rate.
func NewAsyncStatsdRelayHook(addr string, sampleRate float32, version string) (RelayHook, error) {
	client, err := statsdClientFactory(addr, sampleRate, version)
	if err != nil {
		return nil, err
	}

	return &AsyncStatsdRelayHook{client}, nil
}

// EmitQuery statsd implementation
func (h *AsyncStatsdRelayHook) EmitQuery(bytes int64, client net.Addr) {
	go func() {
		tags := map[string]string{"addr": ipFromAddr(client)}

		h.client.Count("event.relay.query", 1, tags)
		h.client.Size("size.relay.query", bytes, tags)
	}()
}

// EmitResponse statsd implementation
func (h *AsyncStatsdRelayHook) EmitResponse(bytes int64, client net.Addr) {
	go func() {
		tags := map[string]string{"addr": ipFromAddr(client)}

		h.client.Count("event.relay.response", 1, tags)
		h.client.Size("size.relay.response", bytes, tags)
	}()
}

// EmitRewrite statsd implementation
func (h *AsyncStatsdRelayHook) EmitRewrite(rules int) {
	go h.client.Count("event.relay.rewrite", int64(rules), nil)
}

// EmitRTT statsd implementation
func (h *AsyncStatsdRelayHook) EmitRTT(latency time.Duration, client net.Addr) {
	go h.client.Timing("latency.relay.rtt", latency, map[string]string{
		"client": ipFromAddr(client),
	})
}

// EmitProcess statsd implementation
func (h *AsyncStatsdRelayHook) EmitProcess(latency time.Duration) {
	go h.client.Timing("latency.relay.process", latency, nil)
}

// EmitCollision statsd implementation
func (h *AsyncStatsdRelayHook) EmitCollision() {
	go h.client.Count("event.relay.id_collision", 1, nil)
}

// EmitEviction statsd implementation
func (h *AsyncStatsdRelayHook) EmitEviction(evicted int, pending int) {
	go func() {
		if evicted > 0 {
			h.client.Count("event.correlator.eviction", int64(evicted), nil)
		}

		h.client.Gauge("gauge.correlator.pending", int64(pending), nil)
	}()
}

// EmitDecodeError statsd implementation
func (h *AsyncStatsdRelayHook) EmitDecodeError(source net.Addr) {
	go h.client.Count("event.relay.decode_error", 1, map[string]string{
		"addr": ipFromAddr(source),
	})
}

// EmitError statsd implementation
func (h *AsyncStatsdRelayHook) EmitError() {
	go h.client.Count("event.relay.error", 1, nil)
}

// NewNoopRelayHook creates a noop implementation of RelayHook.
func NewNoopRelayHook() RelayHook {
	return &NoopRelayHook{}
}

// EmitQuery noops.
func (h *NoopRelayHook) EmitQuery(bytes int64, client net.Addr) {}

// EmitResponse noops.
func (h *NoopRelayHook) EmitResponse(bytes int64, client net.Addr) {}

// EmitRewrite noops.
func (h *NoopRelayHook) EmitRewrite(rules int) {}

// EmitRTT noops.
func (h *NoopRelayHook) EmitRTT(latency time.Duration, client net.Addr) {}

// EmitProcess noops.
func (h *NoopRelayHook) EmitProcess(latency time.Duration) {}

// EmitCollision noops.
func (h *NoopRelayHook) EmitCollision() {}

// EmitEviction noops.
func (h *NoopRelayHook) EmitEviction(evicted int, pending int) {}

// EmitDecodeError noops.
func (h *NoopRelayHook) EmitDecodeError(source net.Addr) {}

// EmitError noops.
func (h *NoopRelayHook) EmitError() {}

// statsdClientFactory creates a configured StatsdClient with reasonable defaults for the given
// statsd server address and sample rate.
func statsdClientFactory(addr string, sampleRate float32, version string) (*StatsdClient, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, err
	}

	defaultTags := map[string]string{
		"host": hostname,
	}

	if version != "" {
		defaultTags["version"] = version
	}

	return NewStatsdClient(addr, "dnshack", defaultTags, sampleRate)
}

// ipFromAddr returns the IP address from a full net.Addr, or null if unavailable.
func ipFromAddr(addr net.Addr) string {
	switch networkAddr := addr.(type) {
	case *net.UDPAddr:
		return networkAddr.IP.String()
	default:
		return "null"
	}
}
