package protocol

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/getsentry/raven-go"
	"lib.kevinlin.info/aperture/lib"

	"dnshack/internal/correlator"
	"dnshack/internal/dns"
	"dnshack/internal/intercept"
	"dnshack/internal/log"
	"dnshack/internal/metrics"
	"dnshack/internal/network"
)

// DNSRelayHandler is a server handler that relays queries to an upstream resolver and responses
// back to their clients over a single socket, translating transaction IDs so that queries from
// many clients can share one upstream ID space.
//
// A datagram whose ID is bound in the correlator is treated as an upstream response; every other
// datagram is treated as a fresh client query. A response arriving after its binding was evicted
// is therefore forwarded upstream as if it were a query.
type DNSRelayHandler struct {
	Upstream         network.UpstreamPool
	Correlator       *correlator.Table
	Pipeline         *intercept.Pipeline
	Codec            *dns.Codec
	ClientCxIOHook   metrics.ConnectionIOHook
	UpstreamCxIOHook metrics.ConnectionIOHook
	RelayHook        metrics.RelayHook
	Logger           log.Logger
}

// ConsumeError logs the relay error and reports it.
func (h *DNSRelayHandler) ConsumeError(ctx context.Context, err error) {
	h.Logger.Error("%v", err)
	h.RelayHook.EmitError()

	raven.CaptureError(err, map[string]string{
		"kind": errorKind(err),
	})
}

// Handle decodes a datagram and either relays it back to the client that issued the matching
// query, or binds it to a fresh proxy ID and forwards it upstream.
func (h *DNSRelayHandler) Handle(ctx context.Context, w network.PacketWriter, dgram network.Datagram) error {
	processTimer := lib.NewStopwatch()
	defer func() {
		h.RelayHook.EmitProcess(processTimer.Elapsed())
	}()

	msg, err := h.Codec.Decode(dgram.Payload)
	if err != nil {
		h.RelayHook.EmitDecodeError(dgram.Source)
		return fmt.Errorf("dns_relay: dropping undecodable datagram: source=%v err=%w", dgram.Source, err)
	}

	id := msg.Header().ID

	if request, ok := h.Correlator.Consume(id); ok {
		return h.relayResponse(w, msg, id, request)
	}

	return h.forwardQuery(w, msg, dgram.Source)
}

// ReportSweep logs and reports the outcome of a correlator eviction sweep. It is suitable as the
// report callback of correlator.Table.Run.
func (h *DNSRelayHandler) ReportSweep(evicted int, pending int) {
	if evicted > 0 {
		h.Logger.Info("dns_relay: evicted unanswered queries: evicted=%d pending=%d", evicted, pending)
	} else {
		h.Logger.Debug("dns_relay: sweep complete: pending=%d", pending)
	}

	h.RelayHook.EmitEviction(evicted, pending)
}

// relayResponse restores the client's original ID, runs the interception pipeline, and delivers
// the response. The binding has already been consumed, so a failed send is not retried.
func (h *DNSRelayHandler) relayResponse(w network.PacketWriter, msg dns.Message, proxyID uint16, request correlator.PendingRequest) error {
	restored := msg.WithHeader(msg.Header().WithID(request.OriginalID))

	rewritten, applied := h.Pipeline.Apply(restored)
	if applied > 0 {
		h.Logger.Debug(
			"dns_relay: rewrote response: client=%v rules=%d answers=%d",
			request.Client,
			applied,
			len(rewritten.Answers()),
		)
		h.RelayHook.EmitRewrite(applied)
	}

	resp, err := h.Codec.Encode(rewritten)
	if err != nil {
		return fmt.Errorf("dns_relay: error encoding response: client=%v err=%w", request.Client, err)
	}

	if _, err := w.WriteTo(resp, request.Client); err != nil {
		h.ClientCxIOHook.EmitWriteError(request.Client)
		return fmt.Errorf(
			"dns_relay: error relaying response to client: client=%v proxy_id=%#04x err=%w",
			request.Client,
			proxyID,
			err,
		)
	}

	h.Logger.Debug(
		"dns_relay: relayed response to client: client=%v proxy_id=%#04x id=%#04x bytes=%d",
		request.Client,
		proxyID,
		request.OriginalID,
		len(resp),
	)

	h.RelayHook.EmitResponse(int64(len(resp)), request.Client)
	h.RelayHook.EmitRTT(time.Since(request.Arrival), request.Client)

	return nil
}

// forwardQuery binds the query to a fresh proxy ID and sends it upstream. If the send fails, the
// binding is left for the sweep to reclaim.
func (h *DNSRelayHandler) forwardQuery(w network.PacketWriter, msg dns.Message, client net.Addr) error {
	originalID := msg.Header().ID

	proxyID, displaced := h.Correlator.Bind(client, originalID)
	if displaced {
		h.Logger.Warn(
			"dns_relay: proxy ID reused before its query was answered: proxy_id=%#04x pending=%d",
			proxyID,
			h.Correlator.Len(),
		)
		h.RelayHook.EmitCollision()
	}

	query, err := h.Codec.Encode(msg.WithHeader(msg.Header().WithID(proxyID)))
	if err != nil {
		return fmt.Errorf("dns_relay: error encoding query: client=%v err=%w", client, err)
	}

	upstream := h.Upstream.Next()

	if _, err := w.WriteTo(query, upstream); err != nil {
		h.UpstreamCxIOHook.EmitWriteError(upstream)
		return fmt.Errorf(
			"dns_relay: error forwarding query upstream: client=%v upstream=%v proxy_id=%#04x err=%w",
			client,
			upstream,
			proxyID,
			err,
		)
	}

	h.Logger.Debug(
		"dns_relay: forwarded query upstream: client=%v upstream=%v id=%#04x proxy_id=%#04x",
		client,
		upstream,
		originalID,
		proxyID,
	)

	h.RelayHook.EmitQuery(int64(len(query)), client)

	return nil
}

// errorKind classifies an error for reporting.
func errorKind(err error) string {
	switch {
	case errors.Is(err, dns.ErrFormat):
		return "format"
	case errors.Is(err, dns.ErrCountMismatch):
		return "encode"
	case errors.Is(err, network.ErrOversized):
		return "oversized"
	default:
		return "io"
	}
}
