package correlator

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"dnshack/internal/data"
)

// DefaultTimeout is how long a binding may wait for its response before it is evicted.
const DefaultTimeout = 5 * time.Second

// PendingRequest records where a forwarded query came from.
type PendingRequest struct {
	// Client is the address the query arrived from, and where its response is delivered.
	Client net.Addr
	// OriginalID is the transaction ID chosen by the client.
	OriginalID uint16
	// Arrival is when the query was bound.
	Arrival time.Time
}

// String implements the Stringer interface for human-consumable representation.
func (r PendingRequest) String() string {
	return fmt.Sprintf("PendingRequest{client: %v, id: %#04x, arrival: %s}", r.Client, r.OriginalID, r.Arrival.Format(time.RFC3339Nano))
}

// TableOpts formalizes correlation table configuration options.
type TableOpts struct {
	// Timeout is the age beyond which a binding is evicted. It also serves as the sweep period
	// for Run. Non-positive values select DefaultTimeout.
	Timeout time.Duration
	// Clock reads the current time. It defaults to time.Now.
	Clock func() time.Time
	// Counter allocates proxy IDs. It defaults to NewIDCounter().
	Counter *IDCounter
}

// Table maps proxy-assigned IDs to pending requests. All mutation happens under a single lock
// through Bind, Consume, and EvictExpired, so every binding is removed exactly once: either by the
// consumer of its response or by the sweep, whichever takes the lock first.
type Table struct {
	ids     *IDCounter
	timeout time.Duration
	clock   func() time.Time

	mutex   sync.Mutex
	pending map[uint16]PendingRequest
	expiry  *data.ExpiryQueue
}

// NewTable creates an empty correlation table.
func NewTable(opts TableOpts) *Table {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	if opts.Counter == nil {
		opts.Counter = NewIDCounter()
	}

	return &Table{
		ids:     opts.Counter,
		timeout: opts.Timeout,
		clock:   opts.Clock,
		pending: make(map[uint16]PendingRequest),
		expiry:  data.NewExpiryQueue(),
	}
}

// Bind allocates a proxy ID and associates it with a new pending request from client, in one step
// that no sweep can interleave with. The boolean reports whether the allocated ID displaced a
// binding that had not yet expired.
func (t *Table) Bind(client net.Addr, originalID uint16) (uint16, bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	now := t.clock()
	id := t.ids.Next()

	previous, exists := t.pending[id]
	displaced := exists && !t.expired(previous, now)

	t.pending[id] = PendingRequest{
		Client:     client,
		OriginalID: originalID,
		Arrival:    now,
	}
	t.expiry.Push(id, now.Add(t.timeout))

	return id, displaced
}

// Consume removes and returns the pending request bound to a proxy ID, if there is one.
func (t *Table) Consume(id uint16) (PendingRequest, bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	request, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}

	return request, ok
}

// EvictExpired removes every pending request older than the timeout and returns how many were
// removed.
func (t *Table) EvictExpired() int {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	now := t.clock()
	evicted := 0

	for {
		value, deadline, ok := t.expiry.PopExpired(now)
		if !ok {
			break
		}

		// The queue is not updated on Consume or on a displacing Bind, so an entry only
		// counts if the binding it was scheduled for is still the one in the table.
		id := value.(uint16)
		request, exists := t.pending[id]
		if !exists || !request.Arrival.Add(t.timeout).Equal(deadline) {
			continue
		}

		delete(t.pending, id)
		evicted++
	}

	return evicted
}

// Len reports the number of pending requests.
func (t *Table) Len() int {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	return len(t.pending)
}

// Timeout returns the configured eviction timeout.
func (t *Table) Timeout() time.Duration {
	return t.timeout
}

// Run sweeps the table once per timeout period until the context is canceled. The report
// callback, if not nil, receives the number of evictions and remaining entries after each sweep.
func (t *Table) Run(ctx context.Context, report func(evicted int, pending int)) {
	ticker := time.NewTicker(t.timeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			evicted := t.EvictExpired()

			if report != nil {
				report(evicted, t.Len())
			}
		}
	}
}

// expired reports whether a request's age exceeds the timeout.
func (t *Table) expired(request PendingRequest, now time.Time) bool {
	return now.Sub(request.Arrival) > t.timeout
}
