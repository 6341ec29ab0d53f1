package correlator

import (
	"context"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock safe for concurrent reads.
type fakeClock struct {
	mutex sync.Mutex
	now   time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1600000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.now = c.now.Add(d)
}

func clientAddr(port int) net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
}

func TestBindThenConsume(t *testing.T) {
	clock := newFakeClock()
	table := NewTable(TableOpts{Timeout: 5 * time.Second, Clock: clock.Now})

	id, displaced := table.Bind(clientAddr(4000), 0x1234)
	if displaced {
		t.Error("first binding cannot displace anything")
	}

	request, ok := table.Consume(id)
	if !ok {
		t.Fatal("expected the binding to be present")
	}

	if request.OriginalID != 0x1234 || request.Client.String() != "127.0.0.1:4000" || !request.Arrival.Equal(clock.Now()) {
		t.Errorf("unexpected pending request: %v", request)
	}

	if _, ok := table.Consume(id); ok {
		t.Error("a binding must not be consumed twice")
	}

	if table.Len() != 0 {
		t.Errorf("expected empty table, got %d", table.Len())
	}
}

func TestBindAllocatesDistinctIDs(t *testing.T) {
	table := NewTable(TableOpts{})

	first, _ := table.Bind(clientAddr(1), 1)
	second, _ := table.Bind(clientAddr(1), 1)

	if first == second {
		t.Errorf("expected distinct IDs, both were %#04x", first)
	}

	if table.Len() != 2 {
		t.Errorf("expected 2 pending, got %d", table.Len())
	}
}

func TestEvictExpiredRemovesOnlyOldEntries(t *testing.T) {
	clock := newFakeClock()
	table := NewTable(TableOpts{Timeout: 5 * time.Second, Clock: clock.Now})

	old, _ := table.Bind(clientAddr(1), 1)
	clock.Advance(3 * time.Second)
	fresh, _ := table.Bind(clientAddr(2), 2)

	clock.Advance(2 * time.Second)
	if evicted := table.EvictExpired(); evicted != 0 {
		t.Errorf("an entry exactly at the timeout must be kept, evicted=%d", evicted)
	}

	clock.Advance(time.Millisecond)
	if evicted := table.EvictExpired(); evicted != 1 {
		t.Errorf("expected 1 eviction, got %d", evicted)
	}

	if _, ok := table.Consume(old); ok {
		t.Error("expired binding survived the sweep")
	}

	if _, ok := table.Consume(fresh); !ok {
		t.Error("fresh binding was evicted")
	}
}

func TestEvictDoesNotCountConsumedEntries(t *testing.T) {
	clock := newFakeClock()
	table := NewTable(TableOpts{Timeout: time.Second, Clock: clock.Now})

	id, _ := table.Bind(clientAddr(1), 1)
	if _, ok := table.Consume(id); !ok {
		t.Fatal("expected binding to be present")
	}

	clock.Advance(2 * time.Second)
	if evicted := table.EvictExpired(); evicted != 0 {
		t.Errorf("consumed entry was evicted again: evicted=%d", evicted)
	}
}

func TestWraparoundCollisionIsReported(t *testing.T) {
	clock := newFakeClock()
	table := NewTable(TableOpts{
		Timeout: 5 * time.Second,
		Clock:   clock.Now,
		Counter: NewIDCounterAt(math.MaxInt16),
	})

	first, _ := table.Bind(clientAddr(1), 0xaaaa)

	// Cycle the rest of the ID space while the first binding is still pending.
	for i := 0; i < (1<<16)-1; i++ {
		if _, displaced := table.Bind(clientAddr(2), 0); displaced {
			t.Fatalf("unexpected displacement at step %d", i)
		}
	}

	again, displaced := table.Bind(clientAddr(3), 0xbbbb)
	if again != first || !displaced {
		t.Fatalf("expected collision on %#04x, got id=%#04x displaced=%v", first, again, displaced)
	}

	request, _ := table.Consume(again)
	if request.OriginalID != 0xbbbb {
		t.Errorf("expected the newer binding to win, got %v", request)
	}
}

func TestRebindAfterExpiryIsNotAReportedCollision(t *testing.T) {
	clock := newFakeClock()
	table := NewTable(TableOpts{
		Timeout: time.Second,
		Clock:   clock.Now,
		Counter: NewIDCounterAt(math.MaxInt16),
	})

	table.Bind(clientAddr(1), 1)
	clock.Advance(2 * time.Second)

	for i := 0; i < (1<<16)-1; i++ {
		table.Bind(clientAddr(2), 0)
	}

	if _, displaced := table.Bind(clientAddr(3), 3); displaced {
		t.Error("an expired binding should not count as displaced")
	}

	// The stale expiry entry for the first binding must not evict its replacement.
	table.EvictExpired()
	if _, ok := table.Consume(0x7fff); !ok {
		t.Error("replacement binding was evicted by a stale expiry entry")
	}
}

func TestConsumeAndEvictRaceRemovesExactlyOnce(t *testing.T) {
	const entries = 2000

	clock := newFakeClock()
	table := NewTable(TableOpts{Timeout: time.Second, Clock: clock.Now})

	ids := make([]uint16, 0, entries)
	for i := 0; i < entries; i++ {
		id, _ := table.Bind(clientAddr(i), uint16(i))
		ids = append(ids, id)
	}

	clock.Advance(2 * time.Second)

	var consumed int64
	var evicted int64
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		for _, id := range ids {
			if _, ok := table.Consume(id); ok {
				atomic.AddInt64(&consumed, 1)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 10; i++ {
			atomic.AddInt64(&evicted, int64(table.EvictExpired()))
		}
	}()
	wg.Wait()

	if consumed+evicted != entries {
		t.Errorf("expected %d removals, got consumed=%d evicted=%d", entries, consumed, evicted)
	}

	if table.Len() != 0 {
		t.Errorf("entries leaked: %d", table.Len())
	}
}

func TestRunSweepsPeriodically(t *testing.T) {
	table := NewTable(TableOpts{Timeout: 20 * time.Millisecond})
	table.Bind(clientAddr(1), 1)

	ctx, cancel := context.WithCancel(context.Background())
	reports := make(chan [2]int, 16)

	done := make(chan struct{})
	go func() {
		defer close(done)
		table.Run(ctx, func(evicted int, pending int) {
			select {
			case reports <- [2]int{evicted, pending}:
			default:
			}
		})
	}()

	deadline := time.After(2 * time.Second)
	total := 0
	for total == 0 {
		select {
		case report := <-reports:
			total += report[0]
		case <-deadline:
			t.Fatal("sweep never evicted the stale binding")
		}
	}

	cancel()
	<-done

	if table.Len() != 0 {
		t.Errorf("expected empty table after sweep, got %d", table.Len())
	}
}
