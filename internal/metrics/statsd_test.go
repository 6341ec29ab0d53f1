package metrics

import (
	"net"
	"testing"
	"time"
)

func TestFormatMetric(t *testing.T) {
	cases := []struct {
		name        string
		defaultTags map[string]string
		tags        map[string]string
		expected    string
	}{
		{"no tags", nil, nil, "event.relay.query"},
		{"default tags only", map[string]string{"host": "h1"}, nil, "event.relay.query,host=h1"},
		{
			"merged and sorted",
			map[string]string{"host": "h1", "version": "abc"},
			map[string]string{"addr": "127.0.0.1"},
			"event.relay.query,addr=127.0.0.1,host=h1,version=abc",
		},
		{
			"override and escape",
			map[string]string{"addr": "default"},
			map[string]string{"addr": "::1"},
			"event.relay.query,addr=%3A%3A1",
		},
	}

	for _, c := range cases {
		client := &StatsdClient{defaultTags: c.defaultTags}

		if got := client.formatMetric("event.relay.query", c.tags); got != c.expected {
			t.Errorf("%s: expected %q, got %q", c.name, c.expected, got)
		}
	}
}

func TestIPFromAddr(t *testing.T) {
	if ip := ipFromAddr(&net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 53}); ip != "10.0.0.1" {
		t.Errorf("unexpected IP: %s", ip)
	}

	if ip := ipFromAddr(nil); ip != "null" {
		t.Errorf("expected null for a missing address, got %s", ip)
	}
}

func TestStatsdClientEmitsTaggedCount(t *testing.T) {
	server, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer server.Close()

	client, err := NewStatsdClient(server.LocalAddr().String(), "dnshack", nil, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer client.Close()

	if err := client.Count("event.test", 1, map[string]string{"addr": "127.0.0.1"}); err != nil {
		t.Fatalf("unexpected count error: %v", err)
	}

	server.SetReadDeadline(time.Now().Add(2 * time.Second))

	buf := make([]byte, 512)
	n, _, err := server.ReadFrom(buf)
	if err != nil {
		t.Fatalf("no metric received: %v", err)
	}

	if got, want := string(buf[:n]), "dnshack.event.test,addr=127.0.0.1:1|c"; got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}
