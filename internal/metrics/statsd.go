package metrics

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/cactus/go-statsd-client/statsd"
)

// StatsdClient emits relay metrics to a statsd server over UDP. Every metric carries the client's
// default tags, merged with the tags given per call, serialized InfluxDB-style after the name.
type StatsdClient struct {
	backend     statsd.Statter
	defaultTags map[string]string
	sampleRate  float32
}

// NewStatsdClient creates a client that sends to the statsd server at addr, prefixing every metric
// name with prefix.
func NewStatsdClient(addr string, prefix string, defaultTags map[string]string, sampleRate float32) (*StatsdClient, error) {
	backend, err := statsd.NewClient(addr, prefix)
	if err != nil {
		return nil, fmt.Errorf("statsd: error creating statsd client: addr=%s err=%w", addr, err)
	}

	return &StatsdClient{backend: backend, defaultTags: defaultTags, sampleRate: sampleRate}, nil
}

// Count adds delta to a counter.
func (c *StatsdClient) Count(metric string, delta int64, tags map[string]string) error {
	return c.backend.Inc(c.formatMetric(metric, tags), delta, c.sampleRate)
}

// Gauge sets a gauge to value.
func (c *StatsdClient) Gauge(metric string, value int64, tags map[string]string) error {
	return c.backend.Gauge(c.formatMetric(metric, tags), value, c.sampleRate)
}

// Timing records a latency.
func (c *StatsdClient) Timing(metric string, duration time.Duration, tags map[string]string) error {
	return c.backend.TimingDuration(c.formatMetric(metric, tags), duration, c.sampleRate)
}

// Size records a datagram size in bytes. It is shipped as a timer so that the server aggregates
// percentiles for it.
func (c *StatsdClient) Size(metric string, size int64, tags map[string]string) error {
	return c.backend.Timing(c.formatMetric(metric, tags), size, c.sampleRate)
}

// Close releases the client's socket.
func (c *StatsdClient) Close() error {
	return c.backend.Close()
}

// formatMetric appends the merged tags, sorted by key, to the metric name. Names, keys and values
// are URL escaped since colons and pipes are statsd delimiters.
func (c *StatsdClient) formatMetric(metric string, tags map[string]string) string {
	merged := make(map[string]string, len(c.defaultTags)+len(tags))
	for _, source := range []map[string]string{c.defaultTags, tags} {
		for key, value := range source {
			merged[key] = value
		}
	}

	var b strings.Builder
	b.WriteString(url.QueryEscape(metric))

	keys := make([]string, 0, len(merged))
	for key := range merged {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		fmt.Fprintf(&b, ",%s=%s", url.QueryEscape(key), url.QueryEscape(merged[key]))
	}

	return b.String()
}
