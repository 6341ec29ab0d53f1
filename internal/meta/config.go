package meta

import (
	"fmt"
	"net/netip"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"dnshack/internal/correlator"
	"dnshack/internal/intercept"
	"dnshack/internal/network"
)

// Listener buffer bounds. Below the lower bound, classic DNS messages would be dropped; above the
// upper bound, no UDP datagram can fit.
const (
	defaultBufferSize = 4096
	maxBufferSize     = 65535
)

// ApplicationConfig is a top-level block for application-level meta configuration.
type ApplicationConfig struct {
	SentryDSN string `yaml:"sentry_dsn"`
}

// MetricsConfig is a top-level block for metrics configuration.
type MetricsConfig struct {
	Statsd *struct {
		Address    string  `yaml:"addr"`
		SampleRate float32 `yaml:"sample_rate"`
	} `yaml:"statsd"`
}

// ListenerConfig is a top-level block for server listener configuration.
type ListenerConfig struct {
	Address              string        `yaml:"addr"`
	MaxConcurrentWorkers int           `yaml:"max_concurrent_workers"`
	QueueSize            int           `yaml:"queue_size"`
	BufferSize           int           `yaml:"buffer_size"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
}

// UpstreamConfig is a top-level block for upstream configuration.
type UpstreamConfig struct {
	LoadBalancingPolicy string   `yaml:"load_balancing_policy"`
	Servers             []string `yaml:"servers"`
}

// CorrelatorConfig is a top-level block for transaction ID correlation.
type CorrelatorConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// HackConfig describes a single domain whose address records are rewritten.
type HackConfig struct {
	Domain string `yaml:"domain"`
	IPv4   string `yaml:"ipv4"`
	IPv6   string `yaml:"ipv6"`
}

// Config describes all application configuration options.
type Config struct {
	Application *ApplicationConfig `yaml:"application"`
	Metrics     *MetricsConfig     `yaml:"metrics"`
	Listener    *ListenerConfig    `yaml:"listener"`
	Upstream    *UpstreamConfig    `yaml:"upstream"`
	Correlator  *CorrelatorConfig  `yaml:"correlator"`
	Hacks       []HackConfig       `yaml:"hacks"`
}

// DefaultConfig returns the configuration used when no file is given: listen on port 53 and relay
// to a single public resolver without rewriting anything.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()

	return cfg
}

// ParseConfig parses a Config struct instance from a file specified as a path on disk. Omitted
// blocks and fields take their default values.
func ParseConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: error reading config: path=%s err=%w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: error parsing config: path=%s err=%w", path, err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadBalancingPolicy returns the parsed upstream load balancing policy.
func (c *Config) LoadBalancingPolicy() network.LoadBalancingPolicy {
	policy, _ := network.ParseLoadBalancingPolicy(c.Upstream.LoadBalancingPolicy)
	return policy
}

// AddressHacks converts the configured hacks into address rule entries.
func (c *Config) AddressHacks() ([]intercept.AddressHack, error) {
	hacks := make([]intercept.AddressHack, 0, len(c.Hacks))

	for idx, hack := range c.Hacks {
		parsed, err := hack.parse()
		if err != nil {
			return nil, fmt.Errorf("config: invalid hack: idx=%d err=%w", idx, err)
		}

		hacks = append(hacks, parsed)
	}

	return hacks, nil
}

// applyDefaults fills every omitted block and field.
func (c *Config) applyDefaults() {
	if c.Application == nil {
		c.Application = &ApplicationConfig{}
	}

	if c.Listener == nil {
		c.Listener = &ListenerConfig{}
	}

	if c.Listener.Address == "" {
		c.Listener.Address = ":53"
	}

	if c.Listener.MaxConcurrentWorkers == 0 {
		c.Listener.MaxConcurrentWorkers = 16
	}

	if c.Listener.QueueSize == 0 {
		c.Listener.QueueSize = 256
	}

	if c.Listener.BufferSize == 0 {
		c.Listener.BufferSize = defaultBufferSize
	}

	if c.Upstream == nil {
		c.Upstream = &UpstreamConfig{}
	}

	if c.Upstream.LoadBalancingPolicy == "" {
		c.Upstream.LoadBalancingPolicy = network.RoundRobin.String()
	}

	if len(c.Upstream.Servers) == 0 {
		c.Upstream.Servers = []string{network.DefaultUpstream}
	}

	if c.Correlator == nil {
		c.Correlator = &CorrelatorConfig{}
	}

	if c.Correlator.Timeout == 0 {
		c.Correlator.Timeout = correlator.DefaultTimeout
	}
}

// validate the contents of the configuration. Returns an error if validation failed; nil otherwise.
func (c *Config) validate() error {
	/* Metrics */

	// Users can omit the metrics block entirely to disable metrics reporting.
	if c.Metrics != nil && c.Metrics.Statsd != nil {
		if c.Metrics.Statsd.Address == "" {
			return fmt.Errorf("config: missing metrics statsd address")
		}

		if c.Metrics.Statsd.SampleRate < 0 || c.Metrics.Statsd.SampleRate > 1 {
			return fmt.Errorf("config: statsd sample rate must be in range [0.0, 1.0]")
		}
	}

	/* Listener */

	if c.Listener.Address == "" {
		return fmt.Errorf("config: missing UDP server listening address")
	}

	if c.Listener.MaxConcurrentWorkers < 0 || c.Listener.QueueSize < 0 {
		return fmt.Errorf(
			"config: listener workers and queue size must not be negative: workers=%d queue_size=%d",
			c.Listener.MaxConcurrentWorkers,
			c.Listener.QueueSize,
		)
	}

	if c.Listener.BufferSize < network.MinBufferSize || c.Listener.BufferSize > maxBufferSize {
		return fmt.Errorf(
			"config: listener buffer size must be in range [%d, %d]: buffer_size=%d",
			network.MinBufferSize,
			maxBufferSize,
			c.Listener.BufferSize,
		)
	}

	/* Upstream */

	if _, ok := network.ParseLoadBalancingPolicy(c.Upstream.LoadBalancingPolicy); !ok {
		return fmt.Errorf(
			"config: unknown load balancing policy: policy=%s",
			c.Upstream.LoadBalancingPolicy,
		)
	}

	for idx, server := range c.Upstream.Servers {
		if server == "" {
			return fmt.Errorf("config: missing server address: idx=%d", idx)
		}
	}

	/* Correlator */

	if c.Correlator.Timeout <= 0 {
		return fmt.Errorf("config: correlator timeout must be positive: timeout=%v", c.Correlator.Timeout)
	}

	/* Hacks */

	for idx, hack := range c.Hacks {
		if _, err := hack.parse(); err != nil {
			return fmt.Errorf("config: invalid hack: idx=%d err=%w", idx, err)
		}
	}

	return nil
}

// parse validates the hack and converts its addresses.
func (h HackConfig) parse() (intercept.AddressHack, error) {
	if h.Domain == "" {
		return intercept.AddressHack{}, fmt.Errorf("config: missing hack domain")
	}

	hack := intercept.AddressHack{Domain: h.Domain}

	if h.IPv4 == "" && h.IPv6 == "" {
		return intercept.AddressHack{}, fmt.Errorf("config: hack needs an ipv4 or ipv6 substitute: domain=%s", h.Domain)
	}

	if h.IPv4 != "" {
		addr, err := netip.ParseAddr(h.IPv4)
		if err != nil || !addr.Is4() {
			return intercept.AddressHack{}, fmt.Errorf("config: not an IPv4 address: domain=%s ipv4=%s", h.Domain, h.IPv4)
		}

		hack.IPv4 = addr
	}

	if h.IPv6 != "" {
		addr, err := netip.ParseAddr(h.IPv6)
		if err != nil || !addr.Is6() || addr.Is4In6() {
			return intercept.AddressHack{}, fmt.Errorf("config: not an IPv6 address: domain=%s ipv6=%s", h.Domain, h.IPv6)
		}

		hack.IPv6 = addr
	}

	return hack, nil
}
