package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/getsentry/raven-go"

	"dnshack/internal/correlator"
	"dnshack/internal/dns"
	"dnshack/internal/intercept"
	"dnshack/internal/log"
	"dnshack/internal/meta"
	"dnshack/internal/metrics"
	"dnshack/internal/network"
	"dnshack/internal/protocol"
)

func main() {
	configPath := flag.String(
		"config",
		os.Getenv("DNSHACK_CONFIG"),
		"path to the configuration file on disk; built-in defaults are used if empty",
	)
	version := flag.Bool(
		"version",
		false,
		"print the compiled dnshack version SHA",
	)
	verbosity := flag.String(
		"verbosity",
		"error",
		"desired logging verbosity: one of error, warn, info, debug",
	)
	flag.Parse()

	// Report the compiled version and exit
	if *version {
		fmt.Printf("dnshack/%s\n", meta.VersionSHA)
		return
	}

	// Logging configuration; default to log.Error verbosity
	level, _ := log.ParseLevel(*verbosity)
	logger := log.NewConsoleLogger(level)
	logger.Debug("main: initialized logger: level=%v", level)

	// Parse application configuration
	config := meta.DefaultConfig()
	if *configPath != "" {
		logger.Debug("main: reading and parsing config: path=%s", *configPath)

		var err error
		if config, err = meta.ParseConfig(*configPath); err != nil {
			panic(err)
		}
	} else {
		logger.Info("main: no config path specified; using defaults")
	}

	// Configure error reporting
	if config.Application.SentryDSN != "" {
		raven.SetDSN(config.Application.SentryDSN)
		raven.SetRelease(meta.VersionSHA)
	}

	// Configure metrics reporting
	clientCxIOHook := metrics.NewNoopConnectionIOHook()
	upstreamCxIOHook := metrics.NewNoopConnectionIOHook()
	relayHook := metrics.NewNoopRelayHook()

	if config.Metrics != nil && config.Metrics.Statsd != nil {
		logger.Info(
			"main: configuring statsd metrics reporting: addr=%s sample_rate=%f",
			config.Metrics.Statsd.Address,
			config.Metrics.Statsd.SampleRate,
		)

		var err error

		if clientCxIOHook, err = metrics.NewAsyncStatsdConnectionIOHook(
			"client",
			config.Metrics.Statsd.Address,
			config.Metrics.Statsd.SampleRate,
			meta.VersionSHA,
		); err != nil {
			panic(err)
		}

		if upstreamCxIOHook, err = metrics.NewAsyncStatsdConnectionIOHook(
			"upstream",
			config.Metrics.Statsd.Address,
			config.Metrics.Statsd.SampleRate,
			meta.VersionSHA,
		); err != nil {
			panic(err)
		}

		if relayHook, err = metrics.NewAsyncStatsdRelayHook(
			config.Metrics.Statsd.Address,
			config.Metrics.Statsd.SampleRate,
			meta.VersionSHA,
		); err != nil {
			panic(err)
		}
	} else {
		logger.Warn("main: no metrics output engine specified; disabling metrics")
	}

	// Configure upstreams
	lbPolicy := config.LoadBalancingPolicy()
	logger.Info(
		"main: configuring upstream resolvers: servers=%v policy=%s",
		config.Upstream.Servers,
		lbPolicy,
	)

	upstream, err := network.NewUpstreamPool(config.Upstream.Servers, lbPolicy)
	if err != nil {
		panic(err)
	}

	// Configure answer rewriting
	hacks, err := config.AddressHacks()
	if err != nil {
		panic(err)
	}

	var rules []intercept.Rule
	if len(hacks) > 0 {
		rule, err := intercept.NewAddressRule(hacks...)
		if err != nil {
			panic(err)
		}

		for _, hack := range rule.Hacks() {
			logger.Info("main: hacking domain: %v", hack)
		}

		rules = append(rules, rule)
	}

	table := correlator.NewTable(correlator.TableOpts{Timeout: config.Correlator.Timeout})

	h := &protocol.DNSRelayHandler{
		Upstream:         upstream,
		Correlator:       table,
		Pipeline:         intercept.NewPipeline(rules...),
		Codec:            dns.NewCodec(),
		ClientCxIOHook:   clientCxIOHook,
		UpstreamCxIOHook: upstreamCxIOHook,
		RelayHook:        relayHook,
		Logger:           logger,
	}

	// Configure the server listener
	logger.Info(
		"main: configuring UDP server listener: addr=%s workers=%d queue_size=%d buffer_size=%d",
		config.Listener.Address,
		config.Listener.MaxConcurrentWorkers,
		config.Listener.QueueSize,
		config.Listener.BufferSize,
	)

	server := network.NewUDPServer(config.Listener.Address, clientCxIOHook, network.UDPServerOpts{
		MaxConcurrentWorkers: config.Listener.MaxConcurrentWorkers,
		QueueSize:            config.Listener.QueueSize,
		BufferSize:           config.Listener.BufferSize,
		WriteTimeout:         config.Listener.WriteTimeout,
	})

	if err := server.Listen(); err != nil {
		panic(err)
	}

	served := make(chan error, 1)
	go func() {
		served <- server.Serve(h)
	}()

	// Sweep unanswered queries until shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go table.Run(ctx, h.ReportSweep)

	logger.Info("main: serving until interrupted: addr=%v", server.LocalAddr())

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	sig := <-signals
	logger.Info("main: received signal; draining in-flight datagrams: signal=%v", sig)

	cancel()

	if err := server.Shutdown(); err != nil {
		logger.Error("main: error shutting down listener: err=%v", err)
	}

	if err := <-served; err != nil {
		logger.Error("main: error closing listener: err=%v", err)
	}

	logger.Info("main: shut down: pending=%d", table.Len())
}
