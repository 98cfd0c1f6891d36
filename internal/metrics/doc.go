/*
Package metrics provides Prometheus metrics for cache instances and memoized functions.

# Overview

A Collector is passed to the cache manager as its observer and to memoized
functions as their recorder. It keeps its own Prometheus registry so several
collectors can coexist in one process, for example in tests.

Architecture

	┌─────────────┐
	│  Collector  │  ← cache.Observer, types.Recorder
	└──────┬──────┘
	       │
	   ┌───┴────────────────────────────┐
	   │                                │
	┌──▼───────────┐         ┌─────────▼─────────┐
	│  Prometheus  │         │  HTTP Endpoints   │
	│   Registry   │         │  /metrics         │
	│              │         │  /health          │
	│ - Counters   │         │  /debug/operations│
	│ - Histograms │         └───────────────────┘
	│ - Gauges     │
	└──────────────┘

# Metrics

All names are prefixed with the configured namespace (default "cachemgr"):

	cache_requests_total{type="hit|miss",cache}   lookups by result
	cache_evictions_total{cache}                  entries evicted for room
	cache_expirations_total{cache}                expired entries purged on access
	cache_entries{cache}                          entry count, polled from a SizeFunc
	absorbed_errors_total{operation,type}         backend failures that did not surface
	memo_duration_seconds{name}                   memoized call latency

# Usage

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Port:      9090,
		Path:      "/metrics",
		Namespace: "cachemgr",
	})
	if err != nil {
		return err
	}

	m := cache.NewManager(cache.WithObserver(collector))
	if err := collector.Start(ctx); err != nil {
		return err
	}
	defer collector.Stop(context.Background())

A disabled collector accepts every call and records nothing, so callers do
not need to check whether metrics are on.
*/
package metrics
