/*
Package config provides configuration management for cachemgr.

Configuration is assembled from three sources, later sources overriding
earlier ones:

	┌─────────────────────────────────────────────┐
	│        Environment Variables                │ ← Highest Priority
	│           (CACHEMGR_*)                      │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│         Configuration File                  │
	│            (YAML format)                    │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│           Default Values                    │ ← Lowest Priority
	│          (NewDefault)                       │
	└─────────────────────────────────────────────┘

# Configuration Structure

	global:
	  log_level: INFO        # DEBUG, INFO, WARN, ERROR
	  log_format: text       # text or json
	defaults:                # applied to every cache
	  ttl: 0s                # 0 disables expiration
	  max_size: 100
	  strategy: lru          # lru, lfu, fifo
	  storage: memory        # memory, persisted, durable
	  compress: false
	caches:
	  sessions:
	    ttl: 30m
	    storage: persisted
	persisted:
	  driver: file           # memory, file, redis
	  key_prefix: ""
	  file:
	    path: /var/lib/cachemgr/store.json
	  redis:
	    addr: localhost:6379
	durable:
	  driver: s3             # none, memory, s3, postgres
	  s3:
	    bucket: cache-blocks
	    region: us-east-1
	  postgres:
	    dsn: postgres://localhost/cache
	metrics:
	  enabled: true
	  port: 9090
	  path: /metrics

Fields omitted from a cache entry fall back to the defaults section; see
Configuration.CacheConfig.

# Usage

	cfg := config.NewDefault()
	if err := cfg.LoadFromFile("cachemgr.yaml"); err != nil {
		return err
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
*/
package config
