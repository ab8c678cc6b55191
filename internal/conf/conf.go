// Package conf defines the typed Bootstrap configuration tree loaded
// by internal/config. Grounded on tavern's conf.Bootstrap, trimmed of
// the gateway-specific middleware/plugin chain and extended with the
// cache-engine knobs spec.md §4 and §6 name explicitly.
package conf

import "time"

type Bootstrap struct {
	Hostname string    `json:"hostname" yaml:"hostname"`
	PidFile  string    `json:"pidfile" yaml:"pidfile"`
	Logger   *Logger   `json:"logger" yaml:"logger"`
	Server   *Server   `json:"server" yaml:"server"`
	Upstream *Upstream `json:"upstream" yaml:"upstream"`
	Cache    *Cache    `json:"cache" yaml:"cache"`
	Metrics  *Metrics  `json:"metrics" yaml:"metrics"`
}

type Logger struct {
	Level      string `json:"level" yaml:"level"`
	Path       string `json:"path" yaml:"path"`
	Caller     bool   `json:"caller" yaml:"caller"`
	MaxSize    int    `json:"max_size" yaml:"max_size"`
	MaxAge     int    `json:"max_age" yaml:"max_age"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	Compress   bool   `json:"compress" yaml:"compress"`
}

type Server struct {
	Addr              string        `json:"addr" yaml:"addr"`
	ReadTimeout       time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout      time.Duration `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout       time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
	ReadHeaderTimeout time.Duration `json:"read_header_timeout" yaml:"read_header_timeout"`
	MaxHeaderBytes    int           `json:"max_header_bytes" yaml:"max_header_bytes"`
	PProf             *ServerPProf  `json:"pprof" yaml:"pprof"`
}

type ServerPProf struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

// Upstream governs the origin-fetch client pool and retry policy
// behind the Upstream Fetcher (C4) and Size Probe (C5).
type Upstream struct {
	MaxIdleConns        int           `json:"max_idle_conns" yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `json:"max_idle_conns_per_host" yaml:"max_idle_conns_per_host"`
	MaxConnsPerServer   int           `json:"max_conns_per_server" yaml:"max_conns_per_server"`
	InsecureSkipVerify  bool          `json:"insecure_skip_verify" yaml:"insecure_skip_verify"`
	DialTimeout         time.Duration `json:"dial_timeout" yaml:"dial_timeout"`
	FetchTimeout        time.Duration `json:"fetch_timeout" yaml:"fetch_timeout"`
	RetryCount          int           `json:"retry_count" yaml:"retry_count"`
	RetryBackoff        time.Duration `json:"retry_backoff" yaml:"retry_backoff"`
	MaxConcurrentFetch  int           `json:"max_concurrent_fetch" yaml:"max_concurrent_fetch"`
	LivenessTTL         time.Duration `json:"liveness_ttl" yaml:"liveness_ttl"`
}

// Cache governs on-disk layout and eviction for the Disk Store (C3)
// and Cache Manager (C8).
type Cache struct {
	Root                string        `json:"root" yaml:"root"`
	ChunkSize           int           `json:"chunk_size" yaml:"chunk_size"`
	MaxTotalBytes       int64         `json:"max_total_bytes" yaml:"max_total_bytes"`
	MaxObjectBytes      int64         `json:"max_object_bytes" yaml:"max_object_bytes"`
	MaxAge              time.Duration `json:"max_age" yaml:"max_age"`
	CleanupInterval     time.Duration `json:"cleanup_interval" yaml:"cleanup_interval"`
	WriteBackQueueDepth int           `json:"write_back_queue_depth" yaml:"write_back_queue_depth"`
	IncludeQueryInKey   bool          `json:"include_query_in_key" yaml:"include_query_in_key"`
}

type Metrics struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

// Default returns a Bootstrap populated with the defaults named in
// spec.md §6 (age cap 24h, size cap 1 GiB, per-object cap 100 MiB,
// cleanup interval 1h, upstream concurrency 100, fetch timeout 30s).
func Default() *Bootstrap {
	return &Bootstrap{
		Hostname: "mediaproxy",
		Logger: &Logger{
			Level:      "info",
			Path:       "",
			Caller:     true,
			MaxSize:    128,
			MaxAge:     7,
			MaxBackups: 5,
			Compress:   true,
		},
		Server: &Server{
			Addr:              ":8080",
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      0,
			IdleTimeout:       120 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			MaxHeaderBytes:    1 << 20,
			PProf:             &ServerPProf{Enabled: false, Addr: "127.0.0.1:6060"},
		},
		Upstream: &Upstream{
			MaxIdleConns:        256,
			MaxIdleConnsPerHost: 32,
			MaxConnsPerServer:   64,
			DialTimeout:         5 * time.Second,
			FetchTimeout:        30 * time.Second,
			RetryCount:          3,
			RetryBackoff:        time.Second,
			MaxConcurrentFetch:  100,
			LivenessTTL:         10 * time.Second,
		},
		Cache: &Cache{
			Root:                "/var/cache/mediaproxy",
			ChunkSize:           32 * 1024,
			MaxTotalBytes:       1 << 30,
			MaxObjectBytes:      100 << 20,
			MaxAge:              24 * time.Hour,
			CleanupInterval:     time.Hour,
			WriteBackQueueDepth: 32,
			IncludeQueryInKey:   false,
		},
		Metrics: &Metrics{
			Enabled: true,
			Addr:    ":9090",
		},
	}
}
