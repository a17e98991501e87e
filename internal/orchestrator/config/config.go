package config

import (
	"errors"
	"time"
)

// QueueConfig holds configuration for the work distribution service
type QueueConfig struct {
	// LeaseTimeout is how long a claim is held before automatic requeue
	LeaseTimeout time.Duration
	// MaxRetries is the retry budget for items enqueued without one
	MaxRetries int
	// CheckInterval is how often expired leases and due retries are swept
	CheckInterval time.Duration
	// BatchSize is the maximum items to requeue per sweep
	BatchSize int
	// RetryInitialDelay is the backoff before the first explicit-fail retry
	RetryInitialDelay time.Duration
	// RetryMaxDelay caps explicit-fail retry backoff
	RetryMaxDelay time.Duration
}

// DefaultQueueConfig returns default configuration for the work queue
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		LeaseTimeout:      DefaultLeaseTimeout,
		MaxRetries:        DefaultMaxRetries,
		CheckInterval:     DefaultLeaseCheckInterval,
		BatchSize:         DefaultRetryBatchSize,
		RetryInitialDelay: DefaultRetryInitialDelay,
		RetryMaxDelay:     DefaultRetryMaxDelay,
	}
}

// SessionConfig holds the session lifecycle policy
type SessionConfig struct {
	// IdleTimeout terminates sessions without activity
	IdleTimeout time.Duration
	// MaxAge terminates sessions regardless of activity
	MaxAge time.Duration
	// SweepInterval is how often the registry is swept
	SweepInterval time.Duration
	// Retention is how long terminated sessions are kept for audit
	Retention time.Duration
	// WorkerStaleAfter is how long a silent worker is listed as stale
	WorkerStaleAfter time.Duration
}

// DefaultSessionConfig returns the default session lifecycle policy
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		IdleTimeout:      DefaultSessionIdleTimeout,
		MaxAge:           DefaultSessionMaxAge,
		SweepInterval:    DefaultSessionSweepInterval,
		Retention:        DefaultSessionRetention,
		WorkerStaleAfter: DefaultWorkerStaleAfter,
	}
}

// RoutingConfig holds configuration for routing and the two dispatch arms
type RoutingConfig struct {
	// HumanResponseCeiling bounds the wait for a human answer
	HumanResponseCeiling time.Duration
	// AutomatedTimeout bounds a single automated handler call
	AutomatedTimeout time.Duration
	// AutomatedRate is the automated handler call rate per second
	AutomatedRate float64
	// AutomatedBurst is the automated handler burst size
	AutomatedBurst int
	// SimpleMaxLength is the longest content the simple heuristic accepts
	SimpleMaxLength int
	// RulesFile is an optional YAML file with extra routing rules
	RulesFile string
}

// DefaultRoutingConfig returns default configuration for routing
func DefaultRoutingConfig() RoutingConfig {
	return RoutingConfig{
		HumanResponseCeiling: DefaultHumanResponseCeiling,
		AutomatedTimeout:     DefaultAutomatedTimeout,
		AutomatedRate:        DefaultAutomatedRate,
		AutomatedBurst:       DefaultAutomatedBurst,
		SimpleMaxLength:      DefaultSimpleMaxLength,
	}
}

// LoopConfig holds configuration for the orchestrator loop
type LoopConfig struct {
	// DrainGracePeriod is how long in-flight dispatches may run after shutdown
	DrainGracePeriod time.Duration
	// MaxInFlight bounds concurrent automated handler calls. Human waits
	// are not counted.
	MaxInFlight int
	// DedupeTTL is how long delivered response ids are remembered
	DedupeTTL time.Duration
	// DedupeSize is the number of delivered response ids remembered
	DedupeSize int
	// ThreadCapacity is the number of conversation threads kept. The least
	// recently touched thread is evicted first.
	ThreadCapacity int
}

// DefaultLoopConfig returns default configuration for the orchestrator loop
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		DrainGracePeriod: DefaultDrainGracePeriod,
		MaxInFlight:      DefaultMaxInFlight,
		DedupeTTL:        DefaultResponseDedupeTTL,
		DedupeSize:       DefaultResponseDedupeSize,
		ThreadCapacity:   DefaultThreadCapacity,
	}
}

// ServerConfig holds listener and backend settings. Changes require a restart.
type ServerConfig struct {
	GRPCAddr        string
	MCPAddr         string
	MCPBaseURL      string
	MetricsAddr     string
	StoragePath     string
	TracingEndpoint string
}

// DefaultServerConfig returns default listener settings
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		GRPCAddr:    ":50051",
		MCPAddr:     ":8080",
		MCPBaseURL:  "http://localhost:8080",
		MetricsAddr: ":9090",
	}
}

// Config is one immutable snapshot of the orchestrator configuration
type Config struct {
	Queue   QueueConfig
	Session SessionConfig
	Routing RoutingConfig
	Loop    LoopConfig
	Server  ServerConfig
}

// Default returns a configuration populated with all defaults
func Default() *Config {
	return &Config{
		Queue:   DefaultQueueConfig(),
		Session: DefaultSessionConfig(),
		Routing: DefaultRoutingConfig(),
		Loop:    DefaultLoopConfig(),
		Server:  DefaultServerConfig(),
	}
}

// Validate rejects configurations the orchestrator cannot run with
func (c *Config) Validate() error {
	if c.Queue.LeaseTimeout <= 0 {
		return errors.New("queue.lease_timeout must be positive")
	}
	if c.Queue.MaxRetries < 0 {
		return errors.New("queue.max_retries cannot be negative")
	}
	if c.Queue.CheckInterval <= 0 {
		return errors.New("queue.check_interval must be positive")
	}
	if c.Queue.RetryInitialDelay < 0 || c.Queue.RetryMaxDelay < c.Queue.RetryInitialDelay {
		return errors.New("queue.retry_max_delay must be at least queue.retry_initial_delay")
	}
	if c.Session.IdleTimeout <= 0 {
		return errors.New("session.idle_timeout must be positive")
	}
	if c.Session.MaxAge <= 0 {
		return errors.New("session.max_age must be positive")
	}
	if c.Session.SweepInterval <= 0 {
		return errors.New("session.sweep_interval must be positive")
	}
	if c.Session.WorkerStaleAfter <= 0 {
		return errors.New("session.worker_stale_after must be positive")
	}
	if c.Routing.HumanResponseCeiling <= 0 {
		return errors.New("routing.human_response_ceiling must be positive")
	}
	if c.Routing.AutomatedTimeout <= 0 {
		return errors.New("routing.automated_timeout must be positive")
	}
	if c.Routing.AutomatedRate <= 0 || c.Routing.AutomatedBurst <= 0 {
		return errors.New("routing.automated_rate and routing.automated_burst must be positive")
	}
	if c.Loop.DrainGracePeriod < 0 {
		return errors.New("loop.drain_grace_period cannot be negative")
	}
	if c.Loop.MaxInFlight <= 0 {
		return errors.New("loop.max_in_flight must be positive")
	}
	if c.Loop.DedupeSize <= 0 || c.Loop.ThreadCapacity <= 0 {
		return errors.New("loop.dedupe_size and loop.thread_capacity must be positive")
	}
	return nil
}

// Source yields the current configuration snapshot. Components read it on
// every decision so that reloads take effect without a restart.
type Source interface {
	Current() *Config
}

type staticSource struct {
	cfg *Config
}

func (s staticSource) Current() *Config { return s.cfg }

// Static wraps a fixed configuration as a Source
func Static(cfg *Config) Source {
	if cfg == nil {
		cfg = Default()
	}
	return staticSource{cfg: cfg}
}
