package config

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g. AGENTVINE_QUEUE_LEASE_TIMEOUT
const EnvPrefix = "AGENTVINE"

// Configuration keys as they appear in YAML and, upper-cased, in the environment
const (
	KeyLeaseTimeout         = "queue.lease_timeout"
	KeyMaxRetries           = "queue.max_retries"
	KeyLeaseCheckInterval   = "queue.check_interval"
	KeyRetryBatchSize       = "queue.batch_size"
	KeyRetryInitialDelay    = "queue.retry_initial_delay"
	KeyRetryMaxDelay        = "queue.retry_max_delay"
	KeyIdleTimeout          = "session.idle_timeout"
	KeyMaxAge               = "session.max_age"
	KeySweepInterval        = "session.sweep_interval"
	KeyRetention            = "session.retention"
	KeyWorkerStaleAfter     = "session.worker_stale_after"
	KeyHumanResponseCeiling = "routing.human_response_ceiling"
	KeyAutomatedTimeout     = "routing.automated_timeout"
	KeyAutomatedRate        = "routing.automated_rate"
	KeyAutomatedBurst       = "routing.automated_burst"
	KeySimpleMaxLength      = "routing.simple_max_length"
	KeyRulesFile            = "routing.rules_file"
	KeyDrainGracePeriod     = "loop.drain_grace_period"
	KeyMaxInFlight          = "loop.max_in_flight"
	KeyDedupeTTL            = "loop.dedupe_ttl"
	KeyDedupeSize           = "loop.dedupe_size"
	KeyThreadCapacity       = "loop.thread_capacity"
	KeyGRPCAddr             = "server.grpc_addr"
	KeyMCPAddr              = "server.mcp_addr"
	KeyMCPBaseURL           = "server.mcp_base_url"
	KeyMetricsAddr          = "server.metrics_addr"
	KeyStoragePath          = "server.storage_path"
	KeyTracingEndpoint      = "server.tracing_endpoint"
)

// Runtime holds the live configuration. Reads are lock-free; a file change
// swaps in a new validated snapshot.
type Runtime struct {
	v      *viper.Viper
	cur    atomic.Pointer[Config]
	logger *slog.Logger

	mu        sync.Mutex
	listeners []func(*Config)
}

// Load reads configuration from path (optional) and the environment.
func Load(path string, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	r := &Runtime{v: v, logger: logger}
	r.cur.Store(cfg)
	return r, nil
}

// BindFlags lets command-line flags override file and environment values
func (r *Runtime) BindFlags(flags *pflag.FlagSet, bindings map[string]string) error {
	for key, flag := range bindings {
		f := flags.Lookup(flag)
		if f == nil {
			return fmt.Errorf("unknown flag %q for key %s", flag, key)
		}
		if err := r.v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", flag, err)
		}
	}
	return r.reload()
}

// Current returns the active snapshot
func (r *Runtime) Current() *Config {
	return r.cur.Load()
}

// OnChange registers a callback invoked after every accepted reload
func (r *Runtime) OnChange(fn func(*Config)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Watch starts watching the config file. Invalid edits are logged and ignored.
func (r *Runtime) Watch() {
	if r.v.ConfigFileUsed() == "" {
		return
	}
	r.v.OnConfigChange(func(e fsnotify.Event) {
		if err := r.reload(); err != nil {
			r.logger.Warn("Ignoring config change", "file", e.Name, "error", err)
			return
		}
		r.logger.Info("Config reloaded", "file", e.Name, "op", e.Op.String())
	})
	r.v.WatchConfig()
}

func (r *Runtime) reload() error {
	cfg := fromViper(r.v)
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.cur.Store(cfg)

	r.mu.Lock()
	listeners := append([]func(*Config){}, r.listeners...)
	r.mu.Unlock()
	for _, fn := range listeners {
		fn(cfg)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault(KeyLeaseTimeout, d.Queue.LeaseTimeout)
	v.SetDefault(KeyMaxRetries, d.Queue.MaxRetries)
	v.SetDefault(KeyLeaseCheckInterval, d.Queue.CheckInterval)
	v.SetDefault(KeyRetryBatchSize, d.Queue.BatchSize)
	v.SetDefault(KeyRetryInitialDelay, d.Queue.RetryInitialDelay)
	v.SetDefault(KeyRetryMaxDelay, d.Queue.RetryMaxDelay)
	v.SetDefault(KeyIdleTimeout, d.Session.IdleTimeout)
	v.SetDefault(KeyMaxAge, d.Session.MaxAge)
	v.SetDefault(KeySweepInterval, d.Session.SweepInterval)
	v.SetDefault(KeyRetention, d.Session.Retention)
	v.SetDefault(KeyWorkerStaleAfter, d.Session.WorkerStaleAfter)
	v.SetDefault(KeyHumanResponseCeiling, d.Routing.HumanResponseCeiling)
	v.SetDefault(KeyAutomatedTimeout, d.Routing.AutomatedTimeout)
	v.SetDefault(KeyAutomatedRate, d.Routing.AutomatedRate)
	v.SetDefault(KeyAutomatedBurst, d.Routing.AutomatedBurst)
	v.SetDefault(KeySimpleMaxLength, d.Routing.SimpleMaxLength)
	v.SetDefault(KeyRulesFile, d.Routing.RulesFile)
	v.SetDefault(KeyDrainGracePeriod, d.Loop.DrainGracePeriod)
	v.SetDefault(KeyMaxInFlight, d.Loop.MaxInFlight)
	v.SetDefault(KeyDedupeTTL, d.Loop.DedupeTTL)
	v.SetDefault(KeyDedupeSize, d.Loop.DedupeSize)
	v.SetDefault(KeyThreadCapacity, d.Loop.ThreadCapacity)
	v.SetDefault(KeyGRPCAddr, d.Server.GRPCAddr)
	v.SetDefault(KeyMCPAddr, d.Server.MCPAddr)
	v.SetDefault(KeyMCPBaseURL, d.Server.MCPBaseURL)
	v.SetDefault(KeyMetricsAddr, d.Server.MetricsAddr)
	v.SetDefault(KeyStoragePath, d.Server.StoragePath)
	v.SetDefault(KeyTracingEndpoint, d.Server.TracingEndpoint)
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Queue: QueueConfig{
			LeaseTimeout:      v.GetDuration(KeyLeaseTimeout),
			MaxRetries:        v.GetInt(KeyMaxRetries),
			CheckInterval:     v.GetDuration(KeyLeaseCheckInterval),
			BatchSize:         v.GetInt(KeyRetryBatchSize),
			RetryInitialDelay: v.GetDuration(KeyRetryInitialDelay),
			RetryMaxDelay:     v.GetDuration(KeyRetryMaxDelay),
		},
		Session: SessionConfig{
			IdleTimeout:      v.GetDuration(KeyIdleTimeout),
			MaxAge:           v.GetDuration(KeyMaxAge),
			SweepInterval:    v.GetDuration(KeySweepInterval),
			Retention:        v.GetDuration(KeyRetention),
			WorkerStaleAfter: v.GetDuration(KeyWorkerStaleAfter),
		},
		Routing: RoutingConfig{
			HumanResponseCeiling: v.GetDuration(KeyHumanResponseCeiling),
			AutomatedTimeout:     v.GetDuration(KeyAutomatedTimeout),
			AutomatedRate:        v.GetFloat64(KeyAutomatedRate),
			AutomatedBurst:       v.GetInt(KeyAutomatedBurst),
			SimpleMaxLength:      v.GetInt(KeySimpleMaxLength),
			RulesFile:            v.GetString(KeyRulesFile),
		},
		Loop: LoopConfig{
			DrainGracePeriod: v.GetDuration(KeyDrainGracePeriod),
			MaxInFlight:      v.GetInt(KeyMaxInFlight),
			DedupeTTL:        v.GetDuration(KeyDedupeTTL),
			DedupeSize:       v.GetInt(KeyDedupeSize),
			ThreadCapacity:   v.GetInt(KeyThreadCapacity),
		},
		Server: ServerConfig{
			GRPCAddr:        v.GetString(KeyGRPCAddr),
			MCPAddr:         v.GetString(KeyMCPAddr),
			MCPBaseURL:      v.GetString(KeyMCPBaseURL),
			MetricsAddr:     v.GetString(KeyMetricsAddr),
			StoragePath:     v.GetString(KeyStoragePath),
			TracingEndpoint: v.GetString(KeyTracingEndpoint),
		},
	}
}
