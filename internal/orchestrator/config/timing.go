package config

import "time"

// Default timing configurations used throughout the orchestrator
const (
	// DefaultLeaseTimeout is how long a claimed work item stays leased before requeue
	DefaultLeaseTimeout = 60 * time.Minute

	// DefaultLeaseCheckInterval is how often expired leases and due retries are swept
	DefaultLeaseCheckInterval = 1 * time.Second

	// DefaultRetryBatchSize is the maximum items to requeue per sweep
	DefaultRetryBatchSize = 100

	// DefaultMaxRetries is the retry budget applied when an item does not carry one
	DefaultMaxRetries = 3

	// DefaultRetryInitialDelay is the backoff before the first explicit-fail retry
	DefaultRetryInitialDelay = 0 * time.Second

	// DefaultRetryMaxDelay caps explicit-fail retry backoff
	DefaultRetryMaxDelay = 5 * time.Minute

	// DefaultSessionIdleTimeout terminates sessions without activity
	DefaultSessionIdleTimeout = 30 * time.Minute

	// DefaultSessionMaxAge terminates sessions regardless of activity
	DefaultSessionMaxAge = 60 * time.Minute

	// DefaultSessionSweepInterval is how often the session registry is swept
	DefaultSessionSweepInterval = 1 * time.Minute

	// DefaultSessionRetention is how long terminated sessions are kept for audit
	DefaultSessionRetention = 24 * time.Hour

	// DefaultHumanResponseCeiling bounds the wait for a human answer
	DefaultHumanResponseCeiling = 30 * time.Minute

	// DefaultAutomatedTimeout bounds a single automated handler call
	DefaultAutomatedTimeout = 30 * time.Second

	// DefaultDrainGracePeriod is how long in-flight dispatches may run after shutdown
	DefaultDrainGracePeriod = 10 * time.Second

	// DefaultHeartbeatInterval is the default worker heartbeat interval
	DefaultHeartbeatInterval = 30 * time.Second

	// DefaultWorkerStaleAfter is how long a silent worker is listed as stale
	DefaultWorkerStaleAfter = 3 * DefaultHeartbeatInterval

	// DefaultPollInterval is how often an idle worker polls for work
	DefaultPollInterval = 10 * time.Second

	// DefaultResponseDedupeTTL is how long delivered response ids are remembered
	DefaultResponseDedupeTTL = 1 * time.Hour
)

// Default sizing used throughout the orchestrator
const (
	// DefaultMaxInFlight bounds concurrent automated handler calls
	DefaultMaxInFlight = 256

	// DefaultResponseDedupeSize is the number of delivered response ids remembered
	DefaultResponseDedupeSize = 10000

	// DefaultThreadCapacity is the number of conversation threads kept in memory
	DefaultThreadCapacity = 4096

	// DefaultAutomatedRate is the automated handler call rate per second
	DefaultAutomatedRate = 5.0

	// DefaultAutomatedBurst is the automated handler burst size
	DefaultAutomatedBurst = 10

	// DefaultSimpleMaxLength is the longest content the simple heuristic accepts, in runes
	DefaultSimpleMaxLength = 280
)
