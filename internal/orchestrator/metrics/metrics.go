// Package metrics exposes Prometheus collectors that report orchestration
// core activity. All methods are safe on a nil *Metrics.
package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "agentvine"

// Metrics holds the orchestration core collectors
type Metrics struct {
	claims           *prometheus.CounterVec
	completions      prometheus.Counter
	failures         prometheus.Counter
	requeues         *prometheus.CounterVec
	deadLetters      prometheus.Counter
	staleOps         *prometheus.CounterVec
	sessionsCreated  *prometheus.CounterVec
	sessionsEnded    *prometheus.CounterVec
	requests         prometheus.Counter
	malformed        prometheus.Counter
	decisions        *prometheus.CounterVec
	fallbacks        *prometheus.CounterVec
	humanTimeouts    prometheus.Counter
	responses        *prometheus.CounterVec
	duplicates       prometheus.Counter
	inFlight         prometheus.Gauge
	loopPanics       prometheus.Counter
	dispatchDuration *prometheus.HistogramVec
}

// register registers c, reusing an identical collector that is already registered
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func counter(reg prometheus.Registerer, subsystem, name, help string) prometheus.Counter {
	return register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
	}))
}

func counterVec(reg prometheus.Registerer, subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
	}, labels))
}

// MustNewMetrics constructs a Metrics instance on reg. Pass a fresh registry
// in tests. Registration conflicts other than identical re-registration panic.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	return &Metrics{
		claims:          counterVec(reg, "queue", "claims_total", "Work items handed to workers.", "tier"),
		completions:     counter(reg, "queue", "completions_total", "Work items completed."),
		failures:        counter(reg, "queue", "failures_total", "Explicit work item failures."),
		requeues:        counterVec(reg, "queue", "requeues_total", "Work items returned to their tier.", "reason"),
		deadLetters:     counter(reg, "queue", "dead_letters_total", "Work items that exhausted their retry budget."),
		staleOps:        counterVec(reg, "queue", "stale_operations_total", "Complete or fail calls on items not leased by the caller.", "op"),
		sessionsCreated: counterVec(reg, "session", "created_total", "Sessions handed out by createOrReuse.", "reused"),
		sessionsEnded:   counterVec(reg, "session", "terminations_total", "Session terminations.", "cause"),
		requests:        counter(reg, "routing", "requests_total", "Worker requests polled by the orchestrator."),
		malformed:       counter(reg, "routing", "malformed_requests_total", "Requests rejected for missing correlation fields."),
		decisions:       counterVec(reg, "routing", "decisions_total", "Routing decisions.", "route", "rule"),
		fallbacks:       counterVec(reg, "routing", "automated_fallbacks_total", "Automated arm failures that fell back to a human.", "reason"),
		humanTimeouts:   counter(reg, "routing", "human_timeouts_total", "Human waits that hit the response ceiling."),
		responses:       counterVec(reg, "routing", "responses_total", "Responses delivered to workers.", "generated_by"),
		duplicates:      counter(reg, "routing", "duplicate_responses_total", "Responses discarded because the request was already answered."),
		inFlight: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "loop", Name: "dispatches_in_flight", Help: "Requests awaiting a handler.",
		})),
		loopPanics: counter(reg, "loop", "panics_total", "Panics recovered while processing a single request."),
		dispatchDuration: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "loop", Name: "dispatch_duration_seconds",
			Help: "Time from dispatch to response.", Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"route", "generated_by"})),
	}
}

// IncClaim counts a successful claim on tier
func (m *Metrics) IncClaim(tier string) {
	if m == nil {
		return
	}
	m.claims.WithLabelValues(tier).Inc()
}

// IncCompletion counts a completed item
func (m *Metrics) IncCompletion() {
	if m == nil {
		return
	}
	m.completions.Inc()
}

// IncFailure counts an explicit failure signal
func (m *Metrics) IncFailure() {
	if m == nil {
		return
	}
	m.failures.Inc()
}

// IncRequeue counts an item going back to its tier
func (m *Metrics) IncRequeue(reason string) {
	if m == nil {
		return
	}
	m.requeues.WithLabelValues(reason).Inc()
}

// IncDeadLetter counts an item moved to the dead-letter set
func (m *Metrics) IncDeadLetter() {
	if m == nil {
		return
	}
	m.deadLetters.Inc()
}

// IncStaleOperation counts a complete/fail that lost its lease check
func (m *Metrics) IncStaleOperation(op string) {
	if m == nil {
		return
	}
	m.staleOps.WithLabelValues(op).Inc()
}

// IncSessionCreated counts a session returned by createOrReuse
func (m *Metrics) IncSessionCreated(reused bool) {
	if m == nil {
		return
	}
	m.sessionsCreated.WithLabelValues(strconv.FormatBool(reused)).Inc()
}

// IncSessionTerminated counts a termination by cause
func (m *Metrics) IncSessionTerminated(cause string) {
	if m == nil {
		return
	}
	m.sessionsEnded.WithLabelValues(cause).Inc()
}

// IncRequest counts a polled request
func (m *Metrics) IncRequest() {
	if m == nil {
		return
	}
	m.requests.Inc()
}

// IncMalformed counts a rejected request
func (m *Metrics) IncMalformed() {
	if m == nil {
		return
	}
	m.malformed.Inc()
}

// IncDecision counts a routing decision
func (m *Metrics) IncDecision(route, rule string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(route, rule).Inc()
}

// IncFallback counts an automated-arm fallback
func (m *Metrics) IncFallback(reason string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(reason).Inc()
}

// IncHumanTimeout counts a synthetic timeout response
func (m *Metrics) IncHumanTimeout() {
	if m == nil {
		return
	}
	m.humanTimeouts.Inc()
}

// IncResponse counts a delivered response
func (m *Metrics) IncResponse(generatedBy string) {
	if m == nil {
		return
	}
	m.responses.WithLabelValues(generatedBy).Inc()
}

// IncDuplicateResponse counts a discarded duplicate
func (m *Metrics) IncDuplicateResponse() {
	if m == nil {
		return
	}
	m.duplicates.Inc()
}

// IncInFlight marks a dispatch as started
func (m *Metrics) IncInFlight() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

// DecInFlight marks a dispatch as finished
func (m *Metrics) DecInFlight() {
	if m == nil {
		return
	}
	m.inFlight.Dec()
}

// IncLoopPanic counts a recovered panic
func (m *Metrics) IncLoopPanic() {
	if m == nil {
		return
	}
	m.loopPanics.Inc()
}

// ObserveDispatch records how long a request took from dispatch to response
func (m *Metrics) ObserveDispatch(route, generatedBy string, d time.Duration) {
	if m == nil {
		return
	}
	m.dispatchDuration.WithLabelValues(route, generatedBy).Observe(d.Seconds())
}
