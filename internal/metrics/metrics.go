// Package metrics exposes optional Prometheus instrumentation for the
// core (SPEC_FULL.md §2): a nil-safe Registry so callers that never
// construct one pay nothing, and counters/gauges for the handful of
// crypto-state transitions worth alerting on.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles every metric the core emits. A nil *Registry is
// valid everywhere below — every method is a no-op on a nil receiver —
// so instrumentation stays entirely opt-in.
type Registry struct {
	ratchetDHTurns       *prometheus.CounterVec
	envelopeFailures     *prometheus.CounterVec
	skippedCacheSize     prometheus.Gauge
	callKeyRotations     prometheus.Counter
	prekeysReplenished   prometheus.Counter
	prekeysRemaining     prometheus.Gauge
	inviteAcceptFailures *prometheus.CounterVec
}

// NewRegistry builds and registers a Registry against reg. Pass
// prometheus.NewRegistry() for an isolated test registry, or
// prometheus.DefaultRegisterer to expose via promhttp.Handler().
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		ratchetDHTurns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentry_ratchet_dh_turns_total",
			Help: "Total number of Double Ratchet DH turns performed.",
		}, []string{"role"}),
		envelopeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentry_envelope_failures_total",
			Help: "Total number of envelope decrypt failures by info tag.",
		}, []string{"info"}),
		skippedCacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sentry_ratchet_skipped_cache_size",
			Help: "Current total size of all peers' skipped-message-key caches.",
		}),
		callKeyRotations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentry_call_key_rotations_total",
			Help: "Total number of call key epoch rotations.",
		}),
		prekeysReplenished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentry_prekeys_replenished_total",
			Help: "Total number of one-time prekey replenishment batches generated.",
		}),
		prekeysRemaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sentry_prekeys_remaining",
			Help: "Number of unused one-time prekeys remaining for this device.",
		}),
		inviteAcceptFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentry_invite_accept_failures_total",
			Help: "Total number of failed invite-accept attempts by error code.",
		}, []string{"code"}),
	}
	reg.MustRegister(
		r.ratchetDHTurns,
		r.envelopeFailures,
		r.skippedCacheSize,
		r.callKeyRotations,
		r.prekeysReplenished,
		r.prekeysRemaining,
		r.inviteAcceptFailures,
	)
	return r
}

func (r *Registry) RecordRatchetDHTurn(role string) {
	if r == nil {
		return
	}
	r.ratchetDHTurns.WithLabelValues(role).Inc()
}

func (r *Registry) RecordEnvelopeFailure(info string) {
	if r == nil {
		return
	}
	r.envelopeFailures.WithLabelValues(info).Inc()
}

func (r *Registry) SetSkippedCacheSize(n int) {
	if r == nil {
		return
	}
	r.skippedCacheSize.Set(float64(n))
}

func (r *Registry) RecordCallKeyRotation() {
	if r == nil {
		return
	}
	r.callKeyRotations.Inc()
}

func (r *Registry) RecordPrekeysReplenished() {
	if r == nil {
		return
	}
	r.prekeysReplenished.Inc()
}

func (r *Registry) SetPrekeysRemaining(n int) {
	if r == nil {
		return
	}
	r.prekeysRemaining.Set(float64(n))
}

func (r *Registry) RecordInviteAcceptFailure(code string) {
	if r == nil {
		return
	}
	r.inviteAcceptFailures.WithLabelValues(code).Inc()
}
