// Package metrics holds the process-wide prometheus collectors. Every record
// method is safe on a nil *Recorder so packages can be exercised without a
// registry.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fixhero"

type Recorder struct {
	sessionsCreated prometheus.Counter
	sessionsPruned  prometheus.Counter
	issuesAdded     prometheus.Counter
	issuesDropped   prometheus.Counter
	loginAttempts   *prometheus.CounterVec
	lockouts        prometheus.Counter
	storageDegraded *prometheus.CounterVec
	storageBytes    prometheus.Gauge
	storagePercent  prometheus.Gauge
	enrichQueue     prometheus.Gauge
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

var (
	once sync.Once
	inst *Recorder
)

// Default returns the Recorder registered with the default prometheus
// registry, creating it on first use.
func Default() *Recorder {
	once.Do(func() {
		inst = newRecorder(promauto.With(prometheus.DefaultRegisterer))
	})
	return inst
}

// New registers a fresh set of collectors on reg. Tests use it with a
// private registry.
func New(reg prometheus.Registerer) *Recorder {
	return newRecorder(promauto.With(reg))
}

func newRecorder(f promauto.Factory) *Recorder {
	return &Recorder{
		sessionsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "created_total",
			Help:      "Sessions created",
		}),
		sessionsPruned: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "pruned_total",
			Help:      "Sessions removed by the retention cap",
		}),
		issuesAdded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "issue",
			Name:      "added_total",
			Help:      "Issues appended to a session",
		}),
		issuesDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "issue",
			Name:      "dropped_total",
			Help:      "Issues dropped because no session was current",
		}),
		loginAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "login_attempts_total",
			Help:      "Credential checks, labeled by result",
		}, []string{"result"}),
		lockouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "lockouts_total",
			Help:      "Times the failed-attempt limit was reached",
		}),
		storageDegraded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "degraded_reads_total",
			Help:      "Reads answered with a default because storage failed, labeled by component",
		}, []string{"component"}),
		storageBytes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "used_bytes",
			Help:      "Bytes held by the storage backend at the last poll",
		}),
		storagePercent: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "used_percent",
			Help:      "Storage usage against the configured quota at the last poll",
		}),
		enrichQueue: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "enrich",
			Name:      "queue_depth",
			Help:      "Issues waiting for automatic tagging",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "API requests, labeled by route pattern and status code",
		}, []string{"route", "code"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "API request latency by route pattern",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

func (r *Recorder) SessionCreated() {
	if r == nil {
		return
	}
	r.sessionsCreated.Inc()
}

func (r *Recorder) SessionsPruned(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.sessionsPruned.Add(float64(n))
}

func (r *Recorder) IssueAdded() {
	if r == nil {
		return
	}
	r.issuesAdded.Inc()
}

func (r *Recorder) IssueDropped() {
	if r == nil {
		return
	}
	r.issuesDropped.Inc()
}

// LoginAttempt records one credential check. result is "success",
// "failure" or "locked".
func (r *Recorder) LoginAttempt(result string) {
	if r == nil {
		return
	}
	r.loginAttempts.WithLabelValues(result).Inc()
}

func (r *Recorder) Lockout() {
	if r == nil {
		return
	}
	r.lockouts.Inc()
}

func (r *Recorder) DegradedRead(component string) {
	if r == nil {
		return
	}
	r.storageDegraded.WithLabelValues(component).Inc()
}

func (r *Recorder) StorageUsage(bytes int64, percent float64) {
	if r == nil {
		return
	}
	r.storageBytes.Set(float64(bytes))
	r.storagePercent.Set(percent)
}

func (r *Recorder) EnrichQueueDepth(n int) {
	if r == nil {
		return
	}
	r.enrichQueue.Set(float64(n))
}

func (r *Recorder) HTTPRequest(route string, code int, elapsed time.Duration) {
	if r == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	r.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	r.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
