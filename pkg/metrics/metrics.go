// Package metrics exports monitor activity as prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gitlab.com/tinyland/lab/netpulse/pkg/quality"
)

const namespace = "netpulse"

// Probe results as reported in netpulse_probes_total{result}.
const (
	ResultSuccess = "success"
	ResultStale   = "stale"
)

var allStates = []quality.ConnectivityState{
	quality.StateUnknown,
	quality.StateUnsatisfied,
	quality.StateRequiresConnection,
	quality.StateSatisfied,
}

// Recorder implements quality.Observer on top of a private registry.
type Recorder struct {
	registry *prometheus.Registry

	triggers      *prometheus.CounterVec
	coalesced     prometheus.Counter
	probes        *prometheus.CounterVec
	probeDuration prometheus.Histogram
	inFlight      prometheus.Gauge
	state         *prometheus.GaugeVec
	upload        prometheus.Gauge
	download      prometheus.Gauge
	ping          prometheus.Gauge
}

var _ quality.Observer = (*Recorder)(nil)

// NewRecorder registers the netpulse metrics on a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	r := &Recorder{
		registry: reg,
		triggers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "triggers_total",
			Help:      "Probe triggers received, by source.",
		}, []string{"source"}),
		coalesced: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "triggers_coalesced_total",
			Help:      "Triggers merged into an already pending run.",
		}),
		probes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "Completed probe attempts, by result.",
		}, []string{"result"}),
		probeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_duration_seconds",
			Help:      "Wall time of probe attempts.",
			Buckets:   []float64{1, 2.5, 5, 10, 15, 20, 30, 45, 60},
		}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "probe_in_flight",
			Help:      "1 while a probe is running.",
		}),
		state: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connectivity_state",
			Help:      "Current connectivity state (one-hot).",
		}, []string{"state"}),
		upload: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "upload_bytes_per_second",
			Help:      "Upload throughput of the last accepted sample.",
		}),
		download: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "download_bytes_per_second",
			Help:      "Download throughput of the last accepted sample.",
		}),
		ping: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ping_milliseconds",
			Help:      "Responsiveness of the last accepted sample.",
		}),
	}
	r.StateChanged(quality.StateUnknown)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) TriggerReceived(src quality.TriggerSource) {
	r.triggers.WithLabelValues(src.String()).Inc()
}

func (r *Recorder) TriggerCoalesced(quality.TriggerSource) {
	r.coalesced.Inc()
}

func (r *Recorder) ProbeStarted(quality.TriggerSource) {
	r.inFlight.Set(1)
}

func (r *Recorder) ProbeFinished(elapsed time.Duration, sample quality.SpeedSample, err error, stale bool) {
	r.inFlight.Set(0)
	r.probeDuration.Observe(elapsed.Seconds())

	switch {
	case err != nil:
		r.probes.WithLabelValues(quality.ErrorKind(err).String()).Inc()
	case stale:
		r.probes.WithLabelValues(ResultStale).Inc()
	default:
		r.probes.WithLabelValues(ResultSuccess).Inc()
		r.upload.Set(float64(sample.UploadBps))
		r.download.Set(float64(sample.DownloadBps))
		if sample.HasPing {
			r.ping.Set(float64(sample.PingMS))
		}
	}
}

// StateChanged sets the one-hot state gauge. Throughput gauges are zeroed
// because the previous sample no longer describes the path.
func (r *Recorder) StateChanged(state quality.ConnectivityState) {
	for _, s := range allStates {
		v := 0.0
		if s == state {
			v = 1
		}
		r.state.WithLabelValues(s.String()).Set(v)
	}
	r.upload.Set(0)
	r.download.Set(0)
	r.ping.Set(0)
}
