// Package metrics exposes Prometheus metrics for the extraction pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	dto "github.com/prometheus/client_model/go"
)

// Recorder groups the pipeline's collectors. A nil *Recorder is valid and
// records nothing, so components can be used without metrics wiring.
type Recorder struct {
	reg *prometheus.Registry

	decisions      *prometheus.CounterVec
	sinkAborts     prometheus.Counter
	bytesWritten   *prometheus.CounterVec
	reprojections  *prometheus.CounterVec
	extractions    *prometheus.CounterVec
	extractSeconds *prometheus.HistogramVec
	limitReloads   *prometheus.CounterVec
}

// New creates a recorder on its own registry. withRuntime adds the Go and
// process collectors, which tests usually leave out.
func New(withRuntime bool) *Recorder {
	reg := prometheus.NewRegistry()
	if withRuntime {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	r := &Recorder{
		reg: reg,
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geoextract_estimate_decisions_total",
			Help: "Cost estimator decisions by kind (raster|vector) and outcome (accepted|rejected).",
		}, []string{"kind", "outcome"}),
		sinkAborts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "geoextract_sink_aborts_total",
			Help: "Bounded sink budget overruns.",
		}),
		bytesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geoextract_bytes_written_total",
			Help: "Bytes forwarded to output files by mime type.",
		}, []string{"mime"}),
		reprojections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geoextract_reprojection_total",
			Help: "Reprojection steps by kind and result (performed|skipped).",
		}, []string{"kind", "result"}),
		extractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geoextract_extractions_total",
			Help: "Finished extractions by kind and outcome.",
		}, []string{"kind", "outcome"}),
		extractSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "geoextract_extraction_duration_seconds",
			Help:    "Wall time of extractions.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"kind"}),
		limitReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geoextract_limits_reloads_total",
			Help: "Limits file reloads by result (applied|unchanged|error).",
		}, []string{"result"}),
	}
	reg.MustRegister(r.decisions, r.sinkAborts, r.bytesWritten, r.reprojections,
		r.extractions, r.extractSeconds, r.limitReloads)
	return r
}

// Gatherer returns the registry for exposition.
func (r *Recorder) Gatherer() prometheus.Gatherer { return r.reg }

// WriteFile dumps the current metrics in text format, node-exporter textfile style.
func (r *Recorder) WriteFile(path string) error {
	return prometheus.WriteToTextfile(path, r.reg)
}

func (r *Recorder) Decision(kind string, accepted bool) {
	if r == nil {
		return
	}
	outcome := "rejected"
	if accepted {
		outcome = "accepted"
	}
	r.decisions.WithLabelValues(kind, outcome).Inc()
}

func (r *Recorder) SinkAbort() {
	if r == nil {
		return
	}
	r.sinkAborts.Inc()
}

func (r *Recorder) BytesWritten(mime string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.bytesWritten.WithLabelValues(mime).Add(float64(n))
}

// Reprojection records whether a reprojection step ran or was skipped.
func (r *Recorder) Reprojection(kind string, performed bool) {
	if r == nil {
		return
	}
	result := "skipped"
	if performed {
		result = "performed"
	}
	r.reprojections.WithLabelValues(kind, result).Inc()
}

func (r *Recorder) Extraction(kind, outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.extractions.WithLabelValues(kind, outcome).Inc()
	r.extractSeconds.WithLabelValues(kind).Observe(d.Seconds())
}

func (r *Recorder) LimitsReload(result string) {
	if r == nil {
		return
	}
	r.limitReloads.WithLabelValues(result).Inc()
}

// ReprojectionCount returns the current value of the reprojection counter.
func (r *Recorder) ReprojectionCount(kind string, performed bool) float64 {
	if r == nil {
		return 0
	}
	result := "skipped"
	if performed {
		result = "performed"
	}
	return counterValue(r.reprojections.WithLabelValues(kind, result))
}

func counterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}
