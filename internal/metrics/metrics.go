package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Pipeline holds the collectors observed by extractors, loaders and the runner.
// A nil *Pipeline is valid and records nothing.
type Pipeline struct {
	pages       *prometheus.CounterVec
	retries     *prometheus.CounterVec
	uploads     *prometheus.CounterVec
	uploadBytes *prometheus.CounterVec
	runs        *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
}

// NewPipeline creates the collectors and registers them with reg.
func NewPipeline(reg prometheus.Registerer) (*Pipeline, error) {
	m := &Pipeline{
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dwpipe_extractor_pages_total",
			Help: "Pages written by API extractors.",
		}, []string{"source", "surname"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dwpipe_extractor_retries_total",
			Help: "Retried API requests.",
		}, []string{"source"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dwpipe_storage_uploads_total",
			Help: "Files uploaded to object storage.",
		}, []string{"backend"}),
		uploadBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dwpipe_storage_upload_bytes_total",
			Help: "Bytes uploaded to object storage.",
		}, []string{"backend"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dwpipe_pipeline_runs_total",
			Help: "Finished pipeline runs by status.",
		}, []string{"pipeline", "status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dwpipe_pipeline_run_duration_seconds",
			Help:    "Wall time of pipeline runs.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"pipeline"}),
	}

	for _, c := range []prometheus.Collector{m.pages, m.retries, m.uploads, m.uploadBytes, m.runs, m.runDuration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Pipeline) PageWritten(source, surname string) {
	if m == nil {
		return
	}
	m.pages.WithLabelValues(source, surname).Inc()
}

func (m *Pipeline) RequestRetried(source string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(source).Inc()
}

func (m *Pipeline) FileUploaded(backend string, size int64) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(backend).Inc()
	m.uploadBytes.WithLabelValues(backend).Add(float64(size))
}

func (m *Pipeline) RunFinished(pipeline, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(pipeline, status).Inc()
	m.runDuration.WithLabelValues(pipeline).Observe(elapsed.Seconds())
}
