package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name:        "mms_asr_build_info",
			Help:        "Build information",
			ConstLabels: prometheus.Labels{"component": "server"},
		},
		[]string{"date", "sha", "version"},
	)

	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mms_asr_requests_total",
			Help: "Transcription requests by language, output format and outcome",
		},
		[]string{"language", "output", "outcome"},
	)

	requestsInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mms_asr_requests_inflight",
			Help: "Transcription requests currently being handled",
		},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mms_asr_request_duration_seconds",
			Help:    "End-to-end request duration",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"output"},
	)

	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mms_asr_stage_duration_seconds",
			Help:    "Time spent staging uploads, split by re-encoding",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"encode"},
	)

	uploadBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mms_asr_upload_bytes_total",
			Help: "Bytes of audio received",
		},
	)

	transcribeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mms_asr_transcribe_duration_seconds",
			Help:    "Wall time of the transcription process",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"language"},
	)

	failuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mms_asr_failures_total",
			Help: "Failed requests by error kind",
		},
		[]string{"kind"},
	)
)

// Register registers all collectors with r.
func Register(r prometheus.Registerer) {
	r.MustRegister(buildInfo, requestsTotal, requestsInflight, requestDuration, stageDuration, uploadBytes, transcribeDuration, failuresTotal)
}

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, sha, date string) {
	buildInfo.WithLabelValues(date, sha, version).Set(1)
}

// RequestStart marks a request as in flight.
func RequestStart() { requestsInflight.Inc() }

// RequestEnd records the outcome of a request started with RequestStart.
func RequestEnd(language, output string, success bool, dur time.Duration) {
	requestsInflight.Dec()
	outcome := "success"
	if !success {
		outcome = "error"
	}
	requestsTotal.WithLabelValues(language, output, outcome).Inc()
	requestDuration.WithLabelValues(output).Observe(dur.Seconds())
}

// ObserveStage records staging time and the size of the upload.
func ObserveStage(encode bool, bytes int64, dur time.Duration) {
	e := "false"
	if encode {
		e = "true"
	}
	stageDuration.WithLabelValues(e).Observe(dur.Seconds())
	if bytes > 0 {
		uploadBytes.Add(float64(bytes))
	}
}

// ObserveTranscribe records the wall time of one transcription run.
func ObserveTranscribe(language string, dur time.Duration) {
	transcribeDuration.WithLabelValues(language).Observe(dur.Seconds())
}

// RecordFailure counts a failed request by error kind.
func RecordFailure(kind string) {
	failuresTotal.WithLabelValues(kind).Inc()
}
