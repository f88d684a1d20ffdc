package services

import "github.com/prometheus/client_golang/prometheus"

var (
	trainingJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doppel_training_jobs_total",
			Help: "Training pipeline runs by outcome.",
		},
		[]string{"outcome"},
	)
	trainingPhase = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "doppel_training_phase_seconds",
			Help:    "Duration of collection and training phases.",
			Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 7200, 14400},
		},
		[]string{"phase"},
	)
	pipelinesInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "doppel_training_pipelines_in_flight",
			Help: "Training pipelines currently running in the background.",
		},
	)
	mentions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doppel_mentions_total",
			Help: "Handled mentions by outcome.",
		},
		[]string{"outcome"},
	)
)

// Outcome label values.
const (
	outcomeSucceeded  = "succeeded"
	outcomeFailed     = "failed"
	outcomeDuplicate  = "already_registered"
	outcomeReplied    = "replied"
	outcomeNoSpeaker  = "no_speaker"
	outcomeGenFailure = "inference_failed"
)

func init() {
	prometheus.MustRegister(trainingJobs, trainingPhase, pipelinesInFlight, mentions)
}
