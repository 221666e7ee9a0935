// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package nerconll

import "github.com/prometheus/client_golang/prometheus"

var (
	extractRequestOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "antfly",
			Subsystem: "nerconll",
			Name:      "extract_request_ops_total",
			Help:      "The total number of extraction requests.",
		},
		[]string{"model"},
	)
	detectionOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "antfly",
			Subsystem: "nerconll",
			Name:      "detection_ops_total",
			Help:      "The total number of entities detected.",
		},
		[]string{"model", "label"},
	)

	modelLoadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "antfly",
			Subsystem: "nerconll",
			Name:      "model_load_duration_seconds",
			Help:      "Time taken to load a model.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"model"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "antfly",
			Subsystem: "nerconll",
			Name:      "request_duration_seconds",
			Help:      "Time taken to process a request.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint", "model", "status"},
	)

	cacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "antfly",
			Subsystem: "nerconll",
			Name:      "cache_hits_total",
			Help:      "Total number of extraction cache hits.",
		},
	)
	cacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "antfly",
			Subsystem: "nerconll",
			Name:      "cache_misses_total",
			Help:      "Total number of extraction cache misses.",
		},
	)

	queueActiveRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "antfly",
			Subsystem: "nerconll",
			Name:      "queue_active_requests",
			Help:      "Number of requests currently being processed.",
		},
	)
	queueRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "antfly",
			Subsystem: "nerconll",
			Name:      "queue_rejected_total",
			Help:      "Total number of requests rejected due to full queue.",
		},
	)

	trainingRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "antfly",
			Subsystem: "nerconll",
			Name:      "training_runs_total",
			Help:      "The total number of training runs.",
		},
		[]string{"stage", "status"},
	)
	trainingEpochs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "antfly",
			Subsystem: "nerconll",
			Name:      "training_epochs_total",
			Help:      "The total number of optimizer epochs run.",
		},
		[]string{"stage"},
	)
)

func init() {
	prometheus.MustRegister(extractRequestOps)
	prometheus.MustRegister(detectionOps)
	prometheus.MustRegister(modelLoadDuration)
	prometheus.MustRegister(requestDuration)
	prometheus.MustRegister(cacheHits)
	prometheus.MustRegister(cacheMisses)
	prometheus.MustRegister(queueActiveRequests)
	prometheus.MustRegister(queueRejectedTotal)
	prometheus.MustRegister(trainingRuns)
	prometheus.MustRegister(trainingEpochs)
}

// RecordModelLoadDuration records how long it took to load a model
func RecordModelLoadDuration(model string, seconds float64) {
	modelLoadDuration.WithLabelValues(model).Observe(seconds)
}

// RecordRequestDuration records how long a request took
func RecordRequestDuration(endpoint, model, status string, seconds float64) {
	requestDuration.WithLabelValues(endpoint, model, status).Observe(seconds)
}

// RecordCacheHit increments the cache hit counter
func RecordCacheHit() {
	cacheHits.Inc()
}

// RecordCacheMiss increments the cache miss counter
func RecordCacheMiss() {
	cacheMisses.Inc()
}

// RecordExtractRequest increments the extraction request counter
func RecordExtractRequest(model string) {
	extractRequestOps.WithLabelValues(model).Inc()
}

// RecordDetection records one detected entity
func RecordDetection(model, label string) {
	detectionOps.WithLabelValues(model, label).Inc()
}

// RecordQueueRejection increments the rejected counter
func RecordQueueRejection() {
	queueRejectedTotal.Inc()
}

// RecordTrainingRun records a finished training run of stage ("chunker" or
// "classifier") and the number of epochs it took.
func RecordTrainingRun(stage string, epochs int, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	trainingRuns.WithLabelValues(stage, status).Inc()
	trainingEpochs.WithLabelValues(stage).Add(float64(epochs))
}
