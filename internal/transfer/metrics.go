package transfer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	downloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deeplinker_transfer_downloads_total",
		Help: "Remote source downloads by mode and outcome.",
	}, []string{"mode", "outcome"})

	chunkRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deeplinker_transfer_chunk_retries_total",
		Help: "Chunk fetch attempts that were retried.",
	})

	bytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deeplinker_transfer_bytes_total",
		Help: "Bytes written to download destinations.",
	}, []string{"mode"})

	downloadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "deeplinker_transfer_duration_seconds",
		Help:    "Wall time of completed downloads.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	})

	activeDownloads = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "deeplinker_transfer_active",
		Help: "Downloads in progress.",
	})
)
