package scanner

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	lastIndexedBlock = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lockwatch_last_indexed_block",
			Help: "The last block number successfully indexed",
		},
	)

	blocksProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lockwatch_blocks_processed_total",
			Help: "Total number of blocks processed",
		},
	)

	eventsIndexed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lockwatch_events_indexed_total",
			Help: "Total number of events indexed by variant",
		},
		[]string{"variant"},
	)

	windowSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lockwatch_scan_window_size",
			Help: "Current auto-tuned block window size",
		},
	)
)

func LastIndexedBlockSet(blockNum uint64) {
	lastIndexedBlock.Set(float64(blockNum))
}

func BlocksProcessedInc(count uint64) {
	blocksProcessed.Add(float64(count))
}

func EventsIndexedInc(variant string, count int) {
	if count > 0 {
		eventsIndexed.WithLabelValues(variant).Add(float64(count))
	}
}

func WindowSizeSet(size uint64) {
	windowSize.Set(float64(size))
}
