package reorg

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reorgsDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lockwatch_reorgs_detected_total",
			Help: "Total number of chain reorganizations detected",
		},
	)

	blocksConfirmed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lockwatch_blocks_confirmed_total",
			Help: "Total number of block transactions marked confirmed",
		},
	)

	blocksDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lockwatch_reorg_blocks_deleted_total",
			Help: "Total number of block transactions deleted by reorg recovery",
		},
	)
)

func ReorgDetectedInc() {
	reorgsDetected.Inc()
}

func BlocksConfirmedInc(count int) {
	if count > 0 {
		blocksConfirmed.Add(float64(count))
	}
}

func BlocksDeletedInc(count int64) {
	if count > 0 {
		blocksDeleted.Add(float64(count))
	}
}
