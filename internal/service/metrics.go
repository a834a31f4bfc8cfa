package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "novel_engine_transitions_total",
			Help: "Total number of progression operations by operation and result.",
		},
		[]string{"operation", "result"},
	)

	gateRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "novel_engine_gate_rejections_total",
			Help: "Total number of transitions rejected by a gameplay gate.",
		},
		[]string{"gate"},
	)

	txRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "novel_engine_tx_retries_total",
		Help: "Total number of transaction retries after a storage conflict.",
	})

	energyRegeneratedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "novel_engine_energy_regenerated_total",
		Help: "Total energy units granted by time-based regeneration.",
	})

	storyCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "novel_engine_story_cache_total",
			Help: "Story graph lookups by cache tier and outcome.",
		},
		[]string{"tier", "outcome"},
	)
)
