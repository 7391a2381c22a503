package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transfersRegisteredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "delivery_transfers_registered_total",
		Help: "Number of transfer codes registered",
	})

	transfersReapedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "delivery_transfers_reaped_total",
		Help: "Number of transfers removed by the retention sweep",
	})

	// result is accepted, rejected or failed
	pushSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "delivery_push_sent_total",
		Help: "Heartbeat push attempts by push type and result",
	}, []string{"push_type", "result"})

	pushTokensRemovedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "delivery_push_tokens_removed_total",
		Help: "Push registrations removed after a permanent platform rejection",
	})

	pushLoadFactor = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "delivery_push_load_factor",
		Help: "Registered devices over heartbeat capacity per push interval, overflow at 1.0",
	})

	// outcome is success, failed or skipped
	jobRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "delivery_job_runs_total",
		Help: "Scheduled job ticks by job and outcome",
	}, []string{"job", "outcome"})
)
