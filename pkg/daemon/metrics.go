package daemon

import (
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	labelEventKind = "event_kind"
	labelOutcome   = "outcome"
)

var (
	sourceEvents = prometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Namespace: "conveyor",
		Subsystem: "daemon",
		Name:      "source_events_total",
		Help:      "Count of source change events received, by what they led to.",
	}, []string{labelEventKind, labelOutcome})

	operatorActions = prometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Namespace: "conveyor",
		Subsystem: "daemon",
		Name:      "operator_actions_total",
		Help:      "Count of promotions and aborts asked for by operators.",
	}, []string{"action", "success"})
)
