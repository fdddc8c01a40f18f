package history

import (
	"fmt"
	"time"

	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	fluxmetrics "github.com/fluxcd/conveyor/pkg/metrics"
)

var requestDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
	Namespace: "conveyor",
	Subsystem: "history",
	Name:      "request_duration_seconds",
	Help:      "Duration of event history operations, in seconds.",
	Buckets:   stdprometheus.DefBuckets,
}, []string{fluxmetrics.LabelMethod, fluxmetrics.LabelSuccess})

type instrumented struct {
	next     EventReadWriter
	duration metrics.Histogram
}

// Instrument records the duration of each call to the event store.
func Instrument(next EventReadWriter) EventReadWriter {
	return &instrumented{next: next, duration: requestDuration}
}

func (i *instrumented) observe(method string, begin time.Time, err error) {
	i.duration.With(
		fluxmetrics.LabelMethod, method,
		fluxmetrics.LabelSuccess, fmt.Sprint(err == nil),
	).Observe(time.Since(begin).Seconds())
}

func (i *instrumented) LogEvent(e Event) (err error) {
	defer func(begin time.Time) { i.observe("LogEvent", begin, err) }(time.Now())
	return i.next.LogEvent(e)
}

func (i *instrumented) EventsForRun(runID string) (es []Event, err error) {
	defer func(begin time.Time) { i.observe("EventsForRun", begin, err) }(time.Now())
	return i.next.EventsForRun(runID)
}

func (i *instrumented) AllEvents(before time.Time, limit int64) (es []Event, err error) {
	defer func(begin time.Time) { i.observe("AllEvents", begin, err) }(time.Now())
	return i.next.AllEvents(before, limit)
}
