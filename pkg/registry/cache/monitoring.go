package cache

import (
	"strconv"
	"time"

	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	fluxmetrics "github.com/fluxcd/conveyor/pkg/metrics"
)

const labelHit = "hit"

var (
	cacheRequestDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "conveyor",
		Subsystem: "cache",
		Name:      "request_duration_seconds",
		Help:      "Duration of artifact cache requests, in seconds.",
		Buckets:   stdprometheus.DefBuckets,
	}, []string{fluxmetrics.LabelMethod, fluxmetrics.LabelSuccess, labelHit})
)

type instrumentedClient struct {
	next Client
}

// InstrumentClient records how long requests to the backing store
// take, and whether they found anything.
func InstrumentClient(c Client) Client {
	return &instrumentedClient{
		next: c,
	}
}

func (i *instrumentedClient) GetKey(k Keyer) (_ []byte, ex time.Time, err error) {
	defer func(begin time.Time) {
		miss := err == ErrNotCached
		cacheRequestDuration.With(
			fluxmetrics.LabelMethod, "GetKey",
			fluxmetrics.LabelSuccess, strconv.FormatBool(err == nil || miss),
			labelHit, strconv.FormatBool(err == nil),
		).Observe(time.Since(begin).Seconds())
	}(time.Now())
	return i.next.GetKey(k)
}

func (i *instrumentedClient) SetKey(k Keyer, d time.Time, v []byte) (err error) {
	defer func(begin time.Time) {
		cacheRequestDuration.With(
			fluxmetrics.LabelMethod, "SetKey",
			fluxmetrics.LabelSuccess, strconv.FormatBool(err == nil),
			labelHit, "false",
		).Observe(time.Since(begin).Seconds())
	}(time.Now())
	return i.next.SetKey(k, d, v)
}
