package registry

// Monitoring middleware for the registry

import (
	"context"
	"strconv"
	"time"

	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	"github.com/fluxcd/conveyor/pkg/artifact"
	"github.com/fluxcd/conveyor/pkg/image"
	fluxmetrics "github.com/fluxcd/conveyor/pkg/metrics"
)

const (
	OperationPush   = "push"
	OperationExists = "exists"
	OperationPull   = "pull"
)

var (
	requestDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "conveyor",
		Subsystem: "registry",
		Name:      "request_duration_seconds",
		Help:      "Duration of artifact registry operations, in seconds.",
		Buckets:   stdprometheus.DefBuckets,
	}, []string{fluxmetrics.LabelOperation, fluxmetrics.LabelSuccess})
)

type instrumentedRegistry struct {
	next Registry
}

func NewInstrumentedRegistry(next Registry) Registry {
	return &instrumentedRegistry{
		next: next,
	}
}

func observe(op string, start time.Time, err error) {
	requestDuration.With(
		fluxmetrics.LabelOperation, op,
		fluxmetrics.LabelSuccess, strconv.FormatBool(err == nil),
	).Observe(time.Since(start).Seconds())
}

func (m *instrumentedRegistry) Push(ctx context.Context, a artifact.Artifact) (err error) {
	defer func(start time.Time) { observe(OperationPush, start, err) }(time.Now())
	return m.next.Push(ctx, a)
}

func (m *instrumentedRegistry) Exists(ctx context.Context, service, version string) (ok bool, err error) {
	defer func(start time.Time) { observe(OperationExists, start, err) }(time.Now())
	return m.next.Exists(ctx, service, version)
}

func (m *instrumentedRegistry) Pull(ctx context.Context, service, version string) (ref image.Ref, err error) {
	defer func(start time.Time) { observe(OperationPull, start, err) }(time.Now())
	return m.next.Pull(ctx, service, version)
}
