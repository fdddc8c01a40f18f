package environment

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	fluxmetrics "github.com/fluxcd/conveyor/pkg/metrics"
)

var (
	provisionDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "conveyor",
		Subsystem: "provisioner",
		Name:      "operation_duration_seconds",
		Help:      "Duration of environment operations, in seconds.",
		Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600},
	}, []string{fluxmetrics.LabelOperation, fluxmetrics.LabelEnvironment, fluxmetrics.LabelSuccess})
)

type instrumentedProvisioner struct {
	next Provisioner
}

// Instrument records the duration of each operation on the
// provisioner, by kind of environment.
func Instrument(next Provisioner) Provisioner {
	return &instrumentedProvisioner{next: next}
}

func observe(op, env string, begin time.Time, err error) {
	provisionDuration.With(
		fluxmetrics.LabelOperation, op,
		fluxmetrics.LabelEnvironment, env,
		fluxmetrics.LabelSuccess, strconv.FormatBool(err == nil),
	).Observe(time.Since(begin).Seconds())
}

// kindOf keeps the label cardinality down: staging environment ids
// are unique per run.
func kindOf(id string) string {
	if strings.HasPrefix(id, StagingID("")) {
		return string(Staging)
	}
	return id
}

func (p *instrumentedProvisioner) Create(ctx context.Context, kind Kind, spec Spec) (env Environment, err error) {
	defer func(begin time.Time) { observe("create", string(kind), begin, err) }(time.Now())
	return p.next.Create(ctx, kind, spec)
}

func (p *instrumentedProvisioner) Get(ctx context.Context, id string) (env Environment, err error) {
	defer func(begin time.Time) { observe("get", kindOf(id), begin, err) }(time.Now())
	return p.next.Get(ctx, id)
}

func (p *instrumentedProvisioner) Update(ctx context.Context, id string, services []ServiceSpec) (err error) {
	defer func(begin time.Time) { observe("update", kindOf(id), begin, err) }(time.Now())
	return p.next.Update(ctx, id, services)
}

func (p *instrumentedProvisioner) Destroy(ctx context.Context, id string) (err error) {
	defer func(begin time.Time) { observe("destroy", kindOf(id), begin, err) }(time.Now())
	return p.next.Destroy(ctx, id)
}
