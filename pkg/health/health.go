// Package health waits for the services in an environment to answer
// their liveness checks.
package health

import (
	"context"
	"io"
	"io/ioutil"
	"math/rand"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/metrics/prometheus"
	"github.com/pkg/errors"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	"github.com/fluxcd/conveyor/pkg/environment"
	fluxmetrics "github.com/fluxcd/conveyor/pkg/metrics"
)

type Status string

const (
	Healthy  Status = "Healthy"
	Degraded Status = "Degraded"
)

var waitDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
	Namespace: "conveyor",
	Subsystem: "health",
	Name:      "wait_duration_seconds",
	Help:      "Duration of waits for environments to become healthy, in seconds.",
	Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
}, []string{fluxmetrics.LabelEnvironment, fluxmetrics.LabelSuccess})

// ServiceReport is the outcome of checking one service.
type ServiceReport struct {
	Service string `json:"service"`
	Status  Status `json:"status"`
	// Checks is how many checks were made.
	Checks int `json:"checks"`
	// Consecutive is the number of successful checks in a row at the
	// end.
	Consecutive int    `json:"consecutive"`
	LastError   string `json:"lastError,omitempty"`
}

type Report struct {
	Environment string                   `json:"environment"`
	Status      Status                   `json:"status"`
	Services    map[string]ServiceReport `json:"services"`
	// Failing lists the services that did not become healthy, in
	// order.
	Failing []string      `json:"failing,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

func (r Report) Healthy() bool {
	return r.Status == Healthy
}

// Checker makes a single liveness check.
type Checker interface {
	Check(ctx context.Context, url string) error
}

// HTTPChecker checks by GETting the URL; any 2xx response is a pass.
type HTTPChecker struct {
	Client *http.Client
}

func (c HTTPChecker) Check(ctx context.Context, url string) error {
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(ioutil.Discard, io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Errorf("%s: %s", url, resp.Status)
	}
	return nil
}

// Verifier polls services' health endpoints on a fixed interval, with
// jitter. A service counts as healthy after Successes consecutive
// passing checks.
type Verifier struct {
	Checker   Checker
	Interval  time.Duration
	Successes int
	// Jitter is the largest fraction of Interval by which any one
	// wait may be lengthened or shortened.
	Jitter float64
	Logger log.Logger

	mu   sync.Mutex
	rand *rand.Rand
}

// DefaultInterval is used when no positive interval is given.
const DefaultInterval = 5 * time.Second

func NewVerifier(checker Checker, interval time.Duration, successes int, logger log.Logger) *Verifier {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if successes < 1 {
		successes = 1
	}
	return &Verifier{
		Checker:   checker,
		Interval:  interval,
		Successes: successes,
		Jitter:    0.1,
		Logger:    logger,
		rand:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (v *Verifier) nextWait() time.Duration {
	interval := v.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	if v.Jitter <= 0 || v.rand == nil {
		return interval
	}
	v.mu.Lock()
	f := v.rand.Float64()*2 - 1
	v.mu.Unlock()
	return interval + time.Duration(f*v.Jitter*float64(interval))
}

// WaitHealthy checks each of the services named, in the environment
// given, until each has passed enough checks in a row or the
// deadline passes. Checks in flight are abandoned at the deadline, so
// it returns within the deadline and one interval.
func (v *Verifier) WaitHealthy(ctx context.Context, env environment.Environment, services []string, deadline time.Duration) Report {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	logger := log.With(v.Logger, "environment", env.ID)

	var mu sync.Mutex
	report := Report{
		Environment: env.ID,
		Services:    map[string]ServiceReport{},
	}
	var wg sync.WaitGroup
	for _, name := range services {
		binding, ok := env.Bindings[name]
		if !ok {
			report.Services[name] = ServiceReport{Service: name, Status: Degraded, LastError: "no endpoint for service in environment"}
			continue
		}
		wg.Add(1)
		go func(name string, binding environment.Binding) {
			defer wg.Done()
			sr := v.watch(ctx, logger, name, binding.HealthURL())
			mu.Lock()
			report.Services[name] = sr
			mu.Unlock()
		}(name, binding)
	}
	wg.Wait()

	report.Status = Healthy
	for name, sr := range report.Services {
		if sr.Status != Healthy {
			report.Status = Degraded
			report.Failing = append(report.Failing, name)
		}
	}
	sort.Strings(report.Failing)
	report.Elapsed = time.Since(start)

	waitDuration.With(
		fluxmetrics.LabelEnvironment, string(env.Kind),
		fluxmetrics.LabelSuccess, strconv.FormatBool(report.Healthy()),
	).Observe(report.Elapsed.Seconds())
	logger.Log("health", report.Status, "failing", len(report.Failing), "took", report.Elapsed)
	return report
}

func (v *Verifier) watch(ctx context.Context, logger log.Logger, name, url string) ServiceReport {
	sr := ServiceReport{Service: name, Status: Degraded}
	for {
		err := v.Checker.Check(ctx, url)
		sr.Checks++
		if err == nil {
			sr.Consecutive++
			if sr.Consecutive >= v.Successes {
				sr.Status = Healthy
				sr.LastError = ""
				return sr
			}
		} else {
			if ctx.Err() != nil {
				// abandoned at the deadline; not the service's fault as such
				if sr.LastError == "" {
					sr.LastError = "deadline passed"
				}
				return sr
			}
			sr.Consecutive = 0
			sr.LastError = err.Error()
			logger.Log("service", name, "check", sr.Checks, "err", err)
		}

		select {
		case <-ctx.Done():
			if sr.LastError == "" {
				sr.LastError = "deadline passed"
			}
			return sr
		case <-time.After(v.nextWait()):
		}
	}
}
