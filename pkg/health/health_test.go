package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxcd/conveyor/pkg/environment"
)

func envWith(bindings ...environment.Binding) environment.Environment {
	env := environment.Environment{
		ID:       "stg-test",
		Kind:     environment.Staging,
		Bindings: map[string]environment.Binding{},
		State:    environment.Ready,
	}
	for _, b := range bindings {
		env.Bindings[b.Service] = b
	}
	return env
}

func bindingFor(service string, srv *httptest.Server) environment.Binding {
	return environment.Binding{
		Service:    service,
		Version:    "v1",
		Endpoint:   srv.URL,
		HealthPath: "/health",
	}
}

func newVerifier(successes int) *Verifier {
	v := NewVerifier(HTTPChecker{}, 10*time.Millisecond, successes, log.NewNopLogger())
	return v
}

func TestWaitHealthy(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	v := newVerifier(3)
	report := v.WaitHealthy(context.Background(), envWith(bindingFor("api", srv)), []string{"api"}, time.Second)
	assert.True(t, report.Healthy())
	assert.Empty(t, report.Failing)
	assert.Equal(t, 3, report.Services["api"].Checks)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestFailureResetsConsecutive(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// pass, fail, then pass from there on
		if atomic.AddInt32(&hits, 1) == 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	v := newVerifier(2)
	report := v.WaitHealthy(context.Background(), envWith(bindingFor("api", srv)), []string{"api"}, time.Second)
	require.True(t, report.Healthy())
	assert.Equal(t, 4, report.Services["api"].Checks)
}

func TestDegradedWithinDeadline(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	v := newVerifier(2)
	deadline := 100 * time.Millisecond
	start := time.Now()
	report := v.WaitHealthy(context.Background(),
		envWith(bindingFor("api", good), bindingFor("worker", bad)),
		[]string{"api", "worker"}, deadline)
	took := time.Since(start)

	assert.False(t, report.Healthy())
	assert.Equal(t, Degraded, report.Status)
	assert.Equal(t, []string{"worker"}, report.Failing)
	assert.Equal(t, Healthy, report.Services["api"].Status)
	assert.Contains(t, report.Services["worker"].LastError, "500")
	assert.True(t, took >= deadline, "returned before the deadline: %s", took)
	// generous slack over deadline+interval for slow test machines
	assert.True(t, took < deadline+v.Interval+time.Second, "took too long: %s", took)
}

func TestHangingServiceAbandonedAtDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	v := newVerifier(1)
	deadline := 50 * time.Millisecond
	start := time.Now()
	report := v.WaitHealthy(context.Background(), envWith(bindingFor("api", srv)), []string{"api"}, deadline)
	assert.False(t, report.Healthy())
	assert.True(t, time.Since(start) < deadline+v.Interval+time.Second)
	assert.NotEmpty(t, report.Services["api"].LastError)
}

func TestMissingBinding(t *testing.T) {
	v := newVerifier(1)
	report := v.WaitHealthy(context.Background(), envWith(), []string{"ghost"}, time.Second)
	assert.False(t, report.Healthy())
	assert.Equal(t, []string{"ghost"}, report.Failing)
	assert.Equal(t, 0, report.Services["ghost"].Checks)
}

func TestJitterStaysInBounds(t *testing.T) {
	v := NewVerifier(HTTPChecker{}, time.Second, 1, nil)
	v.Jitter = 0.2
	for i := 0; i < 100; i++ {
		w := v.nextWait()
		assert.True(t, w >= 800*time.Millisecond && w <= 1200*time.Millisecond, "wait out of bounds: %s", w)
	}
}

type countingChecker struct {
	checks int32
}

func (c *countingChecker) Check(ctx context.Context, url string) error {
	atomic.AddInt32(&c.checks, 1)
	return assert.AnError
}

func TestZeroIntervalIsDefaulted(t *testing.T) {
	c := &countingChecker{}
	v := NewVerifier(c, 0, 2, nil)
	assert.Equal(t, DefaultInterval, v.Interval)

	env := envWith(environment.Binding{Service: "api", Endpoint: "http://api.stg-test:8080", HealthPath: "/health"})
	report := v.WaitHealthy(context.Background(), env, []string{"api"}, 100*time.Millisecond)
	assert.False(t, report.Healthy())
	assert.Equal(t, []string{"api"}, report.Failing)
	assert.True(t, atomic.LoadInt32(&c.checks) <= 2, "checked %d times", atomic.LoadInt32(&c.checks))

	// set directly, the interval still has a floor
	v.Interval = 0
	v.Jitter = 0
	assert.Equal(t, DefaultInterval, v.nextWait())
}
