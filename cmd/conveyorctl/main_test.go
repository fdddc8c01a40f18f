package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxcd/conveyor/pkg/api"
	"github.com/fluxcd/conveyor/pkg/artifact"
	fluxerr "github.com/fluxcd/conveyor/pkg/errors"
	"github.com/fluxcd/conveyor/pkg/history"
	"github.com/fluxcd/conveyor/pkg/http/daemon"
	"github.com/fluxcd/conveyor/pkg/pipeline"
)

// mockServer answers for a single run, going through the states
// given, one per status request.
type mockServer struct {
	mu       sync.Mutex
	states   []pipeline.State
	failure  *pipeline.Failure
	promoted map[string]string
	events   []pipeline.Event
}

func (m *mockServer) current() pipeline.Run {
	state := m.states[0]
	if len(m.states) > 1 {
		m.states = m.states[1:]
	}
	run := pipeline.Run{ID: "run-1", Trigger: pipeline.TriggerPush, Branch: "develop", Commit: "0123456789abcdef", State: state}
	if state == pipeline.Failed {
		run.Failure = m.failure
	}
	return run
}

func (m *mockServer) Ping(context.Context) error {
	return nil
}

func (m *mockServer) Version(context.Context) (string, error) {
	return "v1.4.0", nil
}

func (m *mockServer) NotifyChange(_ context.Context, e pipeline.Event) (api.TriggerResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	if e.Branch != "develop" && e.Branch != "main" {
		return api.TriggerResult{Ignored: true}, nil
	}
	run := m.current()
	return api.TriggerResult{Run: &run}, nil
}

func (m *mockServer) ListServices(context.Context) ([]artifact.Service, error) {
	return []artifact.Service{{Name: "api", Port: 8080, Database: true, CurrentVersion: "3f9a2c1d0b4e"}}, nil
}

func (m *mockServer) ListRuns(context.Context) ([]pipeline.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return []pipeline.Summary{{ID: "run-1", Trigger: pipeline.TriggerPush, Commit: "0123456789abcdef", State: m.states[0]}}, nil
}

func (m *mockServer) RunStatus(_ context.Context, id pipeline.RunID) (pipeline.Run, error) {
	if id != "run-1" {
		return pipeline.Run{}, &fluxerr.Error{Type: fluxerr.Missing, Help: "No run with that ID.\n", Err: errors.New("run not found")}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current(), nil
}

func (m *mockServer) RunEvents(context.Context, pipeline.RunID) ([]history.Event, error) {
	return []history.Event{{RunID: "run-1", Type: history.EventRunStarted, Message: "run started"}}, nil
}

func (m *mockServer) Promote(_ context.Context, id pipeline.RunID, opts api.PromoteOptions) (pipeline.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.promoted = opts.Versions
	return m.current(), nil
}

func (m *mockServer) Abort(_ context.Context, id pipeline.RunID) (pipeline.Run, error) {
	return pipeline.Run{}, &fluxerr.Error{Type: fluxerr.User, Help: "The run is already deploying to production.\n", Err: errors.New("cannot abort")}
}

func newMockServer(t *testing.T, m *mockServer) string {
	srv := httptest.NewServer(daemon.NewHandler(m, daemon.NewRouter(), daemon.Auth{WebhookSecret: "hush", Token: "tok"}, log.NewNopLogger()))
	t.Cleanup(srv.Close)
	return srv.URL
}

func execute(url string, args ...string) (int, string, string) {
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	code := run(append([]string{"--url", url, "--token", "tok", "--webhook-secret", "hush"}, args...), stdout, stderr)
	return code, stdout.String(), stderr.String()
}

func TestTriggerAwaitUntilPromotable(t *testing.T) {
	m := &mockServer{states: []pipeline.State{pipeline.Idle, pipeline.Building, pipeline.Testing, pipeline.AwaitingPromotion}}
	url := newMockServer(t, m)

	code, out, _ := execute(url, "trigger", "--branch", "develop", "--commit", "0123456789abcdef", "--await")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, string(pipeline.AwaitingPromotion))
	require.Len(t, m.events, 1)
	assert.Equal(t, pipeline.Event{Branch: "develop", Commit: "0123456789abcdef", Kind: pipeline.EventPush}, m.events[0])
}

func TestTriggerIgnored(t *testing.T) {
	url := newMockServer(t, &mockServer{states: []pipeline.State{pipeline.Idle}})
	code, _, errout := execute(url, "trigger", "--branch", "feature/x")
	assert.Equal(t, 0, code)
	assert.Contains(t, errout, "Ignored")
}

func TestTriggerBadSignature(t *testing.T) {
	url := newMockServer(t, &mockServer{states: []pipeline.State{pipeline.Idle}})
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	code := run([]string{"--url", url, "--token", "tok", "--webhook-secret", "wrong", "trigger", "--branch", "develop"}, stdout, stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "webhook signature invalid")
}

func TestAwaitExitCodes(t *testing.T) {
	for _, c := range []struct {
		kind pipeline.ErrorKind
		code int
	}{
		{pipeline.KindTestFailure, pipeline.ExitBuild},
		{pipeline.KindProvisionError, pipeline.ExitProvision},
		{pipeline.KindHealthCheckTimeout, pipeline.ExitHealth},
	} {
		t.Run(string(c.kind), func(t *testing.T) {
			m := &mockServer{
				states:  []pipeline.State{pipeline.Building, pipeline.Failed},
				failure: &pipeline.Failure{Stage: pipeline.StageBuild, Kind: c.kind, Services: []string{"api"}, Error: "boom"},
			}
			url := newMockServer(t, m)
			code, out, _ := execute(url, "await", "run-1")
			assert.Equal(t, c.code, code)
			assert.Contains(t, out, "boom")
		})
	}
}

func TestPromoteWithVersions(t *testing.T) {
	m := &mockServer{states: []pipeline.State{pipeline.ProductionDeploying, pipeline.ProductionVerifying, pipeline.Succeeded}}
	url := newMockServer(t, m)

	code, out, _ := execute(url, "promote", "run-1", "--version", "api=3f9a2c1d0b4e", "--await")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, string(pipeline.Succeeded))
	assert.Equal(t, map[string]string{"api": "3f9a2c1d0b4e"}, m.promoted)
}

func TestAbortRejectedShowsHelp(t *testing.T) {
	url := newMockServer(t, &mockServer{states: []pipeline.State{pipeline.ProductionDeploying}})
	code, _, errout := execute(url, "abort", "run-1")
	assert.Equal(t, 1, code)
	assert.Contains(t, errout, "already deploying to production")
}

func TestStatusUnknownRun(t *testing.T) {
	url := newMockServer(t, &mockServer{states: []pipeline.State{pipeline.Idle}})
	code, _, errout := execute(url, "status", "run-2")
	assert.Equal(t, 1, code)
	assert.Contains(t, errout, "No run with that ID")
}

func TestListAndServices(t *testing.T) {
	url := newMockServer(t, &mockServer{states: []pipeline.State{pipeline.Testing}})

	code, out, _ := execute(url, "list")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "0123456")

	code, out, _ = execute(url, "list-services")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "3f9a2c1d0b4e")

	code, out, _ = execute(url, "events", "run-1", "-o", "json")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "run started")

	code, _, _ = execute(url, "list", "-o", "yaml")
	assert.Equal(t, 1, code)
}

func TestTokenRequired(t *testing.T) {
	url := newMockServer(t, &mockServer{states: []pipeline.State{pipeline.Idle}})
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	code := run([]string{"--url", url, "list"}, stdout, stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "CONVEYOR_TOKEN")
}

func TestUsageErrors(t *testing.T) {
	url := newMockServer(t, &mockServer{states: []pipeline.State{pipeline.Idle}})
	for _, args := range [][]string{
		{"status"},
		{"trigger"},
		{"trigger", "--branch", "develop", "--kind", "tag"},
		{"promote", "run-1", "--version", "api"},
		{"list", "extra"},
	} {
		code, _, errout := execute(url, args...)
		assert.Equal(t, 1, code, "%v", args)
		assert.Contains(t, errout, "Usage", "%v", args)
	}
}

// Given a server that responds with 404 for every route, we get a
// version warning.
func TestUnknownVersion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	telltale := "endpoint not found"
	code, _, errout := execute(server.URL, "list")
	assert.NotEqual(t, 0, code)
	assert.Contains(t, errout, telltale)
}
