package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxcd/conveyor/pkg/api"
	"github.com/fluxcd/conveyor/pkg/artifact"
	fluxerr "github.com/fluxcd/conveyor/pkg/errors"
	"github.com/fluxcd/conveyor/pkg/history"
	transport "github.com/fluxcd/conveyor/pkg/http"
	"github.com/fluxcd/conveyor/pkg/http/daemon"
	"github.com/fluxcd/conveyor/pkg/http/httperror"
	"github.com/fluxcd/conveyor/pkg/pipeline"
)

var errNoSuchRun = &fluxerr.Error{
	Type: fluxerr.Missing,
	Help: "There is no run with that ID.",
	Err:  errors.New("run not found"),
}

type fakeServer struct {
	runs      map[pipeline.RunID]pipeline.Run
	lastEvent pipeline.Event
	promoted  api.PromoteOptions
}

func (f *fakeServer) Ping(context.Context) error {
	return nil
}

func (f *fakeServer) Version(context.Context) (string, error) {
	return "v0.4.0", nil
}

func (f *fakeServer) NotifyChange(_ context.Context, e pipeline.Event) (api.TriggerResult, error) {
	f.lastEvent = e
	if e.Branch != "develop" && e.Branch != "main" {
		return api.TriggerResult{Ignored: true}, nil
	}
	run := pipeline.Run{ID: "run-2", Branch: e.Branch, Commit: e.Commit, State: pipeline.Idle}
	return api.TriggerResult{Run: &run}, nil
}

func (f *fakeServer) ListServices(context.Context) ([]artifact.Service, error) {
	return []artifact.Service{{Name: "web", Port: 80}, {Name: "worker", Port: 9000}}, nil
}

func (f *fakeServer) ListRuns(context.Context) ([]pipeline.Summary, error) {
	var res []pipeline.Summary
	for id, r := range f.runs {
		res = append(res, pipeline.Summary{ID: id, State: r.State})
	}
	return res, nil
}

func (f *fakeServer) RunStatus(_ context.Context, id pipeline.RunID) (pipeline.Run, error) {
	r, ok := f.runs[id]
	if !ok {
		return pipeline.Run{}, errNoSuchRun
	}
	return r, nil
}

func (f *fakeServer) RunEvents(_ context.Context, id pipeline.RunID) ([]history.Event, error) {
	if _, ok := f.runs[id]; !ok {
		return nil, errNoSuchRun
	}
	return []history.Event{{RunID: string(id), Type: history.EventRunStarted}}, nil
}

func (f *fakeServer) Promote(_ context.Context, id pipeline.RunID, opts api.PromoteOptions) (pipeline.Run, error) {
	r, ok := f.runs[id]
	if !ok {
		return pipeline.Run{}, errNoSuchRun
	}
	f.promoted = opts
	return r, nil
}

func (f *fakeServer) Abort(_ context.Context, id pipeline.RunID) (pipeline.Run, error) {
	if _, ok := f.runs[id]; !ok {
		return pipeline.Run{}, errNoSuchRun
	}
	return pipeline.Run{}, &fluxerr.Error{
		Type: fluxerr.User,
		Help: "The run is already deploying to production.",
		Err:  errors.New("run cannot be aborted"),
	}
}

func newClient(t *testing.T, auth daemon.Auth, token Token) (*Client, *fakeServer) {
	f := &fakeServer{
		runs: map[pipeline.RunID]pipeline.Run{
			"run-1": {ID: "run-1", Commit: "abc", State: pipeline.AwaitingPromotion},
		},
	}
	srv := httptest.NewServer(daemon.NewHandler(f, daemon.NewRouter(), auth, log.NewNopLogger()))
	t.Cleanup(srv.Close)
	return New(http.DefaultClient, transport.NewAPIRouter(), srv.URL, token), f
}

func TestRoundTrip(t *testing.T) {
	c, f := newClient(t, daemon.Auth{}, "")
	ctx := context.Background()

	require.NoError(t, c.Ping(ctx))

	v, err := c.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v0.4.0", v)

	services, err := c.ListServices(ctx)
	require.NoError(t, err)
	assert.Len(t, services, 2)

	runs, err := c.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, pipeline.AwaitingPromotion, runs[0].State)

	run, err := c.RunStatus(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "abc", run.Commit)

	events, err := c.RunEvents(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, history.EventRunStarted, events[0].Type)

	_, err = c.Promote(ctx, "run-1", api.PromoteOptions{Versions: map[string]string{"web": "w7"}})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"web": "w7"}, f.promoted.Versions)
}

func TestNotifyChange(t *testing.T) {
	c, f := newClient(t, daemon.Auth{WebhookSecret: "hush"}, "")
	c.WebhookSecret = "hush"
	ctx := context.Background()

	res, err := c.NotifyChange(ctx, pipeline.Event{Branch: "develop", Commit: "def", Kind: pipeline.EventPush})
	require.NoError(t, err)
	assert.False(t, res.Ignored)
	require.NotNil(t, res.Run)
	assert.Equal(t, "def", res.Run.Commit)
	assert.Equal(t, pipeline.EventPush, f.lastEvent.Kind)

	res, err = c.NotifyChange(ctx, pipeline.Event{Branch: "feature/x", Commit: "123", Kind: pipeline.EventPush})
	require.NoError(t, err)
	assert.True(t, res.Ignored)
	assert.Nil(t, res.Run)

	c.WebhookSecret = "wrong"
	_, err = c.NotifyChange(ctx, pipeline.Event{Branch: "develop", Commit: "def", Kind: pipeline.EventPush})
	var fe *fluxerr.Error
	require.True(t, errors.As(err, &fe), "got %v", err)
	assert.Equal(t, transport.ErrorBadSignature.Err.Error(), fe.Err.Error())
}

func TestErrorsKeepTheirType(t *testing.T) {
	c, _ := newClient(t, daemon.Auth{}, "")
	ctx := context.Background()

	_, err := c.RunStatus(ctx, "nope")
	require.Error(t, err)
	assert.True(t, fluxerr.IsMissing(err))

	_, err = c.Abort(ctx, "run-1")
	var fe *fluxerr.Error
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, fluxerr.User, fe.Type)
	assert.Equal(t, "The run is already deploying to production.", fe.Help)
}

func TestToken(t *testing.T) {
	c, _ := newClient(t, daemon.Auth{Token: "tok"}, "")
	_, err := c.ListRuns(context.Background())
	var fe *fluxerr.Error
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, transport.ErrorUnauthorized.Help, fe.Help)

	c, _ = newClient(t, daemon.Auth{Token: "tok"}, "tok")
	_, err = c.ListRuns(context.Background())
	assert.NoError(t, err)
}

func TestPlainErrorBecomesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(http.DefaultClient, transport.NewAPIRouter(), srv.URL, "")
	err := c.Ping(context.Background())
	var apiErr *httperror.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
}
