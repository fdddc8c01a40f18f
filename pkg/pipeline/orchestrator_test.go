package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxcd/conveyor/pkg/artifact"
	"github.com/fluxcd/conveyor/pkg/environment"
	envmock "github.com/fluxcd/conveyor/pkg/environment/mock"
	fluxerr "github.com/fluxcd/conveyor/pkg/errors"
	"github.com/fluxcd/conveyor/pkg/health"
	"github.com/fluxcd/conveyor/pkg/history"
	"github.com/fluxcd/conveyor/pkg/notify"
	"github.com/fluxcd/conveyor/pkg/registry"
	regmock "github.com/fluxcd/conveyor/pkg/registry/mock"
)

var services = []artifact.Service{
	{Name: "api", SourceDir: "src/api", Port: 8080, HealthPath: "/health", Database: true},
	{Name: "web", SourceDir: "src/web", Port: 3000, HealthPath: "/healthz"},
	{Name: "worker", SourceDir: "src/worker"},
}

type fakeBuilder struct {
	mu       sync.Mutex
	versions map[string]string
	fail     map[string]error
	// onBuild, if set, is called at the start of each build.
	onBuild func(artifact.Service)
}

func newFakeBuilder() *fakeBuilder {
	return &fakeBuilder{
		versions: map[string]string{"api": "a1", "web": "w1", "worker": "k1"},
		fail:     map[string]error{},
	}
}

func (b *fakeBuilder) set(service, version string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.versions[service] = version
}

func (b *fakeBuilder) Build(ctx context.Context, svc artifact.Service) (artifact.Artifact, error) {
	if b.onBuild != nil {
		b.onBuild(svc)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fail[svc.Name]; err != nil {
		return artifact.Artifact{}, err
	}
	version := b.versions[svc.Name]
	content := []byte(svc.Name + "@" + version)
	return artifact.Artifact{
		Service: svc.Name,
		Version: version,
		Digest:  digest.FromBytes(content),
		BuiltAt: time.Now().UTC(),
		Content: content,
	}, nil
}

type fakeVerifier struct {
	mu      sync.Mutex
	failing map[environment.Kind][]string
	// wait, if set for a kind, blocks checks of environments of that
	// kind until it is closed or the context is done.
	wait      map[environment.Kind]chan struct{}
	calls     []string
	inProd    int
	maxInProd int
}

func newFakeVerifier() *fakeVerifier {
	return &fakeVerifier{
		failing: map[environment.Kind][]string{},
		wait:    map[environment.Kind]chan struct{}{},
	}
}

func (v *fakeVerifier) WaitHealthy(ctx context.Context, env environment.Environment, names []string, deadline time.Duration) health.Report {
	v.mu.Lock()
	v.calls = append(v.calls, env.ID)
	failing := v.failing[env.Kind]
	wait := v.wait[env.Kind]
	if env.Kind == environment.Production {
		v.inProd++
		if v.inProd > v.maxInProd {
			v.maxInProd = v.inProd
		}
	}
	v.mu.Unlock()
	defer func() {
		v.mu.Lock()
		if env.Kind == environment.Production {
			v.inProd--
		}
		v.mu.Unlock()
	}()

	report := health.Report{Environment: env.ID, Status: health.Healthy, Services: map[string]health.ServiceReport{}}
	if wait != nil {
		select {
		case <-wait:
		case <-ctx.Done():
			report.Status = health.Degraded
			report.Failing = names
			return report
		}
	}
	if len(failing) > 0 {
		report.Status = health.Degraded
		report.Failing = failing
	}
	return report
}

func (v *fakeVerifier) setWait(kind environment.Kind, ch chan struct{}) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.wait[kind] = ch
}

type recorder struct {
	mu  sync.Mutex
	got []notify.Notification
}

func (r *recorder) Notify(ctx context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
	return nil
}

// waitFor waits until the notifications sent are of the kinds given.
// Notifications go out after a run's state changes, so may lag it.
func (r *recorder) waitFor(t *testing.T, kinds ...notify.Kind) {
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual(kinds, r.kinds())
	}, 5*time.Second, 5*time.Millisecond, "notifications: %v", r.kinds())
}

func (r *recorder) kinds() []notify.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kinds []notify.Kind
	for _, n := range r.got {
		kinds = append(kinds, n.Kind)
	}
	return kinds
}

type harness struct {
	o        *Orchestrator
	builder  *fakeBuilder
	registry *regmock.Registry
	prov     *envmock.Provisioner
	verifier *fakeVerifier
	events   *history.InMem
	notes    *recorder
}

func newHarness(t *testing.T, configure func(*Components, *Config)) *harness {
	h := &harness{
		builder:  newFakeBuilder(),
		registry: regmock.NewRegistry("registry.example.com"),
		prov:     envmock.NewProvisioner(),
		verifier: newFakeVerifier(),
		events:   history.NewInMem(0),
		notes:    &recorder{},
	}
	c := Components{
		Builder:     h.builder,
		Registry:    h.registry,
		Provisioner: h.prov,
		Verifier:    h.verifier,
		Notifier:    h.notes,
		Events:      h.events,
	}
	cfg := Config{
		Services:           services,
		Routes:             Routes{Integration: "develop", Main: "main"},
		StagingDeadline:    time.Second,
		ProductionDeadline: time.Second,
		TeardownTimeout:    time.Second,
	}
	if configure != nil {
		configure(&c, &cfg)
	}
	stop := make(chan struct{})
	wg := &sync.WaitGroup{}
	h.o = New(c, cfg, stop, wg, log.NewNopLogger())
	t.Cleanup(func() {
		close(stop)
		wg.Wait()
	})
	return h
}

func (h *harness) push(t *testing.T, commit string) Run {
	run, err := h.o.HandleEvent(context.Background(), Event{Branch: "develop", Commit: commit, Kind: EventPush})
	require.NoError(t, err)
	return run
}

func (h *harness) waitFor(t *testing.T, id RunID, states ...State) Run {
	var run Run
	require.Eventually(t, func() bool {
		var err error
		run, err = h.o.Run(id)
		require.NoError(t, err)
		for _, s := range states {
			if run.State == s {
				return true
			}
		}
		return false
	}, 5*time.Second, 5*time.Millisecond, "run %s never reached %v", id, states)
	return run
}

func stageNames(run Run) []StageName {
	var names []StageName
	for _, s := range run.Stages {
		names = append(names, s.Name)
	}
	return names
}

func contains(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func TestEndToEnd(t *testing.T) {
	h := newHarness(t, nil)
	run := h.push(t, "c0ffee1234")
	assert.Equal(t, Idle, run.State)
	assert.Equal(t, StatusRunning, run.Status)

	run = h.waitFor(t, run.ID, AwaitingPromotion, Failed)
	require.Equal(t, AwaitingPromotion, run.State, "%+v", run.Failure)
	assert.Equal(t, 0, run.ExitCode())
	assert.Equal(t, []StageName{StageBuild, StagePublish, StageStagingDeploy, StageAcceptanceTest, StageStagingTeardown}, stageNames(run))
	for _, s := range run.Stages {
		assert.Equal(t, StageSucceeded, s.Status, "stage %s", s.Name)
	}
	assert.Equal(t, []artifact.ID{{Service: "api", Version: "a1"}, {Service: "web", Version: "w1"}, {Service: "worker", Version: "k1"}}, run.Artifacts)
	assert.Equal(t, 3, h.registry.Len())

	stagingID := "stg-" + string(run.ID)
	assert.Equal(t, stagingID, run.StagingEnvironment)
	assert.Equal(t, []string{stagingID}, h.prov.Created())
	assert.Equal(t, []string{stagingID}, h.prov.Destroyed())
	assert.Empty(t, h.prov.Live())
	h.notes.waitFor(t, notify.AwaitingPromotion)

	promoted, err := h.o.HandleEvent(context.Background(), Event{Branch: "main", Commit: "merge1", Kind: EventMerge})
	require.NoError(t, err)
	assert.Equal(t, run.ID, promoted.ID)
	assert.Equal(t, ProductionDeploying, promoted.State)
	require.NotNil(t, promoted.Promotion)
	assert.Equal(t, TriggerMerge, promoted.Promotion.Trigger)

	run = h.waitFor(t, run.ID, Succeeded, Failed)
	require.Equal(t, Succeeded, run.State, "%+v", run.Failure)
	assert.Equal(t, StatusSucceeded, run.Status)
	assert.Equal(t, 0, run.ExitCode())
	assert.False(t, run.FinishedAt.IsZero())

	prod, err := h.prov.Get(context.Background(), DefaultProductionID)
	require.NoError(t, err)
	assert.Equal(t, environment.Production, prod.Kind)
	assert.Equal(t, map[string]string{"api": "a1", "web": "w1", "worker": "k1"}, prod.Versions())
	h.notes.waitFor(t, notify.AwaitingPromotion, notify.Succeeded)

	for _, svc := range h.o.Services() {
		assert.NotEmpty(t, svc.CurrentVersion, svc.Name)
	}

	events, err := h.events.EventsForRun(string(run.ID))
	require.NoError(t, err)
	var types []string
	for _, e := range events {
		types = append(types, e.Type)
	}
	assert.Contains(t, types, history.EventRunStarted)
	assert.Contains(t, types, history.EventPromotion)
}

func TestBuildFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.builder.fail["worker"] = &artifact.BuildError{Kind: artifact.TestFailure, Service: "worker", Err: errors.New("exit status 1")}

	run := h.waitFor(t, h.push(t, "bad").ID, Failed, AwaitingPromotion)
	require.Equal(t, Failed, run.State)
	assert.Equal(t, ExitBuild, run.ExitCode())
	require.NotNil(t, run.Failure)
	assert.Equal(t, StageBuild, run.Failure.Stage)
	assert.Equal(t, KindTestFailure, run.Failure.Kind)
	assert.Equal(t, []string{"worker"}, run.Failure.Services)
	assert.Equal(t, []StageName{StageBuild}, stageNames(run))

	assert.Equal(t, 0, h.registry.Calls(regmock.OpPush))
	assert.Empty(t, h.prov.Created())
	assert.Empty(t, h.prov.Destroyed())
	h.notes.waitFor(t, notify.Failed)
}

func TestBuildsRunInParallel(t *testing.T) {
	var started sync.WaitGroup
	started.Add(len(services))
	all := make(chan struct{})
	go func() {
		started.Wait()
		close(all)
	}()
	h := newHarness(t, nil)
	h.builder.onBuild = func(artifact.Service) {
		started.Done()
		select {
		case <-all:
		case <-time.After(2 * time.Second):
		}
	}
	run := h.waitFor(t, h.push(t, "p").ID, AwaitingPromotion, Failed)
	assert.Equal(t, AwaitingPromotion, run.State)
	select {
	case <-all:
	default:
		t.Error("builds did not all run at once")
	}
}

func TestPublishFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.registry.Fail(regmock.OpPush, &registry.Error{Op: "push", Err: errors.New("denied")})

	run := h.waitFor(t, h.push(t, "p").ID, Failed, AwaitingPromotion)
	require.Equal(t, Failed, run.State)
	assert.Equal(t, ExitBuild, run.ExitCode())
	assert.Equal(t, StagePublish, run.Failure.Stage)
	assert.Equal(t, KindRegistryError, run.Failure.Kind)
	assert.Len(t, run.Failure.Services, 3)
	assert.Empty(t, h.prov.Created())
}

func TestStagingUpFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.prov.CreateErr = &environment.ProvisionError{Op: "create", Err: errors.New("quota exceeded")}

	run := h.waitFor(t, h.push(t, "p").ID, Failed, AwaitingPromotion)
	require.Equal(t, Failed, run.State)
	assert.Equal(t, ExitProvision, run.ExitCode())
	assert.Equal(t, StageStagingDeploy, run.Failure.Stage)
	assert.Equal(t, KindProvisionError, run.Failure.Kind)
	// never torn down, because it was never there
	assert.Empty(t, h.prov.Destroyed())
	assert.Empty(t, h.prov.Live())
	_, torn := run.Stage(StageStagingTeardown)
	assert.False(t, torn)
}

func TestAcceptanceFailureTearsDown(t *testing.T) {
	h := newHarness(t, nil)
	h.verifier.failing[environment.Staging] = []string{"web"}

	run := h.waitFor(t, h.push(t, "p").ID, Failed, AwaitingPromotion)
	require.Equal(t, Failed, run.State)
	assert.Equal(t, ExitBuild, run.ExitCode())
	assert.Equal(t, StageAcceptanceTest, run.Failure.Stage)
	assert.Equal(t, KindAcceptanceFailure, run.Failure.Kind)
	assert.Equal(t, []string{"web"}, run.Failure.Services)
	assert.Equal(t, []StageName{StageBuild, StagePublish, StageStagingDeploy, StageAcceptanceTest, StageStagingTeardown}, stageNames(run))
	assert.Equal(t, []string{run.StagingEnvironment}, h.prov.Destroyed())
	assert.Empty(t, h.prov.Live())

	_, err := h.o.Promote(context.Background(), run.ID, nil)
	var rejected *PromotionRejected
	assert.True(t, errors.As(err, &rejected))
}

type panickingAcceptance struct{}

func (panickingAcceptance) Accept(context.Context, environment.Environment, []string) error {
	panic("acceptance suite crashed")
}

func TestAcceptancePanicTearsDown(t *testing.T) {
	h := newHarness(t, func(c *Components, _ *Config) {
		c.Acceptance = panickingAcceptance{}
	})
	run := h.waitFor(t, h.push(t, "p").ID, Failed, AwaitingPromotion)
	require.Equal(t, Failed, run.State)
	assert.Equal(t, KindInternal, run.Failure.Kind)
	assert.Contains(t, run.Failure.Error, "acceptance suite crashed")
	assert.Equal(t, []string{run.StagingEnvironment}, h.prov.Destroyed())
	assert.Empty(t, h.prov.Live())
}

func TestTeardownFailureIsOnlyAWarning(t *testing.T) {
	h := newHarness(t, nil)
	h.prov.DestroyErr = errors.New("api server unavailable")

	run := h.waitFor(t, h.push(t, "p").ID, Failed, AwaitingPromotion)
	require.Equal(t, AwaitingPromotion, run.State)
	teardown, ok := run.Stage(StageStagingTeardown)
	require.True(t, ok)
	assert.Equal(t, StageFailed, teardown.Status)
	assert.Nil(t, run.Failure)
}

func TestTeardownFailureKeepsOriginalReason(t *testing.T) {
	h := newHarness(t, nil)
	h.prov.DestroyErr = errors.New("api server unavailable")
	h.verifier.failing[environment.Staging] = []string{"api"}

	run := h.waitFor(t, h.push(t, "p").ID, Failed, AwaitingPromotion)
	require.Equal(t, Failed, run.State)
	assert.Equal(t, StageAcceptanceTest, run.Failure.Stage)
	assert.Equal(t, KindAcceptanceFailure, run.Failure.Kind)
}

func TestPromoteNeverStagedVersion(t *testing.T) {
	h := newHarness(t, nil)
	run := h.waitFor(t, h.push(t, "p").ID, AwaitingPromotion, Failed)
	require.Equal(t, AwaitingPromotion, run.State)

	_, err := h.o.Promote(context.Background(), run.ID, map[string]string{"api": "v7"})
	var rejected *PromotionRejected
	require.True(t, errors.As(err, &rejected), "%v", err)
	assert.Equal(t, fluxerr.User, rejected.Help().Type)

	run, err = h.o.Run(run.ID)
	require.NoError(t, err)
	assert.Equal(t, AwaitingPromotion, run.State)
	_, err = h.prov.Get(context.Background(), DefaultProductionID)
	assert.True(t, environment.IsNotFound(err))
}

func TestPromoteIdenticalVersionsFromAnotherRun(t *testing.T) {
	h := newHarness(t, nil)
	first := h.waitFor(t, h.push(t, "one").ID, AwaitingPromotion, Failed)
	require.Equal(t, AwaitingPromotion, first.State)

	h.builder.set("api", "a2")
	second := h.waitFor(t, h.push(t, "two").ID, AwaitingPromotion, Failed)
	require.Equal(t, AwaitingPromotion, second.State)

	// api a1 with the rest of the second run is exactly the first
	// run's set, which was verified
	run, err := h.o.Promote(context.Background(), second.ID, map[string]string{"api": "a1"})
	require.NoError(t, err)
	assert.Equal(t, TriggerOperator, run.Promotion.Trigger)
	run = h.waitFor(t, second.ID, Succeeded, Failed)
	require.Equal(t, Succeeded, run.State)

	prod, err := h.prov.Get(context.Background(), DefaultProductionID)
	require.NoError(t, err)
	assert.Equal(t, "a1", prod.Versions()["api"])
}

func TestPromotionRejectedWhenNotAwaiting(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.o.HandleEvent(context.Background(), Event{Branch: "main", Commit: "m", Kind: EventMerge})
	var rejected *PromotionRejected
	assert.True(t, errors.As(err, &rejected))

	h.builder.fail["api"] = errors.New("no source")
	run := h.waitFor(t, h.push(t, "p").ID, Failed)
	_, err = h.o.Promote(context.Background(), run.ID, nil)
	assert.True(t, errors.As(err, &rejected))

	_, err = h.o.Promote(context.Background(), "no-such-run", nil)
	assert.True(t, fluxerr.IsMissing(err))
}

func TestMergePromotesMatchingCommit(t *testing.T) {
	h := newHarness(t, nil)
	first := h.waitFor(t, h.push(t, "one").ID, AwaitingPromotion)
	h.builder.set("web", "w2")
	second := h.waitFor(t, h.push(t, "two").ID, AwaitingPromotion)

	run, err := h.o.HandleEvent(context.Background(), Event{Branch: "main", Commit: "one", Kind: EventMerge})
	require.NoError(t, err)
	assert.Equal(t, first.ID, run.ID)
	h.waitFor(t, first.ID, Succeeded)

	// no commit match: the latest awaiting run
	run, err = h.o.HandleEvent(context.Background(), Event{Branch: "main", Commit: "elsewhere", Kind: EventMerge})
	require.NoError(t, err)
	assert.Equal(t, second.ID, run.ID)
	h.waitFor(t, second.ID, Succeeded)
}

func TestProductionHealthFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.prov.Seed(environment.Production, environment.Spec{ID: DefaultProductionID, Services: []environment.ServiceSpec{
		{Name: "api", Version: "a0"}, {Name: "web", Version: "w0"}, {Name: "worker", Version: "k0"},
	}})
	h.verifier.failing[environment.Production] = []string{"worker"}

	run := h.waitFor(t, h.push(t, "p").ID, AwaitingPromotion)
	_, err := h.o.Promote(context.Background(), run.ID, nil)
	require.NoError(t, err)
	run = h.waitFor(t, run.ID, Failed, Succeeded)
	require.Equal(t, Failed, run.State)
	assert.Equal(t, ExitHealth, run.ExitCode())
	assert.Equal(t, StageProductionVerify, run.Failure.Stage)
	assert.Equal(t, KindHealthCheckTimeout, run.Failure.Kind)
	assert.Equal(t, []string{"worker"}, run.Failure.Services)

	// left as last updated
	prod, err := h.prov.Get(context.Background(), DefaultProductionID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"api": "a1", "web": "w1", "worker": "k1"}, prod.Versions())
	assert.False(t, contains(h.prov.Destroyed(), DefaultProductionID))
	assert.Len(t, h.prov.Updates(DefaultProductionID), 1)
}

func TestProductionUpdateFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.prov.Seed(environment.Production, environment.Spec{ID: DefaultProductionID})
	run := h.waitFor(t, h.push(t, "p").ID, AwaitingPromotion)
	h.prov.UpdateErr = &environment.ProvisionError{Op: "update", Err: errors.New("forbidden")}

	_, err := h.o.Promote(context.Background(), run.ID, nil)
	require.NoError(t, err)
	run = h.waitFor(t, run.ID, Failed, Succeeded)
	require.Equal(t, Failed, run.State)
	assert.Equal(t, ExitProvision, run.ExitCode())
	assert.Equal(t, StageProductionDeploy, run.Failure.Stage)
}

func TestAbortDuringTesting(t *testing.T) {
	h := newHarness(t, nil)
	h.verifier.setWait(environment.Staging, make(chan struct{}))

	run := h.waitFor(t, h.push(t, "p").ID, Testing)
	_, err := h.o.Abort(run.ID)
	require.NoError(t, err)

	run = h.waitFor(t, run.ID, Aborted, Failed)
	require.Equal(t, Aborted, run.State)
	assert.Equal(t, StatusAborted, run.Status)
	assert.Equal(t, KindAborted, run.Failure.Kind)
	assert.Equal(t, "aborted by operator", run.Failure.Error)
	assert.Equal(t, []string{run.StagingEnvironment}, h.prov.Destroyed())
	assert.Empty(t, h.prov.Live())
	h.notes.waitFor(t, notify.Aborted)
}

func TestAbortWhileStagingIsCreated(t *testing.T) {
	h := newHarness(t, nil)
	creating, release := make(chan struct{}), make(chan struct{})
	h.prov.OnCreate = func(environment.Spec) {
		close(creating)
		<-release
	}

	run := h.push(t, "p")
	<-creating
	run = h.waitFor(t, run.ID, StagingUp)
	_, err := h.o.Abort(run.ID)
	require.NoError(t, err)
	close(release)

	run = h.waitFor(t, run.ID, Aborted, Failed)
	require.Equal(t, Aborted, run.State)
	assert.Equal(t, KindAborted, run.Failure.Kind)
	assert.Equal(t, []StageName{StageBuild, StagePublish, StageStagingDeploy, StageStagingTeardown}, stageNames(run))
	assert.Equal(t, []string{environment.StagingID(string(run.ID))}, h.prov.Destroyed())
	assert.Empty(t, h.prov.Live())
}

func TestAbortWhileBuilding(t *testing.T) {
	h := newHarness(t, nil)
	building, release := make(chan struct{}), make(chan struct{})
	var once sync.Once
	h.builder.onBuild = func(artifact.Service) {
		once.Do(func() { close(building) })
		<-release
	}

	run := h.push(t, "p")
	<-building
	run = h.waitFor(t, run.ID, Building)
	_, err := h.o.Abort(run.ID)
	require.NoError(t, err)
	close(release)

	run = h.waitFor(t, run.ID, Aborted, Failed)
	require.Equal(t, Aborted, run.State)
	assert.Equal(t, KindAborted, run.Failure.Kind)
	assert.Equal(t, 0, h.registry.Len())
	assert.Empty(t, h.prov.Created())
	assert.Empty(t, h.prov.Live())
}

func TestAbortAwaitingPromotion(t *testing.T) {
	h := newHarness(t, nil)
	run := h.waitFor(t, h.push(t, "p").ID, AwaitingPromotion)
	run, err := h.o.Abort(run.ID)
	require.NoError(t, err)
	assert.Equal(t, Aborted, run.State)

	_, err = h.o.Promote(context.Background(), run.ID, nil)
	var rejected *PromotionRejected
	assert.True(t, errors.As(err, &rejected))

	_, err = h.o.Abort(run.ID)
	var abortRejected *AbortRejected
	assert.True(t, errors.As(err, &abortRejected))
}

func TestAbortRejectedOnceProductionStarts(t *testing.T) {
	h := newHarness(t, nil)
	release := make(chan struct{})
	h.verifier.setWait(environment.Production, release)

	run := h.waitFor(t, h.push(t, "p").ID, AwaitingPromotion)
	_, err := h.o.Promote(context.Background(), run.ID, nil)
	require.NoError(t, err)
	h.waitFor(t, run.ID, ProductionVerifying)

	_, err = h.o.Abort(run.ID)
	var rejected *AbortRejected
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, fluxerr.User, rejected.Help().Type)

	close(release)
	run = h.waitFor(t, run.ID, Succeeded, Failed)
	assert.Equal(t, Succeeded, run.State)
}

func TestProductionDeploysAreSerialised(t *testing.T) {
	h := newHarness(t, nil)
	release := make(chan struct{})
	h.verifier.setWait(environment.Production, release)

	first := h.waitFor(t, h.push(t, "one").ID, AwaitingPromotion)
	second := h.waitFor(t, h.push(t, "two").ID, AwaitingPromotion)
	_, err := h.o.Promote(context.Background(), first.ID, nil)
	require.NoError(t, err)
	_, err = h.o.Promote(context.Background(), second.ID, nil)
	require.NoError(t, err)

	h.waitFor(t, first.ID, ProductionVerifying)
	waiting, err := h.o.Run(second.ID)
	require.NoError(t, err)
	assert.Equal(t, ProductionDeploying, waiting.State)
	_, started := waiting.Stage(StageProductionDeploy)
	assert.False(t, started)

	close(release)
	h.waitFor(t, first.ID, Succeeded)
	h.waitFor(t, second.ID, Succeeded)
	h.verifier.mu.Lock()
	assert.Equal(t, 1, h.verifier.maxInProd)
	h.verifier.mu.Unlock()
}

func TestFinishedRunsEvicted(t *testing.T) {
	h := newHarness(t, func(_ *Components, cfg *Config) {
		cfg.RetainRuns = 2
	})
	h.builder.fail["api"] = errors.New("broken")
	var ids []RunID
	for _, commit := range []string{"one", "two", "three"} {
		id := h.push(t, commit).ID
		h.waitFor(t, id, Failed)
		ids = append(ids, id)
	}
	_, err := h.o.Run(ids[0])
	assert.True(t, fluxerr.IsMissing(err))
	summaries := h.o.Runs()
	require.Len(t, summaries, 2)
	assert.Equal(t, ids[2], summaries[0].ID)
	assert.Equal(t, ids[1], summaries[1].ID)
}

func TestEventsIgnoredOrInvalid(t *testing.T) {
	h := newHarness(t, func(_ *Components, cfg *Config) {
		cfg.Routes = Routes{Integration: "release/*", Main: "main"}
	})
	_, err := h.o.HandleEvent(context.Background(), Event{Branch: "feature/x", Commit: "c", Kind: EventPush})
	assert.Equal(t, ErrIgnored, err)
	_, err = h.o.HandleEvent(context.Background(), Event{Branch: "release/1.0", Commit: "c", Kind: EventMerge})
	assert.Equal(t, ErrIgnored, err)
	_, err = h.o.HandleEvent(context.Background(), Event{Branch: "main", Kind: "tag"})
	var ferr *fluxerr.Error
	require.True(t, errors.As(err, &ferr))
	assert.Equal(t, fluxerr.User, ferr.Type)

	run, err := h.o.HandleEvent(context.Background(), Event{Branch: "refs/heads/release/1.0", Commit: "c", Kind: EventPush})
	require.NoError(t, err)
	assert.Equal(t, TriggerPush, run.Trigger)
}
