// Package pipeline runs source changes through build, publication,
// staging and acceptance testing, and, once promoted, into
// production.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/fluxcd/conveyor/pkg/artifact"
	"github.com/fluxcd/conveyor/pkg/environment"
	fluxerr "github.com/fluxcd/conveyor/pkg/errors"
	"github.com/fluxcd/conveyor/pkg/history"
	"github.com/fluxcd/conveyor/pkg/job"
	fluxmetrics "github.com/fluxcd/conveyor/pkg/metrics"
	"github.com/fluxcd/conveyor/pkg/notify"
	"github.com/fluxcd/conveyor/pkg/registry"
)

// Components are the collaborators the orchestrator drives.
type Components struct {
	Builder     artifact.Builder
	Registry    registry.Registry
	Provisioner environment.Provisioner
	Verifier    HealthVerifier
	// Acceptance defaults to checking the health of every service in
	// staging, within StagingDeadline.
	Acceptance Acceptance
	// Notifier and Events are optional.
	Notifier notify.Notifier
	Events   history.EventWriter
}

type Config struct {
	Services []artifact.Service
	Routes   Routes
	// ProductionID identifies the persistent production environment.
	ProductionID       string
	StagingDeadline    time.Duration
	ProductionDeadline time.Duration
	// TeardownTimeout bounds the destruction of a staging
	// environment, which goes ahead even when the run is aborted.
	TeardownTimeout time.Duration
	// Parallelism limits how many services are built or published
	// at once; zero means no limit.
	Parallelism int
	// RetainRuns is how many runs to remember; finished runs beyond
	// that are forgotten, oldest first.
	RetainRuns int
}

const (
	DefaultProductionID    = "production"
	DefaultTeardownTimeout = 5 * time.Minute
	notifyTimeout          = 10 * time.Second
)

// Orchestrator runs each pipeline run as a state machine. Triggers are
// taken from a queue in order, and each run then proceeds in its own
// goroutine; production deployments are queued per environment, so
// that only one at a time updates any environment.
type Orchestrator struct {
	Components
	Config
	logger log.Logger

	runs     *runRegistry
	verified *verifiedSets
	triggers *job.Queue

	ctx  context.Context
	stop <-chan struct{}
	wg   *sync.WaitGroup

	mu      sync.Mutex
	cancels map[RunID]context.CancelFunc
	aborted map[RunID]bool
	deploys map[string]*job.Queue
	current map[string]string

	now   func() time.Time
	newID func() RunID
}

// New starts an orchestrator, which runs until stop is closed. Runs
// still going at that point are aborted, except for production
// deployments already underway.
func New(c Components, cfg Config, stop <-chan struct{}, wg *sync.WaitGroup, logger log.Logger) *Orchestrator {
	if cfg.ProductionID == "" {
		cfg.ProductionID = DefaultProductionID
	}
	if cfg.TeardownTimeout == 0 {
		cfg.TeardownTimeout = DefaultTeardownTimeout
	}
	if cfg.Routes == (Routes{}) {
		cfg.Routes = DefaultRoutes
	}
	if c.Acceptance == nil {
		c.Acceptance = HealthAcceptance{Verifier: c.Verifier, Deadline: cfg.StagingDeadline}
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-stop
		cancel()
	}()

	o := &Orchestrator{
		Components: c,
		Config:     cfg,
		logger:     logger,
		verified:   newVerifiedSets(),
		triggers:   job.NewQueue(stop, wg),
		ctx:        ctx,
		stop:       stop,
		wg:         wg,
		cancels:    map[RunID]context.CancelFunc{},
		aborted:    map[RunID]bool{},
		deploys:    map[string]*job.Queue{},
		current:    map[string]string{},
		now:        time.Now,
		newID:      func() RunID { return RunID(uuid.NewString()) },
	}
	o.runs = newRunRegistry(cfg.RetainRuns, func() time.Time { return o.now().UTC() })
	for _, svc := range cfg.Services {
		if svc.CurrentVersion != "" {
			o.current[svc.Name] = svc.CurrentVersion
		}
	}

	wg.Add(1)
	go o.loop()
	return o
}

func (o *Orchestrator) loop() {
	defer o.wg.Done()
	for {
		select {
		case <-o.stop:
			o.logger.Log("stopping", "true")
			return
		case j := <-o.triggers.Ready():
			queueDuration.With(fluxmetrics.LabelOperation, "run").Observe(time.Since(j.Enqueued).Seconds())
			if err := j.Do(log.With(o.logger, "run", j.ID)); err != nil {
				o.logger.Log("run", j.ID, "err", err)
			}
		}
	}
}

// HandleEvent acts on a source change: a push to the integration
// branch starts a run; a merge to the main branch promotes the run
// awaiting promotion for that commit, or failing that the latest one
// awaiting promotion.
func (o *Orchestrator) HandleEvent(ctx context.Context, e Event) (Run, error) {
	if err := e.Validate(); err != nil {
		return Run{}, &fluxerr.Error{
			Type: fluxerr.User,
			Err:  err,
			Help: `The event could not be understood: ` + err.Error() + `

An event needs a branch, a commit, and an event_kind of "push" or
"merge".
`,
		}
	}
	trigger, ok := o.Routes.route(e)
	if !ok {
		return Run{}, ErrIgnored
	}
	if trigger == TriggerPush {
		return o.start(e), nil
	}

	id, ok := o.runs.latest(func(r *Run) bool {
		return r.State == AwaitingPromotion && (r.Commit == e.Commit)
	})
	if !ok {
		id, ok = o.runs.latest(func(r *Run) bool { return r.State == AwaitingPromotion })
	}
	if !ok {
		return Run{}, &PromotionRejected{Reason: "no run is awaiting promotion"}
	}
	return o.promote(id, nil, Promotion{Trigger: TriggerMerge, Commit: e.Commit})
}

// Promote deploys the versions built by a run awaiting promotion to
// production. Versions, if given, replace the run's versions for
// those services; the resulting set must have passed acceptance
// testing.
func (o *Orchestrator) Promote(ctx context.Context, id RunID, versions map[string]string) (Run, error) {
	return o.promote(id, versions, Promotion{Trigger: TriggerOperator})
}

// Abort stops a run that has not yet started deploying to production.
// A staging environment it has created is torn down before the run
// finishes as Aborted.
func (o *Orchestrator) Abort(id RunID) (Run, error) {
	inProgress := false
	run, err := o.runs.update(id, func(r *Run) error {
		if !r.State.Abortable() {
			return &AbortRejected{Run: id, State: r.State}
		}
		o.mu.Lock()
		defer o.mu.Unlock()
		cancel, ok := o.cancels[id]
		if ok && r.State != Idle && r.State != AwaitingPromotion {
			// Cancelled while holding the run, so the run cannot
			// move on without seeing it.
			o.aborted[id] = true
			cancel()
			inProgress = true
			return nil
		}
		r.Failure = &Failure{Stage: lastStage(r), Kind: KindAborted, Error: "aborted by operator"}
		r.State = Aborted
		return nil
	})
	if err != nil {
		return run, err
	}
	if inProgress {
		o.logger.Log("run", id, "abort", "requested")
		return run, nil
	}
	o.logger.Log("run", id, "state", Aborted)
	o.finished(run)
	return run, nil
}

func (o *Orchestrator) Run(id RunID) (Run, error) {
	run, ok := o.runs.get(id)
	if !ok {
		return Run{}, unknownRun(id)
	}
	return run, nil
}

// Runs lists the runs remembered, most recent first.
func (o *Orchestrator) Runs() []Summary {
	runs := o.runs.list()
	summaries := make([]Summary, len(runs))
	for i, r := range runs {
		summaries[i] = r.Summary()
	}
	return summaries
}

// Services lists the services delivered by the pipeline, with the
// version each last had deployed to production.
func (o *Orchestrator) Services() []artifact.Service {
	o.mu.Lock()
	defer o.mu.Unlock()
	services := make([]artifact.Service, len(o.Config.Services))
	for i, svc := range o.Config.Services {
		svc.CurrentVersion = o.current[svc.Name]
		services[i] = svc
	}
	return services
}

func (o *Orchestrator) serviceNames() []string {
	names := make([]string, len(o.Config.Services))
	for i, svc := range o.Config.Services {
		names[i] = svc.Name
	}
	sort.Strings(names)
	return names
}

func (o *Orchestrator) start(e Event) Run {
	now := o.now().UTC()
	run := &Run{
		ID:        o.newID(),
		Trigger:   TriggerPush,
		Branch:    e.Branch,
		Commit:    e.Commit,
		State:     Idle,
		Status:    StatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	id := run.ID
	o.runs.add(run)
	snapshot, _ := o.runs.get(id)
	activeRuns.Set(float64(o.runs.active()))
	o.logEvent(history.Event{
		RunID:     string(id),
		Type:      history.EventRunStarted,
		StartedAt: now,
		LogLevel:  history.LogLevelInfo,
		Message:   fmt.Sprintf("Run started by push of %s to %s", shortCommit(e.Commit), e.Branch),
	})
	o.logger.Log("run", id, "trigger", TriggerPush, "branch", e.Branch, "commit", e.Commit)

	o.triggers.Enqueue(&job.Job{
		ID: job.ID(id),
		Do: func(logger log.Logger) error {
			o.launch(id, logger)
			return nil
		},
	})
	return snapshot
}

func (o *Orchestrator) launch(id RunID, logger log.Logger) {
	ctx, cancel := context.WithCancel(o.ctx)
	o.mu.Lock()
	o.cancels[id] = cancel
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			o.mu.Lock()
			delete(o.cancels, id)
			delete(o.aborted, id)
			o.mu.Unlock()
			cancel()
		}()
		o.runStaging(ctx, id, logger)
	}()
}

var errStopped = errors.New("run stopped")

// advance moves a run to its next state, unless it has been aborted
// or has otherwise finished.
func (o *Orchestrator) advance(ctx context.Context, id RunID, to State) error {
	_, err := o.runs.update(id, func(r *Run) error {
		if r.State.Terminal() {
			return errStopped
		}
		if ctx.Err() != nil && to.Abortable() {
			return errStopped
		}
		r.State = to
		return nil
	})
	if err == nil {
		o.logger.Log("run", id, "state", to)
	}
	return err
}

// runStaging takes a run from Idle through to AwaitingPromotion, or to
// a failure.
func (o *Orchestrator) runStaging(ctx context.Context, id RunID, logger log.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log("panic", r)
			o.fail(ctx, id, &Failure{Kind: KindInternal, Error: fmt.Sprintf("panic: %v", r)})
		}
	}()

	if err := o.advance(ctx, id, Building); err != nil {
		o.fail(ctx, id, &Failure{Kind: KindAborted, Error: err.Error()})
		return
	}
	built, failure := o.buildAll(ctx, id)
	if failure != nil {
		o.fail(ctx, id, failure)
		return
	}

	if err := o.advance(ctx, id, Publishing); err != nil {
		o.fail(ctx, id, &Failure{Stage: StagePublish, Kind: KindAborted, Error: err.Error()})
		return
	}
	if failure := o.publishAll(ctx, id, built); failure != nil {
		o.fail(ctx, id, failure)
		return
	}

	if err := o.advance(ctx, id, StagingUp); err != nil {
		o.fail(ctx, id, &Failure{Stage: StageStagingDeploy, Kind: KindAborted, Error: err.Error()})
		return
	}
	set := versionSetOf(built)
	env, failure := o.stagingUp(ctx, id, set)
	if failure != nil {
		o.fail(ctx, id, failure)
		return
	}

	if failure := o.withStaging(ctx, id, env, logger); failure != nil {
		o.fail(ctx, id, failure)
		return
	}
	if ctx.Err() != nil {
		o.fail(ctx, id, &Failure{Stage: StageStagingTeardown, Kind: KindAborted, Error: ctx.Err().Error()})
		return
	}

	o.verified.add(set, id)
	run, err := o.runs.update(id, func(r *Run) error {
		if r.State.Terminal() || ctx.Err() != nil {
			return errStopped
		}
		r.State = AwaitingPromotion
		return nil
	})
	if err != nil {
		o.fail(ctx, id, &Failure{Stage: StageStagingTeardown, Kind: KindAborted, Error: err.Error()})
		return
	}
	logger.Log("state", AwaitingPromotion, "versions", set.key())
	o.notify(run, notify.AwaitingPromotion)
}

func versionSetOf(built []artifact.Artifact) versionSet {
	ids := make([]artifact.ID, len(built))
	for i, a := range built {
		ids[i] = a.ID()
	}
	return newVersionSet(ids)
}

// parallel calls f for each of n services, at most Parallelism at a
// time, and returns once all calls have returned. A panic in f is
// returned as an error for that service.
func (o *Orchestrator) parallel(n int, f func(i int) error) []error {
	errs := make([]error, n)
	var g errgroup.Group
	if o.Parallelism > 0 {
		g.SetLimit(o.Parallelism)
	}
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					errs[i] = errors.Errorf("panic: %v", r)
				}
			}()
			errs[i] = f(i)
			return nil
		})
	}
	g.Wait()
	return errs
}

// collect turns the per-service errors from a stage into a failure, or
// nil if there were none.
func collect(stage StageName, names []string, errs []error, kind func(error) ErrorKind) *Failure {
	var failure *Failure
	var msgs []string
	for i, err := range errs {
		if err == nil {
			continue
		}
		if failure == nil {
			failure = &Failure{Stage: stage, Kind: kind(err)}
		} else if k := kind(err); k == KindTestFailure {
			failure.Kind = k
		}
		failure.Services = append(failure.Services, names[i])
		msgs = append(msgs, fmt.Sprintf("%s: %s", names[i], err))
	}
	if failure != nil {
		failure.Error = strings.Join(msgs, "; ")
	}
	return failure
}

func buildErrorKind(err error) ErrorKind {
	var be *artifact.BuildError
	if errors.As(err, &be) && be.Kind == artifact.TestFailure {
		return KindTestFailure
	}
	return KindBuildError
}

func (o *Orchestrator) buildAll(ctx context.Context, id RunID) ([]artifact.Artifact, *Failure) {
	services := o.Config.Services
	names := make([]string, len(services))
	for i, svc := range services {
		names[i] = svc.Name
	}
	begin := o.beginStage(id, StageBuild, names)
	built := make([]artifact.Artifact, len(services))
	errs := o.parallel(len(services), func(i int) error {
		a, err := o.Builder.Build(ctx, services[i])
		built[i] = a
		return err
	})
	failure := collect(StageBuild, names, errs, buildErrorKind)
	o.endStage(id, StageBuild, begin, failure)
	if failure != nil {
		return nil, failure
	}
	o.runs.update(id, func(r *Run) error {
		r.Artifacts = versionSetOf(built)
		return nil
	})
	return built, nil
}

func (o *Orchestrator) publishAll(ctx context.Context, id RunID, built []artifact.Artifact) *Failure {
	names := make([]string, len(built))
	for i, a := range built {
		names[i] = a.Service
	}
	begin := o.beginStage(id, StagePublish, names)
	errs := o.parallel(len(built), func(i int) error {
		return o.Registry.Push(ctx, built[i])
	})
	failure := collect(StagePublish, names, errs, func(error) ErrorKind { return KindRegistryError })
	o.endStage(id, StagePublish, begin, failure)
	return failure
}

// serviceSpecs resolves each version in the set to the reference it
// is pulled from, and describes the service to run it.
func (o *Orchestrator) serviceSpecs(ctx context.Context, set versionSet) ([]environment.ServiceSpec, error) {
	byName := map[string]artifact.Service{}
	for _, svc := range o.Config.Services {
		byName[svc.Name] = svc
	}
	specs := make([]environment.ServiceSpec, 0, len(set))
	for _, id := range set {
		svc, ok := byName[id.Service]
		if !ok {
			return nil, errors.Errorf("unknown service %q", id.Service)
		}
		ref, err := o.Registry.Pull(ctx, id.Service, id.Version)
		if err != nil {
			return nil, err
		}
		specs = append(specs, environment.ServiceSpec{
			Name:       svc.Name,
			Version:    id.Version,
			Image:      ref,
			Port:       svc.Port,
			HealthPath: svc.HealthPath,
			Database:   svc.Database,
		})
	}
	return specs, nil
}

func (o *Orchestrator) stagingUp(ctx context.Context, id RunID, set versionSet) (environment.Environment, *Failure) {
	names := o.serviceNames()
	envID := environment.StagingID(string(id))
	begin := o.beginStage(id, StageStagingDeploy, names)
	specs, err := o.serviceSpecs(ctx, set)
	if err != nil {
		failure := &Failure{Stage: StageStagingDeploy, Services: names, Kind: KindRegistryError, Error: err.Error()}
		o.endStage(id, StageStagingDeploy, begin, failure)
		return environment.Environment{}, failure
	}
	env, err := o.Provisioner.Create(ctx, environment.Staging, environment.Spec{ID: envID, Services: specs})
	if err != nil {
		// Create has removed whatever it made
		failure := &Failure{Stage: StageStagingDeploy, Services: names, Kind: KindProvisionError, Error: err.Error()}
		o.endStage(id, StageStagingDeploy, begin, failure)
		return environment.Environment{}, failure
	}
	o.runs.update(id, func(r *Run) error {
		r.StagingEnvironment = env.ID
		return nil
	})
	o.endStage(id, StageStagingDeploy, begin, nil)
	return env, nil
}

// withStaging runs the acceptance tests against the staging
// environment, then tears it down however the tests finished,
// including by panicking.
func (o *Orchestrator) withStaging(ctx context.Context, id RunID, env environment.Environment, logger log.Logger) (failure *Failure) {
	defer o.teardown(ctx, id, env.ID, logger)
	defer func() {
		if r := recover(); r != nil {
			logger.Log("panic", r, "stage", StageAcceptanceTest)
			failure = &Failure{Stage: StageAcceptanceTest, Kind: KindInternal, Error: fmt.Sprintf("panic: %v", r)}
		}
	}()

	if err := o.advance(ctx, id, Testing); err != nil {
		return &Failure{Stage: StageAcceptanceTest, Kind: KindAborted, Error: err.Error()}
	}
	names := o.serviceNames()
	begin := o.beginStage(id, StageAcceptanceTest, names)
	if err := o.Acceptance.Accept(ctx, env, names); err != nil {
		failure = &Failure{Stage: StageAcceptanceTest, Services: names, Kind: KindAcceptanceFailure, Error: err.Error()}
		var ae *AcceptanceError
		if errors.As(err, &ae) && len(ae.Failing) > 0 {
			failure.Services = ae.Failing
		}
	}
	o.endStage(id, StageAcceptanceTest, begin, failure)
	return failure
}

// teardown destroys the staging environment. It goes ahead even if
// the run's context is cancelled; failing is only a warning.
func (o *Orchestrator) teardown(ctx context.Context, id RunID, envID string, logger log.Logger) {
	o.runs.update(id, func(r *Run) error {
		r.State = StagingDown
		return nil
	})
	begin := o.beginStage(id, StageStagingTeardown, nil)
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.TeardownTimeout)
	defer cancel()
	var failure *Failure
	if err := o.Provisioner.Destroy(ctx, envID); err != nil {
		logger.Log("warning", "staging teardown failed", "environment", envID, "err", err)
		failure = &Failure{Stage: StageStagingTeardown, Kind: KindProvisionError, Error: err.Error()}
	}
	o.endStage(id, StageStagingTeardown, begin, failure)
}

// fail finishes a run as Failed; or as Aborted, if its context was
// cancelled.
func (o *Orchestrator) fail(ctx context.Context, id RunID, failure *Failure) {
	if ctx.Err() != nil {
		o.mu.Lock()
		byOperator := o.aborted[id]
		o.mu.Unlock()
		reason := "daemon shutting down"
		if byOperator {
			reason = "aborted by operator"
		}
		failure = &Failure{Stage: failure.Stage, Services: failure.Services, Kind: KindAborted, Error: reason}
	}
	run, err := o.runs.update(id, func(r *Run) error {
		if r.State.Terminal() {
			return errStopped
		}
		if failure.Stage == "" {
			failure.Stage = lastStage(r)
		}
		r.Failure = failure
		r.State = Failed
		if failure.Kind == KindAborted {
			r.State = Aborted
		}
		return nil
	})
	if err != nil {
		return
	}
	o.logger.Log("run", id, "state", run.State, "stage", failure.Stage, "kind", failure.Kind, "services", strings.Join(failure.Services, ","), "err", failure.Error)
	o.finished(run)
}

func lastStage(r *Run) StageName {
	if len(r.Stages) == 0 {
		return ""
	}
	return r.Stages[len(r.Stages)-1].Name
}

// finished records the end of a run.
func (o *Orchestrator) finished(run Run) {
	activeRuns.Set(float64(o.runs.active()))
	runDuration.With(
		fluxmetrics.LabelTrigger, string(run.Trigger),
		fluxmetrics.LabelStatus, string(run.Status),
	).Observe(run.FinishedAt.Sub(run.CreatedAt).Seconds())

	level := history.LogLevelInfo
	msg := fmt.Sprintf("Run %s", strings.ToLower(string(run.Status)))
	if run.Failure != nil {
		level = history.LogLevelError
		msg = fmt.Sprintf("Run %s at %s: %s", strings.ToLower(string(run.Status)), run.Failure.Stage, run.Failure.Error)
	}
	o.logEvent(history.Event{
		RunID:     string(run.ID),
		Type:      history.EventRunFinished,
		StartedAt: run.FinishedAt,
		LogLevel:  level,
		Message:   msg,
	})

	kind := notify.Succeeded
	switch run.State {
	case Failed:
		kind = notify.Failed
	case Aborted:
		kind = notify.Aborted
	}
	o.notify(run, kind)
}

func (o *Orchestrator) notify(run Run, kind notify.Kind) {
	if o.Notifier == nil {
		return
	}
	n := notify.Notification{
		Kind:     kind,
		RunID:    string(run.ID),
		Branch:   run.Branch,
		Commit:   run.Commit,
		Versions: run.Artifacts,
		ExitCode: run.ExitCode(),
	}
	if run.Promotion != nil {
		n.Versions = run.Promotion.Versions
	}
	if run.Failure != nil {
		n.Stage = string(run.Failure.Stage)
		n.Error = run.Failure.Error
	}
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err := o.Notifier.Notify(ctx, n); err != nil {
		o.logger.Log("run", run.ID, "notify", kind, "err", err)
	}
}

func (o *Orchestrator) beginStage(id RunID, name StageName, services []string) time.Time {
	begin := o.now().UTC()
	o.runs.update(id, func(r *Run) error {
		r.Stages = append(r.Stages, Stage{
			Name:      name,
			Status:    StageRunning,
			StartedAt: begin,
			Services:  services,
		})
		return nil
	})
	return begin
}

func (o *Orchestrator) endStage(id RunID, name StageName, begin time.Time, failure *Failure) {
	end := o.now().UTC()
	var services []string
	o.runs.update(id, func(r *Run) error {
		for i := len(r.Stages) - 1; i >= 0; i-- {
			if r.Stages[i].Name != name {
				continue
			}
			s := &r.Stages[i]
			s.FinishedAt = end
			s.Status = StageSucceeded
			if failure != nil {
				s.Status = StageFailed
				s.Error = failure.Error
			}
			services = s.Services
			break
		}
		return nil
	})
	stageDuration.With(
		fluxmetrics.LabelStage, string(name),
		fluxmetrics.LabelSuccess, fmt.Sprint(failure == nil),
	).Observe(end.Sub(begin).Seconds())

	e := history.Event{
		RunID:     string(id),
		Type:      history.EventStage,
		Stage:     string(name),
		Services:  services,
		StartedAt: begin,
		EndedAt:   end,
		LogLevel:  history.LogLevelInfo,
		Message:   fmt.Sprintf("%s succeeded", name),
	}
	if failure != nil {
		e.LogLevel = history.LogLevelError
		if name == StageStagingTeardown {
			e.LogLevel = history.LogLevelWarn
		}
		e.Message = fmt.Sprintf("%s failed: %s", name, failure.Error)
	}
	o.logEvent(e)
}

func (o *Orchestrator) logEvent(e history.Event) {
	if o.Events == nil {
		return
	}
	if err := o.Events.LogEvent(e); err != nil {
		o.logger.Log("run", e.RunID, "history", "not recorded", "err", err)
	}
}

func shortCommit(commit string) string {
	if len(commit) > 7 {
		return commit[:7]
	}
	return commit
}
