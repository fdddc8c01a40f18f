package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/fluxcd/conveyor/pkg/environment"
	"github.com/fluxcd/conveyor/pkg/history"
	"github.com/fluxcd/conveyor/pkg/job"
	fluxmetrics "github.com/fluxcd/conveyor/pkg/metrics"
	"github.com/fluxcd/conveyor/pkg/registry"
)

// promote checks and records the promotion of a run, atomically with
// respect to aborting it, then queues the production deployment.
func (o *Orchestrator) promote(id RunID, versions map[string]string, p Promotion) (Run, error) {
	var set versionSet
	run, err := o.runs.update(id, func(r *Run) error {
		if r.State != AwaitingPromotion {
			return &PromotionRejected{Run: id, Reason: fmt.Sprintf("run is %s, not %s", r.State, AwaitingPromotion)}
		}
		set = newVersionSet(r.Artifacts).override(versions)
		if _, ok := o.verified.verifiedBy(set); !ok {
			return &PromotionRejected{Run: id, Reason: fmt.Sprintf("versions %s have not passed acceptance testing together", set.key())}
		}
		p.At = o.now().UTC()
		p.Versions = set
		r.Promotion = &p
		r.State = ProductionDeploying
		return nil
	})
	if err != nil {
		o.logger.Log("run", id, "promotion", "rejected", "err", err)
		return run, err
	}

	o.logger.Log("run", id, "promotion", p.Trigger, "versions", set.key())
	o.logEvent(history.Event{
		RunID:     string(id),
		Type:      history.EventPromotion,
		Services:  o.serviceNames(),
		StartedAt: p.At,
		LogLevel:  history.LogLevelInfo,
		Message:   fmt.Sprintf("Promoted by %s: %s", p.Trigger, set.key()),
	})
	o.deployQueue(o.ProductionID).Enqueue(&job.Job{
		ID: job.ID(id),
		Do: func(logger log.Logger) error {
			return o.deployProduction(id, set, logger)
		},
	})
	return run, nil
}

// deployQueue returns the queue of deployments to the environment,
// starting its worker the first time.
func (o *Orchestrator) deployQueue(envID string) *job.Queue {
	o.mu.Lock()
	defer o.mu.Unlock()
	q, ok := o.deploys[envID]
	if !ok {
		q = job.NewQueue(o.stop, o.wg)
		o.deploys[envID] = q
		o.wg.Add(1)
		go o.deployLoop(envID, q)
	}
	return q
}

// deployLoop runs the deployments to one environment, one at a time,
// in the order they were promoted.
func (o *Orchestrator) deployLoop(envID string, q *job.Queue) {
	defer o.wg.Done()
	logger := log.With(o.logger, "environment", envID)
	for {
		select {
		case <-o.stop:
			return
		case j := <-q.Ready():
			queueLength.With(fluxmetrics.LabelEnvironment, envID).Set(float64(q.Len()))
			queueDuration.With(fluxmetrics.LabelOperation, "deploy").Observe(time.Since(j.Enqueued).Seconds())
			jobLogger := log.With(logger, "run", j.ID)
			jobLogger.Log("state", "in-progress")
			if err := j.Do(jobLogger); err != nil {
				jobLogger.Log("state", "done", "success", "false", "err", err)
			} else {
				jobLogger.Log("state", "done", "success", "true")
			}
		}
	}
}

// deployProduction updates production to the promoted versions and
// waits for it to be healthy. Once started it runs to completion, even
// if the daemon is asked to stop; if production does not become
// healthy, it is left as it is.
func (o *Orchestrator) deployProduction(id RunID, set versionSet, logger log.Logger) error {
	ctx := context.WithoutCancel(o.ctx)
	names := o.serviceNames()

	begin := o.beginStage(id, StageProductionDeploy, names)
	env, err := o.updateProduction(ctx, set)
	if err != nil {
		failure := &Failure{Stage: StageProductionDeploy, Services: names, Kind: deployErrorKind(err), Error: err.Error()}
		o.endStage(id, StageProductionDeploy, begin, failure)
		o.fail(ctx, id, failure)
		return err
	}
	o.endStage(id, StageProductionDeploy, begin, nil)

	if err := o.advance(ctx, id, ProductionVerifying); err != nil {
		return err
	}
	begin = o.beginStage(id, StageProductionVerify, names)
	report := o.Verifier.WaitHealthy(ctx, env, names, o.ProductionDeadline)
	if !report.Healthy() {
		timeout := &HealthCheckTimeout{Environment: env.ID, Failing: report.Failing, Deadline: o.ProductionDeadline}
		failure := &Failure{Stage: StageProductionVerify, Services: report.Failing, Kind: KindHealthCheckTimeout, Error: timeout.Error()}
		o.endStage(id, StageProductionVerify, begin, failure)
		o.fail(ctx, id, failure)
		return timeout
	}
	o.endStage(id, StageProductionVerify, begin, nil)

	o.mu.Lock()
	for _, v := range set {
		o.current[v.Service] = v.Version
	}
	o.mu.Unlock()
	run, err := o.runs.update(id, func(r *Run) error {
		r.State = Succeeded
		return nil
	})
	if err != nil {
		return err
	}
	logger.Log("state", Succeeded, "versions", set.key())
	o.finished(run)
	return nil
}

func deployErrorKind(err error) ErrorKind {
	var re *registry.Error
	if registry.IsNotFound(err) || errors.As(err, &re) {
		return KindRegistryError
	}
	return KindProvisionError
}

// updateProduction brings production to the versions in the set,
// creating it if it does not exist yet, and returns it as it then is.
func (o *Orchestrator) updateProduction(ctx context.Context, set versionSet) (environment.Environment, error) {
	specs, err := o.serviceSpecs(ctx, set)
	if err != nil {
		return environment.Environment{}, err
	}
	_, err = o.Provisioner.Get(ctx, o.ProductionID)
	if environment.IsNotFound(err) {
		return o.Provisioner.Create(ctx, environment.Production, environment.Spec{ID: o.ProductionID, Services: specs})
	}
	if err != nil {
		return environment.Environment{}, err
	}
	if err := o.Provisioner.Update(ctx, o.ProductionID, specs); err != nil {
		return environment.Environment{}, err
	}
	return o.Provisioner.Get(ctx, o.ProductionID)
}
