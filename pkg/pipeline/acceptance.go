package pipeline

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/fluxcd/conveyor/pkg/environment"
	"github.com/fluxcd/conveyor/pkg/health"
)

// HealthVerifier waits for services in an environment to be healthy.
type HealthVerifier interface {
	WaitHealthy(ctx context.Context, env environment.Environment, services []string, deadline time.Duration) health.Report
}

// Acceptance runs the acceptance tests against an environment.
type Acceptance interface {
	Accept(ctx context.Context, env environment.Environment, services []string) error
}

// HealthAcceptance accepts an environment once every service in it
// answers its health checks.
type HealthAcceptance struct {
	Verifier HealthVerifier
	Deadline time.Duration
}

func (a HealthAcceptance) Accept(ctx context.Context, env environment.Environment, services []string) error {
	report := a.Verifier.WaitHealthy(ctx, env, services, a.Deadline)
	if report.Healthy() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return &AcceptanceError{
		Environment: env.ID,
		Failing:     report.Failing,
		Err:         errors.Errorf("not healthy within %s", a.Deadline),
	}
}
