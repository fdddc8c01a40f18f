package pipeline

import (
	"time"

	"github.com/fluxcd/conveyor/pkg/artifact"
)

type RunID string

// State is where a run is in the pipeline.
type State string

const (
	Idle                State = "Idle"
	Building            State = "Building"
	Publishing          State = "Publishing"
	StagingUp           State = "StagingUp"
	Testing             State = "Testing"
	StagingDown         State = "StagingDown"
	AwaitingPromotion   State = "AwaitingPromotion"
	ProductionDeploying State = "ProductionDeploying"
	ProductionVerifying State = "ProductionVerifying"
	Succeeded           State = "Succeeded"
	Failed              State = "Failed"
	Aborted             State = "Aborted"
)

func (s State) Terminal() bool {
	return s == Succeeded || s == Failed || s == Aborted
}

// Abortable is true of the states before production is touched.
func (s State) Abortable() bool {
	switch s {
	case Idle, Building, Publishing, StagingUp, Testing, StagingDown, AwaitingPromotion:
		return true
	}
	return false
}

// Status is the overall status of a run.
type Status string

const (
	StatusRunning   Status = "Running"
	StatusSucceeded Status = "Succeeded"
	StatusFailed    Status = "Failed"
	StatusAborted   Status = "Aborted"
)

func (s State) Status() Status {
	switch s {
	case Succeeded:
		return StatusSucceeded
	case Failed:
		return StatusFailed
	case Aborted:
		return StatusAborted
	}
	return StatusRunning
}

type TriggerKind string

const (
	// TriggerPush is a push to the integration branch.
	TriggerPush TriggerKind = "push"
	// TriggerMerge is a merge to the main branch, i.e., a promotion.
	TriggerMerge TriggerKind = "merge"
	// TriggerOperator is a promotion asked for directly.
	TriggerOperator TriggerKind = "operator"
)

type StageName string

const (
	StageBuild            StageName = "Build"
	StagePublish          StageName = "Publish"
	StageStagingDeploy    StageName = "StagingDeploy"
	StageAcceptanceTest   StageName = "AcceptanceTest"
	StageStagingTeardown  StageName = "StagingTeardown"
	StageProductionDeploy StageName = "ProductionDeploy"
	StageProductionVerify StageName = "ProductionVerify"
)

type StageStatus string

const (
	StageRunning   StageStatus = "Running"
	StageSucceeded StageStatus = "Succeeded"
	StageFailed    StageStatus = "Failed"
)

// Stage is one execution of a stage within a run.
type Stage struct {
	Name       StageName   `json:"name"`
	Status     StageStatus `json:"status"`
	StartedAt  time.Time   `json:"startedAt"`
	FinishedAt time.Time   `json:"finishedAt,omitempty"`
	Services   []string    `json:"services,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// ErrorKind classifies why a stage failed.
type ErrorKind string

const (
	KindTestFailure        ErrorKind = "TestFailure"
	KindBuildError         ErrorKind = "BuildError"
	KindRegistryError      ErrorKind = "RegistryError"
	KindProvisionError     ErrorKind = "ProvisionError"
	KindAcceptanceFailure  ErrorKind = "AcceptanceFailure"
	KindHealthCheckTimeout ErrorKind = "HealthCheckTimeout"
	KindAborted            ErrorKind = "Aborted"
	KindInternal           ErrorKind = "Internal"
)

// Failure says which stage failed a run, for which services, and why.
type Failure struct {
	Stage    StageName `json:"stage"`
	Services []string  `json:"services,omitempty"`
	Kind     ErrorKind `json:"kind"`
	Error    string    `json:"error"`
}

// Exit codes for finished runs.
const (
	ExitSucceeded = 0
	ExitBuild     = 1
	ExitProvision = 2
	ExitHealth    = 3
)

// ExitCode gives the process exit code that reports a failure of
// this kind.
func (k ErrorKind) ExitCode() int {
	switch k {
	case KindProvisionError:
		return ExitProvision
	case KindHealthCheckTimeout:
		return ExitHealth
	}
	return ExitBuild
}

// Promotion records how a run was promoted to production.
type Promotion struct {
	Trigger TriggerKind `json:"trigger"`
	// Commit is the merge commit, for promotions by merge.
	Commit   string        `json:"commit,omitempty"`
	At       time.Time     `json:"at"`
	Versions []artifact.ID `json:"versions"`
}

// Run is one pass of a source change through the pipeline.
type Run struct {
	ID      RunID       `json:"id"`
	Trigger TriggerKind `json:"trigger"`
	Branch  string      `json:"branch"`
	Commit  string      `json:"commit"`

	State  State   `json:"state"`
	Status Status  `json:"status"`
	Stages []Stage `json:"stages"`

	// Artifacts are the versions built by this run, by service.
	Artifacts          []artifact.ID `json:"artifacts,omitempty"`
	StagingEnvironment string        `json:"stagingEnvironment,omitempty"`
	Promotion          *Promotion    `json:"promotion,omitempty"`
	Failure            *Failure      `json:"failure,omitempty"`

	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	FinishedAt time.Time `json:"finishedAt,omitempty"`
}

// ExitCode reports the outcome of a run as a process exit code. Runs
// that are still going, or awaiting promotion, have not failed, so
// report success.
func (r Run) ExitCode() int {
	if r.Failure != nil {
		return r.Failure.Kind.ExitCode()
	}
	if r.State == Failed || r.State == Aborted {
		return ExitBuild
	}
	return ExitSucceeded
}

// Stage returns the latest execution of the stage named, if there
// has been one.
func (r Run) Stage(name StageName) (Stage, bool) {
	for i := len(r.Stages) - 1; i >= 0; i-- {
		if r.Stages[i].Name == name {
			return r.Stages[i], true
		}
	}
	return Stage{}, false
}

func (r Run) copy() Run {
	c := r
	c.Stages = make([]Stage, len(r.Stages))
	for i, s := range r.Stages {
		s.Services = append([]string(nil), s.Services...)
		c.Stages[i] = s
	}
	c.Artifacts = append([]artifact.ID(nil), r.Artifacts...)
	if r.Promotion != nil {
		p := *r.Promotion
		p.Versions = append([]artifact.ID(nil), p.Versions...)
		c.Promotion = &p
	}
	if r.Failure != nil {
		f := *r.Failure
		f.Services = append([]string(nil), f.Services...)
		c.Failure = &f
	}
	return c
}

// Summary is the short form of a run, for listing.
type Summary struct {
	ID        RunID       `json:"id"`
	Trigger   TriggerKind `json:"trigger"`
	Commit    string      `json:"commit"`
	State     State       `json:"state"`
	Status    Status      `json:"status"`
	ExitCode  int         `json:"exitCode"`
	CreatedAt time.Time   `json:"createdAt"`
}

func (r Run) Summary() Summary {
	return Summary{
		ID:        r.ID,
		Trigger:   r.Trigger,
		Commit:    r.Commit,
		State:     r.State,
		Status:    r.Status,
		ExitCode:  r.ExitCode(),
		CreatedAt: r.CreatedAt,
	}
}
