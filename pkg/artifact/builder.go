package artifact

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-kit/kit/log"
)

// SourceBuilder builds artifacts by packaging a service's source tree
// and running its unit tests in place. It writes the test output to
// Logs, if set.
type SourceBuilder struct {
	Logs        LogStore
	Logger      log.Logger
	TestTimeout time.Duration
	// Env is the environment given to test commands; nil means
	// that of the current process.
	Env []string

	now func() time.Time
}

func NewSourceBuilder(logs LogStore, testTimeout time.Duration, logger log.Logger) *SourceBuilder {
	return &SourceBuilder{
		Logs:        logs,
		Logger:      logger,
		TestTimeout: testTimeout,
		now:         time.Now,
	}
}

// Build packages the source tree, which fixes the version, then runs
// the unit tests against the same tree. The tree is packaged first so
// that anything the tests leave behind cannot change the version. If
// the tests fail, the bundle is discarded and a TestFailure returned.
func (b *SourceBuilder) Build(ctx context.Context, service Service) (Artifact, error) {
	logger := log.With(b.logger(), "service", service.Name)

	content, dgst, err := bundle(service.SourceDir)
	if err != nil {
		return Artifact{}, &BuildError{Kind: PackageFailure, Service: service.Name, Err: err}
	}
	version := VersionFromDigest(dgst)

	result := TestResult{}
	var output string
	if len(service.TestCommand) > 0 {
		testCtx := ctx
		if b.TestTimeout > 0 {
			var cancel context.CancelFunc
			testCtx, cancel = context.WithTimeout(ctx, b.TestTimeout)
			defer cancel()
		}
		started := b.clock()()
		output, err = runTests(testCtx, service.SourceDir, service.TestCommand, b.Env)
		result = TestResult{Ran: true, Passed: err == nil, Duration: b.clock()().Sub(started)}
		if err != nil {
			b.putLog(ctx, logger, service.Name, version, output, err)
			logger.Log("version", version, "tests", "failed", "err", err)
			return Artifact{}, &BuildError{
				Kind:    TestFailure,
				Service: service.Name,
				Output:  tail(output, maxOutputTail),
				Err:     err,
			}
		}
	}

	a := Artifact{
		Service:    service.Name,
		Version:    version,
		Digest:     dgst,
		BuiltAt:    b.clock()().UTC(),
		TestResult: result,
		Content:    content,
	}
	a.LogKey = b.putLog(ctx, logger, service.Name, version, output, nil)
	logger.Log("version", version, "digest", dgst, "tests", testSummary(result))
	return a, nil
}

// putLog writes the build log. Failing to keep the log does not fail
// the build.
func (b *SourceBuilder) putLog(ctx context.Context, logger log.Logger, service, version, output string, testErr error) string {
	if b.Logs == nil {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "service: %s\nversion: %s\n", service, version)
	if testErr != nil {
		fmt.Fprintf(&sb, "result: failed: %s\n", testErr)
	} else {
		sb.WriteString("result: ok\n")
	}
	sb.WriteString("\n")
	sb.WriteString(output)
	key, err := b.Logs.PutLog(ctx, service, version, []byte(sb.String()))
	if err != nil {
		logger.Log("warning", "build log not stored", "err", err)
		return ""
	}
	return key
}

func (b *SourceBuilder) logger() log.Logger {
	if b.Logger == nil {
		return log.NewNopLogger()
	}
	return b.Logger
}

func (b *SourceBuilder) clock() func() time.Time {
	if b.now == nil {
		return time.Now
	}
	return b.now
}

func testSummary(r TestResult) string {
	switch {
	case !r.Ran:
		return "none"
	case r.Passed:
		return "passed"
	default:
		return "failed"
	}
}
