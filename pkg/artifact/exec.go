package artifact

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// maxOutputTail bounds how much test output is carried in errors;
// the full output goes to the build log.
const maxOutputTail = 4096

type threadSafeBuffer struct {
	buf bytes.Buffer
	mu  sync.Mutex
}

func (b *threadSafeBuffer) Write(p []byte) (n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *threadSafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// runTests runs command in dir, returning its combined output. A
// non-zero exit is an error.
func runTests(ctx context.Context, dir string, command []string, env []string) (string, error) {
	c := exec.CommandContext(ctx, command[0], command[1:]...)
	c.Dir = dir
	c.Env = env
	out := &threadSafeBuffer{}
	c.Stdout = out
	c.Stderr = out

	err := c.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return out.String(), errors.Wrap(ctx.Err(), fmt.Sprintf("running test command: %v", command))
	} else if ctx.Err() == context.Canceled {
		return out.String(), errors.Wrap(ctx.Err(), fmt.Sprintf("context was cancelled when running test command: %v", command))
	}
	if err != nil {
		return out.String(), errors.Wrapf(err, "test command %s", strings.Join(command, " "))
	}
	return out.String(), nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
