package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"
)

type testErr struct{ transient bool }

func (e testErr) Error() string   { return "test error" }
func (e testErr) Transient() bool { return e.transient }

var quick = Backoff{Initial: time.Millisecond, Factor: 2, Max: 4 * time.Millisecond, Attempts: 4}

func TestRetriesTransientUntilSuccess(t *testing.T) {
	calls := 0
	err := quick.Do(context.Background(), log.NewNopLogger(), "test", func(context.Context) error {
		calls++
		if calls < 3 {
			return testErr{transient: true}
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoesNotRetryTerminal(t *testing.T) {
	calls := 0
	err := quick.Do(context.Background(), log.NewNopLogger(), "test", func(context.Context) error {
		calls++
		return testErr{transient: false}
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)

	calls = 0
	err = quick.Do(context.Background(), nil, "test", func(context.Context) error {
		calls++
		return errors.New("unclassified")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestGivesUpAfterAttempts(t *testing.T) {
	calls := 0
	err := quick.Do(context.Background(), log.NewNopLogger(), "test", func(context.Context) error {
		calls++
		return testErr{transient: true}
	})
	assert.Equal(t, testErr{transient: true}, err)
	assert.Equal(t, quick.Attempts, calls)
}

func TestStopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	slow := Backoff{Initial: time.Hour, Factor: 2, Max: time.Hour, Attempts: 3}
	go cancel()
	err := slow.Do(ctx, log.NewNopLogger(), "test", func(context.Context) error {
		calls++
		return testErr{transient: true}
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDelayIsCapped(t *testing.T) {
	b := Backoff{Initial: time.Second, Factor: 3, Max: 5 * time.Second}
	assert.Equal(t, time.Second, b.delay(1))
	assert.Equal(t, 3*time.Second, b.delay(2))
	assert.Equal(t, 5*time.Second, b.delay(3))
	assert.Equal(t, 5*time.Second, b.delay(10))
}
