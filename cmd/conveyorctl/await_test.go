package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffStopsWhenDone(t *testing.T) {
	calls := 0
	err := backoff(context.Background(), time.Millisecond, 2, 4, func() (bool, error) {
		calls++
		return calls == 3, nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestBackoffReturnsError(t *testing.T) {
	boom := errors.New("boom")
	err := backoff(context.Background(), time.Millisecond, 2, 4, func() (bool, error) {
		return false, boom
	})
	assert.Equal(t, boom, err)
}

func TestBackoffTimesOut(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := backoff(ctx, 10*time.Millisecond, 2, 2, func() (bool, error) {
		return false, nil
	})
	assert.Equal(t, ErrTimeout, err)
	assert.True(t, time.Since(start) < time.Second)
}
