package job

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue(t *testing.T) {
	shutdown := make(chan struct{})
	wg := &sync.WaitGroup{}
	defer close(shutdown)
	q := NewQueue(shutdown, wg)
	assert.Equal(t, 0, q.Len())

	select {
	case <-q.Ready():
		t.Error("value from q.Ready before any values enqueued")
	default:
	}

	j1 := &Job{ID: "job 1"}
	q.Enqueue(j1)
	q.Sync()
	assert.Equal(t, 1, q.Len())
	assert.False(t, j1.Enqueued.IsZero())

	j := <-q.Ready()
	assert.Equal(t, ID("job 1"), j.ID)
	q.Sync()
	assert.Equal(t, 0, q.Len())

	select {
	case j = <-q.Ready():
		t.Errorf("dequeued from empty queue: %#v", j)
	default:
	}
}

func TestQueueOrder(t *testing.T) {
	shutdown := make(chan struct{})
	wg := &sync.WaitGroup{}
	defer close(shutdown)
	q := NewQueue(shutdown, wg)

	for _, id := range []ID{"a", "b", "c"} {
		q.Enqueue(&Job{ID: id})
	}
	q.Sync()
	require.Equal(t, []ID{"a", "b", "c"}, q.Pending())

	var got []ID
	for i := 0; i < 3; i++ {
		got = append(got, (<-q.Ready()).ID)
	}
	assert.Equal(t, []ID{"a", "b", "c"}, got)
}

func TestQueueStops(t *testing.T) {
	shutdown := make(chan struct{})
	wg := &sync.WaitGroup{}
	NewQueue(shutdown, wg)
	close(shutdown)
	wg.Wait()
}
