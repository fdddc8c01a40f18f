// Package job provides an unbounded FIFO of work items, consumed by
// receiving from a channel.
package job

import (
	"sync"
	"time"

	"github.com/go-kit/kit/log"
)

type ID string

type JobFunc func(log.Logger) error

type Job struct {
	ID ID
	Do JobFunc
	// Enqueued is set when the job is put on a queue.
	Enqueued time.Time
}

// Queue is an unbounded queue of jobs; enqueuing a job will always
// proceed, while dequeuing is done by receiving from a channel. Jobs
// come out in the order they went in.
type Queue struct {
	ready    chan *Job
	incoming chan *Job
	sync     chan struct{}

	mu      sync.Mutex
	waiting []*Job
}

// NewQueue starts the queue's loop, which runs until stop is closed.
func NewQueue(stop <-chan struct{}, wg *sync.WaitGroup) *Queue {
	q := &Queue{
		ready:    make(chan *Job),
		incoming: make(chan *Job),
		sync:     make(chan struct{}),
	}
	wg.Add(1)
	go q.loop(stop, wg)
	return q
}

// Len may lag behind an Enqueue or a receive from Ready, for a
// moment.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiting)
}

// Enqueue puts a job at the back of the queue. It blocks only until
// the queue's loop accepts the job, which does not depend on anything
// being dequeued.
func (q *Queue) Enqueue(j *Job) {
	if j.Enqueued.IsZero() {
		j.Enqueued = time.Now()
	}
	q.incoming <- j
}

// Ready returns the channel jobs are dequeued from.
func (q *Queue) Ready() <-chan *Job {
	return q.ready
}

// Pending lists the IDs of jobs still waiting, front first.
func (q *Queue) Pending() []ID {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]ID, len(q.waiting))
	for i, j := range q.waiting {
		ids[i] = j.ID
	}
	return ids
}

// Sync blocks until any previous Enqueue has been accepted; it is
// meaningful only when the queue is used from a single goroutine,
// e.g., in tests.
func (q *Queue) Sync() {
	q.sync <- struct{}{}
}

func (q *Queue) loop(stop <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		var out chan *Job
		head := q.head()
		if head != nil {
			out = q.ready
		}

		select {
		case <-stop:
			return
		case <-q.sync:
		case in := <-q.incoming:
			q.mu.Lock()
			q.waiting = append(q.waiting, in)
			q.mu.Unlock()
		case out <- head: // blocks forever when out is nil
			q.mu.Lock()
			q.waiting = q.waiting[1:]
			q.mu.Unlock()
		}
	}
}

func (q *Queue) head() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.waiting) > 0 {
		return q.waiting[0]
	}
	return nil
}
