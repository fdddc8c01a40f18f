package pipeline

import (
	"sync"
	"time"
)

// runRegistry holds runs by id, in the order they were triggered.
// When there are more than Size, finished runs are evicted oldest
// first; runs still in progress are never evicted.
type runRegistry struct {
	Size int

	mu    sync.RWMutex
	order []RunID
	runs  map[RunID]*Run
	now   func() time.Time
}

func newRunRegistry(size int, now func() time.Time) *runRegistry {
	return &runRegistry{
		Size: size,
		runs: map[RunID]*Run{},
		now:  now,
	}
}

func (r *runRegistry) add(run *Run) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, run.ID)
	r.runs[run.ID] = run
	r.evict()
}

func (r *runRegistry) get(id RunID) (Run, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	if !ok {
		return Run{}, false
	}
	return run.copy(), true
}

// update applies f to the run under the registry's lock, so that
// checking and changing the state of a run is atomic. If f returns an
// error, the run is left as f left it.
func (r *runRegistry) update(id RunID, f func(*Run) error) (Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return Run{}, unknownRun(id)
	}
	if err := f(run); err != nil {
		return run.copy(), err
	}
	run.Status = run.State.Status()
	run.UpdatedAt = r.now()
	if run.State.Terminal() {
		if run.FinishedAt.IsZero() {
			run.FinishedAt = run.UpdatedAt
		}
		r.evict()
	}
	return run.copy(), nil
}

// list returns the runs, most recently triggered first.
func (r *runRegistry) list() []Run {
	r.mu.RLock()
	defer r.mu.RUnlock()
	runs := make([]Run, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		runs = append(runs, r.runs[r.order[i]].copy())
	}
	return runs
}

// latest returns the most recently triggered run that passes match.
func (r *runRegistry) latest(match func(*Run) bool) (RunID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.order) - 1; i >= 0; i-- {
		if run := r.runs[r.order[i]]; match(run) {
			return run.ID, true
		}
	}
	return "", false
}

func (r *runRegistry) active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, run := range r.runs {
		if !run.State.Terminal() {
			n++
		}
	}
	return n
}

// evict must be called with the lock held.
func (r *runRegistry) evict() {
	if r.Size <= 0 {
		return
	}
	excess := len(r.order) - r.Size
	if excess <= 0 {
		return
	}
	kept := r.order[:0]
	for _, id := range r.order {
		if excess > 0 && r.runs[id].State.Terminal() {
			delete(r.runs, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
}
