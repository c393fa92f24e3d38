package save

import (
	"sync"

	"sentimentengine/internal/model"
)

const queueCapacity = 500

// Queue is the bounded to_save queue for one news source. It satisfies
// sentiment.SaveEnqueuer without importing that package, avoiding a
// sentiment <-> save import cycle.
type Queue struct {
	mu   sync.Mutex
	jobs []model.SaveJob
}

// NewQueue creates an empty save queue.
func NewQueue() *Queue {
	return &Queue{jobs: make([]model.SaveJob, 0, queueCapacity)}
}

// TryEnqueue appends job, rejecting it if the queue is already at capacity.
// The caller's impact has already been applied by the time this is called,
// so rejection here never suppresses the sentiment signal.
func (q *Queue) TryEnqueue(job model.SaveJob) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) >= queueCapacity {
		return false
	}
	q.jobs = append(q.jobs, job)
	return true
}

// tryDequeue pops the oldest job, if any.
func (q *Queue) tryDequeue() (model.SaveJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return model.SaveJob{}, false
	}
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	return job, true
}

// Len reports the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}
