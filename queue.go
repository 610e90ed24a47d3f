package outbound

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type EnqueueOptions struct {
	// Delay postpones eligibility; zero means immediately eligible.
	Delay time.Duration

	MaxAttempts int
	Backoff     BackoffPolicy
}

// Queue is the durable work queue feeding the worker pool. It is the sole
// arbiter of which worker may process a job: Dequeue claims under a
// time-bounded lease, and a lease that expires without a heartbeat makes the
// job claimable again.
type Queue interface {
	// Enqueue persists the job in a pending state.
	Enqueue(job *Job, opts EnqueueOptions) error

	// Dequeue atomically claims one eligible job, or returns nil when none
	// is due. The claim holds until the lease expires or the worker calls
	// ExtendLease, Complete or Fail.
	Dequeue() (*Job, error)

	// ReapStalled dead-letters jobs whose lease expired with no attempts
	// left and returns them, so their campaigns can still be finalized.
	// Each such job is returned exactly once.
	ReapStalled() ([]*Job, error)

	// ExtendLease is the worker heartbeat for a long-running job.
	ExtendLease(jobID uuid.UUID) error

	// Complete marks the job successfully finished.
	Complete(jobID uuid.UUID) error

	// Fail records a processing failure. Retryable failures re-schedule
	// with backoff until MaxAttempts is exhausted; the return value reports
	// whether the job is now permanently dead.
	Fail(jobID uuid.UUID, cause error, retryable bool) (final bool, err error)

	// SetProgress updates the job's 0-100 progress. Lower values than the
	// current one are ignored so observed progress never regresses.
	SetProgress(jobID uuid.UUID, progress int) error

	// CancelByCampaign removes the pending job for a campaign. It reports
	// false once a worker holds the job or the job already finished.
	CancelByCampaign(campaignID uuid.UUID) (bool, error)

	// FindByCampaign returns the job referencing a campaign.
	FindByCampaign(campaignID uuid.UUID) (*Job, error)
}

// MemoryQueue is an in-process Queue with the same lease and retry semantics
// as the database-backed one. It backs tests and single-process deployments.
type MemoryQueue struct {
	mu    sync.Mutex
	jobs  map[uuid.UUID]*Job
	lease time.Duration
	clock func() time.Time
}

type MemoryQueueOption func(q *MemoryQueue)

func SetQueueLeaseDuration(d time.Duration) MemoryQueueOption {
	return func(q *MemoryQueue) {
		q.lease = d
	}
}

func SetQueueClock(clock func() time.Time) MemoryQueueOption {
	return func(q *MemoryQueue) {
		q.clock = clock
	}
}

func NewMemoryQueue(options ...MemoryQueueOption) *MemoryQueue {
	q := &MemoryQueue{
		jobs:  make(map[uuid.UUID]*Job),
		lease: 30 * time.Second,
		clock: time.Now,
	}

	for _, option := range options {
		option(q)
	}

	return q
}

func (q *MemoryQueue) Enqueue(job *Job, opts EnqueueOptions) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}

	now := q.clock()

	job.Status = JobPending
	job.NotBefore = now.Add(opts.Delay)
	job.MaxAttempts = opts.MaxAttempts
	job.Backoff = opts.Backoff
	job.CreatedAt = now
	job.UpdatedAt = now

	if job.MaxAttempts <= 0 {
		job.MaxAttempts = 1
	}

	if job.Backoff.Base <= 0 {
		job.Backoff = DefaultBackoff()
	}

	copied := *job
	q.jobs[job.ID] = &copied

	return nil
}

func (q *MemoryQueue) Dequeue() (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock()

	var eligible []*Job

	for _, job := range q.jobs {
		switch job.Status {
		case JobPending:
			if !job.NotBefore.After(now) {
				eligible = append(eligible, job)
			}

		case JobActive:
			// stalled: the lease expired without a heartbeat
			if job.LeasedUntil != nil && job.LeasedUntil.Before(now) {
				eligible = append(eligible, job)
			}
		}
	}

	if len(eligible) == 0 {
		return nil, nil
	}

	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].NotBefore.Before(eligible[j].NotBefore)
	})

	for _, job := range eligible {
		if job.Attempts >= job.MaxAttempts {
			// stalled with no attempts left; ReapStalled handles it
			continue
		}

		job.Attempts++
		job.Status = JobActive
		until := now.Add(q.lease)
		job.LeasedUntil = &until
		job.UpdatedAt = now

		claimed := *job

		return &claimed, nil
	}

	return nil, nil
}

func (q *MemoryQueue) ReapStalled() ([]*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock()

	var reaped []*Job

	for _, job := range q.jobs {
		if job.Status != JobActive || job.LeasedUntil == nil || !job.LeasedUntil.Before(now) {
			continue
		}

		if job.Attempts < job.MaxAttempts {
			continue
		}

		job.Status = JobDead
		job.LeasedUntil = nil
		job.LastError = "worker lease expired on the final attempt"
		job.UpdatedAt = now

		copied := *job
		reaped = append(reaped, &copied)
	}

	return reaped, nil
}

func (q *MemoryQueue) ExtendLease(jobID uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return JobNotFoundErr
	}

	if job.Status != JobActive {
		return errors.Errorf("job %s is %s, cannot extend lease", jobID, job.Status)
	}

	until := q.clock().Add(q.lease)
	job.LeasedUntil = &until

	return nil
}

func (q *MemoryQueue) Complete(jobID uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return JobNotFoundErr
	}

	job.Status = JobCompleted
	job.Progress = 100
	job.LeasedUntil = nil
	job.UpdatedAt = q.clock()

	return nil
}

func (q *MemoryQueue) Fail(jobID uuid.UUID, cause error, retryable bool) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return false, JobNotFoundErr
	}

	now := q.clock()

	job.LastError = cause.Error()
	job.LeasedUntil = nil
	job.UpdatedAt = now

	if !retryable || job.Attempts >= job.MaxAttempts {
		job.Status = JobDead
		return true, nil
	}

	job.Status = JobPending
	job.NotBefore = now.Add(job.Backoff.Delay(job.Attempts))

	return false, nil
}

func (q *MemoryQueue) SetProgress(jobID uuid.UUID, progress int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return JobNotFoundErr
	}

	if progress > job.Progress {
		job.Progress = progress
		job.UpdatedAt = q.clock()
	}

	return nil
}

func (q *MemoryQueue) CancelByCampaign(campaignID uuid.UUID) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, job := range q.jobs {
		if job.CampaignID != campaignID {
			continue
		}

		if job.Status != JobPending || job.Attempts > 0 {
			return false, nil
		}

		delete(q.jobs, job.ID)

		return true, nil
	}

	return false, nil
}

func (q *MemoryQueue) FindByCampaign(campaignID uuid.UUID) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, job := range q.jobs {
		if job.CampaignID == campaignID {
			copied := *job
			return &copied, nil
		}
	}

	return nil, JobNotFoundErr
}
