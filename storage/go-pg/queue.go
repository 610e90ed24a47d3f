package gopg

import (
	"time"

	"github.com/go-pg/pg"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/parkside-crm/outbound"
)

type jobWrapper struct {
	TableName struct{} `sql:"outbound_jobs,alias:oj" json:"-"`

	*outbound.Job
}

// PgQueue is the durable Queue. Claims ride on a conditional UPDATE with
// FOR UPDATE SKIP LOCKED so two workers can never lease the same job, and an
// expired lease makes the row claimable again.
type PgQueue struct {
	db    *pg.DB
	lease time.Duration
}

type PgQueueOption func(q *PgQueue)

func SetLeaseDuration(d time.Duration) PgQueueOption {
	return func(q *PgQueue) {
		q.lease = d
	}
}

func NewPgQueue(db *pg.DB, options ...PgQueueOption) *PgQueue {
	q := &PgQueue{
		db:    db,
		lease: 30 * time.Second,
	}

	for _, option := range options {
		option(q)
	}

	return q
}

func (q *PgQueue) Enqueue(job *outbound.Job, opts outbound.EnqueueOptions) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}

	now := time.Now()

	job.Status = outbound.JobPending
	job.NotBefore = now.Add(opts.Delay)
	job.MaxAttempts = opts.MaxAttempts
	job.Backoff = opts.Backoff
	job.CreatedAt = now
	job.UpdatedAt = now

	if job.MaxAttempts <= 0 {
		job.MaxAttempts = 1
	}

	if job.Backoff.Base <= 0 {
		job.Backoff = outbound.DefaultBackoff()
	}

	return q.db.Insert(&jobWrapper{Job: job})
}

func (q *PgQueue) Dequeue() (*outbound.Job, error) {
	wrapped := &jobWrapper{Job: &outbound.Job{}}

	_, err := q.db.QueryOne(wrapped, `
		UPDATE outbound_jobs
		SET status = 'active',
		    attempts = attempts + 1,
		    leased_until = now() + make_interval(secs => ?),
		    updated_at = now()
		WHERE id = (
			SELECT id FROM outbound_jobs
			WHERE (status = 'pending' AND not_before <= now())
			   OR (status = 'active' AND leased_until < now() AND attempts < max_attempts)
			ORDER BY not_before
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *`, q.lease.Seconds())
	if err != nil {
		if err == pg.ErrNoRows {
			return nil, nil
		}

		return nil, errors.Wrap(err, "failed to claim a job")
	}

	return wrapped.Job, nil
}

func (q *PgQueue) ReapStalled() ([]*outbound.Job, error) {
	var wrapped []jobWrapper

	_, err := q.db.Query(&wrapped, `
		UPDATE outbound_jobs
		SET status = 'dead',
		    leased_until = NULL,
		    last_error = 'worker lease expired on the final attempt',
		    updated_at = now()
		WHERE status = 'active' AND leased_until < now() AND attempts >= max_attempts
		RETURNING *`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to reap stalled jobs")
	}

	jobs := make([]*outbound.Job, 0, len(wrapped))
	for _, w := range wrapped {
		jobs = append(jobs, w.Job)
	}

	return jobs, nil
}

func (q *PgQueue) ExtendLease(jobID uuid.UUID) error {
	result, err := q.db.Exec(`
		UPDATE outbound_jobs
		SET leased_until = now() + make_interval(secs => ?), updated_at = now()
		WHERE id = ? AND status = 'active'`, q.lease.Seconds(), jobID)
	if err != nil {
		return errors.Wrap(err, "failed to extend lease")
	}

	if result.RowsAffected() == 0 {
		return outbound.JobNotFoundErr
	}

	return nil
}

func (q *PgQueue) Complete(jobID uuid.UUID) error {
	result, err := q.db.Exec(`
		UPDATE outbound_jobs
		SET status = 'completed', progress = 100, leased_until = NULL, updated_at = now()
		WHERE id = ?`, jobID)
	if err != nil {
		return errors.Wrap(err, "failed to complete job")
	}

	if result.RowsAffected() == 0 {
		return outbound.JobNotFoundErr
	}

	return nil
}

func (q *PgQueue) Fail(jobID uuid.UUID, cause error, retryable bool) (bool, error) {
	wrapped := &jobWrapper{Job: &outbound.Job{}}

	if err := q.db.Model(wrapped).Where("id = ?", jobID).Select(); err != nil {
		if err == pg.ErrNoRows {
			return false, outbound.JobNotFoundErr
		}

		return false, err
	}

	job := wrapped.Job

	if !retryable || job.Attempts >= job.MaxAttempts {
		_, err := q.db.Exec(`
			UPDATE outbound_jobs
			SET status = 'dead', last_error = ?, leased_until = NULL, updated_at = now()
			WHERE id = ?`, cause.Error(), jobID)
		if err != nil {
			return false, errors.Wrap(err, "failed to dead-letter job")
		}

		return true, nil
	}

	delay := job.Backoff.Delay(job.Attempts)

	_, err := q.db.Exec(`
		UPDATE outbound_jobs
		SET status = 'pending',
		    last_error = ?,
		    leased_until = NULL,
		    not_before = now() + make_interval(secs => ?),
		    updated_at = now()
		WHERE id = ?`, cause.Error(), delay.Seconds(), jobID)
	if err != nil {
		return false, errors.Wrap(err, "failed to re-schedule job")
	}

	return false, nil
}

func (q *PgQueue) SetProgress(jobID uuid.UUID, progress int) error {
	// greatest() keeps observed progress monotone under racing writers
	_, err := q.db.Exec(`
		UPDATE outbound_jobs
		SET progress = greatest(progress, ?), updated_at = now()
		WHERE id = ?`, progress, jobID)

	return errors.Wrap(err, "failed to update progress")
}

func (q *PgQueue) CancelByCampaign(campaignID uuid.UUID) (bool, error) {
	result, err := q.db.Exec(`
		DELETE FROM outbound_jobs
		WHERE campaign_id = ? AND status = 'pending' AND attempts = 0`, campaignID)
	if err != nil {
		return false, errors.Wrap(err, "failed to cancel job")
	}

	return result.RowsAffected() > 0, nil
}

func (q *PgQueue) FindByCampaign(campaignID uuid.UUID) (*outbound.Job, error) {
	wrapped := &jobWrapper{Job: &outbound.Job{}}

	if err := q.db.Model(wrapped).Where("campaign_id = ?", campaignID).Select(); err != nil {
		if err == pg.ErrNoRows {
			return nil, outbound.JobNotFoundErr
		}

		return nil, err
	}

	return wrapped.Job, nil
}
