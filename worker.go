package outbound

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// worker is one member of the pool: it claims eligible jobs off the queue,
// bounded by the shared rate limiter, and processes them to completion.
func (s *Service) worker(ctx context.Context, id int) error {
	logger := s.logger.WithField("worker", id)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.reapStalled(logger)

		job, err := s.queue.Dequeue()
		if err != nil {
			logger.WithError(err).Error("failed to claim a job")
		}

		if job == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.pollInterval):
			}

			continue
		}

		// the rate limit applies to started jobs, not to empty polls
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}

		s.processJob(ctx, logger, job)
	}
}

// reapStalled finalizes campaigns whose job exceeded its lease on the final
// attempt; those jobs are dead-lettered by the queue and reach no worker.
func (s *Service) reapStalled(logger logrus.FieldLogger) {
	jobs, err := s.queue.ReapStalled()
	if err != nil {
		logger.WithError(err).Error("failed to reap stalled jobs")
		return
	}

	for _, job := range jobs {
		jobsProcessedCounter.WithLabelValues(string(job.Type), "failed").Inc()
		jobsDeadLetteredCounter.WithLabelValues(string(job.Type)).Inc()

		logger.
			WithField("jobId", job.ID).
			WithField("attempts", job.Attempts).
			Error("job stalled with no attempts left")

		s.finalizeFailed(logger, job, errors.New(job.LastError))
	}
}

func (s *Service) processJob(ctx context.Context, logger logrus.FieldLogger, job *Job) {
	logger = logger.
		WithField("jobId", job.ID).
		WithField("jobType", job.Type).
		WithField("attempt", job.Attempts)

	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()

	go s.heartbeatLoop(heartbeatCtx, logger, job)

	err := s.dispatch(ctx, logger, job)
	if err == nil {
		if completeErr := s.queue.Complete(job.ID); completeErr != nil {
			logger.WithError(completeErr).Error("failed to mark job complete")
			return
		}

		jobsProcessedCounter.WithLabelValues(string(job.Type), "completed").Inc()
		logger.Info("job completed")

		return
	}

	retryable := Retryable(err)

	final, failErr := s.queue.Fail(job.ID, err, retryable)
	if failErr != nil {
		logger.WithError(failErr).Error("failed to record job failure")
		return
	}

	if !final {
		jobRetriesCounter.WithLabelValues(string(job.Type)).Inc()
		logger.WithError(err).Warn("job failed, retry scheduled")

		return
	}

	jobsProcessedCounter.WithLabelValues(string(job.Type), "failed").Inc()
	jobsDeadLetteredCounter.WithLabelValues(string(job.Type)).Inc()
	logger.WithError(err).WithField("class", ClassOf(err)).Error("job permanently failed")

	s.finalizeFailed(logger, job, err)
}

// heartbeatLoop extends the job lease while processing is still under way so
// the queue does not hand the job to another worker.
func (s *Service) heartbeatLoop(ctx context.Context, logger logrus.FieldLogger, job *Job) {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			if err := s.queue.ExtendLease(job.ID); err != nil {
				logger.WithError(err).Warn("failed to extend job lease")
			}
		}
	}
}

// dispatch routes a claimed job to its processing routine by type.
func (s *Service) dispatch(ctx context.Context, logger logrus.FieldLogger, job *Job) error {
	batchSize := 1

	switch job.Type {
	case JobSendSingle:
		if _, err := job.DecodeSinglePayload(); err != nil {
			return err
		}

	case JobSendBulk:
		payload, err := job.DecodeBulkPayload()
		if err != nil {
			return err
		}

		batchSize = s.batchSize
		if payload.BatchSize > 0 {
			batchSize = payload.BatchSize
		}

	default:
		return SetupErr(errors.Errorf("unknown job type %q", job.Type))
	}

	campaign, err := s.campaigns.Get(job.CampaignID)
	if err != nil {
		if errors.Cause(err) == CampaignNotFoundErr {
			return SetupErr(err)
		}

		return errors.Wrapf(err, "failed to load campaign %s", job.CampaignID)
	}

	if campaign.Status.Terminal() {
		// redelivery of a job whose campaign already finished
		logger.WithField("campaignId", campaign.ID).Warn("skipping job for terminal campaign")
		return nil
	}

	if campaign.Status == CampaignPending {
		if err := campaign.TransitionTo(CampaignSending); err != nil {
			return SetupErr(err)
		}

		campaign.UpdatedAt = s.clock()

		if err := s.campaigns.Update(&campaign); err != nil {
			return errors.Wrap(err, "failed to mark campaign sending")
		}
	}

	transport, ok := s.transports[campaign.Channel]
	if !ok {
		return SetupErr(errors.Errorf("no transport configured for channel %s", campaign.Channel))
	}

	return s.sendBatches(ctx, logger, job, &campaign, transport, batchSize)
}

// sendBatches walks the campaign's pending recipients in fixed-size batches.
// Recipient-level rejections are recorded and skipped over; retryable
// provider failures abort the loop and surface to the queue's retry path.
func (s *Service) sendBatches(ctx context.Context, logger logrus.FieldLogger, job *Job, campaign *CampaignRecord, transport Transport, batchSize int) error {
	total := len(campaign.Recipients)
	if total == 0 {
		return SetupErr(errors.Errorf("campaign %s has no recipients", campaign.ID))
	}

	var pending []*RecipientTarget
	for i := range campaign.Recipients {
		if campaign.Recipients[i].DeliveryStatus == DeliveryPending {
			pending = append(pending, &campaign.Recipients[i])
		}
	}

	// recipients resolved by a prior attempt count towards progress
	processed := total - len(pending)
	breaker := s.breakers[campaign.Channel]

	for start := 0; start < len(pending); start += batchSize {
		end := start + batchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		// revalidate before every batch so a token cannot expire mid-run
		cred, err := s.credentials.GetValidCredential(ctx, campaign.SenderAccountID)
		if err != nil {
			return err
		}

		var (
			mu       sync.Mutex
			wg       sync.WaitGroup
			batchErr error
		)

		for _, target := range batch {
			target := target
			wg.Add(1)

			go func() {
				defer wg.Done()

				outcome := s.sendOne(ctx, transport, breaker, campaign, &cred, target)

				mu.Lock()
				defer mu.Unlock()

				switch {
				case outcome.Delivered:
					target.DeliveryStatus = DeliverySent
					target.ProviderMessageID = outcome.ProviderMessageID

					if err := s.campaigns.UpdateRecipient(target); err != nil {
						logger.WithError(err).WithField("address", target.Address).Error("failed to record delivery")
					}

					recipientsCounter.WithLabelValues(string(campaign.Channel), "sent").Inc()
					processed++

				case outcome.Reason == RejectAuthFailure:
					batchErr = worseErr(batchErr, CredentialErr(errors.Errorf("provider rejected credential: %s", outcome.Detail)))

				case outcome.Reason.Retryable():
					// target stays PENDING; the job retries with backoff
					batchErr = worseErr(batchErr, TransientErr(errors.Errorf("provider unavailable: %s", outcome.Detail)))

				default:
					target.DeliveryStatus = DeliveryFailed
					target.FailureReason = outcome.Detail
					if target.FailureReason == "" {
						target.FailureReason = string(outcome.Reason)
					}

					if err := s.campaigns.UpdateRecipient(target); err != nil {
						logger.WithError(err).WithField("address", target.Address).Error("failed to record rejection")
					}

					recipientsCounter.WithLabelValues(string(campaign.Channel), "failed").Inc()
					processed++
				}
			}()
		}

		wg.Wait()

		if err := s.queue.SetProgress(job.ID, processed*100/total); err != nil {
			logger.WithError(err).Warn("failed to update job progress")
		}

		if batchErr != nil {
			return batchErr
		}

		if end < len(pending) {
			select {
			case <-ctx.Done():
				return TransientErr(ctx.Err())
			case <-time.After(s.batchPause):
			}
		}
	}

	return s.finalize(logger, campaign)
}

// sendOne performs a single provider call behind the channel's circuit
// breaker and a bounded timeout.
func (s *Service) sendOne(ctx context.Context, transport Transport, breaker *gobreaker.CircuitBreaker, campaign *CampaignRecord, cred *ProviderCredential, target *RecipientTarget) Outcome {
	sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()

	started := time.Now()

	result, err := breaker.Execute(func() (interface{}, error) {
		outcome, err := transport.Send(sendCtx, cred, target, campaign.Payload)
		if err != nil {
			return Rejected(RejectTransient, err.Error()), err
		}

		if !outcome.Delivered && outcome.Reason.Retryable() {
			// feed provider-down signals to the breaker
			return outcome, errors.Errorf("transient rejection: %s", outcome.Detail)
		}

		return outcome, nil
	})

	sendDurationHistogram.WithLabelValues(string(campaign.Channel)).Observe(time.Since(started).Seconds())

	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return Rejected(RejectTransient, "provider circuit open")
	}

	outcome, ok := result.(Outcome)
	if !ok {
		return Rejected(RejectTransient, "send produced no outcome")
	}

	return outcome
}

// finalize computes and persists the terminal status once every recipient has
// left PENDING.
func (s *Service) finalize(logger logrus.FieldLogger, campaign *CampaignRecord) error {
	status := campaign.Rollup()

	if err := campaign.TransitionTo(status); err != nil {
		return err
	}

	now := s.clock()
	campaign.SentAt = &now
	campaign.UpdatedAt = now

	if err := s.campaigns.Update(campaign); err != nil {
		return errors.Wrap(err, "failed to persist terminal campaign status")
	}

	logger.
		WithField("campaignId", campaign.ID).
		WithField("status", status).
		Info("campaign finished")

	s.notifyTerminal(campaign)

	return nil
}

// finalizeFailed runs after a job exhausts its retries or hits a fatal error:
// every recipient still PENDING fails with the job's error, and the campaign
// reaches its terminal status.
func (s *Service) finalizeFailed(logger logrus.FieldLogger, job *Job, cause error) {
	campaign, err := s.campaigns.Get(job.CampaignID)
	if err != nil {
		logger.WithError(err).Error("failed to load campaign for failure rollup")
		return
	}

	if campaign.Status.Terminal() {
		return
	}

	for i := range campaign.Recipients {
		target := &campaign.Recipients[i]
		if target.DeliveryStatus != DeliveryPending {
			continue
		}

		target.DeliveryStatus = DeliveryFailed
		target.FailureReason = cause.Error()

		if err := s.campaigns.UpdateRecipient(target); err != nil {
			logger.WithError(err).WithField("address", target.Address).Error("failed to record failure")
		}

		recipientsCounter.WithLabelValues(string(campaign.Channel), "failed").Inc()
	}

	status := campaign.Rollup()

	if err := campaign.TransitionTo(status); err != nil {
		logger.WithError(err).Error("failed to transition campaign after job failure")
		return
	}

	now := s.clock()
	campaign.SentAt = &now
	campaign.UpdatedAt = now
	campaign.LastError = cause.Error()

	if err := s.campaigns.Update(&campaign); err != nil {
		logger.WithError(err).Error("failed to persist failed campaign")
		return
	}

	s.notifyTerminal(&campaign)
}

// worseErr keeps the most severe of two batch errors: credential failures
// outrank transient ones.
func worseErr(current, candidate error) error {
	if current == nil {
		return candidate
	}

	if ClassOf(candidate) == ClassCredential && ClassOf(current) != ClassCredential {
		return candidate
	}

	return current
}
