package outbound

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type Option func(s *Service)

func SetLogger(logger logrus.FieldLogger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func SetQueue(queue Queue) Option {
	return func(s *Service) {
		s.queue = queue
	}
}

func SetCampaignRepo(repo CampaignRepository) Option {
	return func(s *Service) {
		s.campaigns = repo
	}
}

func SetCredentialManager(manager *CredentialManager) Option {
	return func(s *Service) {
		s.credentials = manager
	}
}

func SetNotifier(notifier Notifier) Option {
	return func(s *Service) {
		s.notifier = notifier
	}
}

func SetTransport(transport Transport) Option {
	return func(s *Service) {
		s.transports[transport.Channel()] = transport
	}
}

func SetWorkerCount(count int) Option {
	return func(s *Service) {
		s.workerCount = count
	}
}

// SetRateLimit bounds how many jobs may start per second across all workers.
func SetRateLimit(perSecond float64, burst int) Option {
	return func(s *Service) {
		s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func SetBatchSize(size int) Option {
	return func(s *Service) {
		s.batchSize = size
	}
}

func SetBatchPause(pause time.Duration) Option {
	return func(s *Service) {
		s.batchPause = pause
	}
}

func SetPollInterval(interval time.Duration) Option {
	return func(s *Service) {
		s.pollInterval = interval
	}
}

func SetHeartbeatInterval(interval time.Duration) Option {
	return func(s *Service) {
		s.heartbeat = interval
	}
}

func SetMaxAttempts(attempts int) Option {
	return func(s *Service) {
		s.maxAttempts = attempts
	}
}

func SetSendTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		s.sendTimeout = timeout
	}
}

func SetClock(clock func() time.Time) Option {
	return func(s *Service) {
		s.clock = clock
	}
}

// Service owns the outbound pipeline: it persists campaigns, enqueues their
// jobs and runs the worker pool that delivers them. All collaborators are
// injected; there is no package-level state.
type Service struct {
	logger logrus.FieldLogger

	queue       Queue
	campaigns   CampaignRepository
	credentials *CredentialManager
	notifier    Notifier
	transports  map[Channel]Transport
	breakers    map[Channel]*gobreaker.CircuitBreaker

	workerCount  int
	limiter      *rate.Limiter
	batchSize    int
	batchPause   time.Duration
	pollInterval time.Duration
	heartbeat    time.Duration
	maxAttempts  int
	sendTimeout  time.Duration

	clock func() time.Time

	cancel context.CancelFunc
	group  *errgroup.Group
}

func NewService(options ...Option) (*Service, error) {
	s := &Service{
		logger: logrus.New(),

		notifier:   NopNotifier(),
		transports: make(map[Channel]Transport),
		breakers:   make(map[Channel]*gobreaker.CircuitBreaker),

		workerCount:  5,
		limiter:      rate.NewLimiter(rate.Limit(100), 100),
		batchSize:    5,
		batchPause:   time.Second,
		pollInterval: time.Second,
		heartbeat:    10 * time.Second,
		maxAttempts:  3,
		sendTimeout:  30 * time.Second,

		clock: time.Now,
	}

	for _, option := range options {
		option(s)
	}

	if err := s.ensureUsableConfiguration(); err != nil {
		return s, err
	}

	for channel := range s.transports {
		s.breakers[channel] = newSendBreaker(channel, s.logger)
	}

	return s, nil
}

func (s *Service) ensureUsableConfiguration() error {
	if s.queue == nil {
		return errors.New("missing queue")
	}

	if s.campaigns == nil {
		return errors.New("missing campaign repository")
	}

	if s.credentials == nil {
		return errors.New("missing credential manager")
	}

	if len(s.transports) == 0 {
		return errors.New("at least one transport is required")
	}

	return nil
}

func newSendBreaker(channel Channel, logger logrus.FieldLogger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        fmt.Sprintf("send-%s", channel),
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.
				WithField("breaker", name).
				WithField("from", from.String()).
				WithField("to", to.String()).
				Warn("send circuit breaker changed state")
		},
	})
}

// Start launches the worker pool. It returns immediately; workers run until
// Shutdown.
func (s *Service) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)

	s.cancel = cancel
	s.group = group

	for i := 0; i < s.workerCount; i++ {
		workerID := i
		group.Go(func() error {
			return s.worker(gctx, workerID)
		})
	}

	s.logger.
		WithField("workers", s.workerCount).
		Info("outbound worker pool started")
}

// Shutdown stops the workers and waits for in-flight jobs, bounded by ctx.
func (s *Service) Shutdown(ctx context.Context) error {
	if s.cancel == nil {
		return nil
	}

	s.cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.group.Wait()
	}()

	select {
	case err := <-done:
		if err != nil && err != context.Canceled {
			return err
		}
		return nil

	case <-ctx.Done():
		return ctx.Err()
	}
}

// CreateAndEnqueue persists a new PENDING campaign and enqueues its send job,
// honoring the scheduled time as queue-level delay.
func (s *Service) CreateAndEnqueue(input CampaignInput) (uuid.UUID, error) {
	if err := input.Validate(); err != nil {
		return uuid.Nil, errors.Wrap(err, "invalid campaign input")
	}

	now := s.clock()

	campaign := &CampaignRecord{
		ID:              uuid.New(),
		UserID:          input.UserID,
		Channel:         input.Channel,
		SenderAccountID: input.SenderAccountID,
		Payload:         input.Payload,
		ScheduledFor:    input.ScheduledFor,
		Status:          CampaignPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	campaign.Recipients = make([]RecipientTarget, 0, len(input.Recipients))
	for i, recipient := range input.Recipients {
		campaign.Recipients = append(campaign.Recipients, RecipientTarget{
			ID:             uuid.New(),
			CampaignID:     campaign.ID,
			Position:       i,
			Address:        recipient.Address,
			Name:           recipient.Name,
			DeliveryStatus: DeliveryPending,
		})
	}

	if err := s.campaigns.Create(campaign); err != nil {
		return uuid.Nil, errors.Wrap(err, "failed to persist campaign")
	}

	job, err := NewSendJob(campaign)
	if err != nil {
		return uuid.Nil, err
	}

	var delay time.Duration
	if campaign.ScheduledFor != nil {
		if d := campaign.ScheduledFor.Sub(now); d > 0 {
			delay = d
		}
	}

	if err := s.queue.Enqueue(job, EnqueueOptions{
		Delay:       delay,
		MaxAttempts: s.maxAttempts,
		Backoff:     DefaultBackoff(),
	}); err != nil {
		return uuid.Nil, errors.Wrap(err, "failed to enqueue send job")
	}

	s.logger.
		WithField("campaignId", campaign.ID).
		WithField("jobId", job.ID).
		WithField("recipients", len(campaign.Recipients)).
		WithField("delay", delay).
		Info("campaign enqueued")

	return campaign.ID, nil
}

// GetStatus returns a consistent snapshot of a campaign's delivery state.
func (s *Service) GetStatus(campaignID uuid.UUID) (StatusSnapshot, error) {
	var snapshot StatusSnapshot

	campaign, err := s.campaigns.Get(campaignID)
	if err != nil {
		return snapshot, err
	}

	snapshot.Status = campaign.Status
	snapshot.FailedRecipients = make([]FailedRecipient, 0)

	for _, target := range campaign.Recipients {
		switch target.DeliveryStatus {
		case DeliverySent:
			snapshot.SuccessCount++
		case DeliveryFailed:
			snapshot.FailedRecipients = append(snapshot.FailedRecipients, FailedRecipient{
				Address: target.Address,
				Reason:  target.FailureReason,
			})
		}
	}

	if campaign.Status.Terminal() && campaign.Status != CampaignCancelled {
		snapshot.Progress = 100
		return snapshot, nil
	}

	job, err := s.queue.FindByCampaign(campaignID)
	if err != nil {
		if errors.Cause(err) == JobNotFoundErr {
			return snapshot, nil
		}

		return snapshot, err
	}

	snapshot.Progress = job.Progress

	return snapshot, nil
}

// Cancel revokes a campaign that no worker has claimed yet. The queue is the
// arbiter: once the job is leased the cancel reports false.
func (s *Service) Cancel(campaignID uuid.UUID) (bool, error) {
	campaign, err := s.campaigns.Get(campaignID)
	if err != nil {
		return false, err
	}

	if campaign.Status != CampaignPending {
		return false, nil
	}

	cancelled, err := s.queue.CancelByCampaign(campaignID)
	if err != nil {
		return false, errors.Wrap(err, "failed to cancel queued job")
	}

	if !cancelled {
		return false, nil
	}

	if err := campaign.TransitionTo(CampaignCancelled); err != nil {
		return false, err
	}

	campaign.UpdatedAt = s.clock()

	if err := s.campaigns.Update(&campaign); err != nil {
		return false, errors.Wrap(err, "failed to persist cancelled campaign")
	}

	s.logger.
		WithField("campaignId", campaignID).
		Info("campaign cancelled")

	return true, nil
}

// notifyTerminal pushes a feed entry for a finished campaign. Failures are
// logged only.
func (s *Service) notifyTerminal(campaign *CampaignRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	notification := Notification{
		UserID:    campaign.UserID,
		Title:     fmt.Sprintf("Campaign %s", campaign.Status),
		Type:      "campaign",
		Link:      fmt.Sprintf("/campaigns/%s", campaign.ID),
		CreatedAt: s.clock(),
	}

	if err := s.notifier.Notify(ctx, notification); err != nil {
		s.logger.
			WithField("campaignId", campaign.ID).
			WithError(err).
			Warn("failed to write campaign notification")
	}
}
