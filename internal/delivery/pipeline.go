// Package delivery queues, retries and dispatches alerts to channel adapters.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bissquit/incident-alerts/internal/domain"
	"github.com/google/uuid"
)

// Config contains pipeline configuration.
type Config struct {
	Workers           int
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	Jitter            float64
	SendTimeout       time.Duration
	Retention         time.Duration
	SweepInterval     time.Duration
}

// DefaultConfig returns default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		Workers:           5,
		MaxAttempts:       5,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        5 * time.Minute,
		BackoffMultiplier: 2.0,
		Jitter:            0.2,
		SendTimeout:       10 * time.Second,
		Retention:         24 * time.Hour,
		SweepInterval:     5 * time.Minute,
	}
}

// Pipeline drives delivery records from pending to a terminal status.
//
// Records wait in a retry queue keyed by their next attempt time. A scheduler hands
// due records to a bounded pool of workers; each channel call runs under SendTimeout
// and holds no pipeline lock. Outcomes are persisted only while the record is still
// pending, so a cancelled or already delivered record is never sent again.
type Pipeline struct {
	config     Config
	store      RecordStore
	dispatcher *Dispatcher
	renderer   *Renderer

	mu    sync.Mutex
	queue *retryQueue

	wake   chan struct{}
	work   chan string
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once

	now func() time.Time
}

// NewPipeline creates a new delivery pipeline.
func NewPipeline(config Config, store RecordStore, dispatcher *Dispatcher, renderer *Renderer) *Pipeline {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	return &Pipeline{
		config:     config,
		store:      store,
		dispatcher: dispatcher,
		renderer:   renderer,
		queue:      newRetryQueue(),
		wake:       make(chan struct{}, 1),
		work:       make(chan string),
		stopCh:     make(chan struct{}),
		now:        time.Now,
	}
}

// Start launches the scheduler, workers and the retention sweeper.
func (p *Pipeline) Start(ctx context.Context) {
	slog.Info("starting delivery pipeline",
		"workers", p.config.Workers,
		"max_attempts", p.config.MaxAttempts,
		"send_timeout", p.config.SendTimeout,
	)

	p.wg.Add(2 + p.config.Workers)
	go p.schedule(ctx)
	go p.sweep(ctx)
	for i := 0; i < p.config.Workers; i++ {
		go p.runWorker(ctx, i)
	}
}

// Stop gracefully stops the pipeline. In-flight attempts finish first.
func (p *Pipeline) Stop() {
	p.once.Do(func() { close(p.stopCh) })
	p.wg.Wait()
	slog.Info("delivery pipeline stopped")
}

// Run starts the pipeline and blocks until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.Start(ctx)
	<-ctx.Done()
	p.Stop()
	return nil
}

// Submit persists a new pending record and schedules its first attempt.
// Submitting a record for an existing (incident, rule, revision) triple is a no-op
// and reports false.
func (p *Pipeline) Submit(ctx context.Context, rec domain.DeliveryRecord) (bool, error) {
	now := p.now().UTC()
	rec.ID = uuid.NewString()
	rec.Status = domain.DeliveryStatusPending
	rec.AttemptCount = 0
	rec.NextRetryAt = now
	rec.CreatedAt = now
	rec.UpdatedAt = now

	if err := p.store.Create(ctx, &rec); err != nil {
		if errors.Is(err, ErrRecordExists) {
			slog.Debug("delivery record already exists",
				"incident_id", rec.IncidentID,
				"rule_id", rec.RuleID,
				"revision", rec.IncidentRevision,
			)
			return false, nil
		}
		return false, fmt.Errorf("create delivery record: %w", err)
	}

	recordSubmitted(rec.Channel.Type)
	p.enqueue(rec.ID, now)
	return true, nil
}

// CancelRule cancels pending records of a deleted rule. Queued attempts for them become no-ops.
func (p *Pipeline) CancelRule(ctx context.Context, ruleID string) (int, error) {
	n, err := p.store.CancelByRule(ctx, ruleID)
	if err != nil {
		return 0, fmt.Errorf("cancel records: %w", err)
	}
	return n, nil
}

// Recover schedules pending records found in the store, e.g. after a restart.
func (p *Pipeline) Recover(ctx context.Context) (int, error) {
	records, err := p.store.ListByStatus(ctx, domain.DeliveryStatusPending, 0)
	if err != nil {
		return 0, fmt.Errorf("list pending records: %w", err)
	}
	for _, rec := range records {
		p.enqueue(rec.ID, rec.NextRetryAt)
	}
	if len(records) > 0 {
		slog.Info("pending deliveries recovered", "count", len(records))
	}
	return len(records), nil
}

// List returns records in the given status.
func (p *Pipeline) List(ctx context.Context, status domain.DeliveryStatus, limit int) ([]domain.DeliveryRecord, error) {
	return p.store.ListByStatus(ctx, status, limit)
}

// Failed returns records that exhausted their retries or failed permanently.
func (p *Pipeline) Failed(ctx context.Context, limit int) ([]domain.DeliveryRecord, error) {
	return p.List(ctx, domain.DeliveryStatusFailedPermanent, limit)
}

// Scheduled returns the number of records waiting in the retry queue.
func (p *Pipeline) Scheduled() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.len()
}

func (p *Pipeline) enqueue(recordID string, at time.Time) {
	p.mu.Lock()
	p.queue.push(recordID, at)
	queueDepth.Set(float64(p.queue.len()))
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Pipeline) schedule(ctx context.Context) {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		task, due, wait := p.queue.popDue(p.now())
		queueDepth.Set(float64(p.queue.len()))
		p.mu.Unlock()

		if due {
			select {
			case p.work <- task.recordID:
				continue
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			}
		}

		var timer *time.Timer
		var timerC <-chan time.Time
		if wait >= 0 {
			timer = time.NewTimer(wait)
			timerC = timer.C
		}

		select {
		case <-timerC:
		case <-p.wake:
		case <-ctx.Done():
		case <-p.stopCh:
		}
		if timer != nil {
			timer.Stop()
		}

		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		default:
		}
	}
}

func (p *Pipeline) runWorker(ctx context.Context, workerID int) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case id := <-p.work:
			p.attempt(ctx, workerID, id)
		}
	}
}

func (p *Pipeline) attempt(ctx context.Context, workerID int, recordID string) {
	rec, err := p.store.Get(ctx, recordID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return
		}
		slog.Error("failed to load delivery record", "record_id", recordID, "error", err)
		p.enqueue(recordID, p.now().Add(p.config.InitialBackoff))
		return
	}

	if rec.Status != domain.DeliveryStatusPending {
		slog.Debug("skipping delivery attempt", "record_id", rec.ID, "status", rec.Status)
		recordAttempt(rec.Channel.Type, outcomeSkipped, 0)
		return
	}

	start := p.now()
	err = p.send(ctx, rec)
	duration := p.now().Sub(start)

	now := p.now().UTC()
	rec.AttemptCount++
	rec.UpdatedAt = now

	var outcome string
	switch {
	case err == nil:
		rec.Status = domain.DeliveryStatusDelivered
		rec.DeliveredAt = &now
		rec.LastError = ""
		outcome = outcomeDelivered
	case !IsRetryable(err):
		rec.Status = domain.DeliveryStatusFailedPermanent
		rec.LastError = err.Error()
		outcome = outcomeFailed
	case rec.AttemptCount >= p.config.MaxAttempts:
		rec.Status = domain.DeliveryStatusFailedPermanent
		rec.LastError = fmt.Sprintf("max attempts exceeded: %v", err)
		outcome = outcomeFailed
	default:
		rec.NextRetryAt = now.Add(p.config.retryDelay(rec.AttemptCount))
		rec.LastError = err.Error()
		outcome = outcomeRetry
	}

	recordAttempt(rec.Channel.Type, outcome, duration)

	updated, uerr := p.store.UpdatePending(ctx, rec)
	if uerr != nil {
		// The record is still pending in the store; try again later.
		slog.Error("failed to save delivery outcome",
			"record_id", rec.ID,
			"status", rec.Status,
			"error", uerr,
		)
		p.enqueue(rec.ID, p.now().Add(p.config.InitialBackoff))
		return
	}
	if !updated {
		slog.Info("delivery outcome discarded, record no longer pending", "record_id", rec.ID)
		return
	}

	logger := slog.With(
		"worker", workerID,
		"record_id", rec.ID,
		"incident_id", rec.IncidentID,
		"rule_id", rec.RuleID,
		"revision", rec.IncidentRevision,
		"channel_type", rec.Channel.Type,
		"attempt", rec.AttemptCount,
	)

	switch rec.Status {
	case domain.DeliveryStatusDelivered:
		logger.Info("alert delivered", "duration", duration)
	case domain.DeliveryStatusFailedPermanent:
		logger.Error("alert delivery failed permanently", "error", rec.LastError)
	default:
		logger.Warn("alert delivery failed, retry scheduled",
			"next_retry_at", rec.NextRetryAt,
			"error", err,
		)
		p.enqueue(rec.ID, rec.NextRetryAt)
	}
}

func (p *Pipeline) send(ctx context.Context, rec *domain.DeliveryRecord) error {
	alert := Alert{
		DeliveryID: rec.ID,
		Attempt:    rec.AttemptCount + 1,
		Incident:   rec.Incident,
		Rule:       rec.Rule,
		Channel:    rec.Channel,
	}
	if p.renderer != nil {
		subject, body, err := p.renderer.Render(rec.Incident, rec.Rule)
		if err != nil {
			return NewPermanentError(fmt.Errorf("render alert: %w", err))
		}
		alert.Subject = subject
		alert.Body = body
	}

	sendCtx := ctx
	if p.config.SendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, p.config.SendTimeout)
		defer cancel()
	}

	return p.dispatcher.Send(sendCtx, alert)
}

func (p *Pipeline) sweep(ctx context.Context) {
	defer p.wg.Done()

	interval := p.config.SweepInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sweepOnce(ctx)
		}
	}
}

func (p *Pipeline) sweepOnce(ctx context.Context) {
	if p.config.Retention > 0 {
		cutoff := p.now().Add(-p.config.Retention)
		n, err := p.store.DeleteTerminalBefore(ctx, cutoff)
		if err != nil {
			slog.Error("failed to evict delivery records", "error", err)
		} else if n > 0 {
			slog.Debug("delivery records evicted", "count", n)
		}
	}

	counts, err := p.store.CountByStatus(ctx)
	if err != nil {
		slog.Error("failed to count delivery records", "error", err)
		return
	}
	RecordStatusCounts(counts)
}
