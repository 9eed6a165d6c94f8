package verification

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"payproof/internal/verification/metrics"
	"payproof/pkg/platform/sentinel"
)

// PoolConfig bounds the verification worker pool.
type PoolConfig struct {
	Workers           int
	QueueSize         int
	SubmissionTimeout time.Duration
	LeaseTTL          time.Duration
	RequeueBackoff    time.Duration
	MaxRequeues       int
}

func (c *PoolConfig) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.SubmissionTimeout <= 0 {
		c.SubmissionTimeout = 2 * time.Minute
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 2 * time.Minute
	}
	if c.RequeueBackoff <= 0 {
		c.RequeueBackoff = 5 * time.Second
	}
	if c.MaxRequeues <= 0 {
		c.MaxRequeues = 5
	}
}

type queueItem struct {
	submissionID uuid.UUID
	attempts     int
	parkReason   string
}

// Pool is the bounded worker pool that drives submissions through the
// pipeline. Each pickup acquires a per-submission lease so concurrent
// uploads and multi-node deployments never double-process, and transient
// failures requeue with backoff up to a retry cap.
type Pool struct {
	cfg    PoolConfig
	svc    *Service
	leaser Leaser
	logger *slog.Logger

	queue chan queueItem
	wg    sync.WaitGroup
	stop  chan struct{}
	once  sync.Once
}

func NewPool(cfg PoolConfig, svc *Service, leaser Leaser, logger *slog.Logger) *Pool {
	cfg.applyDefaults()
	return &Pool{
		cfg:    cfg,
		svc:    svc,
		leaser: leaser,
		logger: logger,
		queue:  make(chan queueItem, cfg.QueueSize),
		stop:   make(chan struct{}),
	}
}

// Start launches the workers. They run until Shutdown.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Shutdown stops accepting work and waits for in-flight submissions.
func (p *Pool) Shutdown() {
	p.once.Do(func() { close(p.stop) })
	p.wg.Wait()
}

// Enqueue queues a submission for processing. Returns false when the queue
// is full; the caller decides whether that is fatal.
func (p *Pool) Enqueue(submissionID uuid.UUID) bool {
	return p.enqueue(queueItem{submissionID: submissionID})
}

func (p *Pool) enqueue(item queueItem) bool {
	select {
	case p.queue <- item:
		metrics.QueueDepth.Inc()
		return true
	default:
		return false
	}
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		case item := <-p.queue:
			metrics.QueueDepth.Dec()
			p.handle(ctx, item)
		}
	}
}

func (p *Pool) handle(ctx context.Context, item queueItem) {
	acquired, err := p.leaser.Acquire(ctx, item.submissionID, p.cfg.LeaseTTL)
	if err != nil {
		p.logger.Error("lease acquire failed", "submission_id", item.submissionID, "error", err)
		p.requeue(item)
		return
	}
	if !acquired {
		// Another worker holds it. Drop: the holder will finish or the
		// lease will expire and a requeue will find it.
		p.logger.Debug("submission already leased", "submission_id", item.submissionID)
		return
	}
	defer func() {
		if err := p.leaser.Release(context.WithoutCancel(ctx), item.submissionID); err != nil {
			p.logger.Warn("lease release failed", "submission_id", item.submissionID, "error", err)
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, p.cfg.SubmissionTimeout)
	defer cancel()

	if err := p.svc.Process(runCtx, item.submissionID); err != nil {
		if errors.Is(err, sentinel.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
			p.logger.Warn("submission requeued", "submission_id", item.submissionID,
				"attempt", item.attempts+1, "error", err)
			item.parkReason = parkReason(err)
			p.requeue(item)
			return
		}
		p.logger.Error("submission processing failed", "submission_id", item.submissionID, "error", err)
	}
}

// requeue re-schedules the item after a backoff, up to the retry cap.
// Exhausted items park the submission for a human via the failure path.
func (p *Pool) requeue(item queueItem) {
	item.attempts++
	if item.attempts >= p.cfg.MaxRequeues {
		p.logger.Error("submission retries exhausted", "submission_id", item.submissionID)
		p.park(item)
		return
	}

	backoff := p.cfg.RequeueBackoff * time.Duration(item.attempts)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		select {
		case <-p.stop:
			return
		case <-time.After(backoff):
		}
		if !p.enqueue(item) {
			p.logger.Error("requeue dropped, queue full", "submission_id", item.submissionID)
			p.park(item)
		}
	}()
}

// parkReason maps a requeue-worthy error to the decision reason recorded if
// the retry budget runs out.
func parkReason(err error) string {
	var terr *transientError
	if errors.As(err, &terr) {
		return terr.Reason
	}
	return ReasonInternalError
}

// park routes a submission that can no longer be processed automatically to
// manual review so it is never silently lost. The recorded reason is the one
// that caused the requeues, not a generic failure.
func (p *Pool) park(item queueItem) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sub, err := p.svc.GetSubmission(ctx, item.submissionID)
	if err != nil {
		p.logger.Error("park load failed", "submission_id", item.submissionID, "error", err)
		return
	}
	reason := item.parkReason
	if reason == "" {
		reason = ReasonInternalError
	}
	if err := p.svc.finalizeFailure(ctx, sub, reason); err != nil {
		p.logger.Error("park failed", "submission_id", item.submissionID, "error", err)
	}
}
