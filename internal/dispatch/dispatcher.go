// Package dispatch delivers rendered notifications. Every recipient gets an
// EmailLog row before anything is sent; a bounded worker pool drains a queue
// of row IDs so transport latency never reaches the evaluator.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ahmetk3436/herald/internal/mailer"
	"github.com/ahmetk3436/herald/internal/models"
	"github.com/ahmetk3436/herald/internal/templates"
	"github.com/google/uuid"
)

var (
	ErrNoRecipients     = errors.New("no recipients")
	ErrNotRetryable     = errors.New("email log is not retryable")
	ErrRetriesExhausted = errors.New("email log has no attempts left")
)

// LogStore persists EmailLog rows.
type LogStore interface {
	CreateEmailLogs(ctx context.Context, logs []*models.EmailLog) error
	GetEmailLog(ctx context.Context, id uuid.UUID) (*models.EmailLog, error)
	SaveEmailLog(ctx context.Context, log *models.EmailLog) error
	ListRecoverableEmailLogs(ctx context.Context, now, pendingBefore time.Time, maxAttempts int) ([]models.EmailLog, error)
}

// Policy bounds delivery attempts. RetryCount counts failed attempts and
// never exceeds MaxAttempts.
type Policy struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BackoffBase: 2 * time.Second, BackoffMax: time.Minute}
}

// Backoff is the delay after the n-th failed attempt: base * 2^(n-1), capped.
func (p Policy) Backoff(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	d := p.BackoffBase
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= p.BackoffMax {
			return p.BackoffMax
		}
	}
	if d > p.BackoffMax {
		return p.BackoffMax
	}
	return d
}

// Envelope is one rendered notification addressed to several recipients.
type Envelope struct {
	Recipients   []string
	TemplateName string
	Message      templates.Message
}

type Dispatcher struct {
	store       LogStore
	queue       Queue
	transport   mailer.Transport
	policy      Policy
	workers     int
	sendTimeout time.Duration
	requeue     time.Duration
	now         func() time.Time

	mu       sync.Mutex
	inflight map[uuid.UUID]bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(store LogStore, queue Queue, transport mailer.Transport, policy Policy, workers int) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	return &Dispatcher{
		store:       store,
		queue:       queue,
		transport:   transport,
		policy:      policy,
		workers:     workers,
		sendTimeout: 30 * time.Second,
		requeue:     30 * time.Second,
		now:         time.Now,
		inflight:    make(map[uuid.UUID]bool),
		ctx:         context.Background(),
	}
}

// Start launches the worker pool and the requeue loop.
func (d *Dispatcher) Start(ctx context.Context) {
	d.ctx, d.cancel = context.WithCancel(ctx)
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	d.wg.Add(1)
	go d.requeueLoop()
	slog.Info("Dispatcher started", "workers", d.workers, "max_attempts", d.policy.MaxAttempts)
}

// Stop stops taking new jobs and waits for in-flight deliveries to finish.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
	slog.Info("Dispatcher stopped")
}

// Dispatch records one pending EmailLog per recipient and enqueues them.
// A full queue is not an error: the rows stay pending and the requeue loop
// picks them up.
func (d *Dispatcher) Dispatch(ctx context.Context, env Envelope) ([]uuid.UUID, error) {
	logs := d.buildLogs(env, models.EmailPending, "")
	if len(logs) == 0 {
		return nil, ErrNoRecipients
	}
	if err := d.store.CreateEmailLogs(ctx, logs); err != nil {
		return nil, fmt.Errorf("create email logs: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(logs))
	for _, l := range logs {
		ids = append(ids, l.ID)
		if err := d.queue.Push(ctx, Job{LogID: l.ID}); err != nil {
			slog.Warn("Email enqueue deferred", "email_log", l.ID, "error", err)
		}
	}
	return ids, nil
}

// RecordFailure stores non-retryable failed rows for a notification that was
// blocked before delivery, e.g. by variable validation.
func (d *Dispatcher) RecordFailure(ctx context.Context, env Envelope, reason string) error {
	logs := d.buildLogs(env, models.EmailFailed, reason)
	if len(logs) == 0 {
		return ErrNoRecipients
	}
	return d.store.CreateEmailLogs(ctx, logs)
}

// Recover enqueues rows that were never delivered: pending rows older than
// the requeue interval and failed rows whose next attempt is due.
func (d *Dispatcher) Recover(ctx context.Context) (int, error) {
	now := d.now()
	logs, err := d.store.ListRecoverableEmailLogs(ctx, now, now.Add(-d.requeue), d.policy.MaxAttempts)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, l := range logs {
		if err := d.queue.Push(ctx, Job{LogID: l.ID}); err != nil {
			slog.Warn("Requeue stopped", "error", err, "remaining", len(logs)-n)
			break
		}
		n++
	}
	return n, nil
}

// Retry re-enqueues a failed row immediately, provided attempts remain.
func (d *Dispatcher) Retry(ctx context.Context, id uuid.UUID) error {
	l, err := d.store.GetEmailLog(ctx, id)
	if err != nil {
		return err
	}
	if l.Status != models.EmailFailed || !l.Retryable {
		return ErrNotRetryable
	}
	if l.RetryCount >= d.policy.MaxAttempts {
		return ErrRetriesExhausted
	}
	l.NextAttemptAt = nil
	if err := d.store.SaveEmailLog(ctx, l); err != nil {
		return err
	}
	return d.queue.Push(ctx, Job{LogID: id})
}

func (d *Dispatcher) buildLogs(env Envelope, status, errMsg string) []*models.EmailLog {
	seen := make(map[string]bool, len(env.Recipients))
	var logs []*models.EmailLog
	for _, r := range env.Recipients {
		r = strings.TrimSpace(r)
		if r == "" || seen[strings.ToLower(r)] {
			continue
		}
		seen[strings.ToLower(r)] = true
		logs = append(logs, &models.EmailLog{
			ID:           uuid.New(),
			ToEmail:      r,
			Subject:      env.Message.Subject,
			Content:      env.Message.HTML,
			TemplateName: env.TemplateName,
			Status:       status,
			ErrorMessage: errMsg,
			Retryable:    status == models.EmailPending,
		})
	}
	return logs
}

func (d *Dispatcher) worker(n int) {
	defer d.wg.Done()
	for {
		job, err := d.queue.Pop(d.ctx)
		if err != nil {
			if d.ctx.Err() != nil || errors.Is(err, ErrQueueClosed) {
				return
			}
			slog.Error("Dispatch queue pop failed", "worker", n, "error", err)
			select {
			case <-d.ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		d.deliver(job)
	}
}

func (d *Dispatcher) requeueLoop() {
	defer d.wg.Done()
	ticker := time.NewTicker(d.requeue)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n, err := d.Recover(d.ctx); err != nil {
				slog.Error("Email requeue failed", "error", err)
			} else if n > 0 {
				slog.Info("Emails requeued", "count", n)
			}
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) claim(id uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inflight[id] {
		return false
	}
	d.inflight[id] = true
	return true
}

func (d *Dispatcher) release(id uuid.UUID) {
	d.mu.Lock()
	delete(d.inflight, id)
	d.mu.Unlock()
}

// deliver performs one attempt. Deliveries run on their own context so a
// shutdown lets them finish.
func (d *Dispatcher) deliver(job Job) {
	if !d.claim(job.LogID) {
		return
	}
	defer d.release(job.LogID)

	ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
	defer cancel()

	l, err := d.store.GetEmailLog(ctx, job.LogID)
	if err != nil {
		slog.Error("Email log lookup failed", "email_log", job.LogID, "error", err)
		return
	}
	if !d.due(l) {
		return
	}

	now := d.now()
	err = d.transport.Send(ctx, mailer.Email{To: l.ToEmail, Subject: l.Subject, HTML: l.Content})
	if err == nil {
		l.Status = models.EmailSent
		l.SentAt = &now
		l.ErrorMessage = ""
		l.NextAttemptAt = nil
		if err := d.store.SaveEmailLog(ctx, l); err != nil {
			slog.Error("Email sent but log update failed", "email_log", l.ID, "error", err)
		}
		slog.Info("Email sent", "email_log", l.ID, "to", l.ToEmail, "template", l.TemplateName)
		return
	}

	l.Status = models.EmailFailed
	l.ErrorMessage = err.Error()
	l.RetryCount++
	l.NextAttemptAt = nil
	var delay time.Duration
	if l.RetryCount < d.policy.MaxAttempts {
		delay = d.policy.Backoff(l.RetryCount)
		next := now.Add(delay)
		l.NextAttemptAt = &next
	}
	if err := d.store.SaveEmailLog(ctx, l); err != nil {
		slog.Error("Email log update failed", "email_log", l.ID, "error", err)
		return
	}

	if l.NextAttemptAt == nil {
		slog.Error("Email delivery failed, attempts exhausted",
			"email_log", l.ID, "to", l.ToEmail, "retry_count", l.RetryCount, "error", l.ErrorMessage)
		return
	}
	slog.Warn("Email delivery failed, will retry",
		"email_log", l.ID, "to", l.ToEmail, "retry_count", l.RetryCount, "delay", delay, "error", l.ErrorMessage)
	d.schedule(l.ID, delay)
}

// due reports whether l should be attempted now.
func (d *Dispatcher) due(l *models.EmailLog) bool {
	switch l.Status {
	case models.EmailPending:
		return true
	case models.EmailFailed:
		if !l.Retryable || l.RetryCount >= d.policy.MaxAttempts {
			return false
		}
		return l.NextAttemptAt == nil || !l.NextAttemptAt.After(d.now())
	default:
		return false
	}
}

func (d *Dispatcher) schedule(id uuid.UUID, delay time.Duration) {
	time.AfterFunc(delay, func() {
		if d.ctx.Err() != nil {
			return
		}
		if err := d.queue.Push(d.ctx, Job{LogID: id}); err != nil {
			slog.Warn("Retry enqueue deferred", "email_log", id, "error", err)
		}
	})
}
