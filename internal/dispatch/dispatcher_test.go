package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ahmetk3436/herald/internal/mailer"
	"github.com/ahmetk3436/herald/internal/models"
	"github.com/ahmetk3436/herald/internal/templates"
	"github.com/google/uuid"
)

type memLogStore struct {
	mu   sync.Mutex
	logs map[uuid.UUID]models.EmailLog
}

func newMemLogStore() *memLogStore {
	return &memLogStore{logs: make(map[uuid.UUID]models.EmailLog)}
}

func (s *memLogStore) CreateEmailLogs(_ context.Context, logs []*models.EmailLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range logs {
		s.logs[l.ID] = *l
	}
	return nil
}

func (s *memLogStore) GetEmailLog(_ context.Context, id uuid.UUID) (*models.EmailLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.logs[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return &l, nil
}

func (s *memLogStore) SaveEmailLog(_ context.Context, l *models.EmailLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[l.ID] = *l
	return nil
}

func (s *memLogStore) ListRecoverableEmailLogs(_ context.Context, now, pendingBefore time.Time, maxAttempts int) ([]models.EmailLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.EmailLog
	for _, l := range s.logs {
		switch {
		case l.Status == models.EmailPending && !l.CreatedAt.After(pendingBefore):
			out = append(out, l)
		case l.Status == models.EmailFailed && l.Retryable && l.RetryCount < maxAttempts &&
			(l.NextAttemptAt == nil || !l.NextAttemptAt.After(now)):
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *memLogStore) get(id uuid.UUID) models.EmailLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logs[id]
}

// scriptedTransport fails the first failN sends, then succeeds.
type scriptedTransport struct {
	mu    sync.Mutex
	failN int
	sent  []mailer.Email
	calls int
}

func (t *scriptedTransport) Send(_ context.Context, e mailer.Email) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	if t.calls <= t.failN {
		return errors.New("smtp: 451 try again later")
	}
	t.sent = append(t.sent, e)
	return nil
}

func (t *scriptedTransport) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

func envelope(recipients ...string) Envelope {
	return Envelope{
		Recipients:   recipients,
		TemplateName: "api-down",
		Message:      templates.Message{Subject: "down", HTML: "<p>down</p>"},
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestPolicy_Backoff(t *testing.T) {
	p := Policy{MaxAttempts: 5, BackoffBase: 2 * time.Second, BackoffMax: 10 * time.Second}
	tests := []struct {
		failures int
		want     time.Duration
	}{
		{0, 2 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second},
		{10, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := p.Backoff(tt.failures); got != tt.want {
			t.Errorf("Backoff(%d): got %v, want %v", tt.failures, got, tt.want)
		}
	}
}

func TestDispatch_CreatesPendingLogsAndEnqueues(t *testing.T) {
	st := newMemLogStore()
	q := NewMemoryQueue(10)
	d := New(st, q, &scriptedTransport{}, DefaultPolicy(), 1)

	ids, err := d.Dispatch(context.Background(), envelope("a@example.com", " A@example.com ", "", "b@example.com"))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("ids: got %d, want 2 (deduplicated)", len(ids))
	}
	if q.Len() != 2 {
		t.Errorf("queue len: got %d, want 2", q.Len())
	}
	l := st.get(ids[0])
	if l.Status != models.EmailPending || l.TemplateName != "api-down" || l.RetryCount != 0 {
		t.Errorf("log: got %+v", l)
	}
}

func TestDispatch_NoRecipients(t *testing.T) {
	d := New(newMemLogStore(), NewMemoryQueue(1), &scriptedTransport{}, DefaultPolicy(), 1)
	if _, err := d.Dispatch(context.Background(), envelope()); !errors.Is(err, ErrNoRecipients) {
		t.Errorf("err: got %v, want ErrNoRecipients", err)
	}
}

func TestDispatch_FullQueueKeepsRowPending(t *testing.T) {
	st := newMemLogStore()
	q := NewMemoryQueue(1)
	d := New(st, q, &scriptedTransport{}, DefaultPolicy(), 1)

	ids, err := d.Dispatch(context.Background(), envelope("a@example.com", "b@example.com"))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got := st.get(ids[1]).Status; got != models.EmailPending {
		t.Errorf("overflow row status: got %q, want pending", got)
	}
}

func TestDeliver_SuccessMarksSent(t *testing.T) {
	st := newMemLogStore()
	tr := &scriptedTransport{}
	d := New(st, NewMemoryQueue(10), tr, DefaultPolicy(), 1)
	ids, _ := d.Dispatch(context.Background(), envelope("a@example.com"))

	d.deliver(Job{LogID: ids[0]})

	l := st.get(ids[0])
	if l.Status != models.EmailSent || l.SentAt == nil {
		t.Errorf("log: got status=%q sent_at=%v", l.Status, l.SentAt)
	}
	if len(tr.sent) != 1 || tr.sent[0].To != "a@example.com" || tr.sent[0].HTML != "<p>down</p>" {
		t.Errorf("sent: got %+v", tr.sent)
	}

	// A duplicate job for a sent row is a no-op.
	d.deliver(Job{LogID: ids[0]})
	if tr.callCount() != 1 {
		t.Errorf("transport calls: got %d, want 1", tr.callCount())
	}
}

func TestDeliver_FailureSchedulesBackoff(t *testing.T) {
	st := newMemLogStore()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d := New(st, NewMemoryQueue(10), &scriptedTransport{failN: 100}, Policy{MaxAttempts: 3, BackoffBase: time.Hour, BackoffMax: 4 * time.Hour}, 1)
	d.now = func() time.Time { return now }
	ids, _ := d.Dispatch(context.Background(), envelope("a@example.com"))

	d.deliver(Job{LogID: ids[0]})

	l := st.get(ids[0])
	if l.Status != models.EmailFailed || l.RetryCount != 1 {
		t.Fatalf("log: got status=%q retry_count=%d", l.Status, l.RetryCount)
	}
	if l.ErrorMessage != "smtp: 451 try again later" {
		t.Errorf("error: got %q", l.ErrorMessage)
	}
	if l.NextAttemptAt == nil || !l.NextAttemptAt.Equal(now.Add(time.Hour)) {
		t.Errorf("next attempt: got %v, want %v", l.NextAttemptAt, now.Add(time.Hour))
	}

	// Not due yet: another job must not attempt delivery.
	d.deliver(Job{LogID: ids[0]})
	if got := st.get(ids[0]).RetryCount; got != 1 {
		t.Errorf("retry_count after early job: got %d, want 1", got)
	}
}

func TestDeliver_RetryCountBounded(t *testing.T) {
	st := newMemLogStore()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := &scriptedTransport{failN: 100}
	d := New(st, NewMemoryQueue(10), tr, Policy{MaxAttempts: 3, BackoffBase: time.Hour, BackoffMax: time.Hour}, 1)
	ids, _ := d.Dispatch(context.Background(), envelope("a@example.com"))

	prev := 0
	for i := 0; i < 6; i++ {
		now = now.Add(2 * time.Hour)
		d.now = func() time.Time { return now }
		d.deliver(Job{LogID: ids[0]})

		rc := st.get(ids[0]).RetryCount
		if rc < prev {
			t.Fatalf("retry_count decreased: %d -> %d", prev, rc)
		}
		prev = rc
	}

	l := st.get(ids[0])
	if l.RetryCount != 3 || l.Status != models.EmailFailed || l.NextAttemptAt != nil {
		t.Errorf("final log: retry_count=%d status=%q next=%v", l.RetryCount, l.Status, l.NextAttemptAt)
	}
	if tr.callCount() != 3 {
		t.Errorf("transport calls: got %d, want 3", tr.callCount())
	}
}

func TestWorkers_RetryUntilSent(t *testing.T) {
	st := newMemLogStore()
	tr := &scriptedTransport{failN: 2}
	d := New(st, NewMemoryQueue(10), tr, Policy{MaxAttempts: 3, BackoffBase: 5 * time.Millisecond, BackoffMax: 20 * time.Millisecond}, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Stop()

	ids, err := d.Dispatch(ctx, envelope("a@example.com"))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	waitFor(t, "email sent", func() bool { return st.get(ids[0]).Status == models.EmailSent })
	if rc := st.get(ids[0]).RetryCount; rc != 2 {
		t.Errorf("retry_count: got %d, want 2", rc)
	}
}

func TestRecordFailure_NotRetryable(t *testing.T) {
	st := newMemLogStore()
	d := New(st, NewMemoryQueue(1), &scriptedTransport{}, DefaultPolicy(), 1)

	if err := d.RecordFailure(context.Background(), envelope("a@example.com"), "Error message is required"); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	var l models.EmailLog
	for _, v := range st.logs {
		l = v
	}
	if l.Status != models.EmailFailed || l.Retryable || l.ErrorMessage != "Error message is required" {
		t.Errorf("log: got %+v", l)
	}
	if err := d.Retry(context.Background(), l.ID); !errors.Is(err, ErrNotRetryable) {
		t.Errorf("Retry: got %v, want ErrNotRetryable", err)
	}
}

func TestRetry_Manual(t *testing.T) {
	st := newMemLogStore()
	q := NewMemoryQueue(10)
	d := New(st, q, &scriptedTransport{}, DefaultPolicy(), 1)

	future := time.Now().Add(time.Hour)
	failed := &models.EmailLog{ID: uuid.New(), ToEmail: "a@example.com", Status: models.EmailFailed, Retryable: true, RetryCount: 1, NextAttemptAt: &future}
	exhausted := &models.EmailLog{ID: uuid.New(), ToEmail: "b@example.com", Status: models.EmailFailed, Retryable: true, RetryCount: 3}
	st.CreateEmailLogs(context.Background(), []*models.EmailLog{failed, exhausted})

	if err := d.Retry(context.Background(), failed.ID); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if st.get(failed.ID).NextAttemptAt != nil {
		t.Error("NextAttemptAt: expected cleared")
	}
	if q.Len() != 1 {
		t.Errorf("queue len: got %d, want 1", q.Len())
	}
	if err := d.Retry(context.Background(), exhausted.ID); !errors.Is(err, ErrRetriesExhausted) {
		t.Errorf("Retry exhausted: got %v, want ErrRetriesExhausted", err)
	}
}

func TestRecover_RequeuesStaleAndDue(t *testing.T) {
	st := newMemLogStore()
	q := NewMemoryQueue(10)
	d := New(st, q, &scriptedTransport{}, DefaultPolicy(), 1)
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	st.CreateEmailLogs(context.Background(), []*models.EmailLog{
		{ID: uuid.New(), Status: models.EmailPending, CreatedAt: now.Add(-time.Hour)},
		{ID: uuid.New(), Status: models.EmailPending, CreatedAt: now},
		{ID: uuid.New(), Status: models.EmailFailed, Retryable: true, RetryCount: 1, NextAttemptAt: &past},
		{ID: uuid.New(), Status: models.EmailFailed, Retryable: true, RetryCount: 1, NextAttemptAt: &future},
		{ID: uuid.New(), Status: models.EmailSent},
	})

	n, err := d.Recover(context.Background())
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if n != 2 || q.Len() != 2 {
		t.Errorf("requeued: got n=%d len=%d, want 2", n, q.Len())
	}
}
