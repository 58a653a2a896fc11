package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ahmetk3436/herald/internal/models"
	"github.com/google/uuid"
)

// maxBodyBytes caps how much of a response is read for expect_response.
const maxBodyBytes = 1 << 20

type CheckStore interface {
	ListEnabledMonitors(ctx context.Context) ([]models.ApiMonitor, error)
	CreateHealthCheck(ctx context.Context, l *models.HealthCheckLog) error
	TouchMonitorChecked(ctx context.Context, id uuid.UUID, at time.Time) error
}

// MonitorChecker probes ApiMonitors and appends HealthCheckLog rows, which
// the evaluator then treats as measurements.
type MonitorChecker struct {
	store    CheckStore
	client   *http.Client
	interval time.Duration
	now      func() time.Time
	stop     chan struct{}
	wg       sync.WaitGroup
}

func NewMonitorChecker(store CheckStore, intervalSecs int) *MonitorChecker {
	return &MonitorChecker{
		store:    store,
		client:   &http.Client{},
		interval: time.Duration(intervalSecs) * time.Second,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
}

func (mc *MonitorChecker) Start() {
	mc.wg.Add(1)
	go mc.loop()
	slog.Info("Monitor checker started", "interval", mc.interval)
}

func (mc *MonitorChecker) Stop() {
	close(mc.stop)
	mc.wg.Wait()
	slog.Info("Monitor checker stopped")
}

func (mc *MonitorChecker) loop() {
	defer mc.wg.Done()
	ticker := time.NewTicker(mc.interval)
	defer ticker.Stop()

	// Run an initial check on startup
	mc.checkAll(context.Background())

	for {
		select {
		case <-ticker.C:
			mc.checkAll(context.Background())
		case <-mc.stop:
			return
		}
	}
}

func (mc *MonitorChecker) checkAll(ctx context.Context) {
	monitors, err := mc.store.ListEnabledMonitors(ctx)
	if err != nil {
		slog.Error("Failed to list monitors", "error", err)
		return
	}

	now := mc.now()
	for _, m := range monitors {
		if m.LastCheckedAt != nil && now.Sub(*m.LastCheckedAt) < time.Duration(m.Interval)*time.Second {
			continue
		}
		mc.wg.Add(1)
		go func(m models.ApiMonitor) {
			defer mc.wg.Done()
			mc.Check(ctx, m)
		}(m)
	}
}

// Check probes m once and stores the result.
func (mc *MonitorChecker) Check(ctx context.Context, m models.ApiMonitor) models.HealthCheckLog {
	l := mc.probe(ctx, m)
	if err := mc.store.CreateHealthCheck(ctx, &l); err != nil {
		slog.Error("Failed to save health check", "monitor", m.Name, "error", err)
		return l
	}
	if err := mc.store.TouchMonitorChecked(ctx, m.ID, l.CreatedAt); err != nil {
		slog.Error("Failed to update monitor", "monitor", m.Name, "error", err)
	}
	if l.Status == models.CheckFailed {
		slog.Debug("Health check failed", "monitor", m.Name, "error", l.ErrorMessage)
	}
	return l
}

func (mc *MonitorChecker) probe(ctx context.Context, m models.ApiMonitor) models.HealthCheckLog {
	start := mc.now()
	l := models.HealthCheckLog{
		MonitorID: m.ID,
		Status:    models.CheckFailed,
		CreatedAt: start,
	}

	timeout := time.Duration(m.Timeout) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := m.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if m.Body != "" {
		body = strings.NewReader(m.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, m.URL, body)
	if err != nil {
		l.ErrorMessage = fmt.Sprintf("invalid request: %s", err.Error())
		return l
	}
	for k, v := range m.Headers.Data() {
		req.Header.Set(k, v)
	}

	resp, err := mc.client.Do(req)
	l.ResponseTime = int(mc.now().Sub(start).Milliseconds())
	if err != nil {
		l.ErrorMessage = err.Error()
		return l
	}
	defer resp.Body.Close()
	l.StatusCode = resp.StatusCode

	expect := m.ExpectStatus
	if expect == 0 {
		expect = http.StatusOK
	}
	if resp.StatusCode != expect {
		l.ErrorMessage = fmt.Sprintf("expected %d, got %d", expect, resp.StatusCode)
		return l
	}

	if m.ExpectResponse != "" {
		raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			l.ErrorMessage = fmt.Sprintf("read body: %s", err.Error())
			return l
		}
		if !strings.Contains(string(raw), m.ExpectResponse) {
			l.ErrorMessage = fmt.Sprintf("response does not contain %q", m.ExpectResponse)
			return l
		}
	}

	l.Status = models.CheckSuccess
	return l
}
