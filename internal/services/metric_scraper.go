package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ahmetk3436/herald/internal/models"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// ScrapeTarget is a Prometheus text endpoint. Its Name becomes the
// metric_type of every reading taken from it.
type ScrapeTarget struct {
	Name string
	URL  string
}

type ReadingStore interface {
	ListRuleMetrics(ctx context.Context) ([]models.MetricKey, error)
	CreateReadings(ctx context.Context, readings []models.MetricReading) error
}

// MetricScraper pulls the metric families rules refer to from Prometheus
// endpoints and stores them as MetricReading rows.
type MetricScraper struct {
	store    ReadingStore
	targets  []ScrapeTarget
	client   *http.Client
	interval time.Duration
	now      func() time.Time
	stop     chan struct{}
	wg       sync.WaitGroup
}

func NewMetricScraper(store ReadingStore, targets []ScrapeTarget, intervalSecs int) *MetricScraper {
	return &MetricScraper{
		store:    store,
		targets:  targets,
		client:   &http.Client{Timeout: 10 * time.Second},
		interval: time.Duration(intervalSecs) * time.Second,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
}

func (ms *MetricScraper) Start() {
	ms.wg.Add(1)
	go ms.loop()
	slog.Info("Metric scraper started", "targets", len(ms.targets), "interval", ms.interval)
}

func (ms *MetricScraper) Stop() {
	close(ms.stop)
	ms.wg.Wait()
	slog.Info("Metric scraper stopped")
}

func (ms *MetricScraper) loop() {
	defer ms.wg.Done()
	ticker := time.NewTicker(ms.interval)
	defer ticker.Stop()

	for {
		if _, err := ms.ScrapeAll(context.Background()); err != nil {
			slog.Error("Metric scrape failed", "error", err)
		}
		select {
		case <-ticker.C:
		case <-ms.stop:
			return
		}
	}
}

// ScrapeAll scrapes every target once and returns how many readings were
// stored. A failing target is logged and skipped.
func (ms *MetricScraper) ScrapeAll(ctx context.Context) (int, error) {
	keys, err := ms.store.ListRuleMetrics(ctx)
	if err != nil {
		return 0, fmt.Errorf("list rule metrics: %w", err)
	}
	wanted := make(map[string]map[string]bool)
	for _, k := range keys {
		if wanted[k.MetricType] == nil {
			wanted[k.MetricType] = make(map[string]bool)
		}
		wanted[k.MetricType][k.MetricName] = true
	}

	var readings []models.MetricReading
	for _, t := range ms.targets {
		names := wanted[t.Name]
		if len(names) == 0 {
			continue
		}
		rs, err := ms.scrape(ctx, t, names)
		if err != nil {
			slog.Warn("Scrape target failed", "target", t.Name, "url", t.URL, "error", err)
			continue
		}
		readings = append(readings, rs...)
	}
	if len(readings) == 0 {
		return 0, nil
	}
	if err := ms.store.CreateReadings(ctx, readings); err != nil {
		return 0, fmt.Errorf("store readings: %w", err)
	}
	return len(readings), nil
}

func (ms *MetricScraper) scrape(ctx context.Context, t ScrapeTarget, names map[string]bool) ([]models.MetricReading, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := ms.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	mfs, err := parseMetrics(resp.Body)
	if err != nil {
		return nil, err
	}

	at := ms.now()
	var out []models.MetricReading
	for name := range names {
		mf, ok := mfs[name]
		if !ok {
			continue
		}
		out = append(out, models.MetricReading{
			MetricType:  t.Name,
			MetricName:  name,
			Value:       sumFamily(mf),
			CollectedAt: at,
		})
	}
	return out, nil
}

// parseMetrics decodes a text exposition. A partial parse still counts.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	return mfs, nil
}

// sumFamily adds up the counter, gauge and untyped samples of mf.
func sumFamily(mf *dto.MetricFamily) float64 {
	var total float64
	for _, m := range mf.GetMetric() {
		switch {
		case m.Counter != nil:
			total += m.Counter.GetValue()
		case m.Gauge != nil:
			total += m.Gauge.GetValue()
		case m.Untyped != nil:
			total += m.Untyped.GetValue()
		}
	}
	return total
}
