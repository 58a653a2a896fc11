package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/ahmetk3436/herald/internal/models"
)

const nodeMetrics = `
# HELP node_load1 1m load average.
# TYPE node_load1 gauge
node_load1 2.5
# HELP node_cpu_busy_percent CPU busy.
# TYPE node_cpu_busy_percent gauge
node_cpu_busy_percent{cpu="0"} 40
node_cpu_busy_percent{cpu="1"} 45
# HELP http_requests_total Requests.
# TYPE http_requests_total counter
http_requests_total{code="200"} 1000
`

type memReadingStore struct {
	keys     []models.MetricKey
	readings []models.MetricReading
}

func (s *memReadingStore) ListRuleMetrics(ctx context.Context) ([]models.MetricKey, error) {
	return s.keys, nil
}

func (s *memReadingStore) CreateReadings(ctx context.Context, readings []models.MetricReading) error {
	s.readings = append(s.readings, readings...)
	return nil
}

func TestMetricScraper_StoresWatchedFamilies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = w.Write([]byte(nodeMetrics))
	}))
	defer srv.Close()

	st := &memReadingStore{keys: []models.MetricKey{
		{MetricType: "node", MetricName: "node_load1"},
		{MetricType: "node", MetricName: "node_cpu_busy_percent"},
		{MetricType: "node", MetricName: "node_absent"},
		{MetricType: "other", MetricName: "node_load1"},
	}}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ms := NewMetricScraper(st, []ScrapeTarget{{Name: "node", URL: srv.URL}}, 30)
	ms.now = func() time.Time { return at }

	n, err := ms.ScrapeAll(context.Background())
	if err != nil {
		t.Fatalf("ScrapeAll: %v", err)
	}
	if n != 2 {
		t.Fatalf("readings: got %d, want 2", n)
	}

	sort.Slice(st.readings, func(i, j int) bool { return st.readings[i].MetricName < st.readings[j].MetricName })
	want := []struct {
		name  string
		value float64
	}{
		{"node_cpu_busy_percent", 85},
		{"node_load1", 2.5},
	}
	for i, w := range want {
		r := st.readings[i]
		if r.MetricType != "node" || r.MetricName != w.name || r.Value != w.value || !r.CollectedAt.Equal(at) {
			t.Errorf("reading %d: got %+v, want node/%s=%v", i, r, w.name, w.value)
		}
	}
}

func TestMetricScraper_FailingTargetIsSkipped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	st := &memReadingStore{keys: []models.MetricKey{{MetricType: "node", MetricName: "node_load1"}}}
	ms := NewMetricScraper(st, []ScrapeTarget{{Name: "node", URL: srv.URL}}, 30)

	n, err := ms.ScrapeAll(context.Background())
	if err != nil {
		t.Fatalf("ScrapeAll: %v", err)
	}
	if n != 0 || len(st.readings) != 0 {
		t.Errorf("readings: got %d", n)
	}
}
