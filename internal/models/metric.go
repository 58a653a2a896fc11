package models

import (
	"time"

	"github.com/google/uuid"
)

// MetricReading is a scalar sample written by an external collector.
type MetricReading struct {
	ID          uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	MetricType  string    `gorm:"not null;index:idx_reading_metric_time,priority:1" json:"metricType"`
	MetricName  string    `gorm:"not null;index:idx_reading_metric_time,priority:2" json:"metricName"`
	Value       float64   `gorm:"not null" json:"value"`
	CollectedAt time.Time `gorm:"not null;index:idx_reading_metric_time,priority:3" json:"collectedAt"`
}

// MetricKey names one series a rule watches.
type MetricKey struct {
	MetricType string
	MetricName string
}
