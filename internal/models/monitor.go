package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	CheckSuccess = "success"
	CheckFailed  = "failed"
)

type ApiMonitor struct {
	ID              uuid.UUID                             `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Name            string                                `gorm:"not null" json:"name"`
	URL             string                                `gorm:"not null" json:"url"`
	Method          string                                `gorm:"default:'GET'" json:"method"`
	Headers         datatypes.JSONType[map[string]string] `gorm:"type:jsonb" json:"headers"`
	Body            string                                `gorm:"type:text" json:"body"`
	Interval        int                                   `gorm:"default:60" json:"interval"`  // seconds
	Timeout         int                                   `gorm:"default:5000" json:"timeout"` // milliseconds
	ExpectStatus    int                                   `gorm:"default:200" json:"expect_status"`
	ExpectResponse  string                                `gorm:"type:text" json:"expect_response"` // substring match
	Enabled         bool                                  `gorm:"default:true" json:"enabled"`
	AlertEnabled    bool                                  `gorm:"default:true" json:"alert_enabled"`
	AlertTemplateID *uuid.UUID                            `gorm:"type:uuid" json:"alert_template_id"`
	AlertRecipients datatypes.JSONSlice[string]           `gorm:"type:jsonb" json:"alert_recipients"`
	AlertInterval   int                                   `gorm:"not null;default:300" json:"alert_interval"` // seconds
	VariableMapping datatypes.JSONType[map[string]string] `gorm:"type:jsonb" json:"variable_mapping"`
	LastCheckedAt   *time.Time                            `json:"last_checked_at"`
	EvaluationState `gorm:"embedded"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`
}

// HealthCheckLog is one probe result. Rows are append-only.
type HealthCheckLog struct {
	ID           uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	MonitorID    uuid.UUID `gorm:"type:uuid;not null;index:idx_check_monitor_time,priority:1" json:"monitorId"`
	Status       string    `gorm:"not null" json:"status"` // success, failed
	StatusCode   int       `json:"statusCode"`
	ResponseTime int       `json:"responseTime"` // milliseconds
	ErrorMessage string    `gorm:"type:text" json:"errorMessage"`
	CreatedAt    time.Time `gorm:"not null;index:idx_check_monitor_time,priority:2" json:"createdAt"`
}
