package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	AlertIntervalMin     = 60
	AlertIntervalMax     = 86400
	AlertIntervalDefault = 300
)

// Persisted evaluation states. Resolved is an event, never a stored state.
const (
	StateNormal  = "normal"
	StatePending = "pending"
	StateFiring  = "firing"
)

const (
	HistoryPending  = "pending"
	HistoryResolved = "resolved"
)

// EvaluationState is the durable per-subject hysteresis state. It is embedded
// in every entity the evaluator watches so that a restart resumes an episode
// instead of losing it. StateVersion guards concurrent commits.
type EvaluationState struct {
	AlertState      string     `gorm:"not null;default:'normal'" json:"alert_state"` // normal, pending, firing
	PendingSince    *time.Time `json:"pending_since"`
	LastNotifiedAt  *time.Time `json:"last_notified_at"`
	LastEvaluatedAt *time.Time `json:"last_evaluated_at"`
	StateVersion    int64      `gorm:"not null;default:0" json:"state_version"`
}

type AlertRule struct {
	ID              uuid.UUID                             `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Name            string                                `gorm:"not null" json:"name"`
	MetricType      string                                `gorm:"not null;index:idx_rule_metric" json:"metric_type"` // cpu, memory, disk, load
	MetricName      string                                `gorm:"not null;index:idx_rule_metric" json:"metric_name"`
	Condition       string                                `gorm:"not null;default:'>'" json:"condition"` // >, <, >=, <=, ==, !=
	Threshold       float64                               `gorm:"type:decimal(20,6);not null" json:"threshold"`
	Duration        int                                   `gorm:"not null;default:0" json:"duration"`         // seconds
	Severity        string                                `gorm:"not null;default:'warning'" json:"severity"` // critical, warning, info
	Enabled         bool                                  `gorm:"default:true" json:"enabled"`
	AlertEnabled    bool                                  `gorm:"default:true" json:"alert_enabled"`
	AlertTemplateID *uuid.UUID                            `gorm:"type:uuid" json:"alert_template_id"`
	AlertRecipients datatypes.JSONSlice[string]           `gorm:"type:jsonb" json:"alert_recipients"`
	AlertInterval   int                                   `gorm:"not null;default:300;check:alert_interval BETWEEN 60 AND 86400" json:"alert_interval"` // seconds
	VariableMapping datatypes.JSONType[map[string]string] `gorm:"type:jsonb" json:"variable_mapping"`
	EvaluationState `gorm:"embedded"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`
}

type AlertHistory struct {
	ID         uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	RuleID     *uuid.UUID `gorm:"type:uuid;index" json:"rule_id"`
	MonitorID  *uuid.UUID `gorm:"type:uuid;index" json:"monitor_id"`
	Message    string     `gorm:"type:text;not null" json:"message"`
	Level      string     `gorm:"not null;default:'warning'" json:"level"`        // critical, warning, info
	Status     string     `gorm:"not null;default:'pending';index" json:"status"` // pending, resolved
	Value      float64    `json:"value"`
	CreatedAt  time.Time  `gorm:"index" json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at"`
}

func (AlertHistory) TableName() string {
	return "alert_history"
}

// ClampAlertInterval forces an interval into the accepted 60..86400 range.
// Zero means "unset" and maps to the default.
func ClampAlertInterval(seconds int) int {
	switch {
	case seconds == 0:
		return AlertIntervalDefault
	case seconds < AlertIntervalMin:
		return AlertIntervalMin
	case seconds > AlertIntervalMax:
		return AlertIntervalMax
	}
	return seconds
}
