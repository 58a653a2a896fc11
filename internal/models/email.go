package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	EmailPending = "pending"
	EmailSent    = "sent"
	EmailFailed  = "failed"
)

type EmailLog struct {
	ID            uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ToEmail       string     `gorm:"not null;index" json:"to_email"`
	Subject       string     `gorm:"not null" json:"subject"`
	Content       string     `gorm:"type:text" json:"content"`
	TemplateName  string     `gorm:"index" json:"template_name"`
	Status        string     `gorm:"not null;default:'pending';index" json:"status"` // pending, sent, failed
	ErrorMessage  string     `gorm:"type:text" json:"error_message"`
	RetryCount    int        `gorm:"not null;default:0" json:"retry_count"`
	Retryable     bool       `gorm:"not null;default:false" json:"retryable"`
	NextAttemptAt *time.Time `json:"next_attempt_at"`
	SentAt        *time.Time `json:"sent_at"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}
