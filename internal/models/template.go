package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Variable types understood by the variable mapper.
const (
	VarString  = "string"
	VarNumber  = "number"
	VarBoolean = "boolean"
	VarDate    = "date"
	VarJSON    = "json"
)

type VariableField struct {
	Name         string `json:"name" yaml:"name"`
	Label        string `json:"label,omitempty" yaml:"label"`
	Description  string `json:"description,omitempty" yaml:"description"`
	Type         string `json:"type,omitempty" yaml:"type"` // string, number, boolean, date, json
	Required     bool   `json:"required,omitempty" yaml:"required"`
	DefaultValue any    `json:"defaultValue,omitempty" yaml:"defaultValue"`
	Example      any    `json:"example,omitempty" yaml:"example"`
}

type EmailTemplate struct {
	ID             uuid.UUID                          `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Name           string                             `gorm:"not null;uniqueIndex" json:"name"`
	Subject        string                             `gorm:"not null" json:"subject"`
	Content        string                             `gorm:"type:text;not null" json:"content"`
	VariableSchema datatypes.JSONSlice[VariableField] `gorm:"type:jsonb" json:"variable_schema"`
	Tags           datatypes.JSONSlice[string]        `gorm:"type:jsonb" json:"tags"`
	CreatedAt      time.Time                          `json:"created_at"`
	UpdatedAt      time.Time                          `json:"updated_at"`
	DeletedAt      gorm.DeletedAt                     `gorm:"index" json:"-"`
}
