package models

import "time"

// Setting stores a system configuration key-value pair.
type Setting struct {
	Key         string `gorm:"primaryKey" json:"key"`
	Value       string `json:"value"`
	Group       string `gorm:"column:setting_group" json:"group,omitempty"` // general, security, rate_limit
	Description string `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
