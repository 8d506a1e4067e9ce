package models

import "gorm.io/gorm"

// Campaign is the email content an automation step sends. The editor
// that produces it lives in the dashboard; the engine only reads it.
type Campaign struct {
	gorm.Model
	TenantID uint `gorm:"not null;index" json:"tenant_id"`

	Name     string `gorm:"not null" json:"name"`
	Subject  string `gorm:"not null" json:"subject"`
	BodyHTML string `json:"body_html"`
	Status   string `gorm:"default:'draft'" json:"status"` // draft, ready, archived

	// Statistics (denormalized for the dashboard)
	SentCount int `gorm:"default:0" json:"sent_count"`
}
