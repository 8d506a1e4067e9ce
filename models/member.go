package models

import "gorm.io/gorm"

// Member is a community member we can send automation emails to.
type Member struct {
	gorm.Model
	TenantID uint `gorm:"not null;index" json:"tenant_id"`

	// PlatformMemberID is the member identifier used by the upstream
	// membership platform in webhook payloads.
	PlatformMemberID string `gorm:"not null;index" json:"platform_member_id"`

	Email          string `gorm:"not null" json:"email"`
	Name           string `json:"name"`
	IsUnsubscribed bool   `gorm:"default:false" json:"is_unsubscribed"`
}
