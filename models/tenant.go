package models

import "gorm.io/gorm"

// Tenant is one community/workspace on the membership platform.
type Tenant struct {
	gorm.Model
	// PlatformGroupID is the tenant identifier used by the upstream
	// membership platform in webhook payloads.
	PlatformGroupID string `gorm:"uniqueIndex;not null" json:"platform_group_id"`

	Name     string `gorm:"not null" json:"name"`
	IsPaused bool   `gorm:"default:false" json:"is_paused"`

	// Sender identity used for automation sends. Sends are deferred
	// until both FromName and FromEmail are set.
	FromName   string `json:"from_name"`
	FromEmail  string `json:"from_email"`
	ReplyEmail string `json:"reply_email"`

	// Defaults applied when a sequence has no overrides
	Timezone       string `gorm:"default:'UTC'" json:"timezone"`
	QuietStartHour *int   `json:"quiet_start_hour"` // allowed-window start, local hour
	QuietEndHour   *int   `json:"quiet_end_hour"`   // allowed-window end, local hour

	// Relations
	Sequences []AutomationSequence `gorm:"foreignKey:TenantID" json:"sequences,omitempty"`
	Members   []Member             `gorm:"foreignKey:TenantID" json:"members,omitempty"`
}

// TenantWebhookSecret holds the per-tenant signing secret for inbound
// platform webhooks. Kept separate from Tenant so secrets never ride
// along in tenant reads.
type TenantWebhookSecret struct {
	gorm.Model
	TenantID uint   `gorm:"not null;uniqueIndex" json:"tenant_id"`
	Secret   string `gorm:"not null" json:"-"`
}
