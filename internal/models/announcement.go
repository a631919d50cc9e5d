package models

import (
	"time"

	"gorm.io/gorm"
)

// Announcement request statuses.
const (
	RequestPending  = "pending"
	RequestApproved = "approved"
	RequestRejected = "rejected"
)

// AnnouncementRequest is a user-submitted request for a paid global
// announcement. Payment happens off-platform; an admin verifies it manually
// before approving.
type AnnouncementRequest struct {
	gorm.Model

	RequesterID     string `gorm:"type:text;not null;index"`
	Message         string `gorm:"type:text;not null"`
	Status          string `gorm:"type:text;not null;index"`
	PaymentAmount   int    `gorm:"not null"`
	DurationMinutes int    `gorm:"not null"`

	ApprovedAt      *time.Time
	ApprovedBy      string
	RejectedAt      *time.Time
	RejectedBy      string
	RejectionReason string `gorm:"type:text"`
}

// Announcement is a published, time-limited global banner.
type Announcement struct {
	gorm.Model

	Message    string    `gorm:"type:text;not null"`
	ExpiresAt  time.Time `gorm:"not null;index"`
	ApprovedBy string
	RequestID  uint `gorm:"index"`

	// Expired is set once a sweep notices ExpiresAt has passed; the banner
	// disappears at ExpiresAt regardless.
	Expired   bool `gorm:"not null;default:false"`
	ExpiredAt *time.Time
}

// Live reports whether the announcement should still be displayed at now.
func (a Announcement) Live(now time.Time) bool {
	return !a.Expired && a.ExpiresAt.After(now)
}
