package models

import "time"

// MembershipStatus is the lifecycle state of an association membership.
type MembershipStatus string

const (
	MembershipStatusPending  MembershipStatus = "pending"
	MembershipStatusActive   MembershipStatus = "active"
	MembershipStatusCanceled MembershipStatus = "canceled"
)

// Membership is the per-user association membership. Its status is derived
// from the user's payments and only written by the activator.
type Membership struct {
	ID        uint             `gorm:"primaryKey" json:"id"`
	UserID    uint             `gorm:"not null;uniqueIndex:ux_memberships_user" json:"user_id"`
	Status    MembershipStatus `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	Payments  []Payment        `gorm:"foreignKey:MembershipID" json:"payments,omitempty"`
	CreatedAt time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

func (m *Membership) IsActive() bool {
	return m.Status == MembershipStatusActive
}

func (m *Membership) IsPending() bool {
	return m.Status == MembershipStatusPending
}
