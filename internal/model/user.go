package model

import (
	"time"
)

// Role discriminator for the single users table. The closed set of role
// variants shares identity but differs in capabilities; capability checks
// live on the model instead of a type hierarchy.
const (
	RoleAdmin       = "ADMIN"
	RoleVendor      = "VENDOR"
	RoleConstituent = "CONSTITUENT"
)

type User struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Email          string    `gorm:"type:varchar(128);uniqueIndex;not null" json:"email"`
	Role           string    `gorm:"type:varchar(20);index;not null" json:"role"`
	BusinessName   string    `gorm:"type:varchar(128)" json:"business_name,omitempty"`
	VendorApproved bool      `gorm:"not null;default:false" json:"vendor_approved"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// CanRedeemVouchers: only approved vendors may debit a voucher.
func (u *User) CanRedeemVouchers() bool {
	return u.Role == RoleVendor && u.VendorApproved
}

func (u *User) CanAdministerPolicies() bool {
	return u.Role == RoleAdmin
}
