package model

import (
	"strings"
	"time"
)

// Well-known policy keys. Every monetary and temporal parameter of the
// ledger is policy-driven; nothing is hard-coded in the engine.
const (
	PolicyVoucherValueHearing   = "voucher_value_for_hearing"
	PolicyVoucherValueVision    = "voucher_value_for_vision"
	PolicyVoucherValueSpeech    = "voucher_value_for_speech"
	PolicyVoucherValueMobility  = "voucher_value_for_mobility"
	PolicyVoucherValueCognition = "voucher_value_for_cognition"

	PolicyVoucherValidityMonths    = "voucher_validity_period_months"
	PolicyMinimumRedemptionAmount  = "voucher_minimum_redemption_amount"
	PolicyMaxVerificationAttempts  = "max_verification_attempts"
	PolicyProofSubmissionRateLimit = "proof_submission_rate_limit"
)

// Policy is a named integer configuration value. Mutations go through the
// policy service so every change lands in policy_change.
type Policy struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Key       string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"key"`
	Value     int64     `gorm:"not null;default:0" json:"value"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Policy) TableName() string {
	return "policy"
}

// PolicyChange is the append-only audit trail of policy mutations. Rows are
// never updated or deleted.
type PolicyChange struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	PolicyKey     string    `gorm:"type:varchar(64);index;not null" json:"policy_key"`
	PreviousValue int64     `gorm:"not null" json:"previous_value"`
	NewValue      int64     `gorm:"not null" json:"new_value"`
	ActorID       int64     `gorm:"not null" json:"actor_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (PolicyChange) TableName() string {
	return "policy_change"
}

// RateLimitPolicyKey reports whether a key belongs to the rate-limit class,
// whose values must stay in (0,100]. Detection is structural so new
// throttle policies inherit the bound without code changes.
func RateLimitPolicyKey(key string) bool {
	return strings.Contains(key, "rate_limit") || strings.HasSuffix(key, "_attempts")
}
