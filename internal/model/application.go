package model

import (
	"time"
)

const (
	ApplicationStatusDraft    = "DRAFT"
	ApplicationStatusPending  = "PENDING"
	ApplicationStatusApproved = "APPROVED"
	ApplicationStatusRejected = "REJECTED"
)

const (
	CertificationStatusRequested = "REQUESTED"
	CertificationStatusReceived  = "RECEIVED"
	CertificationStatusAccepted  = "ACCEPTED"
	CertificationStatusRejected  = "REJECTED"
)

// Disability types that carry a per-type voucher value policy.
var DisabilityTypes = []string{"hearing", "vision", "speech", "mobility", "cognition"}

// Application is the slice of the intake record the ledger needs: approval
// state, medical certification state, and the disability profile the
// voucher value is computed from. The rest of the case file lives upstream.
type Application struct {
	ID                         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ConstituentID              int64     `gorm:"index;not null" json:"constituent_id"`
	Status                     string    `gorm:"type:varchar(20);index;not null" json:"status"`
	MedicalCertificationStatus string    `gorm:"type:varchar(20);not null" json:"medical_certification_status"`
	HearingDisability          bool      `gorm:"not null;default:false" json:"hearing_disability"`
	VisionDisability           bool      `gorm:"not null;default:false" json:"vision_disability"`
	SpeechDisability           bool      `gorm:"not null;default:false" json:"speech_disability"`
	MobilityDisability         bool      `gorm:"not null;default:false" json:"mobility_disability"`
	CognitionDisability        bool      `gorm:"not null;default:false" json:"cognition_disability"`
	CreatedAt                  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Application) TableName() string {
	return "application"
}

// Disabilities returns the disability types present on this profile, in
// the canonical DisabilityTypes order.
func (a *Application) Disabilities() []string {
	var out []string
	flags := map[string]bool{
		"hearing":   a.HearingDisability,
		"vision":    a.VisionDisability,
		"speech":    a.SpeechDisability,
		"mobility":  a.MobilityDisability,
		"cognition": a.CognitionDisability,
	}
	for _, d := range DisabilityTypes {
		if flags[d] {
			out = append(out, d)
		}
	}
	return out
}

// VoucherEligible reports whether issuance preconditions on the
// application itself hold (approved, certification accepted).
func (a *Application) VoucherEligible() bool {
	return a.Status == ApplicationStatusApproved &&
		a.MedicalCertificationStatus == CertificationStatusAccepted
}
