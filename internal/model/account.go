package model

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// DefaultCadence is the presence-refresh cadence that disables keep-alive.
const DefaultCadence = "1440"

// Account is one managed identity. Identity is assigned by the provider and
// unique; Label is operator-chosen and unique among non-null values.
type Account struct {
	ID        int       `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Identity int64   `gorm:"uniqueIndex;not null" json:"identity"`
	Label    *string `gorm:"type:varchar(64);uniqueIndex" json:"label,omitempty"`

	// Credential is the sealed session token; CredentialHash is the SHA-256
	// of the plaintext, used to find the stored fingerprint for a pasted
	// credential without unsealing every row.
	Credential     string `gorm:"type:text;not null" json:"-"`
	CredentialHash string `gorm:"type:char(64);index" json:"-"`

	DeviceModel string `gorm:"type:varchar(128)" json:"device_model"`

	FirstName string `gorm:"type:varchar(128)" json:"first_name"`
	Username  string `gorm:"type:varchar(64)" json:"username"`
	Phone     string `gorm:"type:varchar(32)" json:"phone"`

	// Cadence is "N" minutes or a "min-max" range; "1440" means no
	// keep-alive job.
	Cadence string `gorm:"type:varchar(16);default:'1440'" json:"cadence"`

	// DestroyCodes is the permanent invalidation flag, independent of any
	// temporary pause.
	DestroyCodes bool `gorm:"default:true" json:"destroy_codes"`

	// TwoFactorSecret is the sealed secondary-verification password, when
	// known.
	TwoFactorSecret string `gorm:"type:text" json:"-"`

	// Acquainted records whether the one-time control-bot handshake ran.
	Acquainted bool `gorm:"default:false" json:"acquainted"`

	// Profile is the raw provider profile snapshot from the last connect.
	Profile datatypes.JSON `json:"profile,omitempty"`
}

// TableName specifies the table name for Account model
func (Account) TableName() string {
	return "accounts"
}

// LabelOrDefault returns the stored label or an identity-derived display.
func (a *Account) LabelOrDefault() string {
	if a.Label != nil && *a.Label != "" {
		return *a.Label
	}
	return fmt.Sprintf("user%d", a.Identity)
}

// SetLabel stores label, mapping "" to null so the sparse unique index
// ignores unlabeled accounts.
func (a *Account) SetLabel(label string) {
	if label == "" {
		a.Label = nil
		return
	}
	a.Label = &label
}
