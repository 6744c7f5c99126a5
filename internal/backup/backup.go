// Package backup exports the account registry to a portable JSON archive and
// merges archives back in. Credentials travel in their sealed form.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"sessionfleet/internal/model"
	"sessionfleet/internal/store"
)

// Record is one archived account. The model's JSON shape hides credentials
// from API responses, so the archive carries its own explicit shape.
type Record struct {
	Identity        int64           `json:"identity"`
	Label           *string         `json:"label,omitempty"`
	Credential      string          `json:"credential"`
	CredentialHash  string          `json:"credential_hash,omitempty"`
	DeviceModel     string          `json:"device_model,omitempty"`
	FirstName       string          `json:"first_name,omitempty"`
	Username        string          `json:"username,omitempty"`
	Phone           string          `json:"phone,omitempty"`
	Cadence         string          `json:"cadence,omitempty"`
	DestroyCodes    bool            `json:"destroy_codes"`
	TwoFactorSecret string          `json:"two_factor_secret,omitempty"`
	Acquainted      bool            `json:"acquainted"`
	Profile         json.RawMessage `json:"profile,omitempty"`
}

// Archive is a full registry export.
type Archive struct {
	ID         string    `json:"id"`
	ExportedAt time.Time `json:"exported_at"`
	Accounts   []Record  `json:"accounts"`
}

// Report summarizes a merge import.
type Report struct {
	Total       int `json:"total"`
	Imported    int `json:"imported"`
	Overwritten int `json:"overwritten"`
	Skipped     int `json:"skipped"`
	Failed      int `json:"failed"`
}

// Export serializes every stored account.
func Export(ctx context.Context, accounts *store.Accounts) ([]byte, error) {
	accs, err := accounts.List(ctx)
	if err != nil {
		return nil, err
	}
	arch := Archive{
		ID:         uuid.NewString(),
		ExportedAt: time.Now().UTC(),
		Accounts:   make([]Record, 0, len(accs)),
	}
	for _, acc := range accs {
		arch.Accounts = append(arch.Accounts, Record{
			Identity:        acc.Identity,
			Label:           acc.Label,
			Credential:      acc.Credential,
			CredentialHash:  acc.CredentialHash,
			DeviceModel:     acc.DeviceModel,
			FirstName:       acc.FirstName,
			Username:        acc.Username,
			Phone:           acc.Phone,
			Cadence:         acc.Cadence,
			DestroyCodes:    acc.DestroyCodes,
			TwoFactorSecret: acc.TwoFactorSecret,
			Acquainted:      acc.Acquainted,
			Profile:         json.RawMessage(acc.Profile),
		})
	}
	return json.MarshalIndent(arch, "", "  ")
}

// Import merges an archive into the store. Existing identities are skipped
// unless overwrite is set; a single bad record never aborts the rest.
func Import(ctx context.Context, accounts *store.Accounts, data []byte, overwrite bool, log *logrus.Entry) (Report, error) {
	var arch Archive
	if err := json.Unmarshal(data, &arch); err != nil {
		return Report{}, fmt.Errorf("archive is not valid JSON: %w", err)
	}

	report := Report{Total: len(arch.Accounts)}
	for _, rec := range arch.Accounts {
		if rec.Identity == 0 || rec.Credential == "" {
			report.Failed++
			log.Warnf("archive record without identity or credential skipped")
			continue
		}

		existing, err := accounts.FindByIdentity(ctx, rec.Identity)
		switch {
		case err == nil && !overwrite:
			report.Skipped++
			continue
		case err != nil && !errors.Is(err, store.ErrNotFound):
			report.Failed++
			log.Errorf("import lookup for %d failed: %v", rec.Identity, err)
			continue
		}

		acc := &model.Account{
			Identity:        rec.Identity,
			Label:           rec.Label,
			Credential:      rec.Credential,
			CredentialHash:  rec.CredentialHash,
			DeviceModel:     rec.DeviceModel,
			FirstName:       rec.FirstName,
			Username:        rec.Username,
			Phone:           rec.Phone,
			Cadence:         rec.Cadence,
			DestroyCodes:    rec.DestroyCodes,
			TwoFactorSecret: rec.TwoFactorSecret,
			Acquainted:      rec.Acquainted,
			Profile:         datatypes.JSON(rec.Profile),
		}
		if acc.Cadence == "" {
			acc.Cadence = model.DefaultCadence
		}
		if err := accounts.Upsert(ctx, acc); err != nil {
			report.Failed++
			log.Errorf("import of %d failed: %v", rec.Identity, err)
			continue
		}
		if existing != nil {
			report.Overwritten++
		} else {
			report.Imported++
		}
	}
	return report, nil
}
