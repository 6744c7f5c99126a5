// Package store is the typed adapter over the persistent account registry.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"sessionfleet/internal/model"
)

var (
	// ErrNotFound means no account matches the query.
	ErrNotFound = errors.New("account not found")
	// ErrDuplicateLabel means the label unique constraint was violated.
	ErrDuplicateLabel = errors.New("label already in use")
	// ErrDuplicateIdentity means the identity unique constraint was violated.
	ErrDuplicateIdentity = errors.New("identity already stored")
	// ErrUnavailable wraps store connectivity failures so callers can
	// degrade instead of crashing.
	ErrUnavailable = errors.New("account store unavailable")
)

// NormalizeLabel lowercases and strips everything but letters and digits.
// Labels compare and collide in this normalized form.
func NormalizeLabel(label string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(label)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Accounts provides CRUD over the account registry.
type Accounts struct {
	db  *gorm.DB
	log *logrus.Entry
}

// New creates an Accounts store.
func New(db *gorm.DB, log *logrus.Entry) *Accounts {
	return &Accounts{db: db, log: log.WithField("component", "account-store")}
}

// FindByIdentity returns the account with the given provider identity.
func (s *Accounts) FindByIdentity(ctx context.Context, identity int64) (*model.Account, error) {
	var acc model.Account
	if err := s.db.WithContext(ctx).Where("identity = ?", identity).First(&acc).Error; err != nil {
		return nil, s.classify(err)
	}
	return &acc, nil
}

// FindByLabel returns the account owning the (normalized) label.
func (s *Accounts) FindByLabel(ctx context.Context, label string) (*model.Account, error) {
	label = NormalizeLabel(label)
	if label == "" {
		return nil, ErrNotFound
	}
	var acc model.Account
	if err := s.db.WithContext(ctx).Where("label = ?", label).First(&acc).Error; err != nil {
		return nil, s.classify(err)
	}
	return &acc, nil
}

// FindByCredentialHash returns the account whose stored credential has the
// given plaintext digest.
func (s *Accounts) FindByCredentialHash(ctx context.Context, hash string) (*model.Account, error) {
	var acc model.Account
	if err := s.db.WithContext(ctx).Where("credential_hash = ?", hash).First(&acc).Error; err != nil {
		return nil, s.classify(err)
	}
	return &acc, nil
}

// List returns all stored accounts ordered by creation.
func (s *Accounts) List(ctx context.Context) ([]model.Account, error) {
	var accs []model.Account
	if err := s.db.WithContext(ctx).Order("id").Find(&accs).Error; err != nil {
		return nil, s.classify(err)
	}
	return accs, nil
}

// Upsert creates or fully replaces the document for acc.Identity.
// Row identity and creation time of an existing document are preserved.
func (s *Accounts) Upsert(ctx context.Context, acc *model.Account) error {
	var existing model.Account
	err := s.db.WithContext(ctx).Where("identity = ?", acc.Identity).First(&existing).Error
	switch {
	case err == nil:
		acc.ID = existing.ID
		acc.CreatedAt = existing.CreatedAt
		if err := s.db.WithContext(ctx).Save(acc).Error; err != nil {
			return s.classify(err)
		}
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := s.db.WithContext(ctx).Create(acc).Error; err != nil {
			return s.classify(err)
		}
		return nil
	default:
		return s.classify(err)
	}
}

// UpdateFields applies a partial update to the account with the identity.
func (s *Accounts) UpdateFields(ctx context.Context, identity int64, fields map[string]interface{}) error {
	res := s.db.WithContext(ctx).Model(&model.Account{}).Where("identity = ?", identity).Updates(fields)
	if res.Error != nil {
		return s.classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the account document. Deleting an absent identity is a
// no-op, matching the idempotent removal contract.
func (s *Accounts) Delete(ctx context.Context, identity int64) error {
	if err := s.db.WithContext(ctx).Where("identity = ?", identity).Delete(&model.Account{}).Error; err != nil {
		return s.classify(err)
	}
	return nil
}

// classify maps driver errors onto the package sentinels.
func (s *Accounts) classify(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	msg := err.Error()
	if errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(msg, "Duplicate entry") ||
		strings.Contains(msg, "UNIQUE constraint failed") {
		if strings.Contains(msg, "identity") {
			return ErrDuplicateIdentity
		}
		return ErrDuplicateLabel
	}
	s.log.Errorf("store error: %v", err)
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
