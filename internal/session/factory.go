// Package session builds protocol sessions with stable desktop fingerprints.
package session

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"sessionfleet/internal/device"
	"sessionfleet/internal/protocol"
	"sessionfleet/internal/secret"
	"sessionfleet/internal/store"
)

// Desktop profile presented to the provider. Everything but the device model
// is fixed fleet-wide; the model is the per-account variable part.
const (
	SystemVersion  = "Windows 11"
	AppVersion     = "5.2.2 x64"
	LangCode       = "en"
	SystemLangCode = "en-US"
	LangPack       = "tdesktop"
)

// Factory dials sessions through a registered driver, resolving each
// credential's device fingerprint before the dial.
type Factory struct {
	driver protocol.Driver
	store  *store.Accounts
	log    *logrus.Entry

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewFactory creates a Factory on the given driver.
func NewFactory(driver protocol.Driver, accounts *store.Accounts, log *logrus.Entry) *Factory {
	return &Factory{
		driver: driver,
		store:  accounts,
		log:    log.WithField("component", "session-factory"),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Fingerprint is the resolved device identity for one credential.
type Fingerprint struct {
	DeviceModel string
	// Generated is true when the model was freshly drawn rather than
	// recalled; callers must persist it so later dials reuse it.
	Generated bool
}

// ResolveFingerprint decides the device model for a credential. Priority:
// explicit override, then the model stored for this credential, then a fresh
// random draw.
func (f *Factory) ResolveFingerprint(ctx context.Context, credential, override string) Fingerprint {
	if override != "" {
		return Fingerprint{DeviceModel: override}
	}
	if f.store != nil {
		acc, err := f.store.FindByCredentialHash(ctx, secret.Digest(credential))
		if err == nil && acc.DeviceModel != "" {
			return Fingerprint{DeviceModel: acc.DeviceModel}
		}
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			f.log.Warnf("fingerprint lookup failed, generating fresh: %v", err)
		}
	}
	f.rngMu.Lock()
	model := device.Pick(f.rng)
	f.rngMu.Unlock()
	f.log.Infof("generated device fingerprint %q", model)
	return Fingerprint{DeviceModel: model, Generated: true}
}

// Session assembles the full session parameters for a credential and model.
func Session(credential, deviceModel string) protocol.Session {
	return protocol.Session{
		Credential:     credential,
		DeviceModel:    deviceModel,
		SystemVersion:  SystemVersion,
		AppVersion:     AppVersion,
		LangCode:       LangCode,
		SystemLangCode: SystemLangCode,
		LangPack:       LangPack,
	}
}

// Dial resolves the fingerprint and connects. The returned fingerprint tells
// the caller whether a fresh model must be persisted.
func (f *Factory) Dial(ctx context.Context, credential, override string) (protocol.Client, Fingerprint, error) {
	fp := f.ResolveFingerprint(ctx, credential, override)
	client, err := f.driver.Dial(ctx, Session(credential, fp.DeviceModel))
	if err != nil {
		return nil, fp, err
	}
	return client, fp, nil
}

// DialAuth opens an interactive-login channel with a freshly drawn
// fingerprint. The fingerprint is returned so a successful login can store it.
func (f *Factory) DialAuth(ctx context.Context) (protocol.Authenticator, Fingerprint, error) {
	f.rngMu.Lock()
	model := device.Pick(f.rng)
	f.rngMu.Unlock()
	fp := Fingerprint{DeviceModel: model, Generated: true}
	auth, err := f.driver.DialAuth(ctx, Session("", model))
	if err != nil {
		return nil, fp, err
	}
	return auth, fp, nil
}
