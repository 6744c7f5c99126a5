// Package engine owns the account lifecycle: onboarding credentials into live
// sessions, the live session registry, inbound message fan-out, and the
// administrative mutations over stored accounts.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"sessionfleet/internal/keepalive"
	"sessionfleet/internal/model"
	"sessionfleet/internal/notify"
	"sessionfleet/internal/otp"
	"sessionfleet/internal/pause"
	"sessionfleet/internal/protocol"
	"sessionfleet/internal/secret"
	"sessionfleet/internal/session"
	"sessionfleet/internal/store"
)

// Status classifies the outcome of an onboarding attempt.
type Status string

const (
	StatusSuccess        Status = "success"
	StatusInitFailed     Status = "init_failed"
	StatusAlreadyExists  Status = "already_exists"
	StatusInvalidSession Status = "invalid_session"
	StatusAPIIDInvalid   Status = "api_id_invalid"
	StatusFloodWait      Status = "flood_wait"
	StatusError          Status = "error"
)

// OnboardResult is the typed outcome of Onboard. Never an error value: every
// failure mode maps to a Status.
type OnboardResult struct {
	Status   Status             `json:"status"`
	Identity int64              `json:"identity,omitempty"`
	Label    string             `json:"label,omitempty"`
	Profile  *protocol.UserInfo `json:"profile,omitempty"`
	Detail   string             `json:"detail,omitempty"`
	// FloodWaitSeconds is set only for StatusFloodWait.
	FloodWaitSeconds int `json:"flood_wait_seconds,omitempty"`
}

// OnboardOptions tune a single onboarding call.
type OnboardOptions struct {
	// Label is the operator-chosen label; empty keeps any stored label.
	Label string
	// PersistProfile forces a fresh profile snapshot into the store.
	PersistProfile bool
	// RunAcquaintance runs the one-time control-bot handshake.
	RunAcquaintance bool
	// DeviceOverride pins the device fingerprint instead of resolving one.
	DeviceOverride string
}

// Manager is the account lifecycle manager. All in-memory registries are a
// rebuildable cache over the store, repopulated by BulkRestore at startup.
type Manager struct {
	factory  *session.Factory
	store    *store.Accounts
	sealer   *secret.Box
	pauses   *pause.Registry
	notifier notify.Notifier
	sched    *keepalive.Scheduler
	otp      *otp.Unit
	log      *logrus.Entry

	// botUsername is the control bot handle the acquaintance handshake
	// targets. Empty disables the handshake.
	botUsername string

	mu   sync.Mutex
	live map[int64]protocol.Client

	// onboarding serializes onboard calls per identity, closing the window
	// where two dials of the same credential race on the registry check.
	onboardMu  sync.Mutex
	onboarding map[int64]*sync.Mutex

	rngMu sync.Mutex
	rng   *rand.Rand
}

// Deps are the collaborators a Manager is built from. Notifier may be nil.
type Deps struct {
	Factory     *session.Factory
	Store       *store.Accounts
	Sealer      *secret.Box
	Pauses      *pause.Registry
	Notifier    notify.Notifier
	Scheduler   *keepalive.Scheduler
	OTP         *otp.Unit
	BotUsername string
	Logger      *logrus.Entry
}

// New creates a Manager.
func New(d Deps) *Manager {
	return &Manager{
		factory:     d.Factory,
		store:       d.Store,
		sealer:      d.Sealer,
		pauses:      d.Pauses,
		notifier:    d.Notifier,
		sched:       d.Scheduler,
		otp:         d.OTP,
		botUsername: d.BotUsername,
		log:         d.Logger.WithField("component", "engine"),
		live:        make(map[int64]protocol.Client),
		onboarding:  make(map[int64]*sync.Mutex),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Live returns the live client for identity, if any.
func (m *Manager) Live(identity int64) (protocol.Client, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.live[identity]
	return c, ok
}

// LiveCount returns the number of live sessions.
func (m *Manager) LiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

// KeepAliveActive reports whether identity has a keep-alive job.
func (m *Manager) KeepAliveActive(identity int64) bool {
	return m.sched.Active(identity)
}

// LiveIdentities returns the identities with a live session.
func (m *Manager) LiveIdentities() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int64, 0, len(m.live))
	for id := range m.live {
		out = append(out, id)
	}
	return out
}

func (m *Manager) identityLock(identity int64) *sync.Mutex {
	m.onboardMu.Lock()
	defer m.onboardMu.Unlock()
	l, ok := m.onboarding[identity]
	if !ok {
		l = &sync.Mutex{}
		m.onboarding[identity] = l
	}
	return l
}

// Onboard connects a credential and registers the resulting identity. The
// returned result carries a typed status; the client either ends up in the
// live registry or is disconnected before this returns.
func (m *Manager) Onboard(ctx context.Context, credential string, opts OnboardOptions) OnboardResult {
	client, fp, err := m.factory.Dial(ctx, credential, opts.DeviceOverride)
	if err != nil {
		return classify(err, StatusInitFailed)
	}
	persistProfile := opts.PersistProfile || fp.Generated

	registered := false
	defer func() {
		if !registered {
			if derr := client.Disconnect(context.Background()); derr != nil {
				m.log.Warnf("disconnect of unregistered client failed: %v", derr)
			}
		}
	}()

	me, err := client.Me(ctx)
	if err != nil {
		return classify(err, StatusError)
	}
	log := m.log.WithField("identity", me.ID)

	lock := m.identityLock(me.ID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	_, alive := m.live[me.ID]
	m.mu.Unlock()
	if alive {
		conflict := fmt.Sprintf("user%d", me.ID)
		if acc, ferr := m.store.FindByIdentity(ctx, me.ID); ferr == nil {
			conflict = acc.LabelOrDefault()
		}
		log.Warnf("identity already live as %q, dropping duplicate client", conflict)
		return OnboardResult{Status: StatusAlreadyExists, Identity: me.ID, Label: conflict}
	}

	m.bindHandler(me.ID, client)

	prior, err := m.store.FindByIdentity(ctx, me.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return OnboardResult{Status: StatusError, Identity: me.ID, Detail: err.Error()}
	}

	label := m.resolveLabel(ctx, me.ID, opts.Label, prior)

	m.mu.Lock()
	m.live[me.ID] = client
	m.mu.Unlock()
	registered = true
	log.Infof("session registered, label %q, device %q", label, fp.DeviceModel)

	acquainted := prior != nil && prior.Acquainted
	if opts.RunAcquaintance && !acquainted {
		acquainted = m.acquaint(ctx, client, log)
	}

	doc := m.buildDoc(me, credential, fp.DeviceModel, label, acquainted, persistProfile, prior)
	if err := m.persistDoc(ctx, doc, me.ID); err != nil {
		// The session stays live; the store catches up on the next onboard.
		log.Errorf("account upsert failed: %v", err)
		return OnboardResult{Status: StatusError, Identity: me.ID, Label: doc.LabelOrDefault(), Profile: me, Detail: err.Error()}
	}

	if err := m.scheduleKeepAlive(me.ID, client, doc.Cadence); err != nil {
		log.Warnf("keep-alive not scheduled: %v", err)
	}

	return OnboardResult{Status: StatusSuccess, Identity: me.ID, Label: doc.LabelOrDefault(), Profile: me}
}

// resolveLabel applies the precedence explicit > stored > none, resolving a
// collision with a different identity by appending a numeric suffix.
func (m *Manager) resolveLabel(ctx context.Context, identity int64, explicit string, prior *model.Account) string {
	label := store.NormalizeLabel(explicit)
	if label == "" && prior != nil && prior.Label != nil {
		label = *prior.Label
	}
	if label == "" {
		return ""
	}
	owner, err := m.store.FindByLabel(ctx, label)
	if errors.Is(err, store.ErrNotFound) || (err == nil && owner.Identity == identity) {
		return label
	}
	if err != nil {
		m.log.Warnf("label ownership check failed, keeping %q: %v", label, err)
		return label
	}
	return m.suffixLabel(ctx, label, identity)
}

// suffixLabel finds a free "<base><digits>" label. Collisions never block an
// onboarding, so after enough failed draws it falls back to the
// identity-derived label, which is unique by construction.
func (m *Manager) suffixLabel(ctx context.Context, base string, identity int64) string {
	for attempt := 0; attempt < 8; attempt++ {
		m.rngMu.Lock()
		var suffix int
		if attempt < 4 {
			suffix = 1 + m.rng.Intn(99)
		} else {
			suffix = 100 + m.rng.Intn(900)
		}
		m.rngMu.Unlock()
		cand := base + strconv.Itoa(suffix)
		owner, err := m.store.FindByLabel(ctx, cand)
		if errors.Is(err, store.ErrNotFound) || (err == nil && owner.Identity == identity) {
			m.log.Infof("label %q taken, resolved collision as %q", base, cand)
			return cand
		}
	}
	return fmt.Sprintf("user%d", identity)
}

// buildDoc merges freshly observed profile fields with the administrative
// fields preserved from any prior document.
func (m *Manager) buildDoc(me *protocol.UserInfo, credential, deviceModel, label string, acquainted, persistProfile bool, prior *model.Account) *model.Account {
	doc := &model.Account{
		Identity:       me.ID,
		Credential:     m.sealer.Seal(credential),
		CredentialHash: secret.Digest(credential),
		DeviceModel:    deviceModel,
		FirstName:      me.FirstName,
		Username:       me.Username,
		Phone:          me.Phone,
		Cadence:        model.DefaultCadence,
		DestroyCodes:   true,
		Acquainted:     acquainted,
	}
	doc.SetLabel(label)
	if prior != nil {
		doc.Cadence = prior.Cadence
		doc.DestroyCodes = prior.DestroyCodes
		doc.TwoFactorSecret = prior.TwoFactorSecret
		doc.Profile = prior.Profile
	}
	if persistProfile || prior == nil {
		if raw, err := json.Marshal(me); err == nil {
			doc.Profile = raw
		}
	}
	return doc
}

// persistDoc upserts the document, retrying once with an identity-derived
// label when the chosen label loses a write race.
func (m *Manager) persistDoc(ctx context.Context, doc *model.Account, identity int64) error {
	err := m.store.Upsert(ctx, doc)
	if !errors.Is(err, store.ErrDuplicateLabel) {
		return err
	}
	m.rngMu.Lock()
	fallback := fmt.Sprintf("user%d%d", identity, 10+m.rng.Intn(90))
	m.rngMu.Unlock()
	m.log.Warnf("label %q lost a write race, retrying as %q", doc.LabelOrDefault(), fallback)
	doc.SetLabel(fallback)
	return m.store.Upsert(ctx, doc)
}

func (m *Manager) scheduleKeepAlive(identity int64, client protocol.Client, cadence string) error {
	return m.sched.Schedule(keepalive.Target{
		Identity: identity,
		Client:   client,
		Rebind: func(c protocol.Client) {
			m.bindHandler(identity, c)
		},
	}, cadence)
}

// acquaint runs the one-time control-bot handshake: a silent marker message
// that makes the bot's transport resolve this identity, then full cleanup.
func (m *Manager) acquaint(ctx context.Context, client protocol.Client, log *logrus.Entry) bool {
	if m.botUsername == "" {
		log.Warn("no control bot configured, skipping acquaintance")
		return false
	}
	peer := "@" + m.botUsername
	msgID, err := client.SendMessage(ctx, peer, uuid.NewString())
	if err != nil {
		log.Warnf("acquaintance marker send failed: %v", err)
		return false
	}
	if err := client.DeleteMessage(ctx, peer, msgID); err != nil {
		log.Warnf("acquaintance marker delete failed: %v", err)
	}
	if err := client.LeaveChat(ctx, peer); err != nil {
		log.Warnf("acquaintance chat cleanup failed: %v", err)
	}
	log.Info("acquaintance handshake completed")
	return true
}

// bindHandler installs the fan-out dispatcher, replacing any prior handler.
func (m *Manager) bindHandler(identity int64, client protocol.Client) {
	client.SetHandler(func(msg protocol.Message) {
		m.dispatch(identity, client, msg)
	})
}

// dispatch fans one service message out to code invalidation and the
// notification relay. The two tasks are independent and never joined; the
// permanent destruction flag is checked here, exactly once per message.
func (m *Manager) dispatch(identity int64, client protocol.Client, msg protocol.Message) {
	if msg.SenderID != protocol.ServiceSenderID {
		return
	}
	ctx := context.Background()
	if m.destroyEnabled(ctx, identity) {
		go m.otp.Process(ctx, identity, client, msg)
	}
	go m.relay(ctx, identity, msg)
}

// destroyEnabled reads the permanent flag. A store failure defaults to
// enabled: invalidating a code the operator wanted kept is the safer miss.
func (m *Manager) destroyEnabled(ctx context.Context, identity int64) bool {
	acc, err := m.store.FindByIdentity(ctx, identity)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			m.log.Warnf("destroy flag lookup failed for %d, assuming enabled: %v", identity, err)
		}
		return true
	}
	return acc.DestroyCodes
}

func (m *Manager) relay(ctx context.Context, identity int64, msg protocol.Message) {
	if m.notifier == nil {
		return
	}
	if m.pauses.NotificationsPaused(ctx) {
		m.log.WithField("identity", identity).Info("notifications paused, dropping")
		return
	}
	name := fmt.Sprintf("user%d", identity)
	if acc, err := m.store.FindByIdentity(ctx, identity); err == nil {
		name = acc.LabelOrDefault()
	}
	content := msg.Text
	if content == "" {
		content = msg.Caption
	}
	text := notify.Format(name, m.pauses.DestroyPaused(ctx, identity), false, content)
	if err := m.notifier.Notify(ctx, text); err != nil {
		m.log.WithField("identity", identity).Errorf("notification failed: %v", err)
	}
}

// classify maps a protocol error onto the onboarding status taxonomy,
// falling back to the given status for unrecognized errors.
func classify(err error, fallback Status) OnboardResult {
	switch {
	case errors.Is(err, protocol.ErrInvalidSession):
		return OnboardResult{Status: StatusInvalidSession, Detail: err.Error()}
	case errors.Is(err, protocol.ErrAPIIDInvalid):
		return OnboardResult{Status: StatusAPIIDInvalid, Detail: err.Error()}
	}
	if secs, ok := protocol.AsFloodWait(err); ok {
		return OnboardResult{Status: StatusFloodWait, Detail: err.Error(), FloodWaitSeconds: secs}
	}
	return OnboardResult{Status: fallback, Detail: err.Error()}
}
