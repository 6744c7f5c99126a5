package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"sessionfleet/internal/keepalive"
	"sessionfleet/internal/model"
	"sessionfleet/internal/protocol"
	"sessionfleet/internal/store"
)

// Remove tears down identity: keep-alive job canceled and client evicted
// synchronously, disconnect and document deletion in the background. The
// return means "removal initiated", not that the remote session is closed.
func (m *Manager) Remove(ctx context.Context, identity int64) {
	m.sched.Stop(identity)

	m.mu.Lock()
	client, ok := m.live[identity]
	delete(m.live, identity)
	m.mu.Unlock()

	log := m.log.WithField("identity", identity)
	if ok {
		go func() {
			if err := client.Disconnect(context.Background()); err != nil {
				log.Warnf("background disconnect failed: %v", err)
			}
		}()
	}
	go func() {
		if err := m.store.Delete(context.Background(), identity); err != nil {
			log.Errorf("background document deletion failed: %v", err)
		}
	}()
	log.Info("removal initiated")
}

// Rename updates the stored label. Renaming to the account's own current
// label is a no-op success; a label owned by a different identity is
// rejected with store.ErrDuplicateLabel.
func (m *Manager) Rename(ctx context.Context, identity int64, newLabel string) error {
	label := store.NormalizeLabel(newLabel)
	if label == "" {
		return fmt.Errorf("label %q is empty after normalization", newLabel)
	}

	acc, err := m.store.FindByIdentity(ctx, identity)
	if err != nil {
		return err
	}
	if acc.Label != nil && *acc.Label == label {
		return nil
	}

	owner, err := m.store.FindByLabel(ctx, label)
	if err == nil && owner.Identity != identity {
		return store.ErrDuplicateLabel
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	return m.store.UpdateFields(ctx, identity, map[string]interface{}{"label": label})
}

// SetCadence validates spec, persists it for every identity and reschedules
// the keep-alive job of each live one. Per-identity failures are collected,
// never aborting the batch.
func (m *Manager) SetCadence(ctx context.Context, identities []int64, spec string) []error {
	if _, err := keepalive.ParseCadence(spec); err != nil {
		return []error{err}
	}
	var errs []error
	for _, identity := range identities {
		if err := m.store.UpdateFields(ctx, identity, map[string]interface{}{"cadence": spec}); err != nil {
			errs = append(errs, fmt.Errorf("identity %d: %w", identity, err))
			continue
		}
		if client, ok := m.Live(identity); ok {
			if err := m.scheduleKeepAlive(identity, client, spec); err != nil {
				errs = append(errs, fmt.Errorf("identity %d: %w", identity, err))
			}
		}
	}
	return errs
}

// ToggleDestroyFlag flips the permanent invalidation flag and returns the
// new state. Temporary pauses are untouched.
func (m *Manager) ToggleDestroyFlag(ctx context.Context, identity int64) (bool, error) {
	acc, err := m.store.FindByIdentity(ctx, identity)
	if err != nil {
		return false, err
	}
	next := !acc.DestroyCodes
	if err := m.store.UpdateFields(ctx, identity, map[string]interface{}{"destroy_codes": next}); err != nil {
		return false, err
	}
	m.log.Infof("destroy flag for %d now %t", identity, next)
	return next, nil
}

// RestoreReport aggregates a bulk start.
type RestoreReport struct {
	Started int      `json:"started"`
	Total   int      `json:"total"`
	Errors  []string `json:"errors,omitempty"`
}

// BulkRestore onboards every stored account with its persisted label and
// fingerprint. No acquaintance, no profile refresh. One account's failure
// never aborts the batch.
func (m *Manager) BulkRestore(ctx context.Context) RestoreReport {
	accs, err := m.store.List(ctx)
	if err != nil {
		return RestoreReport{Errors: []string{err.Error()}}
	}

	report := RestoreReport{Total: len(accs)}
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, acc := range accs {
		wg.Add(1)
		go func(acc model.Account) {
			defer wg.Done()
			// The stored label rides along as-is; an unlabeled account must
			// not gain a persisted identity-derived label here.
			label := ""
			if acc.Label != nil {
				label = *acc.Label
			}
			res := m.Onboard(ctx, m.sealer.Open(acc.Credential), OnboardOptions{
				Label:          label,
				DeviceOverride: acc.DeviceModel,
			})
			mu.Lock()
			defer mu.Unlock()
			if res.Status == StatusSuccess {
				report.Started++
				return
			}
			report.Errors = append(report.Errors,
				fmt.Sprintf("%s: %s %s", acc.LabelOrDefault(), res.Status, res.Detail))
		}(acc)
	}
	wg.Wait()
	m.log.Infof("bulk restore finished: %d/%d started", report.Started, report.Total)
	return report
}

// StopAll cancels every keep-alive job and disconnects every live session.
// Returns the number of sessions stopped.
func (m *Manager) StopAll(ctx context.Context) int {
	m.sched.StopAll()

	m.mu.Lock()
	clients := make(map[int64]protocol.Client, len(m.live))
	for id, c := range m.live {
		clients[id] = c
	}
	m.live = make(map[int64]protocol.Client)
	m.mu.Unlock()

	for id, c := range clients {
		if err := c.Disconnect(ctx); err != nil {
			m.log.Warnf("disconnect of %d failed: %v", id, err)
		}
	}
	m.log.Infof("stopped %d live sessions", len(clients))
	return len(clients)
}

// LookupByIdentifier resolves a numeric identity first, then falls back to
// treating the identifier as a label.
func (m *Manager) LookupByIdentifier(ctx context.Context, identifier string) (*model.Account, error) {
	if id, err := strconv.ParseInt(identifier, 10, 64); err == nil {
		if acc, err := m.store.FindByIdentity(ctx, id); err == nil {
			return acc, nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	return m.store.FindByLabel(ctx, identifier)
}

// RefreshProfiles re-reads the provider profile of every live session and
// persists the observed fields.
func (m *Manager) RefreshProfiles(ctx context.Context) []error {
	var errs []error
	for _, identity := range m.LiveIdentities() {
		client, ok := m.Live(identity)
		if !ok {
			continue
		}
		me, err := client.Me(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("identity %d: %w", identity, err))
			continue
		}
		fields := map[string]interface{}{
			"first_name": me.FirstName,
			"username":   me.Username,
			"phone":      me.Phone,
		}
		if raw, err := json.Marshal(me); err == nil {
			fields["profile"] = raw
		}
		if err := m.store.UpdateFields(ctx, identity, fields); err != nil {
			errs = append(errs, fmt.Errorf("identity %d: %w", identity, err))
		}
	}
	return errs
}

// RotateTwoFactor changes the secondary password on each selected live
// account, pausing between accounts to stay under provider rate limits.
// currentOverride, when set, replaces the stored secret as the current
// password. The new password is sealed and persisted per account.
func (m *Manager) RotateTwoFactor(ctx context.Context, identities []int64, currentOverride, next, hint string, delay time.Duration) []error {
	var errs []error
	for i, identity := range identities {
		if i > 0 && delay > 0 {
			time.Sleep(delay)
		}
		client, ok := m.Live(identity)
		if !ok {
			errs = append(errs, fmt.Errorf("identity %d: no live session", identity))
			continue
		}
		current := currentOverride
		if current == "" {
			acc, err := m.store.FindByIdentity(ctx, identity)
			if err != nil {
				errs = append(errs, fmt.Errorf("identity %d: %w", identity, err))
				continue
			}
			current = m.sealer.Open(acc.TwoFactorSecret)
		}
		if err := client.UpdatePassword(ctx, current, next, hint); err != nil {
			errs = append(errs, fmt.Errorf("identity %d: %w", identity, err))
			continue
		}
		if err := m.store.UpdateFields(ctx, identity, map[string]interface{}{
			"two_factor_secret": m.sealer.Seal(next),
		}); err != nil {
			errs = append(errs, fmt.Errorf("identity %d: %w", identity, err))
			continue
		}
		m.log.Infof("rotated secondary password for %d", identity)
	}
	return errs
}
