// Package otp extracts login verification codes from service messages and
// revokes them at the provider. Everything here is fire-and-forget: failures
// are logged, never returned.
package otp

import (
	"context"
	"regexp"

	"github.com/sirupsen/logrus"

	"sessionfleet/internal/pause"
	"sessionfleet/internal/protocol"
)

// codePattern matches a bare 5-digit token. Word boundaries keep it from
// firing inside longer numbers.
var codePattern = regexp.MustCompile(`\b(\d{5})\b`)

// ExtractCode returns the first 5-digit code in text.
func ExtractCode(text string) (string, bool) {
	m := codePattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Invalidator is the single provider capability this unit needs.
type Invalidator interface {
	InvalidateCodes(ctx context.Context, codes []string) error
}

// Unit is the code extraction and invalidation unit. It is stateless with
// respect to persistent configuration: the permanent destruction flag is
// checked by the dispatcher before fan-out, exactly once per message.
type Unit struct {
	pauses *pause.Registry
	log    *logrus.Entry
}

// NewUnit creates a Unit.
func NewUnit(pauses *pause.Registry, log *logrus.Entry) *Unit {
	return &Unit{pauses: pauses, log: log.WithField("component", "otp")}
}

// Process inspects one service message for identity and, when a code is
// found and the identity is not temporarily paused, revokes it via inv.
func (u *Unit) Process(ctx context.Context, identity int64, inv Invalidator, msg protocol.Message) {
	log := u.log.WithField("identity", identity)

	if u.pauses.DestroyPaused(ctx, identity) {
		log.Info("code destruction temporarily paused, skipping")
		return
	}

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}

	code, ok := ExtractCode(text)
	if !ok {
		log.Info("service message carried no 5-digit code")
		return
	}

	log.Infof("detected login code %s, invalidating", code)
	if err := inv.InvalidateCodes(ctx, []string{code}); err != nil {
		log.Errorf("failed to invalidate code %s: %v", code, err)
		return
	}
	log.Infof("invalidated login code %s", code)
}
