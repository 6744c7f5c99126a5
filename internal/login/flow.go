// Package login drives the interactive onboarding conversation as an
// explicit state machine: label, phone, code, optional secondary password,
// ending in an exportable credential.
package login

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"sessionfleet/internal/protocol"
	"sessionfleet/internal/session"
	"sessionfleet/internal/store"
)

// State names one step of the flow. Terminal states are StateDone and
// StateFailed.
type State string

const (
	StateLabel    State = "label"
	StatePhone    State = "phone"
	StateCode     State = "code"
	StatePassword State = "password"
	StateDone     State = "done"
	StateFailed   State = "failed"
)

// maxPasswordAttempts bounds secondary-password retries before the flow
// fails.
const maxPasswordAttempts = 3

// Result is the successful outcome of a completed flow.
type Result struct {
	Credential  string
	Label       string
	Phone       string
	DeviceModel string
	// Password is the secondary password, when one was used. Callers
	// persist it so later rotations know the current value.
	Password string
}

// Flow is one interactive login in progress. Not safe for concurrent use;
// each operator conversation owns one Flow.
type Flow struct {
	factory *session.Factory
	log     *logrus.Entry
	sleep   func(time.Duration)

	state    State
	auth     protocol.Authenticator
	fp       session.Fingerprint
	label    string
	phone    string
	codeHash string
	attempts int
	result   *Result
}

// NewFlow starts a flow at StateLabel.
func NewFlow(factory *session.Factory, log *logrus.Entry) *Flow {
	return &Flow{
		factory: factory,
		log:     log.WithField("component", "login-flow"),
		sleep:   time.Sleep,
		state:   StateLabel,
	}
}

// State returns the current state.
func (f *Flow) State() State {
	return f.state
}

// Result returns the outcome once the flow reached StateDone.
func (f *Flow) Result() *Result {
	return f.result
}

// Advance feeds one operator input into the flow and returns the prompt for
// the next input. A returned error never advances past a retryable step;
// terminal failures move the flow to StateFailed.
func (f *Flow) Advance(ctx context.Context, input string) (string, error) {
	switch f.state {
	case StateLabel:
		return f.advanceLabel(ctx, input)
	case StatePhone:
		return f.advancePhone(ctx, input)
	case StateCode:
		return f.advanceCode(ctx, input)
	case StatePassword:
		return f.advancePassword(ctx, input)
	default:
		return "", fmt.Errorf("flow already finished in state %s", f.state)
	}
}

func (f *Flow) advanceLabel(ctx context.Context, input string) (string, error) {
	f.label = store.NormalizeLabel(input)

	auth, fp, err := f.factory.DialAuth(ctx)
	if err != nil {
		return "", f.fail(ctx, fmt.Errorf("login channel unavailable: %w", err))
	}
	if err := auth.Connect(ctx); err != nil {
		return "", f.fail(ctx, fmt.Errorf("login channel connect failed: %w", err))
	}
	f.auth = auth
	f.fp = fp
	f.state = StatePhone
	return "enter the phone number in international format", nil
}

func (f *Flow) advancePhone(ctx context.Context, input string) (string, error) {
	if input == "" {
		return "enter the phone number in international format", errors.New("phone number is empty")
	}
	f.phone = input

	// A flood wait retries the code request only; everything already
	// entered stays valid.
	for {
		codeHash, via, err := f.auth.SendCode(ctx, f.phone)
		if secs, ok := protocol.AsFloodWait(err); ok {
			f.log.Warnf("code request rate limited, waiting %ds", secs)
			f.sleep(time.Duration(secs) * time.Second)
			continue
		}
		if errors.Is(err, protocol.ErrPhoneInvalid) {
			return "", f.fail(ctx, err)
		}
		if err != nil {
			return "", f.fail(ctx, fmt.Errorf("code request failed: %w", err))
		}
		f.codeHash = codeHash
		f.state = StateCode
		return fmt.Sprintf("a login code was sent via %s, enter it", via), nil
	}
}

func (f *Flow) advanceCode(ctx context.Context, input string) (string, error) {
	err := f.auth.SignIn(ctx, f.phone, f.codeHash, input)
	if errors.Is(err, protocol.ErrPasswordNeeded) {
		f.state = StatePassword
		prompt := "enter the account password"
		if hint, herr := f.auth.PasswordHint(ctx); herr == nil && hint != "" {
			prompt = fmt.Sprintf("enter the account password (hint: %s)", hint)
		}
		return prompt, nil
	}
	if err != nil {
		return "wrong code, enter it again", err
	}
	return f.finish(ctx, "")
}

func (f *Flow) advancePassword(ctx context.Context, input string) (string, error) {
	err := f.auth.CheckPassword(ctx, input)
	if errors.Is(err, protocol.ErrPasswordInvalid) {
		f.attempts++
		if f.attempts >= maxPasswordAttempts {
			return "", f.fail(ctx, fmt.Errorf("password rejected %d times", f.attempts))
		}
		return "wrong password, try again", err
	}
	if err != nil {
		return "", f.fail(ctx, fmt.Errorf("password check failed: %w", err))
	}
	return f.finish(ctx, input)
}

func (f *Flow) finish(ctx context.Context, password string) (string, error) {
	credential, err := f.auth.ExportCredential(ctx)
	if err != nil {
		return "", f.fail(ctx, fmt.Errorf("credential export failed: %w", err))
	}
	if err := f.auth.Disconnect(ctx); err != nil {
		f.log.Warnf("login channel disconnect failed: %v", err)
	}
	f.result = &Result{
		Credential:  credential,
		Label:       f.label,
		Phone:       f.phone,
		DeviceModel: f.fp.DeviceModel,
		Password:    password,
	}
	f.state = StateDone
	f.log.Infof("interactive login completed for %s", f.phone)
	return "login complete", nil
}

func (f *Flow) fail(ctx context.Context, err error) error {
	if f.auth != nil {
		if derr := f.auth.Disconnect(ctx); derr != nil {
			f.log.Warnf("login channel disconnect failed: %v", derr)
		}
	}
	f.state = StateFailed
	f.log.Errorf("interactive login failed: %v", err)
	return err
}
