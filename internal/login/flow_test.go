package login

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"sessionfleet/internal/protocol"
	"sessionfleet/internal/protocol/protocoltest"
	"sessionfleet/internal/session"
)

func testFlow(t *testing.T, auth *protocoltest.Auth) *Flow {
	t.Helper()
	driver := protocoltest.NewDriver()
	driver.AddAuth(auth)
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	log := logrus.NewEntry(l)
	f := NewFlow(session.NewFactory(driver, nil, log), log)
	f.sleep = func(time.Duration) {}
	return f
}

func TestFlowWithoutPassword(t *testing.T) {
	auth := &protocoltest.Auth{
		CodeHash:     "hash",
		Via:          "app",
		ExpectedCode: "12345",
		Credential:   "exported-cred",
	}
	f := testFlow(t, auth)
	ctx := context.Background()

	if _, err := f.Advance(ctx, "My Label"); err != nil || f.State() != StatePhone {
		t.Fatalf("label step: state = %s, err = %v", f.State(), err)
	}
	if _, err := f.Advance(ctx, "+1000"); err != nil || f.State() != StateCode {
		t.Fatalf("phone step: state = %s, err = %v", f.State(), err)
	}
	if _, err := f.Advance(ctx, "12345"); err != nil || f.State() != StateDone {
		t.Fatalf("code step: state = %s, err = %v", f.State(), err)
	}

	res := f.Result()
	if res == nil || res.Credential != "exported-cred" || res.Label != "mylabel" || res.Phone != "+1000" {
		t.Fatalf("result = %+v", res)
	}
	if res.DeviceModel == "" {
		t.Error("no device fingerprint recorded")
	}
	if auth.Connected() {
		t.Error("login channel left connected after finish")
	}
}

func TestFlowWithPassword(t *testing.T) {
	auth := &protocoltest.Auth{
		CodeHash:       "hash",
		ExpectedCode:   "12345",
		PasswordNeeded: true,
		Password:       "hunter2",
		Hint:           "the classic",
		Credential:     "exported-cred",
	}
	f := testFlow(t, auth)
	ctx := context.Background()

	f.Advance(ctx, "")
	f.Advance(ctx, "+1000")
	prompt, err := f.Advance(ctx, "12345")
	if err != nil || f.State() != StatePassword {
		t.Fatalf("code step: state = %s, err = %v", f.State(), err)
	}
	if prompt != "enter the account password (hint: the classic)" {
		t.Errorf("prompt = %q, hint missing", prompt)
	}

	if _, err := f.Advance(ctx, "hunter2"); err != nil || f.State() != StateDone {
		t.Fatalf("password step: state = %s, err = %v", f.State(), err)
	}
	if res := f.Result(); res.Password != "hunter2" {
		t.Errorf("password not carried into result: %+v", res)
	}
}

func TestFlowWrongCodeIsRetryable(t *testing.T) {
	auth := &protocoltest.Auth{CodeHash: "hash", ExpectedCode: "12345", Credential: "c"}
	f := testFlow(t, auth)
	ctx := context.Background()

	f.Advance(ctx, "")
	f.Advance(ctx, "+1000")
	if _, err := f.Advance(ctx, "99999"); err == nil || f.State() != StateCode {
		t.Fatalf("wrong code: state = %s, err = %v, want retryable StateCode", f.State(), err)
	}
	if _, err := f.Advance(ctx, "12345"); err != nil || f.State() != StateDone {
		t.Fatalf("retry: state = %s, err = %v", f.State(), err)
	}
}

func TestFlowPasswordAttemptsBounded(t *testing.T) {
	auth := &protocoltest.Auth{
		CodeHash:       "hash",
		ExpectedCode:   "12345",
		PasswordNeeded: true,
		Password:       "right",
		Credential:     "c",
	}
	f := testFlow(t, auth)
	ctx := context.Background()

	f.Advance(ctx, "")
	f.Advance(ctx, "+1000")
	f.Advance(ctx, "12345")

	for i := 0; i < 2; i++ {
		if _, err := f.Advance(ctx, "wrong"); err == nil || f.State() != StatePassword {
			t.Fatalf("attempt %d: state = %s, err = %v", i+1, f.State(), err)
		}
	}
	if _, err := f.Advance(ctx, "wrong"); err == nil || f.State() != StateFailed {
		t.Fatalf("third wrong password must fail the flow: state = %s, err = %v", f.State(), err)
	}
	if auth.Connected() {
		t.Error("login channel left connected after failure")
	}
}

func TestFlowFloodWaitRetriesSendCodeOnly(t *testing.T) {
	auth := &protocoltest.Auth{
		SendCodeErrs: []error{&protocol.FloodWaitError{Seconds: 1}, nil},
		CodeHash:     "hash",
		ExpectedCode: "12345",
		Credential:   "c",
	}
	f := testFlow(t, auth)
	ctx := context.Background()

	slept := 0
	f.sleep = func(time.Duration) { slept++ }

	f.Advance(ctx, "")
	if _, err := f.Advance(ctx, "+1000"); err != nil || f.State() != StateCode {
		t.Fatalf("phone step: state = %s, err = %v", f.State(), err)
	}
	if slept != 1 || auth.SendCodeCalls() != 2 {
		t.Errorf("slept %d times, %d code requests; want 1 and 2", slept, auth.SendCodeCalls())
	}
}

func TestFlowInvalidPhoneIsTerminal(t *testing.T) {
	auth := &protocoltest.Auth{SendCodeErrs: []error{protocol.ErrPhoneInvalid}}
	f := testFlow(t, auth)
	ctx := context.Background()

	f.Advance(ctx, "")
	if _, err := f.Advance(ctx, "+1000"); err == nil || f.State() != StateFailed {
		t.Fatalf("invalid phone: state = %s, err = %v, want terminal failure", f.State(), err)
	}
}
