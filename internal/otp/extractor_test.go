package otp

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"sessionfleet/internal/pause"
	"sessionfleet/internal/protocol"
	"sessionfleet/internal/protocol/protocoltest"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func TestExtractCode(t *testing.T) {
	cases := []struct {
		text string
		code string
		ok   bool
	}{
		{"Your login code: 12345", "12345", true},
		{"12345", "12345", true},
		{"code 12345 and later 67890", "12345", true},
		{"123456", "", false},
		{"1234", "", false},
		{"no digits here", "", false},
		{"id 912345 but code 54321.", "54321", true},
		{"", "", false},
	}
	for _, c := range cases {
		code, ok := ExtractCode(c.text)
		if ok != c.ok || code != c.code {
			t.Errorf("ExtractCode(%q) = (%q, %v), want (%q, %v)", c.text, code, ok, c.code, c.ok)
		}
	}
}

func TestProcessInvalidatesCode(t *testing.T) {
	pauses := pause.NewRegistry(nil, time.Minute, testLog())
	unit := NewUnit(pauses, testLog())
	client := &protocoltest.Client{}

	unit.Process(context.Background(), 100, client, protocol.Message{
		SenderID: protocol.ServiceSenderID,
		Text:     "Login code: 12345. Do not share it.",
	})

	got := client.Invalidated()
	if len(got) != 1 || len(got[0]) != 1 || got[0][0] != "12345" {
		t.Fatalf("invalidated = %v, want [[12345]]", got)
	}
}

func TestProcessUsesCaptionFallback(t *testing.T) {
	pauses := pause.NewRegistry(nil, time.Minute, testLog())
	unit := NewUnit(pauses, testLog())
	client := &protocoltest.Client{}

	unit.Process(context.Background(), 100, client, protocol.Message{Caption: "code 54321"})

	if got := client.Invalidated(); len(got) != 1 || got[0][0] != "54321" {
		t.Fatalf("invalidated = %v, want [[54321]]", got)
	}
}

func TestProcessSkipsPausedIdentity(t *testing.T) {
	ctx := context.Background()
	pauses := pause.NewRegistry(nil, time.Minute, testLog())
	unit := NewUnit(pauses, testLog())

	pauses.PauseDestroy(ctx, 100)

	pausedClient := &protocoltest.Client{}
	unit.Process(ctx, 100, pausedClient, protocol.Message{Text: "code 12345"})
	if len(pausedClient.Invalidated()) != 0 {
		t.Error("paused identity must not trigger invalidation")
	}

	activeClient := &protocoltest.Client{}
	unit.Process(ctx, 200, activeClient, protocol.Message{Text: "code 12345"})
	if len(activeClient.Invalidated()) != 1 {
		t.Error("non-paused identity should trigger invalidation")
	}
}

func TestProcessIgnoresMessagesWithoutCode(t *testing.T) {
	pauses := pause.NewRegistry(nil, time.Minute, testLog())
	unit := NewUnit(pauses, testLog())
	client := &protocoltest.Client{}

	unit.Process(context.Background(), 100, client, protocol.Message{Text: "welcome back"})
	if len(client.Invalidated()) != 0 {
		t.Error("no invalidation expected without a code")
	}
}
