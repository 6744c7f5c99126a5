package notify

import (
	"strings"
	"testing"
)

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("Truncate(short, 10) = %q", got)
	}
	long := strings.Repeat("a", 50)
	if got := Truncate(long, 10); len([]rune(got)) != 10 {
		t.Errorf("Truncate length = %d, want 10", len([]rune(got)))
	}
	// Rune-safe, not byte-safe.
	if got := Truncate("ααααα", 3); got != "ααα" {
		t.Errorf("Truncate multibyte = %q, want ααα", got)
	}
}

func TestFormatBoundsContent(t *testing.T) {
	content := strings.Repeat("x", MaxContentRunes+500)
	out := Format("acct", false, false, content)
	if strings.Count(out, "x") != MaxContentRunes {
		t.Errorf("content not truncated to %d runes", MaxContentRunes)
	}
}

func TestFormatEscapesHTML(t *testing.T) {
	out := Format("<evil>", false, false, "a & b")
	if strings.Contains(out, "<evil>") {
		t.Error("account name not escaped")
	}
	if !strings.Contains(out, "&lt;evil&gt;") || !strings.Contains(out, "a &amp; b") {
		t.Errorf("unexpected escaping: %q", out)
	}
}

func TestFormatStatusLines(t *testing.T) {
	out := Format("acct", true, true, "")
	if !strings.Contains(out, "OTP paused (temp)") || !strings.Contains(out, "notify paused") {
		t.Errorf("paused status not rendered: %q", out)
	}
	if !strings.Contains(out, "(media)") {
		t.Errorf("empty content should render as media placeholder: %q", out)
	}
}
