package keepalive

import (
	"math/rand"
	"testing"
	"time"
)

func TestParseCadenceFixed(t *testing.T) {
	cad, err := ParseCadence("30")
	if err != nil {
		t.Fatalf("ParseCadence(30) failed: %v", err)
	}
	if !cad.Fixed() || cad.Min != 30 {
		t.Errorf("cadence = %+v, want fixed 30", cad)
	}
	if cad.Disabled() {
		t.Error("30 should not be disabled")
	}

	rng := rand.New(rand.NewSource(1))
	if got := cad.Roll(rng); got != 30*time.Minute {
		t.Errorf("Roll() = %s, want 30m", got)
	}
}

func TestParseCadenceRange(t *testing.T) {
	cad, err := ParseCadence("30-90")
	if err != nil {
		t.Fatalf("ParseCadence(30-90) failed: %v", err)
	}
	if cad.Fixed() || cad.Min != 30 || cad.Max != 90 {
		t.Errorf("cadence = %+v, want range 30-90", cad)
	}
}

func TestParseCadenceDisabled(t *testing.T) {
	for _, spec := range []string{"1440", ""} {
		cad, err := ParseCadence(spec)
		if err != nil {
			t.Fatalf("ParseCadence(%q) failed: %v", spec, err)
		}
		if !cad.Disabled() {
			t.Errorf("ParseCadence(%q) should be disabled", spec)
		}
	}
}

func TestParseCadenceRejectsInvalid(t *testing.T) {
	for _, spec := range []string{"0", "-5", "1441", "90-30", "abc", "10-", "0-30", "30-1441"} {
		if _, err := ParseCadence(spec); err == nil {
			t.Errorf("ParseCadence(%q) should fail", spec)
		}
	}
}

func TestRangeRollDrawsFreshValues(t *testing.T) {
	cad, err := ParseCadence("30-90")
	if err != nil {
		t.Fatalf("ParseCadence failed: %v", err)
	}
	rng := rand.New(rand.NewSource(42))

	seen := make(map[time.Duration]bool)
	for i := 0; i < 1000; i++ {
		d := cad.Roll(rng)
		if d < 30*time.Minute || d > 90*time.Minute {
			t.Fatalf("draw %d: %s outside [30m, 90m]", i, d)
		}
		seen[d] = true
	}
	if len(seen) < 2 {
		t.Errorf("1000 draws produced %d distinct values, want more than one", len(seen))
	}
}

func TestCadenceString(t *testing.T) {
	if got := (Cadence{Min: 15, Max: 15}).String(); got != "15" {
		t.Errorf("String() = %q, want 15", got)
	}
	if got := (Cadence{Min: 30, Max: 90}).String(); got != "30-90" {
		t.Errorf("String() = %q, want 30-90", got)
	}
}
