package keepalive

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"
)

// DisabledMinutes is the cadence value that means "no keep-alive job".
const DisabledMinutes = 1440

// Cadence is a presence-refresh interval in minutes: fixed when Min == Max,
// otherwise a closed range a fresh value is drawn from on every firing.
type Cadence struct {
	Min int
	Max int
}

// ParseCadence parses "N" or "min-max". Values must fall in (0, 1440] and a
// range must be ordered. An empty spec parses to the disabled cadence.
func ParseCadence(spec string) (Cadence, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return Cadence{Min: DisabledMinutes, Max: DisabledMinutes}, nil
	}

	if min, max, ok := strings.Cut(spec, "-"); ok {
		lo, err := strconv.Atoi(strings.TrimSpace(min))
		if err != nil {
			return Cadence{}, fmt.Errorf("invalid cadence %q: %w", spec, err)
		}
		hi, err := strconv.Atoi(strings.TrimSpace(max))
		if err != nil {
			return Cadence{}, fmt.Errorf("invalid cadence %q: %w", spec, err)
		}
		if lo <= 0 || hi > DisabledMinutes || lo > hi {
			return Cadence{}, fmt.Errorf("cadence %q out of range (0,%d] or unordered", spec, DisabledMinutes)
		}
		return Cadence{Min: lo, Max: hi}, nil
	}

	n, err := strconv.Atoi(spec)
	if err != nil {
		return Cadence{}, fmt.Errorf("invalid cadence %q: %w", spec, err)
	}
	if n <= 0 || n > DisabledMinutes {
		return Cadence{}, fmt.Errorf("cadence %q out of range (0,%d]", spec, DisabledMinutes)
	}
	return Cadence{Min: n, Max: n}, nil
}

// Fixed reports whether the cadence is a single value.
func (c Cadence) Fixed() bool {
	return c.Min == c.Max
}

// Disabled reports whether the cadence means "no job".
func (c Cadence) Disabled() bool {
	return c.Fixed() && c.Min == DisabledMinutes
}

// Roll resolves the cadence to a concrete interval. Range cadences draw a
// fresh uniform value on every call; nothing is cached across firings.
func (c Cadence) Roll(rng *rand.Rand) time.Duration {
	minutes := c.Min
	if !c.Fixed() {
		minutes = c.Min + rng.Intn(c.Max-c.Min+1)
	}
	return time.Duration(minutes) * time.Minute
}

func (c Cadence) String() string {
	if c.Fixed() {
		return strconv.Itoa(c.Min)
	}
	return fmt.Sprintf("%d-%d", c.Min, c.Max)
}
