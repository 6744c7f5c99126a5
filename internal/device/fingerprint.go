// Package device picks stable device fingerprints for managed accounts.
// A fingerprint is chosen once at account creation and reused on every
// reconnect; changing it trips the provider's trust heuristics.
package device

import (
	_ "embed"
	"math/rand"
	"strings"
)

//go:embed models.txt
var rawModels string

var models = loadModels()

func loadModels() []string {
	var out []string
	for _, line := range strings.Split(rawModels, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	if len(out) == 0 {
		out = []string{"Unknown Desktop"}
	}
	return out
}

// Pick returns a random device model name from the embedded list.
func Pick(rng *rand.Rand) string {
	return models[rng.Intn(len(models))]
}
