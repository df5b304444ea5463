package facade

import "math/rand/v2"

// adjectives and nouns back GenerateAgentName's "AdjectiveNoun" scheme
// (spec §4.7). No donor file enumerates a word list for this purpose, so
// this is a fresh, deliberately small list rather than an imported
// generator library — the example corpus has no petname/haikunator-style
// dependency anywhere to adopt instead (see DESIGN.md).
var adjectives = []string{
	"Swift", "Quiet", "Bold", "Calm", "Eager", "Keen", "Sharp", "Bright",
	"Steady", "Brave", "Clever", "Nimble", "Patient", "Vivid", "Wry",
}

var nouns = []string{
	"Falcon", "Otter", "Heron", "Lynx", "Badger", "Magpie", "Wren",
	"Beetle", "Marten", "Osprey", "Raven", "Tapir", "Vole", "Cobra",
}

// GenerateAgentName produces a two-word "AdjectiveNoun" name, used when
// RegisterAgentArgs.AgentName is empty.
func GenerateAgentName() string {
	return adjectives[rand.IntN(len(adjectives))] + nouns[rand.IntN(len(nouns))]
}
