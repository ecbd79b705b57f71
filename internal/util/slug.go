package util

import (
	"fmt"
	"math/rand/v2"
)

// adjectives and nouns form the human-readable component of a generated
// name. The wordlist is intentionally short; uniqueness comes from the hex
// suffix, not wordlist size.
var adjectives = []string{
	"amber", "azure", "bold", "calm", "cedar", "clean", "clear",
	"crisp", "dawn", "dusk", "emerald", "fair", "firm", "fleet",
	"frost", "gold", "grand", "green", "grey", "iron", "jade",
	"keen", "lark", "lean", "light", "lunar", "maple", "mist",
	"noble", "north", "oak", "onyx", "open", "peak", "pine",
	"plain", "prime", "quick", "quiet", "rapid", "regal", "ridge",
	"river", "rose", "ruby", "sage", "sand", "sharp", "shore",
	"silk", "silver", "slate", "solar", "solid", "stark", "steel",
	"stone", "storm", "swift", "teal", "terra", "tidal", "true",
	"vale", "vast", "warm", "white", "wild", "wind",
}

var nouns = []string{
	"arc", "bay", "beam", "bird", "blade", "bloom", "bolt", "bond",
	"brook", "cliff", "cloud", "coast", "core", "crest", "crow",
	"dale", "dawn", "delta", "dune", "dust", "echo", "edge", "fern",
	"field", "flame", "flare", "fleet", "flow", "fog", "ford",
	"forge", "fox", "frost", "gale", "gate", "glen", "grove", "gust",
	"hawk", "hill", "horizon", "isle", "keep", "lake", "lark", "leaf",
	"light", "line", "lynx", "mast", "mesa", "mill", "mist", "moon",
	"moss", "mount", "node", "ore", "path", "peak", "pine", "plain",
	"pond", "pool", "port", "pulse", "ridge", "rift", "rise", "river",
	"rock", "root", "run", "sand", "seed", "shore", "sky", "slope",
	"snow", "sol", "spark", "spire", "spring", "star", "stem", "step",
	"stone", "stream", "sun", "surf", "surge", "tide", "trail", "tree",
	"vale", "veil", "vine", "wake", "wave", "wind", "wing", "wood",
}

// GenerateSlug returns a human-readable token in the form
// "adjective-noun-xxxx", where xxxx is a 4-character random hex suffix. Used
// to name ephemeral build containers so a build failure is identifiable in
// `docker ps -a` output without cross-referencing a timestamp.
func GenerateSlug() string {
	adjective := adjectives[rand.IntN(len(adjectives))]
	noun := nouns[rand.IntN(len(nouns))]
	suffix := rand.Uint32() & 0xFFFF
	return fmt.Sprintf("%s-%s-%04x", adjective, noun, suffix)
}
