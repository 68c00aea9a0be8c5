package resolve

import (
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/worldtracker/pkg/world"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// PhoneticOption configures a [Phonetic] resolver.
type PhoneticOption func(*Phonetic)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score a phonetically
// matching name must reach. Default: 0.70.
func WithPhoneticThreshold(threshold float64) PhoneticOption {
	return func(p *Phonetic) {
		if threshold > 0 {
			p.phoneticThreshold = threshold
		}
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for names that share
// no Double Metaphone code with the input. Default: 0.85.
func WithFuzzyThreshold(threshold float64) PhoneticOption {
	return func(p *Phonetic) {
		if threshold > 0 {
			p.fuzzyThreshold = threshold
		}
	}
}

// Phonetic resolves names that sound alike, such as "Taylor Hebbert" for
// "Taylor Hebert". Candidates whose Double Metaphone codes overlap the input
// are ranked by Jaro-Winkler similarity; without any phonetic overlap only
// near-identical spellings above the fuzzy threshold match.
//
// Phonetic is read-only after construction and safe for concurrent use.
type Phonetic struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

var _ Resolver = (*Phonetic)(nil)

// NewPhonetic returns a [Phonetic] resolver.
func NewPhonetic(opts ...PhoneticOption) *Phonetic {
	p := &Phonetic{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Resolve implements [Resolver].
func (p *Phonetic) Resolve(m *world.Model, name string) (string, bool) {
	if key, ok := ExactKey(m, name); ok {
		return key, true
	}
	input := normalise(name)
	if input == "" || m == nil {
		return "", false
	}
	inputTokens := strings.Fields(input)
	inputCodes := codesFor(inputTokens)

	var (
		bestKey      string
		bestScore    float64
		bestPhonetic bool
	)
	for _, key := range m.CharacterKeys() {
		for _, c := range CandidateNames(m.Character(key)) {
			cand := normalise(c)
			candTokens := strings.Fields(cand)
			score := similarity(inputTokens, candTokens, input, cand)

			if overlaps(inputCodes, codesFor(candTokens)) {
				if score >= p.phoneticThreshold && (!bestPhonetic || score > bestScore) {
					bestKey, bestScore, bestPhonetic = key, score, true
				}
				continue
			}
			if !bestPhonetic && score >= p.fuzzyThreshold && score > bestScore {
				bestKey, bestScore = key, score
			}
		}
	}
	return bestKey, bestKey != ""
}

// codesFor returns the union of Double Metaphone codes of tokens.
func codesFor(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		primary, secondary := matchr.DoubleMetaphone(t)
		if primary != "" {
			codes[primary] = struct{}{}
		}
		if secondary != "" {
			codes[secondary] = struct{}{}
		}
	}
	return codes
}

func overlaps(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// similarity is the best Jaro-Winkler score over the full strings, the
// strings with spaces removed, and every token pair.
func similarity(aTokens, bTokens []string, a, b string) float64 {
	score := matchr.JaroWinkler(a, b, false)
	if len(aTokens) > 1 || len(bTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(aTokens, ""), strings.Join(bTokens, ""), false); s > score {
			score = s
		}
	}
	for _, at := range aTokens {
		for _, bt := range bTokens {
			if s := matchr.JaroWinkler(at, bt, false); s > score {
				score = s
			}
		}
	}
	return score
}
