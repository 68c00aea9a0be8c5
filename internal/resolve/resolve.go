// Package resolve maps free-text character references ("Skitter", "the
// Undersiders' thinker", "npc_lisa_wilbourn.json") onto character keys of a
// world model.
//
// The default [Alias] resolver follows two rules, first match wins:
//
//  1. Exact key: the input itself, or the key derived from it with
//     [world.CharacterKey], names an existing character.
//  2. Substring: the case-folded input contains, or is contained in, the
//     display name, alias or any entry of aliases of a character. Records are
//     scanned in key order so the result is deterministic.
//
// [Phonetic] is an alternative for misspelled or transcribed names, and
// [Chain] composes several resolvers. A failed lookup is never an error.
package resolve

import (
	"strings"

	"github.com/MrWong99/worldtracker/pkg/world"
)

// Resolver resolves a free-text name to a character key against the current
// world model. Implementations must be safe for concurrent use and must not
// mutate m.
type Resolver interface {
	Resolve(m *world.Model, name string) (key string, ok bool)
}

// Func adapts a plain function to the [Resolver] interface.
type Func func(m *world.Model, name string) (string, bool)

// Resolve calls f.
func (f Func) Resolve(m *world.Model, name string) (string, bool) { return f(m, name) }

// Alias is the default substring resolver. The zero value is ready to use.
type Alias struct{}

var _ Resolver = Alias{}

// Resolve implements [Resolver].
func (Alias) Resolve(m *world.Model, name string) (string, bool) {
	if key, ok := ExactKey(m, name); ok {
		return key, true
	}
	n := normalise(name)
	if n == "" {
		return "", false
	}
	for _, key := range m.CharacterKeys() {
		for _, c := range CandidateNames(m.Character(key)) {
			c = strings.ToLower(c)
			if strings.Contains(c, n) || strings.Contains(n, c) {
				return key, true
			}
		}
	}
	return "", false
}

// ExactKey applies the exact-key rule only.
func ExactKey(m *world.Model, name string) (string, bool) {
	if m == nil {
		return "", false
	}
	trimmed := world.KeyFromFile(strings.TrimSpace(name))
	if trimmed == "" {
		return "", false
	}
	if _, ok := m.Characters[trimmed]; ok {
		return trimmed, true
	}
	if key := world.CharacterKey(trimmed); key != world.CharacterPrefix {
		if _, ok := m.Characters[key]; ok {
			return key, true
		}
	}
	return "", false
}

// CandidateNames returns the non-empty display name, alias and aliases of a
// character record, in that order.
func CandidateNames(rec world.Document) []string {
	if rec == nil {
		return nil
	}
	var out []string
	if s := world.String(rec, "display_name"); s != "" {
		out = append(out, s)
	}
	if s := world.String(rec, "alias"); s != "" {
		out = append(out, s)
	}
	for _, s := range world.Strings(rec, "aliases") {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

// Chain tries each resolver in order and returns the first hit.
type Chain []Resolver

// Resolve implements [Resolver].
func (c Chain) Resolve(m *world.Model, name string) (string, bool) {
	for _, r := range c {
		if key, ok := r.Resolve(m, name); ok {
			return key, true
		}
	}
	return "", false
}

func normalise(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
