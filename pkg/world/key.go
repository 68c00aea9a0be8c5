package world

import (
	"strings"
	"unicode"
)

// CharacterPrefix starts every character key and character filename.
const CharacterPrefix = "npc_"

const jsonExt = ".json"

// CharacterKey derives the canonical key for a display name: "npc_" followed
// by the lowercased name with whitespace runs collapsed to "_" and every
// character outside [a-z0-9_] removed.
//
//	CharacterKey("Taylor Hebert") == "npc_taylor_hebert"
//	CharacterKey("Über-Cape!")    == "npc_bercape"
func CharacterKey(displayName string) string {
	var b strings.Builder
	b.WriteString(CharacterPrefix)
	inSpace := false
	for _, r := range strings.ToLower(displayName) {
		if unicode.IsSpace(r) {
			if !inSpace {
				b.WriteByte('_')
			}
			inSpace = true
			continue
		}
		inSpace = false
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CharacterFile returns the store filename for a character key.
func CharacterFile(key string) string {
	return key + jsonExt
}

// IsCharacterFile reports whether filename names a character record.
func IsCharacterFile(filename string) bool {
	return strings.HasPrefix(filename, CharacterPrefix) && strings.HasSuffix(filename, jsonExt)
}

// KeyFromFile strips the ".json" extension from a character filename. Inputs
// without the extension are returned unchanged.
func KeyFromFile(filename string) string {
	return strings.TrimSuffix(filename, jsonExt)
}

// NameFromKey produces a readable fallback name from a character key when the
// record carries no display name: "npc_taylor_hebert" becomes "taylor hebert".
func NameFromKey(key string) string {
	name := strings.TrimPrefix(KeyFromFile(key), CharacterPrefix)
	return strings.ReplaceAll(name, "_", " ")
}

// DisplayName returns the record's display name, falling back to a name
// derived from its key.
func DisplayName(key string, rec Document) string {
	if n := String(rec, "display_name"); n != "" {
		return n
	}
	return NameFromKey(key)
}
