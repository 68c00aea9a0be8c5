package world

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"slices"
	"strings"
)

// FileType classifies a JSON document by its content.
type FileType string

const (
	TypeCharacter  FileType = "npc"
	TypeWorldState FileType = "world_state"
	TypeArcEvents  FileType = "arc_events"
	TypeIndex      FileType = "master_index"
	TypeUnknown    FileType = "unknown"
)

var arcKeyPattern = regexp.MustCompile(`^arc_\d+`)

// FromFiles decodes a raw document set as returned by a document store.
// Character and well-known files that are not JSON objects are kept verbatim
// in [Model.Extra] so they are written back unchanged.
func FromFiles(files map[string][]byte) *Model {
	m := New()
	for name, raw := range files {
		var doc Document
		if err := json.Unmarshal(raw, &doc); err != nil || doc == nil {
			slog.Debug("world: keeping non-object file verbatim", "file", name)
			m.Extra[name] = bytes.Clone(raw)
			continue
		}
		m.put(name, doc)
	}
	return m
}

// PutFile stores doc under filename, routing well-known and character files
// to their typed slots.
func (m *Model) PutFile(filename string, doc Document) {
	m.put(filename, doc)
}

func (m *Model) put(name string, doc Document) {
	switch {
	case name == IndexFile:
		m.Index = doc
	case name == WorldStateFile:
		m.WorldState = doc
	case name == ArcEventsFile:
		m.ArcEvents = doc
	case IsCharacterFile(name):
		if m.Characters == nil {
			m.Characters = make(map[string]Document)
		}
		m.Characters[KeyFromFile(name)] = doc
	default:
		raw, err := json.Marshal(doc)
		if err != nil {
			return
		}
		if m.Extra == nil {
			m.Extra = make(map[string][]byte)
		}
		m.Extra[name] = raw
	}
}

// HasFile reports whether the model holds a document under filename.
func (m *Model) HasFile(filename string) bool {
	switch {
	case filename == IndexFile:
		return m.Index != nil
	case filename == WorldStateFile:
		return m.WorldState != nil
	case filename == ArcEventsFile:
		return m.ArcEvents != nil
	case IsCharacterFile(filename):
		_, ok := m.Characters[KeyFromFile(filename)]
		return ok
	}
	_, ok := m.Extra[filename]
	return ok
}

// Files encodes the model into a raw document set. JSON documents are
// indented with two spaces.
func (m *Model) Files() (map[string][]byte, error) {
	out := make(map[string][]byte, len(m.Characters)+len(m.Extra)+3)
	enc := func(name string, doc Document) error {
		if doc == nil {
			return nil
		}
		raw, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return fmt.Errorf("world: encode %q: %w", name, err)
		}
		out[name] = raw
		return nil
	}
	if err := enc(IndexFile, m.Index); err != nil {
		return nil, err
	}
	if err := enc(WorldStateFile, m.WorldState); err != nil {
		return nil, err
	}
	if err := enc(ArcEventsFile, m.ArcEvents); err != nil {
		return nil, err
	}
	for key, doc := range m.Characters {
		if err := enc(CharacterFile(key), doc); err != nil {
			return nil, err
		}
	}
	for name, raw := range m.Extra {
		if _, taken := out[name]; !taken {
			out[name] = bytes.Clone(raw)
		}
	}
	return out, nil
}

// DetectType classifies a decoded document by the fields it carries.
func DetectType(d Document) FileType {
	if d == nil {
		return TypeUnknown
	}
	if Truthy(d["display_name"]) && Truthy(d["power"]) {
		return TypeCharacter
	}
	if Truthy(d["active_situations"]) || Truthy(d["faction_status"]) ||
		(Truthy(d["in_world_date"]) && Truthy(d["arc"])) {
		return TypeWorldState
	}
	for k := range d {
		if arcKeyPattern.MatchString(k) {
			return TypeArcEvents
		}
	}
	if _, ok := d["current_arc"]; ok && Truthy(d["active_npcs"]) {
		return TypeIndex
	}
	if Truthy(d["schema_version"]) && Truthy(d["setting"]) {
		return TypeIndex
	}
	return TypeUnknown
}

// TargetFilename returns the store filename a document of the detected type
// belongs under. Unknown documents keep the base name of their source file.
func TargetFilename(d Document, sourceName string) string {
	switch DetectType(d) {
	case TypeCharacter:
		return CharacterFile(CharacterKey(String(d, "display_name")))
	case TypeWorldState:
		return WorldStateFile
	case TypeArcEvents:
		return ArcEventsFile
	case TypeIndex:
		return IndexFile
	}
	return path.Base(strings.ReplaceAll(sourceName, `\`, "/"))
}

// ArcKeys returns the keys of d that name arcs, e.g. "arc_1", sorted.
func ArcKeys(d Document) []string {
	var keys []string
	for k := range d {
		if strings.HasPrefix(k, "arc_") {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}
