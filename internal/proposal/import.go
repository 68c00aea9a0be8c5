package proposal

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/worldtracker/internal/merge"
	"github.com/MrWong99/worldtracker/pkg/world"
)

// ErrInvalidImport is returned by [Expander.ExpandImport] for input that is
// not a JSON object.
var ErrInvalidImport = errors.New("proposal: import is not a JSON object")

// ExpandImport builds a whole-file import proposal for a hand-supplied JSON
// document. The target filename is derived from the detected document type;
// unknown documents keep their own base name. Accepting the proposal replaces
// any existing document under the target name.
func (e *Expander) ExpandImport(filename string, data []byte, snap *world.Model, contextID string) (*Proposal, error) {
	var doc world.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidImport, filename, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidImport, filename)
	}
	if snap == nil {
		snap = world.New()
	}

	typ := world.DetectType(doc)
	target := world.TargetFilename(doc, filename)
	exists := snap.HasFile(target)

	p := &Proposal{
		ID:          e.newID(),
		ContextID:   contextID,
		Category:    CategoryImport,
		Target:      target,
		Description: importDescription(doc, typ, filename, target, exists),
		NewValue:    doc,
		Preview:     PreviewText(doc, typ),
		mutate: func(m *world.Model) {
			merge.PutFile(m, target, doc)
		},
	}
	p.Expandable = p.Preview != ""
	if exists {
		p.OldValue = snapshotFile(snap, target)
	}
	return p, nil
}

func importDescription(doc world.Document, typ world.FileType, source, target string, exists bool) string {
	const overwrite = " (⚠ will overwrite)"
	var desc string
	switch typ {
	case world.TypeCharacter:
		desc = "Import NPC: " + world.String(doc, "display_name")
		if alias := world.String(doc, "alias"); alias != "" {
			desc += " / " + alias
		}
		faction := world.String(doc, "faction")
		if faction == "" {
			faction = "unknown faction"
		}
		desc += " — " + faction
		if exists {
			return desc + " (⚠ will overwrite existing)"
		}
		return desc
	case world.TypeWorldState:
		arc, date := world.Scalar(doc["arc"]), world.String(doc, "in_world_date")
		if arc == "" {
			arc = "?"
		}
		if date == "" {
			date = "no date"
		}
		desc = fmt.Sprintf("Import %s — Arc %s, %s", world.WorldStateFile, arc, date)
	case world.TypeArcEvents:
		arcs := world.ArcKeys(doc)
		desc = fmt.Sprintf("Import %s — %d %s (%s)", world.ArcEventsFile, len(arcs),
			plural(len(arcs), "arc"), strings.Join(arcs, ", "))
	case world.TypeIndex:
		setting := world.String(doc, "setting")
		if setting == "" {
			setting = "no setting listed"
		}
		desc = fmt.Sprintf("Import %s — %s", world.IndexFile, setting)
	default:
		return fmt.Sprintf("Import %q → %q (type unknown — review before accepting)", source, target)
	}
	if exists {
		desc += overwrite
	}
	return desc
}

func snapshotFile(m *world.Model, filename string) any {
	switch {
	case filename == world.IndexFile:
		return world.CloneDocument(m.Index)
	case filename == world.WorldStateFile:
		return world.CloneDocument(m.WorldState)
	case filename == world.ArcEventsFile:
		return world.CloneDocument(m.ArcEvents)
	case world.IsCharacterFile(filename):
		return world.CloneDocument(m.Character(world.KeyFromFile(filename)))
	}
	return string(m.Extra[filename])
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
