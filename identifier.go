package flowsentry

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// MagicRule describes one file-type signature: a byte pattern expected at a
// fixed offset from the start of the file.
type MagicRule struct {
	Type   string `json:"type"`
	Offset uint64 `json:"offset"`
	Magic  string `json:"magic"` // hex encoded pattern
}

type compiledMagic struct {
	id      uint32
	typ     string
	offset  uint64
	pattern []byte
}

// MagicIdentifier is the builtin TypeLookup: it matches magic-number rules
// incrementally across fragments, carrying its progress on the context's
// identification cursor.
type MagicIdentifier struct {
	rules []compiledMagic
	names map[uint32]string
}

// magicCursor is the opaque in-progress state stored on the FileContext.
// pos is the absolute file offset of the next unseen byte; alive maps rule
// index to the number of pattern bytes matched so far.
type magicCursor struct {
	pos   uint64
	alive map[int]int
}

// NewMagicIdentifier compiles the rule set, assigning identifiers starting at
// FileTypeIDBase in deterministic (type name) order.
func NewMagicIdentifier(rules []MagicRule) (*MagicIdentifier, error) {
	sorted := append([]MagicRule(nil), rules...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Type < sorted[j].Type })

	m := &MagicIdentifier{names: make(map[uint32]string)}
	for i, r := range sorted {
		if strings.TrimSpace(r.Type) == "" {
			return nil, fmt.Errorf("magic rule %d has empty type", i)
		}
		pattern, err := hex.DecodeString(strings.ReplaceAll(r.Magic, " ", ""))
		if err != nil {
			return nil, fmt.Errorf("magic rule %s: bad pattern: %w", r.Type, err)
		}
		if len(pattern) == 0 {
			return nil, fmt.Errorf("magic rule %s has empty pattern", r.Type)
		}
		id := FileTypeIDBase + uint32(i)
		m.rules = append(m.rules, compiledMagic{id: id, typ: r.Type, offset: r.Offset, pattern: pattern})
		m.names[id] = r.Type
	}
	return m, nil
}

// TypeNames returns the id to type-name table for event reporting.
func (m *MagicIdentifier) TypeNames() map[uint32]string { return m.names }

// FindFileTypeID advances matching over one fragment. It returns the resolved
// type id on a complete match, FileTypeUnknown once no rule can still match,
// and FileTypeContinue while undecided.
func (m *MagicIdentifier) FindFileTypeID(data []byte, ctx *FileContext) uint32 {
	cursor, _ := ctx.TypeCursor().(*magicCursor)
	if cursor == nil {
		cursor = &magicCursor{alive: make(map[int]int, len(m.rules))}
		for i := range m.rules {
			cursor.alive[i] = 0
		}
		ctx.SetTypeCursor(cursor)
	}

	start := cursor.pos
	cursor.pos += uint64(len(data))

	for i, matched := range cursor.alive {
		rule := m.rules[i]
		matched, state := advanceMagic(rule, matched, start, data)
		switch state {
		case magicMatched:
			return rule.id
		case magicDead:
			delete(cursor.alive, i)
		default:
			cursor.alive[i] = matched
		}
	}

	if len(cursor.alive) == 0 {
		return FileTypeUnknown
	}
	return FileTypeContinue
}

type magicState int

const (
	magicPending magicState = iota
	magicMatched
	magicDead
)

// advanceMagic compares the part of a rule's pattern that overlaps this
// fragment.
func advanceMagic(rule compiledMagic, matched int, start uint64, data []byte) (int, magicState) {
	need := rule.offset + uint64(matched)
	end := start + uint64(len(data))

	// Fragment ends before the next needed byte: nothing to compare yet.
	if end <= need {
		return matched, magicPending
	}
	if need < start {
		// The needed byte was in an earlier fragment this rule never saw.
		return matched, magicDead
	}

	avail := data[need-start:]
	remain := rule.pattern[matched:]
	n := len(remain)
	if n > len(avail) {
		n = len(avail)
	}
	if !bytes.Equal(avail[:n], remain[:n]) {
		return matched, magicDead
	}
	matched += n
	if matched == len(rule.pattern) {
		return matched, magicMatched
	}
	return matched, magicPending
}
