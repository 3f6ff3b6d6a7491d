package flowsentry

import (
	"testing"
)

func testMagicRules() []MagicRule {
	return []MagicRule{
		{Type: "PNG", Offset: 0, Magic: "89504E470D0A1A0A"},
		{Type: "GIF", Offset: 0, Magic: "47494638"},
		{Type: "PDF", Offset: 0, Magic: "25504446"},
		{Type: "JAR", Offset: 4, Magic: "CAFEBABE"},
	}
}

func mustIdentifier(t *testing.T, rules []MagicRule) *MagicIdentifier {
	t.Helper()
	ident, err := NewMagicIdentifier(rules)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	return ident
}

func TestMagicCompile(t *testing.T) {
	ident := mustIdentifier(t, testMagicRules())

	// Identifiers are assigned in type-name order starting at the base id.
	names := ident.TypeNames()
	if len(names) != 4 {
		t.Fatalf("expected 4 type names, got %d", len(names))
	}
	if names[FileTypeIDBase] != "GIF" || names[FileTypeIDBase+3] != "PNG" {
		t.Fatalf("unexpected id assignment: %v", names)
	}

	cases := []MagicRule{
		{Type: "", Offset: 0, Magic: "00"},
		{Type: "BAD", Offset: 0, Magic: "zz"},
		{Type: "EMPTY", Offset: 0, Magic: ""},
	}
	for _, bad := range cases {
		if _, err := NewMagicIdentifier([]MagicRule{bad}); err == nil {
			t.Errorf("expected compile error for %+v", bad)
		}
	}

	// Spaced hex is accepted.
	if _, err := NewMagicIdentifier([]MagicRule{{Type: "SPACED", Magic: "89 50 4E 47"}}); err != nil {
		t.Errorf("spaced pattern rejected: %v", err)
	}
}

func TestMagicSingleFragment(t *testing.T) {
	ident := mustIdentifier(t, testMagicRules())
	names := ident.TypeNames()

	ctx := NewFileContext()
	data := append([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, []byte("IHDR")...)
	id := ident.FindFileTypeID(data, ctx)
	if names[id] != "PNG" {
		t.Fatalf("expected PNG, got id %d (%q)", id, names[id])
	}
}

func TestMagicAcrossFragments(t *testing.T) {
	ident := mustIdentifier(t, testMagicRules())
	names := ident.TypeNames()

	// PNG magic split over three fragments, including a cut inside the pattern.
	ctx := NewFileContext()
	if id := ident.FindFileTypeID([]byte{0x89, 0x50}, ctx); id != FileTypeContinue {
		t.Fatalf("after 2 bytes: got %d, want continue", id)
	}
	if id := ident.FindFileTypeID([]byte{0x4E, 0x47, 0x0D}, ctx); id != FileTypeContinue {
		t.Fatalf("after 5 bytes: got %d, want continue", id)
	}
	id := ident.FindFileTypeID([]byte{0x0A, 0x1A, 0x0A, 0xFF}, ctx)
	if names[id] != "PNG" {
		t.Fatalf("expected PNG, got id %d (%q)", id, names[id])
	}
}

func TestMagicOffsetRule(t *testing.T) {
	ident := mustIdentifier(t, testMagicRules())
	names := ident.TypeNames()

	// The JAR pattern sits at offset 4; the leading bytes kill the offset-0
	// rules, then the pattern arrives in a later fragment.
	ctx := NewFileContext()
	if id := ident.FindFileTypeID([]byte{0x50, 0x4B, 0x03, 0x04}, ctx); id != FileTypeContinue {
		t.Fatalf("prefix: got %d, want continue", id)
	}
	id := ident.FindFileTypeID([]byte{0xCA, 0xFE, 0xBA, 0xBE}, ctx)
	if names[id] != "JAR" {
		t.Fatalf("expected JAR, got id %d (%q)", id, names[id])
	}
}

func TestMagicNoRuleMatches(t *testing.T) {
	ident := mustIdentifier(t, testMagicRules())

	ctx := NewFileContext()
	data := append([]byte("plain text, nothing magic"), make([]byte, 16)...)
	if id := ident.FindFileTypeID(data, ctx); id != FileTypeUnknown {
		t.Fatalf("expected Unknown, got %d", id)
	}
}

func TestMagicMidStreamAttachCannotMatch(t *testing.T) {
	ident := mustIdentifier(t, testMagicRules())

	// The cursor only exists from the first observed fragment; bytes needed
	// before that point are unrecoverable, so offset-0 rules die while the
	// later-offset rule can still resolve.
	ctx := NewFileContext()
	ctx.SetTypeCursor(&magicCursor{pos: 4, alive: map[int]int{0: 0, 1: 0, 2: 0, 3: 0}})
	id := ident.FindFileTypeID([]byte{0xCA, 0xFE, 0xBA, 0xBE}, ctx)
	if ident.TypeNames()[id] != "JAR" {
		t.Fatalf("expected JAR from mid-stream attach, got %d", id)
	}

	ctx = NewFileContext()
	ctx.SetTypeCursor(&magicCursor{pos: 64, alive: map[int]int{0: 0, 1: 0, 2: 0, 3: 0}})
	if id := ident.FindFileTypeID([]byte{0x00, 0x01}, ctx); id != FileTypeUnknown {
		t.Fatalf("expected Unknown when every rule's window has passed, got %d", id)
	}
}

func TestProcessorWithMagicIdentifier(t *testing.T) {
	ident := mustIdentifier(t, testMagicRules())
	proc := NewFileProcessor(ident, DepthLimits{TypeDepth: DefaultTypeDepth, SignatureDepth: DefaultSignatureDepth})

	payload := append([]byte{0x47, 0x49, 0x46, 0x38, 0x39, 0x61}, []byte("gif-body")...)

	// Full transfer and a fragmented transfer of the same bytes must agree on
	// both classification and signature.
	full := NewFileContext()
	proc.Process(full, payload, PositionFull)

	frag := NewFileContext()
	proc.Process(frag, payload[:3], PositionStart)
	proc.Process(frag, payload[3:9], PositionMiddle)
	proc.Process(frag, payload[9:], PositionEnd)

	if full.TypeID() != frag.TypeID() {
		t.Fatalf("type ids diverge: full=%d frag=%d", full.TypeID(), frag.TypeID())
	}
	if ident.TypeNames()[full.TypeID()] != "GIF" {
		t.Fatalf("expected GIF, got %d", full.TypeID())
	}
	if FormatSHA256(full.SHA256()) != FormatSHA256(frag.SHA256()) || full.SHA256() == nil {
		t.Fatalf("signatures diverge: %x vs %x", full.SHA256(), frag.SHA256())
	}
}

func TestFormatSHA256(t *testing.T) {
	digest := make([]byte, SHA256Size)
	for i := range digest {
		digest[i] = byte(i)
	}
	got := FormatSHA256(digest)
	if got[:10] != "0001 0203 " {
		t.Fatalf("unexpected formatting: %q", got)
	}
	if FormatSHA256(nil) != "" || FormatSHA256(digest[:31]) != "" {
		t.Fatalf("short digests must format empty")
	}
}

func TestTypeName(t *testing.T) {
	names := map[uint32]string{FileTypeIDBase: "PNG"}
	if TypeName(names, FileTypeIDBase) != "PNG" {
		t.Fatalf("lookup failed")
	}
	if TypeName(names, FileTypeUnknown) == "" || TypeName(names, FileTypeContinue) == "" {
		t.Fatalf("reserved ids must have descriptions")
	}
	if TypeName(names, 99) != "" {
		t.Fatalf("unassigned id must be empty")
	}
}
