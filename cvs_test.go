package flowsentry

import (
	"errors"
	"testing"
)

func mustCVS(t *testing.T) RuleOption {
	t.Helper()
	opt, err := newCVSOption("invalid-entry")
	if err != nil {
		t.Fatalf("unexpected construction error: %v", err)
	}
	return opt
}

func TestCVSConstruction(t *testing.T) {
	if _, err := newCVSOption("invalid-entry"); err != nil {
		t.Fatalf("expected construction to succeed: %v", err)
	}
	// The argument is case-insensitive.
	if _, err := newCVSOption("  Invalid-Entry\n"); err != nil {
		t.Fatalf("expected case-insensitive match: %v", err)
	}

	if _, err := newCVSOption(""); err == nil {
		t.Fatalf("expected error for missing argument")
	}
	if _, err := newCVSOption("invalid-entry extra"); err == nil {
		t.Fatalf("expected error for extra argument")
	}

	_, err := newCVSOption("bogus")
	if err == nil {
		t.Fatalf("expected error for unknown argument")
	}
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigError, got %T", err)
	}
	if cfgErr.Token != "bogus" {
		t.Fatalf("expected offending token in error, got %q", cfgErr.Token)
	}
}

func TestCVSEntryArgumentGrammar(t *testing.T) {
	tests := []struct {
		arg   string
		valid bool
	}{
		{"/cvs.c/1.5///", true},    // canonical well-formed entry
		{"/cvs.c/1.5/+//", true},   // merge marker after 3rd slash
		{"/////", true},            // degenerate but 5 slashes, 3rd followed by '/'
		{"/a/1.5///", true},        // short name, still well formed
		{"/cvs.c/1.5/X/", false},   // overflow trigger: 3rd slash followed by data
		{"/x/y/z", false},          // byte after 3rd slash is content
		{"abc/def/ghi/jkl", false}, // same, slashes mid-string
		{"/cvs.c/1.5//", false},    // 4 slashes
		{"/cvs.c/1.5////", false},  // 6 slashes
		{"/cvs.c/1.5/+/", false},   // marker but only 4 slashes
		{"////", false},            // 4 slashes
		{"", false},                // present but empty argument
		{"no slashes here", false}, // 0 slashes
		{"///+/", false},           // marker accepted, count still short
	}

	for _, tt := range tests {
		if got := cvsValidEntry([]byte(tt.arg), true); got != tt.valid {
			t.Errorf("cvsValidEntry(%q) = %v, want %v", tt.arg, got, tt.valid)
		}
	}

	// An absent argument (no space on the line) is not a violation.
	if !cvsValidEntry(nil, false) {
		t.Errorf("absent argument must be valid")
	}
}

func TestCVSEvalGuards(t *testing.T) {
	opt := mustCVS(t)

	if got := opt.Eval(nil); got != NoMatch {
		t.Fatalf("nil packet: got %v", got)
	}
	if got := opt.Eval(&Packet{HasTransport: false, Payload: []byte("Entry /x/y/z\nx")}); got != NoMatch {
		t.Fatalf("no transport: got %v", got)
	}
	if got := opt.Eval(&Packet{HasTransport: true}); got != NoMatch {
		t.Fatalf("empty payload: got %v", got)
	}
}

func TestCVSEvalDetectsInvalidEntry(t *testing.T) {
	opt := mustCVS(t)

	tests := []struct {
		name    string
		payload string
		want    Verdict
	}{
		{"invalid entry followed by next line", "Entry /x/y/z\nnoop\n", Match},
		{"invalid entry followed by one byte", "Entry /x/y/z\nx", Match},
		{"invalid entry on final line without newline", "Entry /x/y/z", NoMatch},
		{"invalid entry on final line with trailing newline", "Entry /x/y/z\n", NoMatch},
		{"valid entry", "Entry /cvs.c/1.5///\nnoop\n", NoMatch},
		{"valid then invalid entry", "Entry /cvs.c/1.5///\nEntry /x/y/z\nnoop\n", Match},
		{"command is case-sensitive", "entry /x/y/z\nnoop\n", NoMatch},
		{"entry without argument", "Entry\nnoop\n", NoMatch},
		{"no entry lines at all", "Directory foo\nArgument bar\n", NoMatch},
		{"lone newlines", "\n\n\n", NoMatch},
	}

	for _, tt := range tests {
		pkt := &Packet{HasTransport: true, Payload: []byte(tt.payload)}
		if got := opt.Eval(pkt); got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestCVSEvalSurvivesArbitraryBytes(t *testing.T) {
	opt := mustCVS(t)

	payloads := [][]byte{
		{0x00},
		{0xff, 0xfe, 0x0a, 0x20, 0x2f},
		[]byte("Entry \nEntry "),
		[]byte(" \n \n \n"),
		[]byte("Entry/////\n\n"),
	}
	for _, payload := range payloads {
		// Must not panic, whatever the verdict.
		opt.Eval(&Packet{HasTransport: true, Payload: payload})
	}
}
