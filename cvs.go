package flowsentry

import (
	"bytes"
	"strings"
)

// CVS protocol validator. Detects the malformed Entry argument behind
// Bugtraq-10384 / CVE-2004-0396 ("Malformed Entry Modified and Unchanged
// flag insertion"): an Entry whose third slash is followed by anything other
// than '/' or '+' triggers a server-side heap overflow when combined with
// repeated Is-Modified commands.
//
// Rule usage: cvs: invalid-entry;

const cvsOptionName = "cvs"

const (
	cvsCommandDelimiter = '\n'
	cvsCommandSeparator = ' '

	cvsConfInvalidEntry = "invalid-entry"

	cvsEntryCommand = "Entry"
)

type cvsCheck int

const (
	cvsInvalidEntry cvsCheck = iota + 1
)

// CVSOption is the RuleOption for the cvs keyword. Immutable after
// construction.
type CVSOption struct {
	check cvsCheck
}

func init() {
	RegisterOption(cvsOptionName, newCVSOption)
}

func newCVSOption(args string) (RuleOption, error) {
	toks := strings.Fields(args)
	if len(toks) != 1 {
		return nil, &ConfigError{
			Option: cvsOptionName,
			Reason: "expects exactly one argument",
		}
	}
	if !strings.EqualFold(toks[0], cvsConfInvalidEntry) {
		return nil, &ConfigError{
			Option: cvsOptionName,
			Token:  toks[0],
			Reason: "invalid argument",
		}
	}
	return &CVSOption{check: cvsInvalidEntry}, nil
}

func (o *CVSOption) Name() string { return cvsOptionName }

func (o *CVSOption) Hash() uint32 {
	a, b, c := uint32(o.check), mixSeed, mixSeed
	a, b, c = mixString(a, b, c, o.Name())
	return finalMix(a, b, c)
}

func (o *CVSOption) Equals(other RuleOption) bool {
	rhs, ok := other.(*CVSOption)
	if !ok {
		return false
	}
	return o.check == rhs.check
}

// Eval scans the payload one line at a time. Malformed or truncated content
// never produces an error, only a conservative NoMatch.
func (o *CVSOption) Eval(p *Packet) Verdict {
	if p == nil || !p.HasTransport || len(p.Payload) == 0 {
		return NoMatch
	}
	return o.decode(p.Payload)
}

// decode walks the payload line by line and applies the configured check to
// each command/argument pair.
func (o *CVSOption) decode(data []byte) Verdict {
	for line := 0; line < len(data); {
		eol, eolm := cvsGetEOL(data, line)

		cmd, arg, hasArg := cvsGetCommand(data[line:eolm])

		switch o.check {
		case cvsInvalidEntry:
			if string(cmd) == cvsEntryCommand {
				// An invalid Entry on the final line is inconclusive: the
				// argument may simply be cut off at the capture boundary.
				if !cvsValidEntry(arg, hasArg) && eol < len(data) {
					return Match
				}
			}
		}

		line = eol
	}
	return NoMatch
}

// cvsGetEOL finds the end of the current line. eolm marks the delimiter (or
// end of data), eol the first byte of the next line.
func cvsGetEOL(data []byte, start int) (eol, eolm int) {
	idx := bytes.IndexByte(data[start:], cvsCommandDelimiter)
	if idx < 0 {
		return len(data), len(data)
	}
	eolm = start + idx
	return eolm + 1, eolm
}

// cvsGetCommand splits a line at the first space into command and argument.
// A line with no space has no argument at all.
func cvsGetCommand(line []byte) (cmd, arg []byte, hasArg bool) {
	sep := bytes.IndexByte(line, cvsCommandSeparator)
	if sep < 0 {
		return line, nil, false
	}
	return line[:sep], line[sep+1:], true
}

// cvsValidEntry checks an Entry argument. A well formed entry looks like
// /file/version/// (e.g. '/cvs.c/1.5///'): exactly 5 slashes, with nothing
// but '/' or '+' immediately after the third. An absent argument is not
// itself a violation.
func cvsValidEntry(arg []byte, hasArg bool) bool {
	if !hasArg {
		return true
	}

	slashes := 0
	for i := 0; i < len(arg); {
		// The byte after the 3rd slash is where the overflow fires when it
		// carries attacker-controlled data.
		if slashes == 3 {
			if arg[i] != '/' && arg[i] != '+' {
				return false
			}
		}
		if arg[i] != '/' {
			next := bytes.IndexByte(arg[i:], '/')
			if next < 0 {
				break
			}
			i += next
		}
		slashes++
		i++
	}

	return slashes == 5
}
