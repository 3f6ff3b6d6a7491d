package flowsentry

import (
	"fmt"
	"strings"
)

// FilePosition tags each fragment delivered to the file engines. A logical
// file is either one Full call or a Start, zero or more Middle, one End
// sequence; the reassembly layer guarantees the ordering, the engines do not
// verify it.
type FilePosition int

const (
	PositionStart FilePosition = iota
	PositionMiddle
	PositionEnd
	PositionFull
)

func (p FilePosition) String() string {
	switch p {
	case PositionStart:
		return "start"
	case PositionMiddle:
		return "middle"
	case PositionEnd:
		return "end"
	case PositionFull:
		return "full"
	}
	return "unknown"
}

// Reserved type identifiers. Assigned type ids from a lookup service start at
// FileTypeIDBase.
const (
	FileTypeContinue uint32 = 0
	FileTypeUnknown  uint32 = 1
	FileTypeIDBase   uint32 = 2
)

// SHA256Size is the length of a finalized file signature.
const SHA256Size = 32

// FileContext carries the per-file state threaded through the identification
// and signature engines as fragments of one logical file arrive. It is owned
// by a single flow and never shared across workers.
type FileContext struct {
	processedBytes uint64
	typeID         uint32

	// typeCursor is owned exclusively by the identification engine; nothing
	// else reads or writes it.
	typeCursor any

	// sigState is owned exclusively by the signature engine. sha256 is set
	// only after an End or Full fragment finalized the digest.
	sigState *DigestAccumulator
	sha256   []byte

	// The name is copied in at first observation: callers reuse their flow
	// buffers across fragment boundaries, so borrowing is not safe here.
	fileName []byte
	fileSize uint64
	upload   bool
}

// NewFileContext returns a context for a file about to be observed.
func NewFileContext() *FileContext {
	return &FileContext{typeID: FileTypeContinue}
}

// Reset returns the context to its initial state for the next file in the
// flow. An in-progress digest that was never finalized is dropped.
func (c *FileContext) Reset() {
	c.processedBytes = 0
	c.typeID = FileTypeContinue
	c.typeCursor = nil
	c.sigState = nil
	c.sha256 = nil
	c.fileName = nil
	c.fileSize = 0
}

// ProcessedBytes reports how much of the file the engines have consumed.
func (c *FileContext) ProcessedBytes() uint64 { return c.processedBytes }

// TypeID returns the current classification state: FileTypeContinue while
// undecided, FileTypeUnknown when identification gave up, otherwise the
// resolved identifier.
func (c *FileContext) TypeID() uint32 { return c.typeID }

// SHA256 returns the finalized 32-byte digest, or nil if the file never
// completed or its signature depth was exceeded.
func (c *FileContext) SHA256() []byte { return c.sha256 }

// SetName stores a copy of the observed file name.
func (c *FileContext) SetName(name []byte) {
	if c == nil || len(name) == 0 {
		return
	}
	c.fileName = append([]byte(nil), name...)
}

// Name returns the stored file name and whether one was observed.
func (c *FileContext) Name() ([]byte, bool) {
	if c == nil || c.fileName == nil {
		return nil, false
	}
	return c.fileName, true
}

func (c *FileContext) SetSize(size uint64) { c.fileSize = size }
func (c *FileContext) Size() uint64        { return c.fileSize }

// SetUpload records the transfer direction: true for upload, false for
// download.
func (c *FileContext) SetUpload(upload bool) { c.upload = upload }
func (c *FileContext) Upload() bool          { return c.upload }

// TypeCursor exposes the identification engine's in-progress state. Only the
// TypeLookup implementation should touch it.
func (c *FileContext) TypeCursor() any          { return c.typeCursor }
func (c *FileContext) SetTypeCursor(cursor any) { c.typeCursor = cursor }

// FormatSHA256 renders a 32-byte digest as uppercase hex in two-byte groups,
// for diagnostics only. Events carry the raw bytes.
func FormatSHA256(digest []byte) string {
	if len(digest) != SHA256Size {
		return ""
	}
	var sb strings.Builder
	for i := 0; i < SHA256Size; i += 2 {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X%02X", digest[i], digest[i+1])
	}
	return sb.String()
}

// TypeName resolves a type identifier to a printable description using the
// provided naming table.
func TypeName(names map[uint32]string, id uint32) string {
	switch id {
	case FileTypeUnknown:
		return "Unknown file type, done"
	case FileTypeContinue:
		return "Undecided file type, continue..."
	}
	if name, ok := names[id]; ok {
		return name
	}
	return ""
}
