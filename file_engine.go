package flowsentry

import (
	"crypto/sha256"
	"hash"
)

// DigestAccumulator wraps an incremental SHA-256 computation. It is fed an
// arbitrary number of fragments and finalized exactly once; the output is the
// raw 32-byte digest.
type DigestAccumulator struct {
	h hash.Hash
}

func NewDigestAccumulator() *DigestAccumulator {
	return &DigestAccumulator{h: sha256.New()}
}

func (a *DigestAccumulator) Update(data []byte) {
	a.h.Write(data)
}

// Final returns the raw digest bytes.
func (a *DigestAccumulator) Final() []byte {
	return a.h.Sum(nil)
}

// DepthLimits bounds how far into a file each inspection feature looks. The
// two budgets are independent.
type DepthLimits struct {
	TypeDepth      uint64 `json:"typeDepth"`
	SignatureDepth uint64 `json:"signatureDepth"`
}

// clampToDepth applies a feature's depth budget to a fragment. It returns -1
// when the budget is already spent, otherwise the number of in-budget bytes.
func clampToDepth(processed uint64, dataLen int, maxDepth uint64) int {
	if maxDepth == 0 {
		return dataLen
	}
	if processed > maxDepth {
		return -1
	}
	if processed+uint64(dataLen) > maxDepth {
		return int(maxDepth - processed)
	}
	return dataLen
}

// FileIdentificationEngine advances a file's type classification as fragments
// arrive. Classification itself is delegated to the TypeLookup service; the
// engine owns only depth accounting, cursor reset, and position-dependent
// finalization.
type FileIdentificationEngine struct {
	lookup TypeLookup
	limits DepthLimits
}

func NewFileIdentificationEngine(lookup TypeLookup, limits DepthLimits) *FileIdentificationEngine {
	return &FileIdentificationEngine{lookup: lookup, limits: limits}
}

// Identify classifies one fragment. It is a no-op once the type is resolved.
// A file whose identification budget runs out, or whose last fragment still
// leaves the type undecided, ends up Unknown rather than in limbo.
func (e *FileIdentificationEngine) Identify(ctx *FileContext, data []byte, position FilePosition) {
	if ctx == nil {
		return
	}
	if ctx.typeID != FileTypeContinue {
		return
	}

	size := clampToDepth(ctx.processedBytes, len(data), e.limits.TypeDepth)
	if size < 0 {
		ctx.typeID = FileTypeUnknown
		return
	}
	data = data[:size]

	switch position {
	case PositionStart:
		ctx.typeCursor = nil
		ctx.typeID = e.find(data, ctx)
	case PositionMiddle:
		ctx.typeID = e.find(data, ctx)
	case PositionEnd:
		ctx.typeID = e.find(data, ctx)
		if ctx.typeID == FileTypeContinue {
			ctx.typeID = FileTypeUnknown
		}
	case PositionFull:
		ctx.typeCursor = nil
		ctx.typeID = e.find(data, ctx)
		if ctx.typeID == FileTypeContinue {
			ctx.typeID = FileTypeUnknown
		}
	}
}

func (e *FileIdentificationEngine) find(data []byte, ctx *FileContext) uint32 {
	if e.lookup == nil {
		return FileTypeUnknown
	}
	return e.lookup.FindFileTypeID(data, ctx)
}

// FileSignatureEngine computes the SHA-256 of file content as fragments
// arrive, honoring the signature depth budget.
type FileSignatureEngine struct {
	limits DepthLimits
}

func NewFileSignatureEngine(limits DepthLimits) *FileSignatureEngine {
	return &FileSignatureEngine{limits: limits}
}

// Digest feeds one fragment into the file's accumulator. Exceeding the
// signature depth is a silent no-op: the file simply never gets a signature.
func (e *FileSignatureEngine) Digest(ctx *FileContext, data []byte, position FilePosition) {
	if ctx == nil {
		return
	}

	size := clampToDepth(ctx.processedBytes, len(data), e.limits.SignatureDepth)
	if size < 0 {
		return
	}
	data = data[:size]

	switch position {
	case PositionStart:
		ctx.sigState = NewDigestAccumulator()
		ctx.sigState.Update(data)
	case PositionMiddle:
		// A Middle without an observed Start happens after a mid-stream
		// attach; start accumulating from here.
		if ctx.sigState == nil {
			ctx.sigState = NewDigestAccumulator()
		}
		ctx.sigState.Update(data)
	case PositionEnd:
		if ctx.sigState == nil {
			ctx.sigState = NewDigestAccumulator()
		}
		ctx.sigState.Update(data)
		ctx.sha256 = ctx.sigState.Final()
		ctx.sigState = nil
	case PositionFull:
		// Full means the whole file arrived as one unit; any partial state
		// is stale and discarded.
		acc := NewDigestAccumulator()
		acc.Update(data)
		ctx.sha256 = acc.Final()
		ctx.sigState = nil
	}
}

// FileProcessor runs both file engines over each fragment of file-bearing
// flows and keeps the context's processed-byte count in step.
type FileProcessor struct {
	identify *FileIdentificationEngine
	sign     *FileSignatureEngine
}

func NewFileProcessor(lookup TypeLookup, limits DepthLimits) *FileProcessor {
	return &FileProcessor{
		identify: NewFileIdentificationEngine(lookup, limits),
		sign:     NewFileSignatureEngine(limits),
	}
}

// Process handles one fragment in file order. Fragment ordering is the
// reassembly layer's contract; it is assumed, not enforced.
func (p *FileProcessor) Process(ctx *FileContext, data []byte, position FilePosition) {
	if ctx == nil {
		return
	}
	p.identify.Identify(ctx, data, position)
	p.sign.Digest(ctx, data, position)
	ctx.processedBytes += uint64(len(data))
}
