package flowsentry

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/oarkflow/log"
)

// AnalyzerCommand is a control instruction delivered to a running analyzer
// through its single-slot mailbox.
type AnalyzerCommand int32

const (
	CommandNone AnalyzerCommand = iota
	CommandStop
	CommandPause
	CommandResume
	CommandRotate
	CommandSwap
)

func (c AnalyzerCommand) String() string {
	switch c {
	case CommandNone:
		return "none"
	case CommandStop:
		return "stop"
	case CommandPause:
		return "pause"
	case CommandResume:
		return "resume"
	case CommandRotate:
		return "rotate"
	case CommandSwap:
		return "swap"
	}
	return "invalid"
}

// AnalyzerState reflects where the run loop currently is.
type AnalyzerState int32

const (
	StateRunning AnalyzerState = iota
	StatePaused
	StateStopped
)

func (s AnalyzerState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	}
	return "invalid"
}

// RuntimeConfig is the fully-built configuration a unit of work runs under.
type RuntimeConfig struct {
	Limits    DepthLimits
	Rules     []*CompiledRule
	Files     *FileProcessor
	TypeNames map[uint32]string
}

// ConfigHandle wraps a RuntimeConfig with a reference count so a displaced
// configuration stays readable for in-flight work and is retired only when
// nothing references it anymore.
type ConfigHandle struct {
	cfg     *RuntimeConfig
	refs    atomic.Int64
	retired func(*RuntimeConfig)
}

// NewConfigHandle creates a handle holding one owner reference. The retired
// hook runs exactly once, when the count drops to zero.
func NewConfigHandle(cfg *RuntimeConfig, retired func(*RuntimeConfig)) *ConfigHandle {
	h := &ConfigHandle{cfg: cfg, retired: retired}
	h.refs.Add(1)
	return h
}

func (h *ConfigHandle) Config() *RuntimeConfig { return h.cfg }

// Acquire takes an additional reference for a unit of in-flight work.
func (h *ConfigHandle) Acquire() *ConfigHandle {
	h.refs.Add(1)
	return h
}

// Release drops one reference and retires the configuration at zero.
func (h *ConfigHandle) Release() {
	if h.refs.Add(-1) == 0 && h.retired != nil {
		h.retired(h.cfg)
	}
}

// SwapToken hands a replacement configuration to an analyzer. It appears to
// the worker atomically: either absent or fully formed. When the worker
// applies it, the token records the displaced handle before releasing the
// owner reference on it.
type SwapToken struct {
	next *ConfigHandle
	old  *ConfigHandle
}

func NewSwapToken(next *ConfigHandle) *SwapToken {
	return &SwapToken{next: next}
}

// Old returns the handle this token displaced; nil until the swap applied.
func (t *SwapToken) Old() *ConfigHandle { return t.old }

// PacketSource produces units of work for one traffic source.
type PacketSource interface {
	Next(ctx context.Context) (*Packet, error)
}

// Pipeline is the decode/detect stage a unit is dispatched into. It runs
// synchronously on the analyzer's worker under one consistent configuration.
type Pipeline interface {
	ProcessPacket(p *Packet, cfg *RuntimeConfig)
}

// Analyzer drives one traffic source: it pulls units, dispatches them, and
// applies control commands and configuration swaps strictly between units.
type Analyzer struct {
	source   string
	src      PacketSource
	pipeline Pipeline
	logger   *log.Logger

	command atomic.Int32
	swap    atomic.Pointer[SwapToken]
	state   atomic.Int32
	count   atomic.Uint64
	done    atomic.Bool

	// active is touched only by the owning worker.
	active *ConfigHandle

	onRotate func() error
}

// NewAnalyzer builds an analyzer over its packet source. The initial handle
// carries the configuration the first units run under.
func NewAnalyzer(source string, src PacketSource, pipeline Pipeline, initial *ConfigHandle, logger *log.Logger) *Analyzer {
	if logger == nil {
		logger = &log.DefaultLogger
	}
	return &Analyzer{
		source:   source,
		src:      src,
		pipeline: pipeline,
		active:   initial,
		logger:   logger,
	}
}

// SetRotateHook installs the side effect run on a rotate command, typically
// log-writer rotation. Must be set before Run.
func (a *Analyzer) SetRotateHook(fn func() error) { a.onRotate = fn }

// Execute posts a command. The mailbox is a single slot with last-write-wins
// semantics: commands posted faster than the worker polls are dropped, not
// queued.
func (a *Analyzer) Execute(cmd AnalyzerCommand) {
	a.command.Store(int32(cmd))
}

// SetSwap posts a pending configuration swap, independent of the command
// mailbox. A swap still pending is replaced and its configuration released.
func (a *Analyzer) SetSwap(token *SwapToken) {
	prev := a.swap.Swap(token)
	if prev != nil && prev.next != nil {
		prev.next.Release()
	}
}

// SwapPending reports whether a swap is waiting for the next unit boundary.
func (a *Analyzer) SwapPending() bool { return a.swap.Load() != nil }

func (a *Analyzer) Source() string       { return a.source }
func (a *Analyzer) Count() uint64        { return a.count.Load() }
func (a *Analyzer) Done() bool           { return a.done.Load() }
func (a *Analyzer) State() AnalyzerState { return AnalyzerState(a.state.Load()) }

// pauseIdle is how long a paused worker sleeps between command polls.
const pauseIdle = 10 * time.Millisecond

// Run processes units until stopped, the source drains, or ctx is canceled.
// Commands and swaps are honored only at unit boundaries, so every packet is
// processed under exactly one configuration.
func (a *Analyzer) Run(ctx context.Context) {
	defer func() {
		a.state.Store(int32(StateStopped))
		a.done.Store(true)
		if a.active != nil {
			a.active.Release()
			a.active = nil
		}
		a.logger.Info().Str("source", a.source).Uint64("count", a.count.Load()).Msg("analyzer finished")
	}()

	for {
		a.applyPendingSwap()

		if !a.handleCommand(AnalyzerCommand(a.command.Swap(int32(CommandNone)))) {
			return
		}

		if a.State() == StatePaused {
			select {
			case <-ctx.Done():
				return
			case <-time.After(pauseIdle):
			}
			continue
		}

		pkt, err := a.src.Next(ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
				a.logger.Error().Str("source", a.source).Err(err).Msg("packet source failed")
			}
			return
		}
		if pkt == nil {
			continue
		}

		handle := a.active.Acquire()
		a.pipeline.ProcessPacket(pkt, handle.Config())
		handle.Release()
		a.count.Add(1)
	}
}

// handleCommand applies one polled command. Returns false when the analyzer
// must stop.
func (a *Analyzer) handleCommand(cmd AnalyzerCommand) bool {
	switch cmd {
	case CommandNone:
	case CommandStop:
		return false
	case CommandPause:
		a.state.Store(int32(StatePaused))
		a.logger.Info().Str("source", a.source).Msg("analyzer paused")
	case CommandResume:
		if a.State() == StatePaused {
			a.state.Store(int32(StateRunning))
			a.logger.Info().Str("source", a.source).Msg("analyzer resumed")
		}
	case CommandRotate:
		if a.onRotate != nil {
			if err := a.onRotate(); err != nil {
				a.logger.Error().Str("source", a.source).Err(err).Msg("log rotation failed")
			}
		}
	case CommandSwap:
		// Swap delivery rides the token slot; the command form only nudges
		// the worker to look.
	}
	return true
}

// applyPendingSwap installs a waiting configuration at the unit boundary. The
// displaced handle keeps its config alive until in-flight references drain.
func (a *Analyzer) applyPendingSwap() {
	token := a.swap.Swap(nil)
	if token == nil || token.next == nil {
		return
	}

	token.old = a.active
	a.active = token.next
	if token.old != nil {
		token.old.Release()
	}
	a.logger.Info().Str("source", a.source).Msg("configuration swapped")
}
