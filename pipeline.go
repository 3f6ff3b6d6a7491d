package flowsentry

import (
	"time"

	"github.com/google/uuid"
	"github.com/oarkflow/log"
)

// DetectionPipeline is the dispatch stage between the analyzer and the rule
// options: every unit is evaluated against the compiled rule set of the
// configuration it was dispatched under.
type DetectionPipeline struct {
	source  string
	store   EventStore
	ledger  *DetectionLedger
	metrics MetricsCollector
	logger  *log.Logger
}

func NewDetectionPipeline(source string, store EventStore, ledger *DetectionLedger, metrics MetricsCollector, logger *log.Logger) *DetectionPipeline {
	if logger == nil {
		logger = &log.DefaultLogger
	}
	return &DetectionPipeline{
		source:  source,
		store:   store,
		ledger:  ledger,
		metrics: metrics,
		logger:  logger,
	}
}

// ProcessPacket runs every rule option against the packet. Option evaluation
// never fails; a rule either matches or it does not.
func (dp *DetectionPipeline) ProcessPacket(p *Packet, cfg *RuntimeConfig) {
	if p == nil || cfg == nil {
		return
	}

	for _, rule := range cfg.Rules {
		if rule.Option.Eval(p) != Match {
			continue
		}

		ev := &AlertEvent{
			ID:       uuid.NewString(),
			Rule:     rule.Name,
			Option:   rule.Option.Name(),
			Source:   dp.source,
			SrcIP:    p.SrcIP,
			DstIP:    p.DstIP,
			Recorded: time.Now(),
		}

		if dp.store != nil {
			if err := dp.store.SaveAlert(ev); err != nil {
				dp.logger.Error().Str("rule", rule.Name).Err(err).Msg("failed to persist alert")
			}
		}
		if dp.ledger != nil {
			dp.ledger.Record(ev)
		}
		if dp.metrics != nil {
			dp.metrics.IncrementCounter("rule_match_total", map[string]string{
				"rule":   rule.Name,
				"option": rule.Option.Name(),
				"source": dp.source,
			})
		}
		dp.logger.Warn().
			Str("rule", rule.Name).
			Str("option", rule.Option.Name()).
			Str("src", p.SrcIP).
			Str("dst", p.DstIP).
			Msg("rule matched")
	}
}

// FileFlow tracks one logical file inside a flow, feeding its fragments to
// the file engines and emitting a FileEvent when the file completes.
type FileFlow struct {
	source  string
	ctx     *FileContext
	store   EventStore
	metrics MetricsCollector
	logger  *log.Logger
}

func NewFileFlow(source string, store EventStore, metrics MetricsCollector, logger *log.Logger) *FileFlow {
	if logger == nil {
		logger = &log.DefaultLogger
	}
	return &FileFlow{
		source:  source,
		ctx:     NewFileContext(),
		store:   store,
		metrics: metrics,
		logger:  logger,
	}
}

// Context exposes the per-file state, e.g. so callers can set name, size and
// direction when the protocol layer announces them.
func (f *FileFlow) Context() *FileContext { return f.ctx }

// BeginFile discards any state left over from a file the flow abandoned
// mid-transfer. Call it before announcing metadata for the next file.
func (f *FileFlow) BeginFile() {
	f.ctx.Reset()
}

// OnFragment processes one fragment under the given configuration. Start and
// Full begin a new file; End and Full complete it and reset the context for
// the next file in the flow.
func (f *FileFlow) OnFragment(cfg *RuntimeConfig, data []byte, position FilePosition) {
	if cfg == nil || cfg.Files == nil {
		return
	}

	cfg.Files.Process(f.ctx, data, position)

	if position == PositionEnd || position == PositionFull {
		f.emit(cfg)
		f.ctx.Reset()
	}
}

func (f *FileFlow) emit(cfg *RuntimeConfig) {
	ev := &FileEvent{
		ID:       uuid.NewString(),
		Source:   f.source,
		FileSize: f.ctx.Size(),
		TypeID:   f.ctx.TypeID(),
		TypeName: TypeName(cfg.TypeNames, f.ctx.TypeID()),
		Upload:   f.ctx.Upload(),
		Recorded: time.Now(),
	}
	if name, ok := f.ctx.Name(); ok {
		ev.FileName = string(name)
	}
	if digest := f.ctx.SHA256(); digest != nil {
		ev.SHA256 = append([]byte(nil), digest...)
	}

	if f.store != nil {
		if err := f.store.SaveFileEvent(ev); err != nil {
			f.logger.Error().Str("file", ev.FileName).Err(err).Msg("failed to persist file event")
		}
	}
	if f.metrics != nil {
		f.metrics.IncrementCounter("file_event_total", map[string]string{
			"type":   ev.TypeName,
			"source": f.source,
		})
	}
}
