package flowsentry

import (
	"time"
)

// Verdict is the result of evaluating a single rule option against a packet.
type Verdict int

const (
	NoMatch Verdict = iota
	Match
)

// Packet is the read-only view of one reassembled unit of traffic handed to
// the detection core. The core never mutates it.
type Packet struct {
	SrcIP        string
	DstIP        string
	HasTransport bool
	Payload      []byte
}

// RuleOption is implemented by every signature-matching predicate. Options
// are immutable after construction; Hash and Equals are structural so the
// rule compiler can deduplicate identical predicates.
type RuleOption interface {
	Name() string
	Hash() uint32
	Equals(other RuleOption) bool
	Eval(p *Packet) Verdict
}

// OptionFactory builds a RuleOption from the raw argument string of a rule.
type OptionFactory func(args string) (RuleOption, error)

// TypeLookup resolves file content to a type identifier. Implementations may
// keep per-file matching state on the context's identification cursor. The
// fragment passed in never extends past the identification depth budget.
type TypeLookup interface {
	FindFileTypeID(data []byte, ctx *FileContext) uint32
}

// EventStore persists detection and file events for downstream consumers.
type EventStore interface {
	SaveAlert(ev *AlertEvent) error
	SaveFileEvent(ev *FileEvent) error
	RecentAlerts(limit int) ([]*AlertEvent, error)
	RecentFileEvents(limit int) ([]*FileEvent, error)
	HealthCheck() error
	Close() error
}

// AlertEvent records a single rule-option match.
type AlertEvent struct {
	ID       string    `db:"id" json:"id"`
	Rule     string    `db:"rule" json:"rule"`
	Option   string    `db:"option" json:"option"`
	Source   string    `db:"source" json:"source"`
	SrcIP    string    `db:"src_ip" json:"srcIP"`
	DstIP    string    `db:"dst_ip" json:"dstIP"`
	Recorded time.Time `db:"recorded" json:"recorded"`
}

// FileEvent records a completed file observation: resolved type and, when the
// signature depth allowed it, the raw 32-byte SHA-256.
type FileEvent struct {
	ID       string    `db:"id" json:"id"`
	Source   string    `db:"source" json:"source"`
	FileName string    `db:"file_name" json:"fileName"`
	FileSize uint64    `db:"file_size" json:"fileSize"`
	TypeID   uint32    `db:"type_id" json:"typeID"`
	TypeName string    `db:"type_name" json:"typeName"`
	SHA256   []byte    `db:"sha256" json:"sha256,omitempty"`
	Upload   bool      `db:"upload" json:"upload"`
	Recorded time.Time `db:"recorded" json:"recorded"`
}

// MetricsCollector interface for observability.
type MetricsCollector interface {
	IncrementCounter(name string, labels map[string]string)
	ObserveHistogram(name string, value float64, labels map[string]string)
	SetGauge(name string, value float64, labels map[string]string)
	HealthCheck() error
	ExportPrometheus() string
}
