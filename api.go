package flowsentry

import (
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/oarkflow/log"
	"golang.org/x/crypto/bcrypt"
)

// ControlServer is the HTTP surface a management actor uses to drive running
// analyzers: pause/resume/rotate/stop, trigger configuration swaps, inspect
// state and recent events.
type ControlServer struct {
	app     *fiber.App
	watcher *ConfigWatcher
	store   EventStore
	metrics MetricsCollector
	ledger  *DetectionLedger
	logger  *log.Logger

	// adminHash is the bcrypt hash of the admin token; empty disables auth
	// (local development only).
	adminHash []byte

	mu        sync.RWMutex
	analyzers map[string]*Analyzer
	sources   map[string]*ChanSource
}

type ControlServerOptions struct {
	Watcher   *ConfigWatcher
	Store     EventStore
	Metrics   MetricsCollector
	Ledger    *DetectionLedger
	Logger    *log.Logger
	AdminHash []byte
}

func NewControlServer(opts ControlServerOptions) *ControlServer {
	logger := opts.Logger
	if logger == nil {
		logger = &log.DefaultLogger
	}
	s := &ControlServer{
		watcher:   opts.Watcher,
		store:     opts.Store,
		metrics:   opts.Metrics,
		ledger:    opts.Ledger,
		logger:    logger,
		adminHash: opts.AdminHash,
		analyzers: make(map[string]*Analyzer),
		sources:   make(map[string]*ChanSource),
	}

	s.app = fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})
	s.routes()
	return s
}

// Register exposes an analyzer (and optionally its ingest source) through the
// control surface.
func (s *ControlServer) Register(a *Analyzer, src *ChanSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analyzers[a.Source()] = a
	if src != nil {
		s.sources[a.Source()] = src
	}
}

func (s *ControlServer) analyzer(source string) (*Analyzer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.analyzers[source]
	return a, ok
}

func (s *ControlServer) authMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if len(s.adminHash) == 0 {
			return c.Next()
		}
		token := c.Get("X-Admin-Token")
		if token == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing admin token")
		}
		if err := bcrypt.CompareHashAndPassword(s.adminHash, []byte(token)); err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid admin token")
		}
		return c.Next()
	}
}

func (s *ControlServer) routes() {
	s.app.Get("/healthz", func(c *fiber.Ctx) error {
		if s.store != nil {
			if err := s.store.HealthCheck(); err != nil {
				return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
			}
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	v1 := s.app.Group("/v1", s.authMiddleware())

	v1.Get("/analyzers", func(c *fiber.Ctx) error {
		s.mu.RLock()
		defer s.mu.RUnlock()
		out := make([]fiber.Map, 0, len(s.analyzers))
		for _, a := range s.analyzers {
			out = append(out, fiber.Map{
				"source":      a.Source(),
				"state":       a.State().String(),
				"count":       a.Count(),
				"done":        a.Done(),
				"swapPending": a.SwapPending(),
			})
		}
		return c.JSON(out)
	})

	v1.Post("/analyzers/:source/:command", s.handleCommand)

	v1.Post("/reload", func(c *fiber.Ctx) error {
		if s.watcher == nil {
			return fiber.NewError(fiber.StatusNotImplemented, "no config watcher attached")
		}
		if err := s.watcher.Reload(); err != nil {
			return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
		}
		return c.JSON(fiber.Map{"status": "swap dispatched"})
	})

	v1.Get("/alerts", func(c *fiber.Ctx) error {
		alerts, err := s.store.RecentAlerts(c.QueryInt("limit", 100))
		if err != nil {
			return err
		}
		return c.JSON(alerts)
	})

	v1.Get("/files", func(c *fiber.Ctx) error {
		events, err := s.store.RecentFileEvents(c.QueryInt("limit", 100))
		if err != nil {
			return err
		}
		out := make([]fiber.Map, 0, len(events))
		for _, ev := range events {
			entry := fiber.Map{
				"id":       ev.ID,
				"source":   ev.Source,
				"fileName": ev.FileName,
				"fileSize": ev.FileSize,
				"typeID":   ev.TypeID,
				"typeName": ev.TypeName,
				"upload":   ev.Upload,
				"recorded": ev.Recorded,
			}
			if len(ev.SHA256) == SHA256Size {
				entry["sha256"] = FormatSHA256(ev.SHA256)
			}
			out = append(out, entry)
		}
		return c.JSON(out)
	})

	v1.Get("/summary", func(c *fiber.Ctx) error {
		if s.ledger == nil {
			return c.JSON(DetectionSummary{})
		}
		return c.JSON(s.ledger.Summary())
	})

	v1.Get("/metrics", func(c *fiber.Ctx) error {
		if s.metrics == nil {
			return c.SendString("")
		}
		c.Set(fiber.HeaderContentType, "text/plain; version=0.0.4")
		return c.SendString(s.metrics.ExportPrometheus())
	})

	v1.Post("/ingest/:source", s.handleIngest)
}

func (s *ControlServer) handleCommand(c *fiber.Ctx) error {
	a, ok := s.analyzer(c.Params("source"))
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "unknown analyzer")
	}

	var cmd AnalyzerCommand
	switch c.Params("command") {
	case "stop":
		cmd = CommandStop
	case "pause":
		cmd = CommandPause
	case "resume":
		cmd = CommandResume
	case "rotate":
		cmd = CommandRotate
	default:
		return fiber.NewError(fiber.StatusBadRequest,
			fmt.Sprintf("unknown command %q", c.Params("command")))
	}

	a.Execute(cmd)
	s.logger.Info().Str("source", a.Source()).Str("command", cmd.String()).Msg("command posted")
	return c.JSON(fiber.Map{"source": a.Source(), "command": cmd.String()})
}

type ingestRequest struct {
	SrcIP        string `json:"srcIP"`
	DstIP        string `json:"dstIP"`
	HasTransport *bool  `json:"hasTransport"`
	Payload      string `json:"payload"` // base64
}

func (s *ControlServer) handleIngest(c *fiber.Ctx) error {
	s.mu.RLock()
	src, ok := s.sources[c.Params("source")]
	s.mu.RUnlock()
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "source does not accept ingest")
	}

	var req ingestRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	payload, err := base64.StdEncoding.DecodeString(req.Payload)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "payload must be base64")
	}

	pkt := &Packet{
		SrcIP:        req.SrcIP,
		DstIP:        req.DstIP,
		HasTransport: true,
		Payload:      payload,
	}
	if req.HasTransport != nil {
		pkt.HasTransport = *req.HasTransport
	}

	if !src.Push(pkt) {
		return fiber.NewError(fiber.StatusTooManyRequests, "source saturated")
	}
	return c.JSON(fiber.Map{"status": "queued"})
}

// Listen serves the control API until Shutdown.
func (s *ControlServer) Listen(addr string) error {
	return s.app.Listen(addr)
}

func (s *ControlServer) Shutdown() error {
	return s.app.Shutdown()
}

// HashAdminToken prepares the bcrypt hash stored in configuration for the
// control API token.
func HashAdminToken(token string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
}
