package flowsentry

import (
	"context"
	"io"
	"sync"
)

// ChanSource is a PacketSource fed by another goroutine, e.g. a capture
// front-end or the control API's ingest endpoint.
type ChanSource struct {
	ch     chan *Packet
	closed sync.Once
	done   chan struct{}
}

func NewChanSource(buffer int) *ChanSource {
	if buffer <= 0 {
		buffer = 1024
	}
	return &ChanSource{
		ch:   make(chan *Packet, buffer),
		done: make(chan struct{}),
	}
}

// Push enqueues a packet without blocking. Returns false when the source is
// saturated or closed; the caller decides whether dropping is acceptable.
func (s *ChanSource) Push(p *Packet) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.ch <- p:
		return true
	default:
		return false
	}
}

// Close drains the source: Next returns io.EOF after the buffered packets
// are consumed.
func (s *ChanSource) Close() {
	s.closed.Do(func() { close(s.done) })
}

func (s *ChanSource) Next(ctx context.Context) (*Packet, error) {
	select {
	case p := <-s.ch:
		return p, nil
	default:
	}
	select {
	case p := <-s.ch:
		return p, nil
	case <-s.done:
		// Buffered packets first, then EOF.
		select {
		case p := <-s.ch:
			return p, nil
		default:
			return nil, io.EOF
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SliceSource replays a fixed set of packets, then reports EOF. Used by
// tests and offline runs.
type SliceSource struct {
	mu      sync.Mutex
	packets []*Packet
}

func NewSliceSource(packets ...*Packet) *SliceSource {
	return &SliceSource{packets: packets}
}

func (s *SliceSource) Next(ctx context.Context) (*Packet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.packets) == 0 {
		return nil, io.EOF
	}
	p := s.packets[0]
	s.packets = s.packets[1:]
	return p, nil
}
