package wscapture

import (
	"sync"
	"time"

	"github.com/int3rceptor/interceptor/errs"
)

// Capture is a bounded per-connection and global ring of WebSocket frames.
// Reads take the shared lock, writes take the exclusive lock in a short
// critical section, matching the rest of the core's shared-state policy.
type Capture struct {
	mu          sync.RWMutex
	connections []Connection
	frames      []Frame

	maxFrames        int
	maxFramesPerConn int
	nextID           int64
}

// New builds a Capture with maxFrames as the global cap and the default
// per-connection cap.
func New(maxFrames int) *Capture {
	return &Capture{
		maxFrames:        maxFrames,
		maxFramesPerConn: DefaultMaxFramesPerConnection,
	}
}

// WithLimits builds a Capture with an explicit global and per-connection
// cap.
func WithLimits(maxFrames, maxPerConnection int) *Capture {
	return &Capture{
		maxFrames:        maxFrames,
		maxFramesPerConn: maxPerConnection,
	}
}

// RegisterConnection records a newly established WebSocket connection.
func (c *Capture) RegisterConnection(id, url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connections = append(c.connections, Connection{
		ID:            id,
		URL:           url,
		EstablishedAt: time.Now().Unix(),
	})
}

// CloseConnection marks id as closed, if it exists.
func (c *Capture) CloseConnection(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.connections {
		if c.connections[i].ID == id {
			closedAt := time.Now().Unix()
			c.connections[i].ClosedAt = &closedAt
			return
		}
	}
}

// CaptureFrame records one frame, enforcing the payload size cap and both
// the per-connection and global FIFO eviction caps. It returns the
// assigned frame id, or an *errs.Error (KindWSProtocol) if payload exceeds
// MaxPayloadSize.
func (c *Capture) CaptureFrame(connectionID string, direction Direction, frameType FrameType, payload []byte, masked bool) (int64, error) {
	if len(payload) > MaxPayloadSize {
		return 0, errs.New(errs.KindWSProtocol, "payload exceeds maximum frame size", nil)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	frame := Frame{
		ID:           c.nextID,
		ConnectionID: connectionID,
		Timestamp:    time.Now().Unix(),
		Direction:    direction,
		FrameType:    frameType,
		Payload:      payload,
		Masked:       masked,
	}
	c.frames = append(c.frames, frame)

	// Global cap: evict the oldest frame across all connections.
	if len(c.frames) > c.maxFrames {
		c.frames = c.frames[1:]
	}

	// Per-connection cap: evict this connection's oldest frame.
	connFrameCount := 0
	for _, f := range c.frames {
		if f.ConnectionID == connectionID {
			connFrameCount++
		}
	}
	if connFrameCount > c.maxFramesPerConn {
		for i, f := range c.frames {
			if f.ConnectionID == connectionID {
				c.frames = append(c.frames[:i], c.frames[i+1:]...)
				break
			}
		}
	}

	for i := range c.connections {
		if c.connections[i].ID == connectionID {
			c.connections[i].FramesCount++
			break
		}
	}

	return frame.ID, nil
}

// Connections returns a copy of every registered connection.
func (c *Capture) Connections() []Connection {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Connection, len(c.connections))
	copy(out, c.connections)
	return out
}

// Frames returns a copy of every frame captured for connectionID.
func (c *Capture) Frames(connectionID string) []Frame {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Frame
	for _, f := range c.frames {
		if f.ConnectionID == connectionID {
			out = append(out, f)
		}
	}
	return out
}

// AllFrames returns a copy of every captured frame.
func (c *Capture) AllFrames() []Frame {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Frame, len(c.frames))
	copy(out, c.frames)
	return out
}

// Clear discards all captured connections and frames.
func (c *Capture) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connections = nil
	c.frames = nil
}

// MemoryStats reports current capture memory usage.
func (c *Capture) MemoryStats() MemoryStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	totalPayload := 0
	for _, f := range c.frames {
		totalPayload += len(f.Payload)
	}

	perConn := make([]ConnectionMemoryStats, 0, len(c.connections))
	for _, conn := range c.connections {
		frameCount, payloadBytes := 0, 0
		for _, f := range c.frames {
			if f.ConnectionID == conn.ID {
				frameCount++
				payloadBytes += len(f.Payload)
			}
		}
		perConn = append(perConn, ConnectionMemoryStats{
			ConnectionID:    conn.ID,
			FrameCount:      frameCount,
			PayloadBytes:    payloadBytes,
			LimitPercentage: percent(frameCount, c.maxFramesPerConn),
		})
	}

	return MemoryStats{
		TotalFrames:           len(c.frames),
		MaxFrames:             c.maxFrames,
		TotalPayloadBytes:     totalPayload,
		TotalConnections:      len(c.connections),
		PerConnection:         perConn,
		GlobalLimitPercentage: percent(len(c.frames), c.maxFrames),
	}
}

// IsMemoryCritical reports whether total frame usage exceeds 80% of the
// global cap.
func (c *Capture) IsMemoryCritical() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return percent(len(c.frames), c.maxFrames) > 80
}

func percent(n, max int) float64 {
	if max <= 0 {
		return 0
	}
	return float64(n) / float64(max) * 100
}
