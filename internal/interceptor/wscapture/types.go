// Package wscapture implements WsCapture (C12): a bounded per-connection and
// global ring of WebSocket frames, plus the pure opcode/mask helpers needed
// to decode frames off the wire.
package wscapture

// DefaultMaxFramesPerConnection bounds how many frames one connection may
// retain before the oldest is evicted.
const DefaultMaxFramesPerConnection = 1_000

// DefaultMaxTotalFrames bounds how many frames the capture retains across
// every connection combined.
const DefaultMaxTotalFrames = 10_000

// MaxPayloadSize rejects any single frame payload larger than this.
const MaxPayloadSize = 10 * 1024 * 1024

// FrameType identifies a WebSocket opcode's semantic meaning.
type FrameType string

const (
	FrameText   FrameType = "text"
	FrameBinary FrameType = "binary"
	FramePing   FrameType = "ping"
	FramePong   FrameType = "pong"
	FrameClose  FrameType = "close"
)

// Direction records which side of the connection originated a frame.
type Direction string

const (
	DirectionClientToServer Direction = "client_to_server"
	DirectionServerToClient Direction = "server_to_client"
)

// Frame is one captured WebSocket frame.
type Frame struct {
	ID           int64
	ConnectionID string
	Timestamp    int64
	Direction    Direction
	FrameType    FrameType
	Payload      []byte
	Masked       bool
}

// Connection is the metadata tracked for one WebSocket upgrade.
type Connection struct {
	ID            string
	URL           string
	EstablishedAt int64
	ClosedAt      *int64
	FramesCount   int
}

// MemoryStats summarizes current capture memory usage.
type MemoryStats struct {
	TotalFrames           int
	MaxFrames             int
	TotalPayloadBytes     int
	TotalConnections      int
	PerConnection         []ConnectionMemoryStats
	GlobalLimitPercentage float64
}

// ConnectionMemoryStats summarizes one connection's memory usage.
type ConnectionMemoryStats struct {
	ConnectionID    string
	FrameCount      int
	PayloadBytes    int
	LimitPercentage float64
}
