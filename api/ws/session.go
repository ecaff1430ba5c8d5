package ws

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/norne/arenanav/game/ai"
	"go.uber.org/zap"
)

const (
	sendChanBuf   = 256
	writeDeadline = 10 * time.Second
	readDeadline  = 60 * time.Second
	pingInterval  = 30 * time.Second
)

// Packet is the WS message envelope in both directions.
type Packet struct {
	Seq     uint64          `json:"seq"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Session is one agent connection watching an arena. It owns the agent's
// PathPlanner, so the cached route survives between advance requests.
type Session struct {
	ID      string
	ArenaID string
	LastSeq uint64
	TraceID string

	Conn     *websocket.Conn
	SendChan chan []byte
	Done     chan struct{}

	closeOnce sync.Once

	// Planner is only touched from the read loop.
	Planner *ai.PathPlanner
	// stale is set when the arena grid changed since the last advance.
	stale atomic.Bool

	logger *zap.Logger
}

// NewSession creates a Session for conn and starts its write pump.
func NewSession(arenaID string, conn *websocket.Conn, planner *ai.PathPlanner, logger *zap.Logger) *Session {
	s := newSession(arenaID, planner, logger)
	s.Conn = conn
	go s.writePump()
	return s
}

func newSession(arenaID string, planner *ai.PathPlanner, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	return &Session{
		ID:       id,
		ArenaID:  arenaID,
		SendChan: make(chan []byte, sendChanBuf),
		Done:     make(chan struct{}),
		Planner:  planner,
		logger:   logger.With(zap.String("session", id), zap.String("arena", arenaID)),
	}
}

// writePump drains SendChan and pings the peer until the session closes.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer s.Conn.Close()
	for {
		select {
		case data := <-s.SendChan:
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Warn("ws write error", zap.Error(err))
				s.Close()
				return
			}
		case <-ticker.C:
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close()
				return
			}
		case <-s.Done:
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			_ = s.Conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Send encodes a packet of the given type and queues it. It never blocks;
// packets are dropped when the queue is full or the session closed.
func (s *Session) Send(msgType string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("ws payload encode failed", zap.String("type", msgType), zap.Error(err))
		return
	}
	s.SendPacket(&Packet{Type: msgType, Payload: raw})
}

// SendPacket queues pkt as is.
func (s *Session) SendPacket(pkt *Packet) {
	if s.IsClosed() {
		return
	}
	data, err := json.Marshal(pkt)
	if err != nil {
		return
	}
	select {
	case s.SendChan <- data:
	case <-s.Done:
	default:
		s.logger.Warn("send channel full, dropping packet", zap.String("type", pkt.Type))
	}
}

// Close signals the write pump to shut down. It is safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.Done) })
}

// IsClosed reports whether Close was called.
func (s *Session) IsClosed() bool {
	select {
	case <-s.Done:
		return true
	default:
		return false
	}
}

// SetReadDeadline pushes the read deadline out by readDeadline.
func (s *Session) SetReadDeadline() {
	_ = s.Conn.SetReadDeadline(time.Now().Add(readDeadline))
}

// MarkStale records that the arena grid changed under the cached route.
func (s *Session) MarkStale() { s.stale.Store(true) }

// takeStale reports and clears the stale mark.
func (s *Session) takeStale() bool { return s.stale.Swap(false) }
