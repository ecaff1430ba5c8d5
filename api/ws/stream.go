package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/norne/arenanav/cache"
	"github.com/norne/arenanav/config"
	"github.com/norne/arenanav/game/ai"
	"github.com/norne/arenanav/game/geom"
	"github.com/norne/arenanav/game/world"
	"github.com/norne/arenanav/resource"
	"go.uber.org/zap"
)

// Packet types.
const (
	TypeState   = "state"         // server: full arena grid
	TypeUpdate  = "arena_updated" // server: world.UpdateEvent
	TypeAdvance = "advance"       // both: steering request and its answer
	TypeTarget  = "target"        // client: set or clear the planner target
	TypeMap     = "map"           // client: ask for a fresh state packet
	TypeError   = "error"         // server: a request failed
)

// StreamHandler serves GET /ws/arenas/:id. Each connection gets the arena
// grid, every later update event, and its own PathPlanner to steer with.
type StreamHandler struct {
	arenas      *world.Registry
	res         *resource.Loader
	ps          cache.PubSub
	plannerOpts []ai.Option
	router      *Router
	logger      *zap.Logger
	upgrader    websocket.Upgrader
}

// NewStreamHandler creates a StreamHandler. sec.AllowedOrigins controls which
// WebSocket origins are accepted; an empty list permits all of them.
func NewStreamHandler(
	arenas *world.Registry,
	res *resource.Loader,
	ps cache.PubSub,
	plannerOpts []ai.Option,
	sec config.SecurityConfig,
	logger *zap.Logger,
) *StreamHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &StreamHandler{
		arenas:      arenas,
		res:         res,
		ps:          ps,
		plannerOpts: plannerOpts,
		router:      NewRouter(logger),
		logger:      logger,
	}
	allowed := sec.AllowedOrigins
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, o := range allowed {
				if o == origin {
					return true
				}
			}
			return false
		},
	}
	h.router.On(TypeMap, h.handleMap)
	h.router.On(TypeTarget, h.handleTarget)
	h.router.On(TypeAdvance, h.handleAdvance)
	return h
}

func (h *StreamHandler) lookup(id string) (*world.Arena, error) {
	if a, err := h.arenas.Get(id); err == nil {
		return a, nil
	}
	if h.res == nil || h.res.Layout(id) == nil {
		return nil, world.ErrArenaNotFound
	}
	return h.arenas.GetOrCreate(id)
}

// ServeWS upgrades the request and runs the session until the peer leaves.
func (h *StreamHandler) ServeWS(c *gin.Context) {
	a, err := h.lookup(c.Param("id"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, world.ErrArenaNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", zap.Error(err))
		return
	}

	var planner *ai.PathPlanner
	a.With(func(w *world.WorldModel) { planner = ai.NewPlanner(w, h.plannerOpts...) })
	s := NewSession(a.ID, conn, planner, h.logger)
	s.Send(TypeState, a.Snapshot())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if h.ps != nil {
		msgs, unsubscribe, err := h.ps.Subscribe(ctx, world.UpdatesChannel(a.ID))
		if err != nil {
			h.logger.Warn("ws subscribe failed", zap.String("arena", a.ID), zap.Error(err))
		} else {
			defer unsubscribe()
			go h.forward(s, msgs)
		}
	}

	h.logger.Info("stream connected", zap.String("arena", a.ID), zap.String("session", s.ID))
	h.readPump(s)
	h.logger.Info("stream disconnected", zap.String("arena", a.ID), zap.String("session", s.ID))
}

// forward relays arena update events to the session until either side ends.
func (h *StreamHandler) forward(s *Session, msgs <-chan *cache.Message) {
	for {
		select {
		case m, ok := <-msgs:
			if !ok {
				return
			}
			s.MarkStale()
			s.SendPacket(&Packet{Type: TypeUpdate, Payload: json.RawMessage(m.Payload)})
		case <-s.Done:
			return
		}
	}
}

func (h *StreamHandler) readPump(s *Session) {
	defer s.Close()

	s.SetReadDeadline()
	s.Conn.SetPongHandler(func(string) error {
		s.SetReadDeadline()
		return nil
	})

	for {
		_, raw, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived) {
				h.logger.Warn("ws unexpected close", zap.String("session", s.ID), zap.Error(err))
			}
			return
		}
		s.SetReadDeadline()
		h.router.Dispatch(s, raw)
	}
}

func (h *StreamHandler) handleMap(_ context.Context, s *Session, _ json.RawMessage) error {
	a, err := h.arenas.Get(s.ArenaID)
	if err != nil {
		return err
	}
	s.Send(TypeState, a.Snapshot())
	return nil
}

type targetRequest struct {
	Target *[2]float64 `json:"target"`
}

// handleTarget points the planner at a new target. A null target clears it,
// so the next advance without a target fails with no_target.
func (h *StreamHandler) handleTarget(_ context.Context, s *Session, payload json.RawMessage) error {
	var req targetRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return err
	}
	if req.Target == nil {
		s.Planner.ClearTarget()
		return nil
	}
	s.Planner.SetTarget(geom.Vec(req.Target[0], req.Target[1]))
	return nil
}

type advanceRequest struct {
	Pos    [2]float64  `json:"pos"`
	Target *[2]float64 `json:"target,omitempty"`
	Speed  float64     `json:"speed"`
	DT     float64     `json:"dt"`
}

type advanceReply struct {
	Next     [2]float64 `json:"next"`
	Arrived  bool       `json:"arrived"`
	State    string     `json:"state"`
	Plans    int        `json:"plans"`
	Expanded int        `json:"expanded"`
}

// handleAdvance runs one planner tick for the agent at Pos.
func (h *StreamHandler) handleAdvance(_ context.Context, s *Session, payload json.RawMessage) error {
	var req advanceRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return err
	}
	a, err := h.arenas.Get(s.ArenaID)
	if err != nil {
		return err
	}
	if req.Target != nil {
		s.Planner.SetTarget(geom.Vec(req.Target[0], req.Target[1]))
	}
	if s.takeStale() {
		s.Planner.ForceRecompute()
	}

	var (
		next    [2]float64
		arrived bool
		advErr  error
	)
	a.With(func(w *world.WorldModel) {
		v, ok, err := s.Planner.Advance(geom.Vec(req.Pos[0], req.Pos[1]), w, req.Speed, req.DT)
		next, arrived, advErr = [2]float64{v[0], v[1]}, ok, err
	})
	if advErr != nil {
		return advErr
	}
	st := s.Planner.Stats()
	s.Send(TypeAdvance, advanceReply{
		Next:     next,
		Arrived:  arrived,
		State:    s.Planner.State().String(),
		Plans:    st.Plans,
		Expanded: st.Expanded,
	})
	return nil
}

func errCode(err error) string {
	switch {
	case errors.Is(err, ai.ErrTargetUnreachable):
		return "unreachable"
	case errors.Is(err, ai.ErrNoPathFound):
		return "no_path"
	case errors.Is(err, ai.ErrNoTarget):
		return "no_target"
	case errors.Is(err, world.ErrArenaNotFound):
		return "arena_gone"
	}
	return ""
}
