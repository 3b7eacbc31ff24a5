package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/headsoccer/matchserver/internal/apperrors"
	"github.com/headsoccer/matchserver/internal/conn"
	"github.com/headsoccer/matchserver/internal/config"
	"github.com/headsoccer/matchserver/internal/domain"
	"github.com/headsoccer/matchserver/internal/events"
	"github.com/headsoccer/matchserver/internal/gameend"
	"github.com/headsoccer/matchserver/internal/gameplay"
	"github.com/headsoccer/matchserver/internal/matchevents"
	"github.com/headsoccer/matchserver/internal/player"
	"github.com/headsoccer/matchserver/internal/protocol"
	"github.com/headsoccer/matchserver/internal/queue"
	"github.com/headsoccer/matchserver/internal/room"
	"github.com/headsoccer/matchserver/internal/store"
	"github.com/headsoccer/matchserver/internal/validate"
)

var errClosed = errors.New("socket closed")

// Server owns every long-lived component and the indices gluing them
// together: the player registry, the room registry, and the socket manager.
// Grounded on the teacher's GameServer, split across matchmaking/gameplay/
// game-end handlers instead of one monolithic dispatch switch.
type Server struct {
	cfg *config.Config
	log zerolog.Logger

	upgrader websocket.Upgrader
	codec    *protocol.Codec
	pool     *pgxpool.Pool

	playersMu sync.RWMutex
	players   map[string]*player.Player

	conn     *conn.Manager
	registry *events.Registry
	limiter  *events.RateLimiter
	pipeline *events.Pipeline
	mm       *queue.Matchmaker
	mevents  *matchevents.Handler
	gplay    *gameplay.Handler
	gend     *gameend.Processor
	sstore   *store.Store

	roomsMu     sync.RWMutex
	activeRooms map[string]*room.Room
	playerRoom  map[string]string

	ctx context.Context
}

func NewServer(cfg *config.Config, pool *pgxpool.Pool, cache store.Cache, log zerolog.Logger) *Server {
	s := &Server{
		cfg:         cfg,
		log:         log,
		codec:       protocol.NewCodec(),
		pool:        pool,
		players:     make(map[string]*player.Player),
		activeRooms: make(map[string]*room.Room),
		playerRoom:  make(map[string]string),
		ctx:         context.Background(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return cfg.EnableCORS
		},
	}

	s.conn = conn.NewWithCache(cfg.Connection.MaxConnections, cfg.Connection.HeartbeatInterval,
		cfg.Connection.ConnectionTimeout, cfg.Connection.ReconnectGrace, cache, log)
	s.registry = events.NewRegistry()
	s.limiter = events.NewRateLimiterWithCache(cache)
	s.sstore = store.New(pool, cfg.GameEnd, log)
	s.gend = gameend.New(s.conn, s.sstore, cfg.GameEnd, s.cleanupRoom, s.applyRatingUpdate, log)
	s.gplay = gameplay.New(s.lookupRoom, s.conn, s.gend.RequestEnd, log)

	// queue.Matchmaker needs a RoomOpener at construction, but
	// matchevents.Handler needs the *Matchmaker it wraps; close over a
	// not-yet-assigned pointer rather than adding a setter to either type.
	var mevents *matchevents.Handler
	s.mm = queue.New(cfg.Matchmaker, log, func(pair queue.Pair) { mevents.OnPair(pair) })
	mevents = matchevents.New(s.mm, s.conn, cfg.Matchmaker.ReadyUpWindow, s.startRoom, log)
	s.mevents = mevents

	s.pipeline = events.New(s.registry, s.limiter, s.conn, s.dispatch, s.markUnhealthy, cfg.EventPipeline.QueueCap, log)

	return s
}

// Run starts every background loop and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) {
	s.ctx = ctx
	go s.pipeline.Run(ctx)
	go s.mm.Run(ctx, time.Second)
	stop := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(stop)
	}()
	go s.conn.Heartbeat(stop)
}

func (s *Server) getOrCreatePlayer(id, displayName string) *player.Player {
	s.playersMu.Lock()
	defer s.playersMu.Unlock()
	if p, ok := s.players[id]; ok {
		return p
	}
	p := player.New(id, displayName)
	s.players[id] = p
	return p
}

func (s *Server) lookupRoom(playerID string) (*room.Room, domain.Role, bool) {
	s.roomsMu.RLock()
	defer s.roomsMu.RUnlock()
	roomID, ok := s.playerRoom[playerID]
	if !ok {
		return nil, domain.RoleNone, false
	}
	r, ok := s.activeRooms[roomID]
	if !ok {
		return nil, domain.RoleNone, false
	}
	switch playerID {
	case r.LeftPlayerID:
		return r, domain.RoleLeft, true
	case r.RightPlayerID:
		return r, domain.RoleRight, true
	default:
		return nil, domain.RoleNone, false
	}
}

// startRoom is the matchevents.RoomFactory: both sides have already
// confirmed ready-up, so the room is started immediately.
func (s *Server) startRoom(pair queue.Pair) {
	r := room.New(pair.RoomID, pair.A.Mode, pair.A.Player.ID(), pair.B.Player.ID(),
		pair.A.Player.Rating(), pair.B.Player.Rating(),
		pair.AverageElo, pair.EloDifference, s.conn, s.gend.HandleTerminal, s.cfg.Room, s.log)

	s.roomsMu.Lock()
	s.activeRooms[pair.RoomID] = r
	s.playerRoom[pair.A.Player.ID()] = pair.RoomID
	s.playerRoom[pair.B.Player.ID()] = pair.RoomID
	s.roomsMu.Unlock()

	s.conn.JoinRoom(pair.A.Player.ID(), pair.RoomID)
	s.conn.JoinRoom(pair.B.Player.ID(), pair.RoomID)
	s.mm.NotifyRoomOpened()

	r.ConfirmReady(domain.RoleLeft)
	r.ConfirmReady(domain.RoleRight)

	pair.A.Player.StartGame()
	pair.B.Player.StartGame()

	r.StartGame(s.ctx)
	s.log.Info().Str("room_id", pair.RoomID).Msg("room started")
}

// cleanupRoom is the gameend.CleanupFunc: drops the room from every index
// once its post-game choreography finishes.
func (s *Server) cleanupRoom(roomID string) {
	s.roomsMu.Lock()
	r, ok := s.activeRooms[roomID]
	if !ok {
		s.roomsMu.Unlock()
		return
	}
	delete(s.activeRooms, roomID)
	delete(s.playerRoom, r.LeftPlayerID)
	delete(s.playerRoom, r.RightPlayerID)
	s.roomsMu.Unlock()

	for _, pid := range []string{r.LeftPlayerID, r.RightPlayerID} {
		s.conn.LeaveRoom(pid)
		s.gplay.ClearPlayer(pid)
		s.limiter.Reset(pid)
		if p := s.lookupPlayer(pid); p != nil {
			p.LeaveRoom()
		}
	}
	s.mm.NotifyRoomClosed()
}

func (s *Server) lookupPlayer(id string) *player.Player {
	s.playersMu.RLock()
	defer s.playersMu.RUnlock()
	return s.players[id]
}

// applyRatingUpdate is the gameend.RatingUpdateFunc: persists the post-match
// Elo adjustment to each player's live record.
func (s *Server) applyRatingUpdate(leftID string, leftRating int, rightID string, rightRating int) {
	if p := s.lookupPlayer(leftID); p != nil {
		p.SetRating(leftRating)
	}
	if p := s.lookupPlayer(rightID); p != nil {
		p.SetRating(rightRating)
	}
}

// markUnhealthy is the events.UnhealthyFunc: a room whose CRITICAL queue
// overflowed even after eviction is forced to an immediate end.
func (s *Server) markUnhealthy(roomID string) {
	s.roomsMu.RLock()
	r, ok := s.activeRooms[roomID]
	s.roomsMu.RUnlock()
	if !ok {
		return
	}
	r.MarkForced()
	r.End(domain.ReasonForced)
}

// dispatch is the events.Handler invoked by the pipeline worker for every
// admitted event, routing each type to the component that owns its
// semantics (spec §6's per-event-type home).
func (s *Server) dispatch(e events.Envelope) {
	playerID := e.Origin
	switch e.Type {
	case events.TypeJoinRoom:
		s.handleJoinRoom(playerID)
	case events.TypeLeaveRoom:
		s.conn.LeaveRoom(playerID)
	case events.TypePing:
		s.conn.SendToPlayer(playerID, events.TypePong, map[string]any{
			"serverTime": time.Now().UnixMilli(), "clientTime": e.Payload["clientTime"],
		})
	case events.TypeJoinMatchmaking:
		s.handleJoinMatchmaking(playerID, e.Payload)
	case events.TypeLeaveMatchmaking:
		s.mevents.LeaveQueue(playerID)
	case events.TypeReadyUp:
		if ready, _ := e.Payload["ready"].(bool); ready {
			s.mevents.ReadyUp(playerID)
		}
	case events.TypeChatMessage:
		s.handleChatMessage(playerID, e.Payload)
	case events.TypePlayerMovement:
		s.handlePlayerMovement(playerID, e.Payload, e.ClientTimestamp)
	case events.TypeBallUpdate:
		// Informational only: the room derives ball physics authoritatively
		// every tick, a client-reported ball state is never applied.
	case events.TypeGoalAttempt:
		s.handleGoalAttempt(playerID, e.Payload)
	case events.TypeForfeitGame:
		s.gplay.HandleForfeitGame(playerID)
	case events.TypeRequestGameEnd:
		s.gplay.HandleRequestGameEnd(playerID)
	case events.TypePauseRequest:
		s.gplay.HandlePauseRequest(playerID)
	case events.TypeResumeRequest:
		s.gplay.HandleResumeRequest(playerID)
	}
}

func (s *Server) handleJoinRoom(playerID string) {
	r, _, ok := s.lookupRoom(playerID)
	if !ok {
		s.conn.SendToPlayer(playerID, events.TypeError, map[string]any{
			"kind": string(apperrors.KindRoom), "reason": "NO_ACTIVE_ROOM",
		})
		return
	}
	s.conn.SendToPlayer(playerID, events.TypeRoomInfo, map[string]any{
		"roomId": r.ID, "state": string(r.State()), "score": r.Score(),
	})
}

func (s *Server) handleJoinMatchmaking(playerID string, payload map[string]any) {
	p := s.lookupPlayer(playerID)
	if p == nil {
		return
	}
	modeStr, _ := payload["gameMode"].(string)
	region, _ := payload["region"].(string)
	mode := domain.GameMode(modeStr)

	if err := s.mevents.JoinQueue(p, mode, region); err != nil {
		var appErr *apperrors.Error
		reason := "QUEUE_ERROR"
		if errors.As(err, &appErr) {
			reason = appErr.Reason
		}
		s.conn.SendToPlayer(playerID, events.TypeError, map[string]any{
			"kind": string(apperrors.KindMatchmaking), "reason": reason,
		})
	}
}

func (s *Server) handleChatMessage(playerID string, payload map[string]any) {
	r, _, ok := s.lookupRoom(playerID)
	if !ok {
		return
	}
	msg, _ := payload["message"].(string)
	msg = events.SanitizeText(msg)
	kind, _ := payload["type"].(string)
	if kind == "" {
		kind = "all"
	}
	s.conn.SendToRoom(r.ID, events.TypeChatMessage, map[string]any{
		"playerId": playerID, "message": msg, "type": kind,
	}, "")
}

func (s *Server) handlePlayerMovement(playerID string, payload map[string]any, clientTS int64) {
	pos, _ := parseVec2(payload["position"])
	vel, _ := parseVec2(payload["velocity"])
	seq, _ := asUint64(payload["sequenceId"])
	left, _ := payload["left"].(bool)
	right, _ := payload["right"].(bool)
	jump, _ := payload["jump"].(bool)
	kick, _ := payload["kick"].(bool)
	latency, _ := payload["latencyMillis"].(float64)

	s.gplay.HandlePlayerMovement(playerID, gameplay.MovementPayload{
		X: pos.X, Y: pos.Y, VX: vel.X, VY: vel.Y,
		Left: left, Right: right, Jump: jump, Kick: kick,
		SequenceID: seq, ClientTime: clientTS, LatencyMillis: latency,
	})
}

func (s *Server) handleGoalAttempt(playerID string, payload map[string]any) {
	_, role, ok := s.lookupRoom(playerID)
	if !ok {
		return
	}
	pos, _ := parseVec2(payload["position"])
	s.gplay.HandleGoalAttempt(playerID, validate.GoalClaim{
		BallPosition:  pos,
		AttackingSide: role,
	})
}

func parseVec2(v any) (validate.Vec2, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return validate.Vec2{}, false
	}
	x, _ := m["x"].(float64)
	y, _ := m["y"].(float64)
	return validate.Vec2{X: x, Y: y}, true
}

func asUint64(v any) (uint64, bool) {
	switch n := v.(type) {
	case float64:
		return uint64(n), true
	case int:
		return uint64(n), true
	case int64:
		return uint64(n), true
	default:
		return 0, false
	}
}

// handleWebSocket upgrades the request and runs the per-socket read/write
// pumps until the client disconnects (spec §4.4/§4.2: authenticate is the
// only event accepted before the socket is bound to a player).
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	sock := newWsSocket(ws, s.log)
	go sock.writePump()

	var playerID string
	sock.readPump(func(frame []byte) {
		t, payload, ts, err := s.codec.Decode(frame)
		if err != nil {
			return
		}

		if playerID == "" {
			if t != events.TypeAuthenticate {
				return
			}
			pid, ok := payload["playerId"].(string)
			if !ok || pid == "" {
				return
			}
			playerID = pid
			s.handleAuthenticate(pid, payload, sock)
			return
		}

		s.conn.Touch(playerID)
		roomID := ""
		if r, _, ok := s.lookupRoom(playerID); ok {
			roomID = r.ID
		}
		s.pipeline.Ingest(playerID, roomID, t, payload, ts)
	})

	if playerID != "" {
		s.conn.Disconnect(playerID, "SOCKET_CLOSED")
		if r, role, ok := s.lookupRoom(playerID); ok && r.State() == domain.RoomPlaying {
			r.Pause(role)
		}
	}
}

func (s *Server) handleAuthenticate(playerID string, payload map[string]any, sock conn.Socket) {
	username, _ := payload["username"].(string)
	if username == "" {
		username = "player"
	}
	p := s.getOrCreatePlayer(playerID, username)

	reconnected, err := s.conn.Authenticate(p, sock)
	if err != nil {
		var appErr *apperrors.Error
		reason := "AUTH_FAILED"
		if errors.As(err, &appErr) {
			reason = appErr.Reason
		}
		frame, encErr := s.codec.Encode(events.TypeError, map[string]any{
			"kind": string(apperrors.KindAuth), "reason": reason,
		}, time.Now().UnixMilli())
		if encErr == nil {
			_ = sock.Send(frame)
		}
		return
	}

	s.conn.SendToPlayer(playerID, events.TypeAuthenticate, map[string]any{
		"playerId": playerID, "reconnected": reconnected,
	})

	if r, _, ok := s.lookupRoom(playerID); ok {
		s.conn.JoinRoom(playerID, r.ID)
		s.conn.SendToPlayer(playerID, events.TypeRoomInfo, map[string]any{
			"roomId": r.ID, "state": string(r.State()), "score": r.Score(),
		})
		if reconnected && r.State() == domain.RoomPaused {
			r.Resume()
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	counters := s.conn.Counters()
	qstats := s.mm.SnapshotStats()

	s.roomsMu.RLock()
	activeRooms := len(s.activeRooms)
	s.roomsMu.RUnlock()

	body, err := json.Marshal(map[string]any{
		"connections":     counters,
		"queueSize":       qstats.QueueSize,
		"activeRooms":     activeRooms,
		"persistFailures": s.gend.PersistFailures(),
	})
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	return mux
}

// Addr formats the configured listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
}
