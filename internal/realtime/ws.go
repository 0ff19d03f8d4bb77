// Package realtime is the websocket transport: one goroutine pair
// (read/write pump) per connected socket, decoding the wire protocol's
// discriminated events and handing authenticated commands to the room
// dispatcher.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sairajesh711/mafia-room-core/internal/auth"
	"github.com/sairajesh711/mafia-room-core/internal/engine"
	"github.com/sairajesh711/mafia-room-core/internal/observability"
	"github.com/sairajesh711/mafia-room-core/internal/projection"
	"github.com/sairajesh711/mafia-room-core/internal/room"
	"github.com/sairajesh711/mafia-room-core/internal/store"
	"github.com/sairajesh711/mafia-room-core/internal/types"
)

// WSMessage is the envelope every client<->server frame uses, keyed by
// the `event` discriminator.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type WSServer struct {
	upgrader websocket.Upgrader
	tokens   *auth.TokenManager
	store    *store.Store
	roomMgr  *room.RoomManager
	logger   *zap.Logger
	metrics  *observability.Metrics
	sockets  *socketRegistry
}

func NewWSServer(tokens *auth.TokenManager, st *store.Store, roomMgr *room.RoomManager, logger *zap.Logger, metrics *observability.Metrics) *WSServer {
	return &WSServer{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		tokens:  tokens,
		store:   st,
		roomMgr: roomMgr,
		logger:  logger,
		metrics: metrics,
		sockets: newSocketRegistry(),
	}
}

// socketRegistry tracks the live sessions connected to this instance, so
// "latest wins" duplicate-login eviction can push `session.evicted`
// to a superseded socket before closing it. Eviction across instances is
// not needed: a stale socket on another instance holds a session row this
// instance just overwrote, so its next command fails policy/auth checks
// against the authoritative state it no longer matches.
type socketRegistry struct {
	mu   sync.Mutex
	byID map[string]*Session
}

func newSocketRegistry() *socketRegistry {
	return &socketRegistry{byID: make(map[string]*Session)}
}

func (r *socketRegistry) register(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[s.socketID] = s
}

func (r *socketRegistry) unregister(socketID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, socketID)
}

// evict sends `session.evicted` to the superseded socket and closes its
// connection, if it is still held by this instance.
func (r *socketRegistry) evict(socketID, reason, message string) {
	r.mu.Lock()
	victim, ok := r.byID[socketID]
	r.mu.Unlock()
	if !ok {
		return
	}
	b, _ := json.Marshal(map[string]string{"reason": reason, "message": message})
	victim.sendRaw(WSMessage{Event: "session.evicted", Data: b})
	go func() {
		time.Sleep(200 * time.Millisecond)
		victim.conn.Close()
	}()
}

func (ws *WSServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		ws.logger.Warn("upgrade failed", zap.Error(err))
		return
	}
	socketID := uuid.NewString()
	sess := &Session{
		socketID: socketID,
		conn:     conn,
		tokens:   ws.tokens,
		store:    ws.store,
		roomMgr:  ws.roomMgr,
		logger:   ws.logger.With(zap.String("socket_id", socketID)),
		metrics:  ws.metrics,
		sockets:  ws.sockets,
		send:     make(chan []byte, 64),
		limiter:  NewTokenBucket(20, 5),
	}
	ws.sockets.register(sess)
	ws.metrics.ActiveConnections.Inc()
	go sess.writePump()
	sess.readPump()
	ws.sockets.unregister(socketID)
	ws.metrics.ActiveConnections.Dec()
}

// Session is one connected socket, possibly bound to a (player, room)
// once room.create/room.join/session.resume succeeds.
type Session struct {
	socketID string
	conn     *websocket.Conn
	tokens   *auth.TokenManager
	store    *store.Store
	roomMgr  *room.RoomManager
	logger   *zap.Logger
	metrics  *observability.Metrics
	sockets  *socketRegistry
	send     chan []byte
	limiter  *TokenBucket

	mu       sync.Mutex
	roomID   string
	playerID string
	subID    string
	claims   *auth.Claims
}

// snapshotEnvelope is a room.snapshot frame's body: the redacted view,
// plus the jwt and sessionId on first issue and on refresh.
type snapshotEnvelope struct {
	projection.View
	JWT       string `json:"jwt,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

func (s *Session) readPump() {
	defer func() {
		s.mu.Lock()
		roomID, playerID, subID := s.roomID, s.playerID, s.subID
		s.mu.Unlock()
		if subID != "" {
			if ra, _ := s.roomMgr.GetOrCreate(context.Background(), roomID); ra != nil {
				ra.Unsubscribe(subID)
				s.notifyConnection(ra, roomID, playerID, false)
			}
		}
		s.conn.Close()
	}()
	s.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			break
		}
		s.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		if !s.limiter.Allow() {
			s.sendError("", types.ErrRateLimited, "too many requests", true)
			continue
		}
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendError("", types.ErrUnauthorized, "invalid request format", false)
			continue
		}
		s.handleMessage(msg)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()
	for {
		select {
		case data, ok := <-s.send:
			if !ok {
				return
			}
			s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Session) handleMessage(msg WSMessage) {
	ctx := context.Background()
	switch msg.Event {
	case "room.create":
		s.handleRoomCreate(ctx, msg.Data)
	case "room.join":
		s.handleRoomJoin(ctx, msg.Data)
	case "session.resume":
		s.handleSessionResume(ctx, msg.Data)
	case "action.submit", "vote.cast", "host.action", "chat.message":
		s.handleAuthenticatedCommand(ctx, msg.Event, msg.Data)
	default:
		s.sendError("", types.ErrUnauthorized, "unknown event", false)
	}
}

func (s *Session) handleRoomCreate(ctx context.Context, data json.RawMessage) {
	var payload struct {
		HostName string `json:"hostName"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		s.sendError("", types.ErrUnauthorized, "invalid request format", false)
		return
	}
	hostID := uuid.NewString()
	// Room-code reservation is atomic at the store layer, so
	// creation happens there first; the host then joins their own room
	// through the ordinary room.join path so they go through the same
	// policy/dedup pipeline as every other player.
	roomID, _, err := s.store.CreateRoom(ctx, hostID, payload.HostName)
	if err != nil {
		s.sendError("", types.ErrInternal, "cannot create room", false)
		return
	}
	ra, err := s.roomMgr.GetOrCreate(ctx, roomID)
	if err != nil {
		s.sendError("", types.ErrInternal, "cannot create room", false)
		return
	}
	joinData, _ := json.Marshal(map[string]string{"playerName": payload.HostName})
	cmd := types.CommandEnvelope{CommandID: uuid.NewString(), RoomID: roomID, Type: "room.join", ActorPlayerID: hostID, Payload: joinData}
	resp := ra.Dispatch(cmd)
	if resp.Err != nil {
		s.sendCommandError(resp.Err)
		return
	}
	s.bindAndSnapshot(ctx, roomID, hostID, true)
}

func (s *Session) handleRoomJoin(ctx context.Context, data json.RawMessage) {
	var payload struct {
		RoomCode   string `json:"roomCode"`
		PlayerName string `json:"playerName"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		s.sendError("", types.ErrUnauthorized, "invalid request format", false)
		return
	}
	roomID, err := s.store.FindRoomByCode(ctx, payload.RoomCode)
	if err != nil || roomID == "" {
		s.sendError("", types.ErrRoomNotFound, "no room with that code", false)
		return
	}
	playerID := uuid.NewString()
	ra, err := s.roomMgr.GetOrCreate(ctx, roomID)
	if err != nil {
		s.sendError("", types.ErrInternal, "cannot load room", false)
		return
	}
	cmd := types.CommandEnvelope{CommandID: uuid.NewString(), RoomID: roomID, Type: "room.join", ActorPlayerID: playerID, Payload: data}
	resp := ra.Dispatch(cmd)
	if resp.Err != nil {
		s.sendCommandError(resp.Err)
		return
	}
	s.bindAndSnapshot(ctx, roomID, playerID, false)
}

func (s *Session) handleSessionResume(ctx context.Context, data json.RawMessage) {
	var payload struct {
		RoomID string `json:"roomId"`
		JWT    string `json:"jwt"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		s.sendError("", types.ErrUnauthorized, "invalid request format", false)
		return
	}
	claims, err := s.tokens.Verify(payload.JWT, payload.RoomID)
	if err != nil {
		s.sendError("", types.ErrUnauthorized, "invalid or expired token", false)
		return
	}
	if existing, ok, _ := s.store.GetSession(ctx, claims.PlayerID, payload.RoomID); ok && existing.SocketID != "" {
		s.evictSocket(existing.SocketID)
	}
	if err := s.store.UpdateSocket(ctx, claims.PlayerID, payload.RoomID, s.socketID); err != nil {
		_ = s.store.RegisterSession(ctx, store.Session{PlayerID: claims.PlayerID, RoomID: payload.RoomID, SessionID: claims.SessionID, SocketID: s.socketID, ConnectedAt: time.Now().Unix()})
	}
	s.bindAndSnapshot(ctx, payload.RoomID, claims.PlayerID, false)
}

func (s *Session) bindAndSnapshot(ctx context.Context, roomID, playerID string, isHost bool) {
	sessionID := uuid.NewString()
	token, err := s.tokens.Issue(playerID, roomID, sessionID)
	if err != nil {
		s.sendError("", types.ErrInternal, "cannot issue token", false)
		return
	}
	if err := s.store.RegisterSession(ctx, store.Session{PlayerID: playerID, RoomID: roomID, SessionID: sessionID, SocketID: s.socketID, ConnectedAt: time.Now().Unix()}); err != nil {
		s.sendError("", types.ErrInternal, "cannot register session", false)
		return
	}

	claims, err := s.tokens.Verify(token, roomID)
	if err != nil {
		s.sendError("", types.ErrInternal, "cannot issue token", false)
		return
	}

	s.mu.Lock()
	s.roomID = roomID
	s.playerID = playerID
	s.subID = s.socketID
	s.claims = claims
	s.mu.Unlock()

	ra, err := s.roomMgr.GetOrCreate(ctx, roomID)
	if err != nil {
		s.sendError("", types.ErrInternal, "cannot load room", false)
		return
	}
	ra.Subscribe(s.subID, &room.Subscriber{
		PlayerID: playerID,
		Send: func(pe types.ProjectedEvent) {
			s.sendRaw(WSMessage{Event: pe.EventType, Data: pe.Data})
		},
	})

	s.notifyConnection(ra, roomID, playerID, true)

	viewer := types.Viewer{PlayerID: playerID}
	view := projection.ProjectedState(ra.GetState(), viewer)
	b, _ := json.Marshal(snapshotEnvelope{View: view, JWT: token, SessionID: sessionID})
	s.sendRaw(WSMessage{Event: "room.snapshot", Data: b})
}

// maybeRefreshToken re-issues the session's jwt once its remaining
// lifetime drops into the refresh window, delivering it on a fresh
// room.snapshot the same way the original token arrived.
func (s *Session) maybeRefreshToken() {
	s.mu.Lock()
	claims := s.claims
	roomID, playerID := s.roomID, s.playerID
	s.mu.Unlock()
	if claims == nil || !claims.NeedsRefresh() {
		return
	}
	token, err := s.tokens.Refresh(claims)
	if err != nil {
		s.logger.Warn("token refresh failed", zap.Error(err))
		return
	}
	newClaims, err := s.tokens.Verify(token, roomID)
	if err != nil {
		s.logger.Warn("refreshed token failed verification", zap.Error(err))
		return
	}
	s.mu.Lock()
	s.claims = newClaims
	s.mu.Unlock()

	ra, err := s.roomMgr.GetOrCreate(context.Background(), roomID)
	if err != nil {
		return
	}
	view := projection.ProjectedState(ra.GetState(), types.Viewer{PlayerID: playerID})
	b, _ := json.Marshal(snapshotEnvelope{View: view, JWT: token, SessionID: newClaims.SessionID})
	s.sendRaw(WSMessage{Event: "room.snapshot", Data: b})
}

// notifyConnection records a socket gain/loss against the room state so
// every subscriber sees the player.status change.
func (s *Session) notifyConnection(ra *room.RoomActor, roomID, playerID string, connected bool) {
	payload, _ := json.Marshal(map[string]any{"playerId": playerID, "connected": connected})
	resp := ra.Dispatch(types.CommandEnvelope{
		CommandID:     uuid.NewString(),
		RoomID:        roomID,
		Type:          engine.CmdConnectionChanged,
		ActorPlayerID: "system",
		Payload:       payload,
	})
	if resp.Err != nil {
		s.logger.Debug("connection change not recorded", zap.Error(resp.Err))
	}
}

func (s *Session) handleAuthenticatedCommand(ctx context.Context, eventName string, data json.RawMessage) {
	s.mu.Lock()
	roomID, playerID := s.roomID, s.playerID
	s.mu.Unlock()
	if roomID == "" || playerID == "" {
		s.sendError("", types.ErrUnauthorized, "not subscribed to a room", false)
		return
	}
	sess, ok, err := s.store.GetSession(ctx, playerID, roomID)
	if err != nil {
		s.sendError("", types.ErrInternal, "cannot load session", false)
		return
	}
	if !ok || sess.SocketID != s.socketID {
		s.sendError("", types.ErrUnauthorized, "session superseded", false)
		return
	}
	ra, err := s.roomMgr.GetOrCreate(ctx, roomID)
	if err != nil {
		s.sendError("", types.ErrInternal, "cannot load room", false)
		return
	}
	var idemKey string
	var env struct {
		ActionID string `json:"actionId"`
	}
	_ = json.Unmarshal(data, &env)
	idemKey = env.ActionID
	if idemKey == "" {
		idemKey = uuid.NewString()
	}
	cmd := types.CommandEnvelope{
		CommandID:      uuid.NewString(),
		IdempotencyKey: idemKey,
		RoomID:         roomID,
		Type:           eventName,
		ActorPlayerID:  playerID,
		Payload:        data,
	}
	resp := ra.Dispatch(cmd)
	if resp.Err != nil {
		s.sendCommandError(resp.Err)
		return
	}
	// Direct echo to the submitter. Vote updates reach the
	// originator through the subscription broadcast, and a dedup replay
	// of a completed action re-sends this same ack rather than a second
	// side effect.
	if eventName == "action.submit" && resp.Result != nil {
		s.sendRaw(WSMessage{Event: "action.ack", Data: data})
	}
	s.maybeRefreshToken()
}

func (s *Session) sendCommandError(err error) {
	if appErr, ok := err.(*types.AppError); ok {
		s.sendError("", appErr.Code, appErr.Message, appErr.Retryable)
		return
	}
	s.sendError("", types.ErrInternal, err.Error(), false)
}

func (s *Session) sendError(context string, code types.ErrorCode, message string, retryable bool) {
	payload := map[string]any{"code": code, "message": message, "retryable": retryable}
	if context != "" {
		payload["context"] = context
	}
	b, _ := json.Marshal(payload)
	s.sendRaw(WSMessage{Event: "error", Data: b})
}

// evictSocket pushes `session.evicted` to a prior socket for the same
// (player, room) and closes it, per the "latest wins" rule. The
// victim is only reachable if it's held by this instance; a victim on
// another instance simply finds its session row already overwritten the
// next time it tries to use it.
func (s *Session) evictSocket(otherSocketID string) {
	s.logger.Debug("superseding prior session socket", zap.String("prior_socket_id", otherSocketID))
	s.sockets.evict(otherSocketID, "duplicate_session", "another connection resumed this session")
}

func (s *Session) sendRaw(msg WSMessage) {
	b, _ := json.Marshal(msg)
	select {
	case s.send <- b:
	default:
	}
}

// TokenBucket is a simple rate limiter guarding one socket's inbound
// message rate.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	rate     float64
	lastTime time.Time
}

func NewTokenBucket(capacity, rate float64) *TokenBucket {
	return &TokenBucket{tokens: capacity, capacity: capacity, rate: rate, lastTime: time.Now()}
}

func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	now := time.Now()
	elapsed := now.Sub(tb.lastTime).Seconds()
	tb.tokens += elapsed * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastTime = now
	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}
