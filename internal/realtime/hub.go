package realtime

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	apperrors "github.com/charlesng35/foodbridge/pkg/errors"
	"github.com/charlesng35/foodbridge/pkg/logger"
	"github.com/charlesng35/foodbridge/pkg/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // 1 MiB

	defaultBufferSize = 64
)

// Principal is the verified identity of a socket, taken from the handshake token.
type Principal struct {
	UserID string
	Role   string
}

// CommandHandler executes client commands other than ping and leave. The returned result is
// sent back in the command's ack.
type CommandHandler interface {
	HandleCommand(ctx context.Context, conn *Conn, frame ClientFrame) (any, error)
}

// PresenceHooks observe the first connection and last disconnection of a principal on this instance.
type PresenceHooks interface {
	Connected(ctx context.Context, userID string)
	Disconnected(ctx context.Context, userID string)
}

// Option customises a Hub.
type Option func(*Hub)

// WithBroker replaces the default in-process broker.
func WithBroker(broker Broker) Option {
	return func(h *Hub) {
		if broker != nil {
			h.broker = broker
		}
	}
}

// WithPresence installs presence hooks.
func WithPresence(hooks PresenceHooks) Option {
	return func(h *Hub) {
		h.presence = hooks
	}
}

// WithSendBuffer sets the per-connection outbound buffer size.
func WithSendBuffer(size int) Option {
	return func(h *Hub) {
		if size > 0 {
			h.sendBuffer = size
		}
	}
}

// WithAllowedOrigins permits cross-origin handshakes from the listed origins. Same-host and
// loopback origins are always allowed.
func WithAllowedOrigins(origins []string) Option {
	return func(h *Hub) {
		for _, origin := range origins {
			if host := hostWithoutPort(origin); host != "" {
				h.allowedOrigins[strings.ToLower(host)] = struct{}{}
			}
		}
	}
}

// Hub is the channel manager: it owns websocket connections, room membership and identity binding.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Conn]struct{}
	conns map[*Conn]struct{}

	presenceMu sync.Mutex
	principals map[string]int
	presence   PresenceHooks

	broker         Broker
	sendBuffer     int
	allowedOrigins map[string]struct{}
	upgrader       websocket.Upgrader
	log            *zap.Logger
}

// NewHub constructs a hub. Call Start before serving connections.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		rooms:          make(map[string]map[*Conn]struct{}),
		conns:          make(map[*Conn]struct{}),
		principals:     make(map[string]int),
		broker:         NewLocalBroker(),
		sendBuffer:     defaultBufferSize,
		allowedOrigins: make(map[string]struct{}),
		log:            logger.WithModule("realtime"),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Start subscribes the hub to its broker.
func (h *Hub) Start(ctx context.Context) error {
	return h.broker.Subscribe(ctx, h.deliverLocal)
}

// Close disconnects every connection and detaches the broker.
func (h *Hub) Close() error {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		conn.close()
	}
	return h.broker.Close()
}

// Serve upgrades the request and runs the connection until it closes. The principal must already
// be authenticated.
func (h *Hub) Serve(principal Principal, handler CommandHandler, w http.ResponseWriter, r *http.Request) {
	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.String("user_id", principal.UserID), zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	conn := &Conn{
		id:        uuid.NewString(),
		hub:       h,
		socket:    socket,
		principal: principal,
		handler:   handler,
		rooms:     make(map[string]struct{}),
		send:      make(chan Message, h.sendBuffer),
		done:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}

	h.register(conn)

	go conn.writeLoop()
	conn.readLoop()
}

// PublishToRoom hands an event to the broker for delivery to every member of the room on any instance.
// Publishing to an empty room is not an error.
func (h *Hub) PublishToRoom(ctx context.Context, room, event string, data any) error {
	room = normalizeRoom(room)
	if room == "" {
		return errors.New("realtime: room is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	metrics.FanoutEvents.WithLabelValues(event).Inc()
	if err := h.broker.Publish(ctx, Message{Room: room, Event: event, Data: data}); err != nil {
		metrics.FanoutPublishFailures.WithLabelValues(event).Inc()
		return err
	}
	return nil
}

// Join adds the connection to a room. Joining twice is a no-op.
func (h *Hub) Join(conn *Conn, room string) {
	room = normalizeRoom(room)
	if conn == nil || room == "" {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, open := h.conns[conn]; !open {
		return
	}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Conn]struct{})
	}
	h.rooms[room][conn] = struct{}{}
	conn.rooms[room] = struct{}{}
}

// Leave removes the connection from a room.
func (h *Hub) Leave(conn *Conn, room string) {
	room = normalizeRoom(room)
	if conn == nil || room == "" {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(conn, room)
}

// RegisterIdentity binds the connection to userID and joins the user's own room plus any extra
// rooms such as the charity pool. A later registration replaces the earlier one.
func (h *Hub) RegisterIdentity(conn *Conn, userID string, extraRooms ...string) {
	userID = strings.TrimSpace(userID)
	if conn == nil || userID == "" {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, open := h.conns[conn]; !open {
		return
	}
	for _, room := range conn.identityRooms {
		h.leaveLocked(conn, room)
	}

	rooms := append([]string{UserRoom(userID)}, extraRooms...)
	conn.identity = userID
	conn.identityRooms = conn.identityRooms[:0]
	for _, room := range rooms {
		room = normalizeRoom(room)
		if room == "" {
			continue
		}
		if h.rooms[room] == nil {
			h.rooms[room] = make(map[*Conn]struct{})
		}
		h.rooms[room][conn] = struct{}{}
		conn.rooms[room] = struct{}{}
		conn.identityRooms = append(conn.identityRooms, room)
	}
}

// RoomSize reports the number of local connections in a room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[normalizeRoom(room)])
}

// ConnectionCount reports the number of open local connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// ConnectedPrincipals lists the user ids holding at least one local connection.
func (h *Hub) ConnectedPrincipals() []string {
	h.presenceMu.Lock()
	defer h.presenceMu.Unlock()
	ids := make([]string, 0, len(h.principals))
	for id := range h.principals {
		ids = append(ids, id)
	}
	return ids
}

// deliverLocal enqueues a message for every local member of its room. Slow consumers are closed
// after the room lock is released.
func (h *Hub) deliverLocal(message Message) {
	h.mu.RLock()
	members := h.rooms[message.Room]
	var slow []*Conn
	for conn := range members {
		if !conn.enqueue(message) {
			slow = append(slow, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range slow {
		metrics.RealtimeDroppedConnections.Inc()
		h.log.Warn("dropping backpressured connection",
			zap.String("conn_id", conn.id),
			zap.String("user_id", conn.principal.UserID),
			zap.String("room", message.Room))
		conn.close()
	}
}

func (h *Hub) register(conn *Conn) {
	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()

	metrics.RealtimeConnections.Inc()

	h.presenceMu.Lock()
	defer h.presenceMu.Unlock()
	h.principals[conn.principal.UserID]++
	if h.principals[conn.principal.UserID] == 1 && h.presence != nil {
		h.presence.Connected(conn.ctx, conn.principal.UserID)
	}
}

func (h *Hub) unregister(conn *Conn) {
	h.mu.Lock()
	if _, ok := h.conns[conn]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, conn)
	for room := range conn.rooms {
		h.leaveLocked(conn, room)
	}
	h.mu.Unlock()

	metrics.RealtimeConnections.Dec()

	h.presenceMu.Lock()
	defer h.presenceMu.Unlock()
	userID := conn.principal.UserID
	h.principals[userID]--
	if h.principals[userID] > 0 {
		return
	}
	delete(h.principals, userID)
	if h.presence != nil {
		h.presence.Disconnected(context.Background(), userID)
	}
}

func (h *Hub) leaveLocked(conn *Conn, room string) {
	members, ok := h.rooms[room]
	if ok {
		delete(members, conn)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(conn.rooms, room)
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	originHost := strings.ToLower(hostWithoutPort(origin))
	if originHost == strings.ToLower(hostWithoutPort(r.Host)) || isLoopback(originHost) {
		return true
	}
	_, ok := h.allowedOrigins[originHost]
	return ok
}

// Conn is one client websocket.
type Conn struct {
	id        string
	hub       *Hub
	socket    *websocket.Conn
	principal Principal
	handler   CommandHandler

	// Guarded by hub.mu.
	rooms         map[string]struct{}
	identity      string
	identityRooms []string

	send   chan Message
	done   chan struct{}
	once   sync.Once
	ctx    context.Context
	cancel context.CancelFunc
}

// ID returns the connection id.
func (c *Conn) ID() string { return c.id }

// Principal returns the verified identity from the handshake.
func (c *Conn) Principal() Principal { return c.principal }

// Identity returns the registered user id, empty until register succeeds.
func (c *Conn) Identity() string {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	return c.identity
}

// InRoom reports whether the connection is a member of room.
func (c *Conn) InRoom(room string) bool {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	_, ok := c.rooms[normalizeRoom(room)]
	return ok
}

// enqueue reports false when the buffer is full.
func (c *Conn) enqueue(message Message) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

func (c *Conn) reply(message Message) {
	if !c.enqueue(message) {
		metrics.RealtimeDroppedConnections.Inc()
		c.close()
	}
}

func (c *Conn) readLoop() {
	defer c.close()

	c.socket.SetReadLimit(maxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("unexpected close", zap.String("conn_id", c.id), zap.Error(err))
			}
			return
		}
		if len(payload) == 0 {
			continue
		}
		_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))

		frame, err := decodeFrame(payload)
		if err != nil {
			c.reply(Message{Event: EventAck, Data: newAck(frame, nil, err)})
			continue
		}
		c.dispatch(frame)
	}
}

func (c *Conn) dispatch(frame ClientFrame) {
	var (
		result any
		err    error
	)

	switch action := frame.NormalizedAction(); action {
	case ActionPing:
		c.reply(Message{Event: EventPong, Data: map[string]string{"ref": frame.Ref}})
	case ActionLeave:
		err = c.leave(frame)
	default:
		if c.handler == nil {
			err = ErrUnknownAction
			break
		}
		result, err = c.handler.HandleCommand(c.ctx, c, frame)
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
		var appErr *apperrors.AppError
		if !errors.As(err, &appErr) {
			c.hub.log.Error("socket command failed",
				zap.String("conn_id", c.id),
				zap.String("action", frame.NormalizedAction()),
				zap.Error(err))
		}
	}
	metrics.SocketCommands.WithLabelValues(frame.NormalizedAction(), outcome).Inc()
	c.reply(Message{Event: EventAck, Data: newAck(frame, result, err)})
}

func (c *Conn) leave(frame ClientFrame) error {
	room := frame.Room
	if room == "" && len(frame.Data) > 0 {
		var payload struct {
			Room string `json:"room"`
		}
		if err := frame.DecodeData(&payload); err != nil {
			return err
		}
		room = payload.Room
	}
	if _, _, ok := ParseRoom(room); !ok {
		return apperrors.NewBadRequest("A valid room is required")
	}
	c.hub.Leave(c, room)
	return nil
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
		// Closing the socket unblocks the reader.
		_ = c.socket.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.socket.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case message := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteJSON(message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Conn) close() {
	c.once.Do(func() {
		close(c.done)
		c.cancel()
		c.hub.unregister(c)
	})
}

func hostWithoutPort(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}

	if strings.Contains(host, "://") {
		if parsed, err := url.Parse(host); err == nil {
			return hostWithoutPort(parsed.Host)
		}
	}

	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func isLoopback(host string) bool {
	ip := net.ParseIP(host)
	if ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}
