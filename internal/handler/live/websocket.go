package live

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/storyline/internal/model/profile"
	model "github.com/zhouzirui/storyline/internal/model/session"
	sessionService "github.com/zhouzirui/storyline/internal/service/session"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
)

// Engine 是实时通道需要的会话能力
type Engine interface {
	Start(ctx context.Context, p profile.Profile, opts ...sessionService.StartOption) (model.Snapshot, error)
	SubmitAnswer(ctx context.Context, text string) (model.Snapshot, error)
	RequestStory(ctx context.Context) (model.Snapshot, error)
	Restart(ctx context.Context) model.Snapshot
	Subscribe(buffer int) (<-chan model.Snapshot, func())
}

// Handler 通过WebSocket推送会话快照并接收用户操作
type Handler struct {
	engine   Engine
	upgrader websocket.Upgrader
}

// New 创建WebSocket处理器。allowedOrigins 为空或包含 "*" 时不校验来源。
func New(engine Engine, allowedOrigins []string) *Handler {
	return &Handler{
		engine: engine,
		upgrader: websocket.Upgrader{
			CheckOrigin:     originChecker(allowedOrigins),
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/session/ws", h.handleWebSocket)
}

// Inbound message types.
const (
	TypeStart      = "start"
	TypeAnswer     = "answer"
	TypeRetryStory = "retry_story"
	TypeRestart    = "restart"
)

// Outbound message types.
const (
	TypeSnapshot = "snapshot"
	TypeError    = "error"
)

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type answerData struct {
	Text string `json:"text"`
}

// OutgoingMessage 服务端推送的消息
type OutgoingMessage struct {
	Type      string          `json:"type"`
	Snapshot  *model.Snapshot `json:"snapshot,omitempty"`
	Error     string          `json:"error,omitempty"`
	Kind      model.ErrorKind `json:"kind,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// conn serializes writes; gorilla connections allow one concurrent writer.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) send(msg OutgoingMessage) error {
	msg.Timestamp = time.Now().UnixMilli()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(msg)
}

func (c *conn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}
	defer ws.Close()

	c := &conn{ws: ws}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	updates, unsubscribe := h.engine.Subscribe(8)
	defer unsubscribe()

	go h.pushSnapshots(ctx, c, updates)
	go h.pingLoop(ctx, c)

	log.Printf("[websocket] client connected from %s", r.RemoteAddr)
	for {
		var msg inboundMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[websocket] read error: %v", err)
			}
			break
		}
		ws.SetReadDeadline(time.Now().Add(pongWait))
		// 后台执行，后端调用期间读循环仍能收到 restart
		go h.handleMessage(context.WithoutCancel(ctx), c, msg)
	}
	log.Printf("[websocket] client disconnected from %s", r.RemoteAddr)
}

func (h *Handler) pushSnapshots(ctx context.Context, c *conn, updates <-chan model.Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if err := c.send(OutgoingMessage{Type: TypeSnapshot, Snapshot: &snap}); err != nil {
				log.Printf("[websocket] failed to push snapshot: %v", err)
				return
			}
		}
	}
}

// handleMessage 执行用户操作；成功后的状态由订阅推送，这里只回报错误
func (h *Handler) handleMessage(ctx context.Context, c *conn, msg inboundMessage) {
	var err error
	switch msg.Type {
	case TypeStart:
		var p profile.Profile
		if err = json.Unmarshal(msg.Data, &p); err != nil {
			h.sendError(c, "invalid profile payload", model.InvalidProfile)
			return
		}
		_, err = h.engine.Start(ctx, p)
	case TypeAnswer:
		var data answerData
		if err = json.Unmarshal(msg.Data, &data); err != nil {
			h.sendError(c, "invalid answer payload", model.EmptyAnswer)
			return
		}
		_, err = h.engine.SubmitAnswer(ctx, data.Text)
	case TypeRetryStory:
		_, err = h.engine.RequestStory(ctx)
	case TypeRestart:
		h.engine.Restart(ctx)
	default:
		h.sendError(c, "unknown message type: "+msg.Type, model.InvalidTransition)
		return
	}

	if err != nil {
		h.sendError(c, err.Error(), sessionService.KindOf(err))
	}
}

func (h *Handler) sendError(c *conn, message string, kind model.ErrorKind) {
	if err := c.send(OutgoingMessage{Type: TypeError, Error: message, Kind: kind}); err != nil {
		log.Printf("[websocket] failed to send error: %v", err)
	}
}

func (h *Handler) pingLoop(ctx context.Context, c *conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				log.Printf("[websocket] ping failed: %v", err)
				return
			}
		}
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}
