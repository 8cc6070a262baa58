package stream

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	model "github.com/zhouzirui/storyline/internal/model/session"
	"github.com/zhouzirui/storyline/pkg/utils"
)

// Subscriber 提供会话快照订阅
type Subscriber interface {
	Subscribe(buffer int) (<-chan model.Snapshot, func())
}

// Handler pushes session snapshots to the browser via Server-Sent Events.
type Handler struct {
	sessions  Subscriber
	heartbeat time.Duration
}

// New creates a new stream handler
func New(sessions Subscriber) *Handler {
	return &Handler{sessions: sessions, heartbeat: 15 * time.Second}
}

// RegisterRoutes 注册SSE路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/session/events", h.handleEvents)
}

// handleEvents 先发送当前快照，之后每次状态变化推送一次
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	updates, cancel := h.sessions.Subscribe(8)
	defer cancel()

	ctx := r.Context()
	log.Printf("[sse] opening session stream from %s", r.RemoteAddr)

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[sse] closing session stream from %s", r.RemoteAddr)
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if err := utils.SendSSEEvent(w, flusher, "snapshot", snap); err != nil {
				log.Printf("[sse] %v", err)
				return
			}
		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "heartbeat"); err != nil {
				log.Printf("[sse] %v", err)
				return
			}
		}
	}
}
