package session

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/storyline/internal/model/profile"
	"github.com/zhouzirui/storyline/internal/model/questionnaire"
	model "github.com/zhouzirui/storyline/internal/model/session"
	sessionService "github.com/zhouzirui/storyline/internal/service/session"
	"github.com/zhouzirui/storyline/pkg/utils"
)

// Engine 是处理器依赖的会话引擎能力
type Engine interface {
	Questions() questionnaire.QuestionSet
	Snapshot() model.Snapshot
	Start(ctx context.Context, p profile.Profile, opts ...sessionService.StartOption) (model.Snapshot, error)
	SubmitAnswer(ctx context.Context, text string) (model.Snapshot, error)
	RequestStory(ctx context.Context) (model.Snapshot, error)
	Restart(ctx context.Context) model.Snapshot
}

// Handler 会话接口的HTTP处理器
type Handler struct {
	engine Engine
}

// New 创建会话处理器
func New(engine Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/questions", h.handleListQuestions)
	r.Get("/session", h.handleGetSession)
	r.Post("/session", h.handleStartSession)
	r.Delete("/session", h.handleRestart)
	r.Post("/session/answers", h.handleSubmitAnswer)
	r.Post("/session/story", h.handleRequestStory)
}

// ErrorResponse 携带错误信息以及失败后的会话状态
type ErrorResponse struct {
	Error    string          `json:"error"`
	Kind     model.ErrorKind `json:"kind,omitempty"`
	Snapshot model.Snapshot  `json:"snapshot"`
}

func (h *Handler) handleListQuestions(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"questions": h.engine.Questions().All(),
	})
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.engine.Snapshot())
}

// handleStartSession 校验用户信息并开启会话
func (h *Handler) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var payload profile.Profile
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// 客户端断开不应打断进行中的后端调用
	snap, err := h.engine.Start(context.WithoutCancel(r.Context()), payload)
	if err != nil {
		h.respondEngineError(w, snap, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, snap)
}

func (h *Handler) handleSubmitAnswer(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Text string `json:"text"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	snap, err := h.engine.SubmitAnswer(context.WithoutCancel(r.Context()), payload.Text)
	if err != nil {
		h.respondEngineError(w, snap, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, snap)
}

func (h *Handler) handleRequestStory(w http.ResponseWriter, r *http.Request) {
	snap, err := h.engine.RequestStory(context.WithoutCancel(r.Context()))
	if err != nil {
		h.respondEngineError(w, snap, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, snap)
}

func (h *Handler) handleRestart(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.engine.Restart(context.WithoutCancel(r.Context())))
}

// respondEngineError 把引擎错误映射为HTTP状态码
func (h *Handler) respondEngineError(w http.ResponseWriter, snap model.Snapshot, err error) {
	status := StatusFor(err)
	if status == http.StatusAccepted {
		// 答案已保存在本地，仅后端未确认
		w.Header().Set("X-Storyline-Warning", err.Error())
		utils.RespondJSON(w, status, snap)
		return
	}
	if status >= http.StatusInternalServerError {
		log.Printf("[session] request failed: %v", err)
	}
	utils.RespondJSON(w, status, ErrorResponse{
		Error:    err.Error(),
		Kind:     sessionService.KindOf(err),
		Snapshot: snap,
	})
}

// StatusFor 返回引擎错误对应的HTTP状态码
func StatusFor(err error) int {
	switch {
	case errors.Is(err, sessionService.ErrInvalidProfile), errors.Is(err, sessionService.ErrEmptyAnswer):
		return http.StatusBadRequest
	case errors.Is(err, sessionService.ErrInvalidTransition), errors.Is(err, sessionService.ErrSessionSuperseded):
		return http.StatusConflict
	case errors.Is(err, sessionService.ErrStoryFetchFailed), errors.Is(err, sessionService.ErrRegistrationFailed):
		return http.StatusBadGateway
	case errors.Is(err, sessionService.ErrSubmissionFailed):
		return http.StatusAccepted
	default:
		return http.StatusInternalServerError
	}
}
