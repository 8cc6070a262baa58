package contract

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/storyline/internal/model/answer"
	"github.com/zhouzirui/storyline/internal/model/profile"
	answerService "github.com/zhouzirui/storyline/internal/service/answers"
	"github.com/zhouzirui/storyline/internal/service/story"
	"github.com/zhouzirui/storyline/pkg/utils"
)

// Handler 实现故事后端的三个接口
type Handler struct {
	answers      *answerService.Service
	generator    story.Generator
	storyTimeout time.Duration
}

// New 创建后端处理器
func New(answers *answerService.Service, generator story.Generator) *Handler {
	return &Handler{
		answers:      answers,
		generator:    generator,
		storyTimeout: 90 * time.Second,
	}
}

// RegisterRoutes 注册后端路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/store-user/", h.handleStoreUser)
	r.Post("/process-answer/", h.handleProcessAnswer)
	r.Get("/generate-story/", h.handleGenerateStory)
}

type processAnswerRequest struct {
	Text     string           `json:"text"`
	UserInfo *profile.Profile `json:"user_info"`
}

// ProcessAnswerResponse 是回答处理成功后的回执
type ProcessAnswerResponse struct {
	Message  string          `json:"message"`
	UserInfo profile.Profile `json:"user_info"`
	FullText string          `json:"full_text"`
	Entry    answer.Entry    `json:"entry"`
}

func (h *Handler) handleStoreUser(w http.ResponseWriter, r *http.Request) {
	var payload profile.Profile
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}

	user, err := h.answers.StoreUser(r.Context(), payload)
	if err != nil {
		utils.RespondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	log.Printf("[storyd] user info stored: %s", user.Describe())
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"message":   "User info stored successfully!",
		"user_info": user,
	})
}

// handleProcessAnswer 缺少用户信息时仍返回 200 并在 error 字段说明
func (h *Handler) handleProcessAnswer(w http.ResponseWriter, r *http.Request) {
	var payload processAnswerRequest
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}

	entry, err := h.answers.Record(r.Context(), payload.Text)
	switch {
	case errors.Is(err, answerService.ErrUserRequired), errors.Is(err, answerService.ErrUserChanged):
		log.Printf("[storyd] answer dropped: %v", err)
		utils.RespondJSON(w, http.StatusOK, map[string]string{"error": err.Error()})
		return
	case errors.Is(err, answerService.ErrEmptyAnswer):
		utils.RespondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	user, _ := h.answers.User()
	if payload.UserInfo != nil && payload.UserInfo.Normalize() != user {
		log.Printf("[storyd] request user_info %q differs from stored user %q", payload.UserInfo.Name, user.Name)
	}

	log.Printf("[storyd] answer recorded id=%s emotions=%v", entry.ID, entry.Reading.Emotions)
	utils.RespondJSON(w, http.StatusOK, ProcessAnswerResponse{
		Message:  "Processed successfully!",
		UserInfo: user,
		FullText: entry.FullText,
		Entry:    entry,
	})
}

func (h *Handler) handleGenerateStory(w http.ResponseWriter, r *http.Request) {
	user, ok := h.answers.User()
	if !ok {
		utils.RespondError(w, http.StatusNotFound, answerService.ErrUserRequired.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.storyTimeout)
	defer cancel()

	text, err := h.generator.Generate(ctx, user, h.answers.Entries())
	if errors.Is(err, story.ErrNoAnswers) {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		log.Printf("[storyd] story generation failed: %v", err)
		utils.RespondError(w, http.StatusBadGateway, "story generation failed")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"story": text})
}
