package emotion

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	analysis "github.com/zhouzirui/storyline/internal/analysis/emotion"
	"github.com/zhouzirui/storyline/internal/model/profile"
)

// Config 控制情绪分析服务的行为。
type Config struct {
	Enabled      bool
	HistoryLimit int
}

// Service 使用大模型对每条回答做情绪分析，并在必要时回退到启发式规则。
type Service struct {
	enabled      bool
	classifier   compose.Runnable[map[string]any, *schema.Message]
	fallback     func(text string) analysis.Reading
	historyLimit int
}

// NewService 创建情绪分析服务。chatModel 为 nil 时只使用启发式规则。
func NewService(ctx context.Context, chatModel model.ChatModel, cfg Config) (*Service, error) {
	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = 6
	}

	svc := &Service{
		enabled:      cfg.Enabled && chatModel != nil,
		fallback:     analysis.Analyze,
		historyLimit: historyLimit,
	}

	if !svc.enabled {
		return svc, nil
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(emotionSystemPrompt),
		schema.UserMessage(emotionUserPrompt),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile emotion classifier chain: %w", err)
	}

	svc.classifier = runnable
	return svc, nil
}

// Enabled 返回大模型分类器是否启用。
func (s *Service) Enabled() bool {
	return s != nil && s.enabled && s.classifier != nil
}

// Analyze 结合用户信息与之前的回答分析 answer。任何失败都回退到启发式结果。
func (s *Service) Analyze(ctx context.Context, user profile.Profile, history []string, answer string) analysis.Reading {
	if !s.Enabled() {
		return s.fallback(answer)
	}

	input := map[string]any{
		"user":    user.Describe(),
		"history": formatHistory(history, s.historyLimit),
		"answer":  strings.TrimSpace(answer),
	}

	msg, err := s.classifier.Invoke(ctx, input)
	if err != nil {
		log.Printf("[emotion] classifier invoke failed, use fallback: %v", err)
		return s.fallback(answer)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return s.fallback(answer)
	}

	result, err := parseClassifierOutput(msg.Content)
	if err != nil {
		log.Printf("[emotion] classifier output parse failed, use fallback: %v", err)
		return s.fallback(answer)
	}

	labels := make([]analysis.Label, 0, analysis.MaxEmotions)
	for _, raw := range result.Emotions {
		label, ok := parseEmotionLabel(raw)
		if !ok || containsLabel(labels, label) {
			continue
		}
		labels = append(labels, label)
		if len(labels) == analysis.MaxEmotions {
			break
		}
	}
	if len(labels) == 0 {
		return s.fallback(answer)
	}

	scale := clampScale(result.Scale)
	concerns := make([]string, 0, len(result.Concerns))
	for _, c := range result.Concerns {
		if c = strings.TrimSpace(c); c != "" {
			concerns = append(concerns, c)
		}
	}

	return analysis.Reading{
		Primary: analysis.Decision{
			Emotion: labels[0],
			Scale:   scale,
			Score:   int(scale * 2),
		},
		Emotions: labels,
		Concerns: concerns,
	}
}

// parseClassifierOutput 解析大模型返回的 JSON。
func parseClassifierOutput(content string) (*classifierPayload, error) {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("missing json object")
	}

	payload := &classifierPayload{}
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func formatHistory(answers []string, limit int) string {
	if limit < 1 {
		limit = 1
	}
	start := len(answers) - limit
	if start < 0 {
		start = 0
	}

	var builder strings.Builder
	for _, answer := range answers[start:] {
		answer = strings.TrimSpace(answer)
		if answer == "" {
			continue
		}
		if builder.Len() > 0 {
			builder.WriteString("\n")
		}
		builder.WriteString("- ")
		builder.WriteString(answer)
	}
	if builder.Len() == 0 {
		return "(no earlier answers)"
	}
	return builder.String()
}

func parseEmotionLabel(raw string) (analysis.Label, bool) {
	label := analysis.Label(strings.ToLower(strings.TrimSpace(raw)))
	switch label {
	case analysis.Neutral, analysis.Joyful, analysis.Sad, analysis.Anxious, analysis.Angry,
		analysis.Lonely, analysis.Hopeful, analysis.Grateful, analysis.Calm:
		return label, true
	default:
		return "", false
	}
}

func containsLabel(labels []analysis.Label, label analysis.Label) bool {
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}

func clampScale(val float32) float32 {
	if val <= 0 {
		return 3
	}
	if val < 1 {
		return 1
	}
	if val > 5 {
		return 5
	}
	return val
}

type classifierPayload struct {
	Emotions []string `json:"emotions"`
	Scale    float32  `json:"scale"`
	Concerns []string `json:"concerns"`
}

const emotionSystemPrompt = "You read one answer from a short personal interview and identify how the person feels. " +
	"Return only a JSON object with the fields: emotions (one to three of neutral/joyful/sad/anxious/angry/lonely/hopeful/grateful/calm, strongest first), " +
	"scale (a number from 1 to 5 for the strength of the strongest feeling) and concerns (short phrases naming what troubles the person, empty when none). " +
	"Only report what the answer states. Do not output any other text."

const emotionUserPrompt = "Person: {user}\n\nEarlier answers:\n{history}\n\nAnswer to analyze:\n{answer}"
