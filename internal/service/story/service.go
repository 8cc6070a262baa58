package story

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/storyline/internal/model/answer"
	"github.com/zhouzirui/storyline/internal/model/profile"
)

var (
	ErrNoAnswers  = errors.New("no answers recorded")
	ErrEmptyStory = errors.New("model returned an empty story")
)

// Generator turns a user's answers into a story.
type Generator interface {
	Generate(ctx context.Context, user profile.Profile, entries []answer.Entry) (string, error)
}

// LLMGenerator writes stories with a chat model through an eino chain.
type LLMGenerator struct {
	chain compose.Runnable[map[string]any, *schema.Message]
}

// NewLLMGenerator compiles the story chain on top of chatModel.
func NewLLMGenerator(ctx context.Context, chatModel model.ChatModel) (*LLMGenerator, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile story chain: %w", err)
	}
	return &LLMGenerator{chain: runnable}, nil
}

// Generate runs the chain for user.
func (g *LLMGenerator) Generate(ctx context.Context, user profile.Profile, entries []answer.Entry) (string, error) {
	if len(entries) == 0 {
		return "", ErrNoAnswers
	}

	input := map[string]any{
		"system": systemPrompt,
		"query":  BuildPrompt(user, Summarize(entries)),
	}

	msg, err := g.chain.Invoke(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to run story chain: %w", err)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return "", ErrEmptyStory
	}

	log.Printf("[story] generated story for %s, length=%d", user.Name, len(msg.Content))
	return strings.TrimSpace(msg.Content), nil
}

// Fallback tries primary first and falls back to secondary when it fails.
type Fallback struct {
	Primary   Generator
	Secondary Generator
}

func (f Fallback) Generate(ctx context.Context, user profile.Profile, entries []answer.Entry) (string, error) {
	text, err := f.Primary.Generate(ctx, user, entries)
	if err == nil || errors.Is(err, ErrNoAnswers) || f.Secondary == nil {
		return text, err
	}
	log.Printf("[story] primary generator failed, use fallback: %v", err)
	return f.Secondary.Generate(ctx, user, entries)
}
