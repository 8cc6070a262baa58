package story

import (
	"context"
	"fmt"
	"strings"

	"github.com/zhouzirui/storyline/internal/analysis/emotion"
	"github.com/zhouzirui/storyline/internal/model/answer"
	"github.com/zhouzirui/storyline/internal/model/profile"
)

// TemplateGenerator writes a short story without a language model. It is
// used when Ark is not configured and as the fallback when the model fails.
type TemplateGenerator struct{}

var openings = map[emotion.Label]string{
	emotion.Joyful:   "%s had been carrying a quiet kind of happiness lately, the sort that makes ordinary afternoons glow.",
	emotion.Sad:      "%s sat by the window, feeling a little lost, watching the light fade from the sky.",
	emotion.Anxious:  "%s's thoughts had been racing for days, circling the same worries like birds that would not land.",
	emotion.Angry:    "%s had felt the heat of frustration more often than usual, a storm that never quite broke.",
	emotion.Lonely:   "%s had noticed how quiet the evenings had become, and how far away everyone seemed.",
	emotion.Hopeful:  "%s had been looking toward the horizon lately, sensing that something good was on its way.",
	emotion.Grateful: "%s had started noticing the small gifts each day brought, and holding on to them.",
	emotion.Calm:     "%s had found a steady rhythm lately, the kind of calm that settles in like morning mist.",
}

const defaultOpening = "%s took a slow breath and looked back over the days that had led here."

// Generate builds the story from the answer log.
func (TemplateGenerator) Generate(_ context.Context, user profile.Profile, entries []answer.Entry) (string, error) {
	if len(entries) == 0 {
		return "", ErrNoAnswers
	}

	mood := Summarize(entries)
	name := strings.TrimSpace(user.Name)
	if name == "" {
		name = "They"
	}

	var paragraphs []string

	opening := defaultOpening
	if len(mood.Emotions) > 0 {
		if o, ok := openings[mood.Emotions[0]]; ok {
			opening = o
		}
	}
	paragraphs = append(paragraphs, fmt.Sprintf(opening, name))

	if len(mood.Details) > 0 {
		paragraphs = append(paragraphs, fmt.Sprintf(
			"There were things %s knew to be true: %s. These were not small things. They were the threads that made up a life worth telling.",
			name, joinDetails(mood.Details),
		))
	}

	if len(mood.Concerns) > 0 {
		paragraphs = append(paragraphs, fmt.Sprintf(
			"Yes, there was %s to think about. But %s had faced hard seasons before, and each one had passed, leaving a little more strength behind.",
			joinList(mood.Concerns), name,
		))
	}

	paragraphs = append(paragraphs, fmt.Sprintf(
		"As the sun set, %s remembered that it always rises again. Tomorrow held new possibilities, and %s was ready to meet them, one gentle step at a time.",
		name, name,
	))

	return strings.Join(paragraphs, "\n\n"), nil
}

func joinDetails(details []string) string {
	const limit = 3
	if len(details) > limit {
		details = details[:limit]
	}
	cleaned := make([]string, 0, len(details))
	for _, d := range details {
		d = strings.TrimRight(strings.TrimSpace(d), ".!?")
		if d != "" {
			cleaned = append(cleaned, fmt.Sprintf("%q", d))
		}
	}
	return joinList(cleaned)
}

func joinList(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	case 2:
		return items[0] + " and " + items[1]
	default:
		return strings.Join(items[:len(items)-1], ", ") + " and " + items[len(items)-1]
	}
}
