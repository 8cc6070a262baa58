package story

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zhouzirui/storyline/internal/analysis/emotion"
	"github.com/zhouzirui/storyline/internal/model/answer"
	"github.com/zhouzirui/storyline/internal/model/profile"
)

// Mood condenses the answer log into what the story should respond to.
type Mood struct {
	// Emotions are ordered by how often they were read, strongest first.
	Emotions []emotion.Label
	Concerns []string
	Details  []string
}

// Summarize collects emotions, concerns and details from entries.
func Summarize(entries []answer.Entry) Mood {
	counts := make(map[emotion.Label]int)
	firstSeen := make(map[emotion.Label]int)
	seenConcern := make(map[string]bool)
	var mood Mood

	for _, entry := range entries {
		for _, label := range entry.Reading.Emotions {
			if label == emotion.Neutral {
				continue
			}
			if _, ok := firstSeen[label]; !ok {
				firstSeen[label] = len(firstSeen)
			}
			counts[label]++
		}
		for _, concern := range entry.Reading.Concerns {
			key := strings.ToLower(concern)
			if seenConcern[key] {
				continue
			}
			seenConcern[key] = true
			mood.Concerns = append(mood.Concerns, concern)
		}
		if text := strings.TrimSpace(entry.Text); text != "" {
			mood.Details = append(mood.Details, text)
		}
	}

	for label := range counts {
		mood.Emotions = append(mood.Emotions, label)
	}
	sort.Slice(mood.Emotions, func(i, j int) bool {
		a, b := mood.Emotions[i], mood.Emotions[j]
		if counts[a] != counts[b] {
			return counts[a] > counts[b]
		}
		return firstSeen[a] < firstSeen[b]
	})
	return mood
}

const systemPrompt = `You write short, warm stories for the person described by the user message.
The story should be uplifting, inspiring and emotionally reassuring. Acknowledge the person's current feelings,
then guide them toward hope, courage and happiness with gentle, encouraging storytelling.
Weave the person's own details in naturally and end with an inspiring message about growth, love and resilience.
Write in the third person using the person's name. Keep it under 400 words and return only the story.`

// BuildPrompt renders the user message for the story model.
func BuildPrompt(user profile.Profile, mood Mood) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Create a comforting short story for %s.\n", user.Describe())

	if len(mood.Emotions) > 0 {
		b.WriteString("\nCurrent emotions:\n")
		for _, label := range mood.Emotions {
			fmt.Fprintf(&b, "- %s\n", label)
		}
	}
	if len(mood.Concerns) > 0 {
		b.WriteString("\nConcerns:\n")
		for _, concern := range mood.Concerns {
			fmt.Fprintf(&b, "- %s\n", concern)
		}
	}
	if len(mood.Details) > 0 {
		b.WriteString("\nIn their own words:\n")
		for _, detail := range mood.Details {
			fmt.Fprintf(&b, "- %s\n", detail)
		}
	}
	return b.String()
}
