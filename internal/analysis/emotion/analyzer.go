package emotion

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

// Label 表示从回答中识别出的情绪。
type Label string

const (
	Neutral  Label = "neutral"
	Joyful   Label = "joyful"
	Sad      Label = "sad"
	Anxious  Label = "anxious"
	Angry    Label = "angry"
	Lonely   Label = "lonely"
	Hopeful  Label = "hopeful"
	Grateful Label = "grateful"
	Calm     Label = "calm"
)

// MaxEmotions caps how many feelings one answer may carry.
const MaxEmotions = 3

// Decision 给出主导情绪以及推荐强度。
type Decision struct {
	Emotion Label   `json:"emotion"`
	Scale   float32 `json:"scale"`
	Score   int     `json:"score"`
}

// Reading 是一条回答的完整分析结果。
type Reading struct {
	Primary  Decision `json:"primary"`
	Emotions []Label  `json:"emotions"`
	Concerns []string `json:"concerns,omitempty"`
}

var keywordBuckets = map[Label][]string{
	Joyful: {
		"happy", "glad", "joy", "fun", "love", "excited", "delighted", "enjoy", "great", "amazing",
		"awesome", "wonderful", "laugh", "smile", "thrilled",
	},
	Sad: {
		"sad", "unhappy", "cry", "depressed", "down", "upset", "hurt", "sorrow", "heartbroken",
		"miserable", "grief", "lost", "tears", "disappointed",
	},
	Anxious: {
		"anxious", "worried", "worry", "nervous", "stress", "stressed", "afraid", "scared", "fear",
		"panic", "overwhelmed", "uncertain", "pressure", "tense",
	},
	Angry: {
		"angry", "furious", "rage", "mad", "annoyed", "frustrated", "irritated", "hate", "unfair",
		"fed up",
	},
	Lonely: {
		"lonely", "alone", "isolated", "nobody", "no one", "left out", "miss them", "distant",
	},
	Hopeful: {
		"hope", "hopeful", "dream", "someday", "looking forward", "can't wait", "goal", "future",
		"better", "wish", "plan to",
	},
	Grateful: {
		"grateful", "thankful", "thanks", "thank", "appreciate", "blessed", "lucky",
	},
	Calm: {
		"calm", "peace", "peaceful", "quiet", "relaxed", "gentle", "slow", "still", "content",
		"hiking", "nature", "walk",
	},
}

// concernMarkers introduce the thing the user is troubled by.
var concernMarkers = []string{
	"worried about", "worry about", "afraid of", "scared of", "stressed about", "anxious about",
	"concerned about", "struggling with", "fear of", "nervous about",
}

const exclamationBoost = 2

// Analyze 根据一条回答推断情绪与担忧。
func Analyze(text string) Reading {
	scores := scoreText(text)

	ranked := rank(scores)
	if len(ranked) == 0 {
		return Reading{
			Primary:  Decision{Emotion: Neutral, Scale: 3},
			Emotions: []Label{Neutral},
			Concerns: extractConcerns(text),
		}
	}

	best := ranked[0]
	scale := 2 + float32(scores[best])/4 // 基础为2，强度随得分提升
	if best == Calm || best == Grateful {
		scale = float32(math.Min(3.5, float64(scale)))
	}
	if scale < 1 {
		scale = 1
	}
	if scale > 5 {
		scale = 5
	}

	if len(ranked) > MaxEmotions {
		ranked = ranked[:MaxEmotions]
	}

	return Reading{
		Primary:  Decision{Emotion: best, Scale: scale, Score: scores[best]},
		Emotions: ranked,
		Concerns: extractConcerns(text),
	}
}

func scoreText(text string) map[Label]int {
	scores := make(map[Label]int)
	normalized := " " + normalize(text) + " "
	if strings.TrimSpace(normalized) == "" {
		return scores
	}

	for label, keywords := range keywordBuckets {
		for _, word := range keywords {
			if strings.Contains(normalized, " "+word+" ") {
				scores[label] += 3
			}
		}
	}

	if exclamations := strings.Count(text, "!"); exclamations > 0 {
		for _, label := range []Label{Joyful, Angry, Hopeful} {
			if scores[label] > 0 {
				scores[label] += exclamations * exclamationBoost
			}
		}
	}
	return scores
}

// rank orders labels with a positive score, highest first. Ties resolve by
// label name so results are stable.
func rank(scores map[Label]int) []Label {
	labels := make([]Label, 0, len(scores))
	for label, s := range scores {
		if s > 0 {
			labels = append(labels, label)
		}
	}
	sort.Slice(labels, func(i, j int) bool {
		if scores[labels[i]] != scores[labels[j]] {
			return scores[labels[i]] > scores[labels[j]]
		}
		return labels[i] < labels[j]
	})
	return labels
}

// normalize lowercases text and turns punctuation into spaces so keywords
// match on word boundaries.
func normalize(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func extractConcerns(text string) []string {
	lower := strings.ToLower(text)
	var concerns []string
	seen := make(map[string]bool)
	for _, marker := range concernMarkers {
		idx := strings.Index(lower, marker)
		if idx < 0 {
			continue
		}
		rest := text[idx+len(marker):]
		if end := strings.IndexAny(rest, ".!?;\n"); end >= 0 {
			rest = rest[:end]
		}
		concern := strings.TrimSpace(strings.TrimRight(rest, ", "))
		key := strings.ToLower(concern)
		if concern == "" || seen[key] {
			continue
		}
		seen[key] = true
		concerns = append(concerns, concern)
	}
	return concerns
}
