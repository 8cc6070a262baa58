package answer

import (
	"time"

	"github.com/zhouzirui/storyline/internal/analysis/emotion"
)

// Entry persists one processed interview answer on the story backend.
type Entry struct {
	ID        string          `json:"id"`
	Text      string          `json:"text"`
	FullText  string          `json:"fullText"`
	Reading   emotion.Reading `json:"reading"`
	CreatedAt time.Time       `json:"createdAt"`
}
