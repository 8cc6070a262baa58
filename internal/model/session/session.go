package session

import (
	"time"

	"github.com/zhouzirui/storyline/internal/model/profile"
	"github.com/zhouzirui/storyline/internal/model/questionnaire"
)

// Phase is the state of the interview state machine.
type Phase string

const (
	// Idle means no session is live: before Start and after Restart.
	Idle          Phase = "idle"
	Collecting    Phase = "collecting"
	Submitting    Phase = "submitting"
	AwaitingStory Phase = "awaiting_story"
	Complete      Phase = "complete"
	Failed        Phase = "failed"
)

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	switch p {
	case Idle, Collecting, Submitting, AwaitingStory, Complete, Failed:
		return true
	default:
		return false
	}
}

// Transient reports whether a gateway call may be in flight in this phase.
func (p Phase) Transient() bool {
	return p == Submitting || p == AwaitingStory
}

// ErrorKind classifies the last error surfaced to the presentation layer.
type ErrorKind string

const (
	NoError           ErrorKind = ""
	InvalidProfile    ErrorKind = "invalid_profile"
	EmptyAnswer       ErrorKind = "empty_answer"
	InvalidTransition ErrorKind = "invalid_transition"
	SubmissionFailed  ErrorKind = "submission_failed"
	StoryFetchFailed  ErrorKind = "story_fetch_failed"

	// 以下两种只出现在适配层的错误回执里，不会写入快照
	RegistrationFailed ErrorKind = "registration_failed"
	InvalidSnapshot    ErrorKind = "invalid_snapshot"
)

// Soft reports whether the error leaves the interview able to move forward.
func (k ErrorKind) Soft() bool {
	return k == EmptyAnswer || k == SubmissionFailed
}

// Snapshot is an immutable copy of the session state, emitted after every
// transition and persisted to the local session cache.
type Snapshot struct {
	SessionID string                       `json:"sessionId,omitempty"`
	Phase     Phase                        `json:"phase"`
	Cursor    int                          `json:"cursor"`
	Total     int                          `json:"total"`
	Question  string                       `json:"question,omitempty"`
	Profile   *profile.Profile             `json:"profile,omitempty"`
	Answers   []questionnaire.AnswerRecord `json:"answers"`
	Story     *string                      `json:"story,omitempty"`
	LastError ErrorKind                    `json:"lastError,omitempty"`
	Version   uint64                       `json:"version"`
	UpdatedAt time.Time                    `json:"updatedAt"`
}

// HasQuestion reports whether the form view should be rendered.
func (s Snapshot) HasQuestion() bool {
	return s.Profile != nil && s.Cursor < s.Total && s.Question != ""
}

// StoryText returns the story or an empty string when none was received.
func (s Snapshot) StoryText() string {
	if s.Story == nil {
		return ""
	}
	return *s.Story
}
