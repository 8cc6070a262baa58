package answers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/storyline/internal/analysis/emotion"
	"github.com/zhouzirui/storyline/internal/model/answer"
	"github.com/zhouzirui/storyline/internal/model/profile"
)

var (
	ErrUserRequired = errors.New("user info is missing, please start from the beginning")
	ErrEmptyAnswer  = errors.New("answer text is required")
	ErrUserChanged  = errors.New("user info changed while the answer was processed")
)

// Analyzer reads emotions and concerns out of one answer.
type Analyzer interface {
	Analyze(ctx context.Context, user profile.Profile, history []string, answer string) emotion.Reading
}

// AnalyzerFunc adapts a plain heuristic to Analyzer.
type AnalyzerFunc func(text string) emotion.Reading

func (f AnalyzerFunc) Analyze(_ context.Context, _ profile.Profile, _ []string, text string) emotion.Reading {
	return f(text)
}

// Service keeps the single current user and the answers recorded for them.
type Service struct {
	analyzer Analyzer

	mu         sync.RWMutex
	user       *profile.Profile
	generation uint64
	entries    []answer.Entry
}

// NewService bootstraps the in-memory answer log.
func NewService(analyzer Analyzer) *Service {
	if analyzer == nil {
		analyzer = AnalyzerFunc(emotion.Analyze)
	}
	return &Service{analyzer: analyzer}
}

// StoreUser replaces the current user. Answers recorded for a previous user
// are dropped.
func (s *Service) StoreUser(_ context.Context, p profile.Profile) (profile.Profile, error) {
	p = p.Normalize()
	if err := p.Validate(); err != nil {
		return profile.Profile{}, err
	}

	s.mu.Lock()
	s.user = &p
	s.generation++
	s.entries = make([]answer.Entry, 0, 8)
	s.mu.Unlock()

	return p, nil
}

// User returns the current user, if any.
func (s *Service) User() (profile.Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return profile.Profile{}, false
	}
	return *s.user, true
}

// Record analyzes text and appends it to the answer log.
func (s *Service) Record(ctx context.Context, text string) (answer.Entry, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return answer.Entry{}, ErrEmptyAnswer
	}

	s.mu.RLock()
	if s.user == nil {
		s.mu.RUnlock()
		return answer.Entry{}, ErrUserRequired
	}
	user := *s.user
	gen := s.generation
	history := make([]string, len(s.entries))
	for i, e := range s.entries {
		history[i] = e.Text
	}
	s.mu.RUnlock()

	// 分析可能调用大模型，不持有锁
	reading := s.analyzer.Analyze(ctx, user, history, text)

	entry := answer.Entry{
		ID:        uuid.NewString(),
		Text:      text,
		FullText:  fmt.Sprintf("%s: %s", user.Describe(), text),
		Reading:   reading,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		return answer.Entry{}, ErrUserChanged
	}
	s.entries = append(s.entries, entry)
	return entry, nil
}

// Entries returns the recorded answers in order.
func (s *Service) Entries() []answer.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	copied := make([]answer.Entry, len(s.entries))
	copy(copied, s.entries)
	return copied
}
