package questionnaire

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyQuestionSet  = errors.New("question set must contain at least one question")
	ErrBlankQuestion     = errors.New("question must not be blank")
	ErrDuplicateQuestion = errors.New("duplicate question")
)

// QuestionSet is the ordered, immutable list of interview questions.
// Answers are keyed by question text, so every entry must be unique.
type QuestionSet struct {
	items []string
}

// New validates and freezes the supplied questions.
func New(questions ...string) (QuestionSet, error) {
	if len(questions) == 0 {
		return QuestionSet{}, ErrEmptyQuestionSet
	}

	seen := make(map[string]struct{}, len(questions))
	items := make([]string, 0, len(questions))
	for i, q := range questions {
		q = strings.TrimSpace(q)
		if q == "" {
			return QuestionSet{}, fmt.Errorf("question %d: %w", i, ErrBlankQuestion)
		}
		if _, dup := seen[q]; dup {
			return QuestionSet{}, fmt.Errorf("question %d %q: %w", i, q, ErrDuplicateQuestion)
		}
		seen[q] = struct{}{}
		items = append(items, q)
	}
	return QuestionSet{items: items}, nil
}

// MustNew is New for question sets fixed at build time.
func MustNew(questions ...string) QuestionSet {
	set, err := New(questions...)
	if err != nil {
		panic(err)
	}
	return set
}

// Seed returns the default interview.
func Seed() QuestionSet {
	return MustNew(
		"Tell me a little about yourself! How would you describe yourself in a few words?",
		"Tell me about your Friends and Family..",
		"What are some things you enjoy doing in your free time?",
		"How are you feeling today—emotionally and psychologically?",
		"What’s making you feel this way?",
		"If you could change one thing about your current situation to feel better, what would it be?",
	)
}

// Len returns the number of questions.
func (s QuestionSet) Len() int {
	return len(s.items)
}

// At returns the question at index i. It panics when i is out of range.
func (s QuestionSet) At(i int) string {
	return s.items[i]
}

// All returns a copy of the questions in order.
func (s QuestionSet) All() []string {
	return append([]string(nil), s.items...)
}

// Index reports the position of question q.
func (s QuestionSet) Index(q string) (int, bool) {
	for i, item := range s.items {
		if item == q {
			return i, true
		}
	}
	return -1, false
}
