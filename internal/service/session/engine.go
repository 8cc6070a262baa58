// Package session implements the interview state machine: it tracks the
// question cursor, submits every answer to the backend once, detects
// completion and drives retrieval of the generated story.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/storyline/internal/gateway"
	"github.com/zhouzirui/storyline/internal/model/profile"
	"github.com/zhouzirui/storyline/internal/model/questionnaire"
	model "github.com/zhouzirui/storyline/internal/model/session"
)

// DefaultCallTimeout bounds a single backend call.
const DefaultCallTimeout = 60 * time.Second

// Persister saves the live session after every accepted mutation.
type Persister interface {
	SaveSession(ctx context.Context, snap model.Snapshot) error
	ClearSession(ctx context.Context) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithCallTimeout bounds each backend call. Zero disables the bound.
func WithCallTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.callTimeout = d
	}
}

// WithPersister caches the session after every accepted mutation.
func WithPersister(p Persister) Option {
	return func(e *Engine) {
		e.persister = p
	}
}

// WithClock overrides time.Now for snapshot timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// StartOption tweaks a single Start call.
type StartOption func(*startOptions)

type startOptions struct {
	skipRegistration bool
}

// WithoutRegistration starts the session without calling RegisterProfile,
// for a profile the backend already knows.
func WithoutRegistration() StartOption {
	return func(o *startOptions) {
		o.skipRegistration = true
	}
}

type state struct {
	id        string
	profile   *profile.Profile
	cursor    int
	answers   *questionnaire.Answers
	phase     model.Phase
	story     *string
	lastError model.ErrorKind
}

func idleState() state {
	return state{phase: model.Idle, answers: questionnaire.NewAnswers()}
}

// Engine owns exactly one interview session at a time. Transitions are
// serialized by mu; the lock is released while a backend call is in flight
// and the transient phase rejects conflicting calls meanwhile.
type Engine struct {
	questions   questionnaire.QuestionSet
	gateway     gateway.Gateway
	persister   Persister
	callTimeout time.Duration
	now         func() time.Time

	mu         sync.Mutex
	state      state
	generation uint64
	version    uint64
	updatedAt  time.Time
	starting   bool
	fetching   bool
	subs       *broadcaster

	persistMu sync.Mutex
	persisted uint64
	pending   *model.Snapshot
}

// NewEngine returns an idle engine for questions backed by gw.
func NewEngine(questions questionnaire.QuestionSet, gw gateway.Gateway, opts ...Option) *Engine {
	e := &Engine{
		questions:   questions,
		gateway:     gw,
		callTimeout: DefaultCallTimeout,
		now:         time.Now,
		state:       idleState(),
		subs:        newBroadcaster(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Questions returns the question set the engine walks through.
func (e *Engine) Questions() questionnaire.QuestionSet {
	return e.questions
}

// Start opens a session for p. It requires the engine to be idle.
func (e *Engine) Start(ctx context.Context, p profile.Profile, opts ...StartOption) (model.Snapshot, error) {
	var so startOptions
	for _, opt := range opts {
		opt(&so)
	}

	p = p.Normalize()

	e.mu.Lock()
	if e.state.phase != model.Idle || e.starting {
		snap := e.snapshotLocked()
		e.mu.Unlock()
		return snap, e.rejected("start", snap.Phase)
	}
	if err := p.Validate(); err != nil {
		e.state.lastError = model.InvalidProfile
		snap := e.commitLocked()
		e.mu.Unlock()
		return snap, err
	}
	e.starting = true
	gen := e.generation
	e.mu.Unlock()

	if !so.skipRegistration {
		err := e.call(ctx, func(ctx context.Context) error {
			return e.gateway.RegisterProfile(ctx, p)
		})
		if err != nil {
			e.mu.Lock()
			if e.generation == gen {
				e.starting = false
			}
			snap := e.snapshotLocked()
			e.mu.Unlock()
			log.Printf("[session] profile registration failed: %v", err)
			return snap, fmt.Errorf("%w: %w", ErrRegistrationFailed, err)
		}
	}

	e.mu.Lock()
	if e.generation != gen {
		snap := e.snapshotLocked()
		e.mu.Unlock()
		return snap, ErrSessionSuperseded
	}
	e.starting = false
	e.state = state{
		id:      uuid.NewString(),
		profile: &p,
		answers: questionnaire.NewAnswers(),
		phase:   model.Collecting,
	}
	snap := e.commitLocked()
	e.mu.Unlock()

	log.Printf("[session] started session=%s questions=%d", snap.SessionID, e.questions.Len())
	e.persist(ctx, snap)
	return snap, nil
}

// Resume restores a cached session without contacting the backend. A
// snapshot caught mid-submission resumes in Collecting at the same cursor,
// so the unconfirmed question is asked again.
func (e *Engine) Resume(ctx context.Context, cached model.Snapshot) (model.Snapshot, error) {
	restored, err := e.restoreState(cached)
	if err != nil {
		return e.Snapshot(), err
	}

	e.mu.Lock()
	if e.state.phase != model.Idle || e.starting {
		snap := e.snapshotLocked()
		e.mu.Unlock()
		return snap, e.rejected("resume", snap.Phase)
	}
	e.state = restored
	if cached.Version > e.version {
		e.version = cached.Version
	}
	snap := e.commitLocked()
	e.mu.Unlock()

	log.Printf("[session] resumed session=%s phase=%s cursor=%d", snap.SessionID, snap.Phase, snap.Cursor)
	e.persist(ctx, snap)
	return snap, nil
}

func (e *Engine) restoreState(cached model.Snapshot) (state, error) {
	if cached.Profile == nil {
		return state{}, fmt.Errorf("%w: no profile", ErrInvalidSnapshot)
	}
	p := cached.Profile.Normalize()
	if err := p.Validate(); err != nil {
		return state{}, fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}
	if cached.Total != e.questions.Len() {
		return state{}, fmt.Errorf("%w: question count changed from %d to %d", ErrInvalidSnapshot, cached.Total, e.questions.Len())
	}
	if cached.Cursor < 0 || cached.Cursor > e.questions.Len() {
		return state{}, fmt.Errorf("%w: cursor %d out of range", ErrInvalidSnapshot, cached.Cursor)
	}
	answers := cached.Answers
	// 提交中的快照可能多带一条未确认的答案，恢复时丢弃并重新提问
	if cached.Phase == model.Submitting && len(answers) == cached.Cursor+1 {
		answers = answers[:cached.Cursor]
	}
	if len(answers) != cached.Cursor {
		return state{}, fmt.Errorf("%w: %d answers for cursor %d", ErrInvalidSnapshot, len(answers), cached.Cursor)
	}
	for i, rec := range answers {
		if rec.Question != e.questions.At(i) {
			return state{}, fmt.Errorf("%w: answer %d is for %q, want %q", ErrInvalidSnapshot, i, rec.Question, e.questions.At(i))
		}
	}

	phase := cached.Phase
	done := cached.Cursor == e.questions.Len()
	switch phase {
	case model.Submitting:
		phase = model.Collecting
	case model.Collecting:
	case model.AwaitingStory, model.Complete, model.Failed:
		if !done {
			return state{}, fmt.Errorf("%w: phase %s with cursor %d", ErrInvalidSnapshot, phase, cached.Cursor)
		}
	default:
		return state{}, fmt.Errorf("%w: phase %s", ErrInvalidSnapshot, phase)
	}
	if phase == model.Collecting && done {
		return state{}, fmt.Errorf("%w: collecting past the last question", ErrInvalidSnapshot)
	}
	if phase == model.Complete && cached.Story == nil {
		return state{}, fmt.Errorf("%w: complete without a story", ErrInvalidSnapshot)
	}

	id := cached.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	var story *string
	if cached.Story != nil {
		s := *cached.Story
		story = &s
	}
	return state{
		id:        id,
		profile:   &p,
		cursor:    cached.Cursor,
		answers:   questionnaire.AnswersFromRecords(answers),
		phase:     phase,
		story:     story,
		lastError: cached.LastError,
	}, nil
}

// SubmitAnswer records text for the current question and sends it to the
// backend. The answer is kept and the cursor advances even when the backend
// call fails; that case returns ErrSubmissionFailed alongside the new
// snapshot. Answering the last question fetches the story before returning.
func (e *Engine) SubmitAnswer(ctx context.Context, text string) (model.Snapshot, error) {
	text = strings.TrimSpace(text)

	e.mu.Lock()
	if e.state.phase != model.Collecting {
		snap := e.snapshotLocked()
		e.mu.Unlock()
		return snap, e.rejected("submit answer", snap.Phase)
	}
	if text == "" {
		snap := e.snapshotLocked()
		e.mu.Unlock()
		return snap, ErrEmptyAnswer
	}

	question := e.questions.At(e.state.cursor)
	e.state.answers.Set(question, text)
	e.state.phase = model.Submitting
	p := *e.state.profile
	gen := e.generation
	snap := e.commitLocked()
	e.mu.Unlock()
	e.persist(ctx, snap)

	callErr := e.call(ctx, func(ctx context.Context) error {
		return e.gateway.SubmitAnswer(ctx, text, p)
	})

	e.mu.Lock()
	if e.generation != gen {
		snap := e.snapshotLocked()
		e.mu.Unlock()
		log.Printf("[session] discarding answer response for a restarted session")
		return snap, ErrSessionSuperseded
	}
	e.state.cursor++
	if callErr != nil {
		e.state.lastError = model.SubmissionFailed
	} else {
		e.state.lastError = model.NoError
	}
	done := e.state.cursor >= e.questions.Len()
	if done {
		e.state.phase = model.AwaitingStory
		e.fetching = true
	} else {
		e.state.phase = model.Collecting
	}
	snap = e.commitLocked()
	e.mu.Unlock()
	e.persist(ctx, snap)

	var result error
	if callErr != nil {
		log.Printf("[session] answer %d/%d kept locally, backend did not confirm: %v", snap.Cursor, snap.Total, callErr)
		result = fmt.Errorf("%w: %w", ErrSubmissionFailed, callErr)
	}

	if done {
		storySnap, storyErr := e.fetchStory(ctx, gen, p)
		snap = storySnap
		if storyErr != nil {
			result = errors.Join(result, storyErr)
		}
	}
	return snap, result
}

// RequestStory fetches the story. It is valid once every question has been
// answered and while the session is Failed, which makes manual retries
// possible without a restart.
func (e *Engine) RequestStory(ctx context.Context) (model.Snapshot, error) {
	e.mu.Lock()
	phase := e.state.phase
	if e.fetching || (phase != model.AwaitingStory && phase != model.Failed) {
		snap := e.snapshotLocked()
		e.mu.Unlock()
		return snap, e.rejected("request story", phase)
	}
	e.fetching = true
	e.state.phase = model.AwaitingStory
	p := *e.state.profile
	gen := e.generation
	if phase != model.AwaitingStory {
		snap := e.commitLocked()
		e.mu.Unlock()
		e.persist(ctx, snap)
	} else {
		e.mu.Unlock()
	}

	return e.fetchStory(ctx, gen, p)
}

// fetchStory runs the story call for generation gen. The caller must have
// set e.fetching.
func (e *Engine) fetchStory(ctx context.Context, gen uint64, p profile.Profile) (model.Snapshot, error) {
	var story string
	err := e.call(ctx, func(ctx context.Context) error {
		var callErr error
		story, callErr = e.gateway.FetchStory(ctx, p)
		return callErr
	})

	e.mu.Lock()
	if e.generation != gen {
		snap := e.snapshotLocked()
		e.mu.Unlock()
		log.Printf("[session] discarding story response for a restarted session")
		return snap, ErrSessionSuperseded
	}
	e.fetching = false
	if err != nil {
		e.state.phase = model.Failed
		e.state.lastError = model.StoryFetchFailed
		snap := e.commitLocked()
		e.mu.Unlock()
		e.persist(ctx, snap)
		log.Printf("[session] story fetch failed for session=%s: %v", snap.SessionID, err)
		return snap, fmt.Errorf("%w: %w", ErrStoryFetchFailed, err)
	}

	e.state.story = &story
	e.state.phase = model.Complete
	if e.state.lastError == model.StoryFetchFailed {
		e.state.lastError = model.NoError
	}
	snap := e.commitLocked()
	e.mu.Unlock()
	e.persist(ctx, snap)

	log.Printf("[session] story received for session=%s, length=%d", snap.SessionID, len(story))
	return snap, nil
}

// Restart drops the live session from any phase. Responses to calls issued
// before the restart are discarded when they arrive.
func (e *Engine) Restart(ctx context.Context) model.Snapshot {
	e.mu.Lock()
	previous := e.state.id
	e.generation++
	e.starting = false
	e.fetching = false
	e.state = idleState()
	snap := e.commitLocked()
	e.mu.Unlock()

	if previous != "" {
		log.Printf("[session] restarted, dropped session=%s", previous)
	}
	e.persist(ctx, snap)
	return snap
}

// CurrentQuestion returns the question awaiting an answer, if any.
func (e *Engine) CurrentQuestion() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentQuestionLocked()
}

// Snapshot returns the current state.
func (e *Engine) Snapshot() model.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Subscribe delivers the current snapshot followed by one snapshot per
// transition. A subscriber that falls behind skips intermediate snapshots
// but always receives the latest. Call cancel to unsubscribe; it closes the
// channel.
func (e *Engine) Subscribe(buffer int) (<-chan model.Snapshot, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.subs.subscribe(buffer, e.snapshotLocked())
}

func (e *Engine) currentQuestionLocked() (string, bool) {
	if e.state.profile == nil || e.state.cursor >= e.questions.Len() {
		return "", false
	}
	return e.questions.At(e.state.cursor), true
}

func (e *Engine) snapshotLocked() model.Snapshot {
	snap := model.Snapshot{
		SessionID: e.state.id,
		Phase:     e.state.phase,
		Cursor:    e.state.cursor,
		Total:     e.questions.Len(),
		Answers:   e.state.answers.Records(),
		LastError: e.state.lastError,
		Version:   e.version,
		UpdatedAt: e.updatedAt,
	}
	if q, ok := e.currentQuestionLocked(); ok {
		snap.Question = q
	}
	if e.state.profile != nil {
		p := *e.state.profile
		snap.Profile = &p
	}
	if e.state.story != nil {
		s := *e.state.story
		snap.Story = &s
	}
	return snap
}

// commitLocked stamps a new version and notifies subscribers.
func (e *Engine) commitLocked() model.Snapshot {
	e.version++
	e.updatedAt = e.now().UTC()
	snap := e.snapshotLocked()
	e.subs.publish(snap)
	return snap
}

func (e *Engine) rejected(op string, phase model.Phase) error {
	log.Printf("[session] rejected %s in phase %s", op, phase)
	return fmt.Errorf("%w: cannot %s while %s", ErrInvalidTransition, op, phase)
}

func (e *Engine) call(ctx context.Context, fn func(context.Context) error) error {
	if e.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.callTimeout)
		defer cancel()
	}
	return fn(ctx)
}

// persist writes snap unless a newer version has already been written, so
// saves racing across transitions never roll the cache back. The write runs
// without the caller's cancellation; a failed write is kept for Flush or the
// next mutation.
func (e *Engine) persist(ctx context.Context, snap model.Snapshot) {
	if e.persister == nil {
		return
	}

	e.persistMu.Lock()
	defer e.persistMu.Unlock()
	if snap.Version <= e.persisted || (e.pending != nil && snap.Version < e.pending.Version) {
		return
	}
	if err := e.writeLocked(context.WithoutCancel(ctx), snap); err != nil {
		e.pending = &snap
		log.Printf("[session] failed to persist session version=%d: %v", snap.Version, err)
	}
}

// Flush retries the last snapshot whose write failed. It returns nil when
// the cache is up to date.
func (e *Engine) Flush(ctx context.Context) error {
	if e.persister == nil {
		return nil
	}

	e.persistMu.Lock()
	defer e.persistMu.Unlock()
	if e.pending == nil {
		return nil
	}
	if err := e.writeLocked(ctx, *e.pending); err != nil {
		return fmt.Errorf("persist session version=%d: %w", e.pending.Version, err)
	}
	return nil
}

// writeLocked 只有写入成功才推进 persisted
func (e *Engine) writeLocked(ctx context.Context, snap model.Snapshot) error {
	var err error
	if snap.Phase == model.Idle {
		err = e.persister.ClearSession(ctx)
	} else {
		err = e.persister.SaveSession(ctx, snap)
	}
	if err != nil {
		return err
	}
	e.persisted = snap.Version
	e.pending = nil
	return nil
}
