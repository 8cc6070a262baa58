package session

import (
	"errors"

	"github.com/zhouzirui/storyline/internal/model/profile"
	model "github.com/zhouzirui/storyline/internal/model/session"
)

var (
	// ErrInvalidProfile is returned by Start when the profile is incomplete.
	ErrInvalidProfile = profile.ErrInvalidProfile
	// ErrEmptyAnswer rejects blank answers without touching the session.
	ErrEmptyAnswer = errors.New("answer must not be empty")
	// ErrInvalidTransition rejects an operation the current phase does not allow.
	ErrInvalidTransition = errors.New("operation not allowed in current phase")
	// ErrSubmissionFailed reports that an answer was kept locally but the
	// backend did not confirm it. The interview continues.
	ErrSubmissionFailed = errors.New("answer submission failed")
	// ErrStoryFetchFailed moves the session to Failed until the fetch is retried.
	ErrStoryFetchFailed = errors.New("story fetch failed")
	// ErrRegistrationFailed aborts Start when the backend rejects the profile.
	ErrRegistrationFailed = errors.New("profile registration failed")
	// ErrSessionSuperseded is returned when Restart replaced the session while
	// a backend call was in flight; the late response was discarded.
	ErrSessionSuperseded = errors.New("session was restarted")
	// ErrInvalidSnapshot rejects a cached snapshot that cannot be resumed.
	ErrInvalidSnapshot = errors.New("cached session cannot be resumed")
)

// KindOf maps an error returned by the engine to the ErrorKind shown to the
// user. Story failures win over submission failures when both are joined.
// Errors that did not come from the engine map to NoError.
func KindOf(err error) model.ErrorKind {
	switch {
	case err == nil:
		return model.NoError
	case errors.Is(err, ErrInvalidProfile):
		return model.InvalidProfile
	case errors.Is(err, ErrEmptyAnswer):
		return model.EmptyAnswer
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrSessionSuperseded):
		return model.InvalidTransition
	case errors.Is(err, ErrStoryFetchFailed):
		return model.StoryFetchFailed
	case errors.Is(err, ErrSubmissionFailed):
		return model.SubmissionFailed
	case errors.Is(err, ErrRegistrationFailed):
		return model.RegistrationFailed
	case errors.Is(err, ErrInvalidSnapshot):
		return model.InvalidSnapshot
	default:
		return model.NoError
	}
}
