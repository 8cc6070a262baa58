// Package gateway is the only channel between the interview engine and the
// remote story backend. Every call is a single request/response exchange;
// retries are left to the caller.
package gateway

import (
	"context"
	"fmt"

	"github.com/zhouzirui/storyline/internal/model/profile"
)

// Gateway exposes the three backend operations.
type Gateway interface {
	RegisterProfile(ctx context.Context, p profile.Profile) error
	SubmitAnswer(ctx context.Context, text string, p profile.Profile) error
	FetchStory(ctx context.Context, p profile.Profile) (string, error)
}

// Op names a gateway operation.
type Op string

const (
	OpRegisterProfile Op = "register_profile"
	OpSubmitAnswer    Op = "submit_answer"
	OpFetchStory      Op = "fetch_story"
)

// Kind classifies how a call failed.
type Kind string

const (
	// KindTransport covers unreachable hosts, timeouts and cancelled contexts.
	KindTransport Kind = "transport"
	// KindStatus is a response with a non-2xx status code.
	KindStatus Kind = "status"
	// KindDecode is a 2xx response whose body could not be understood.
	KindDecode Kind = "decode"
)

// Error is the single error type returned across the gateway boundary.
type Error struct {
	Op     Op
	Kind   Kind
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Kind == KindStatus {
		return fmt.Sprintf("gateway %s: unexpected status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("gateway %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
