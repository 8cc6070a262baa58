package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/storyline/internal/model/profile"
	"github.com/zhouzirui/storyline/internal/model/questionnaire"
	model "github.com/zhouzirui/storyline/internal/model/session"
	sessionService "github.com/zhouzirui/storyline/internal/service/session"
	"github.com/zhouzirui/storyline/internal/store"
)

type stubGateway struct {
	registerErr error
	submitErr   error
	storyErr    error
}

func (s *stubGateway) RegisterProfile(context.Context, profile.Profile) error { return s.registerErr }

func (s *stubGateway) SubmitAnswer(context.Context, string, profile.Profile) error {
	return s.submitErr
}

func (s *stubGateway) FetchStory(context.Context, profile.Profile) (string, error) {
	if s.storyErr != nil {
		return "", s.storyErr
	}
	return "Ann loves hiking in quiet moments.", nil
}

func setupRouter(gw *stubGateway) (*chi.Mux, *sessionService.Engine) {
	engine := sessionService.NewEngine(questionnaire.MustNew("Q1", "Q2"), gw)
	r := chi.NewRouter()
	New(engine).RegisterRoutes(r)
	return r, engine
}

func doJSON(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func decodeSnapshot(t *testing.T, resp *httptest.ResponseRecorder) model.Snapshot {
	t.Helper()
	var snap model.Snapshot
	if err := json.Unmarshal(resp.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v (%s)", err, resp.Body.String())
	}
	return snap
}

const annJSON = `{"name":"Ann","age":30,"gender":"Female"}`

func TestListQuestions(t *testing.T) {
	r, _ := setupRouter(&stubGateway{})
	resp := doJSON(r, http.MethodGet, "/questions", "")

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body struct {
		Questions []string `json:"questions"`
	}
	json.Unmarshal(resp.Body.Bytes(), &body)
	if len(body.Questions) != 2 || body.Questions[0] != "Q1" {
		t.Fatalf("unexpected questions %v", body.Questions)
	}
}

func TestStartSessionValidProfile(t *testing.T) {
	r, _ := setupRouter(&stubGateway{})
	resp := doJSON(r, http.MethodPost, "/session", annJSON)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	snap := decodeSnapshot(t, resp)
	if snap.Phase != model.Collecting || snap.Question != "Q1" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestStartSessionInvalidProfile(t *testing.T) {
	r, _ := setupRouter(&stubGateway{})
	resp := doJSON(r, http.MethodPost, "/session", `{"name":"Ann","age":"-3","gender":"Female"}`)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	var body ErrorResponse
	json.Unmarshal(resp.Body.Bytes(), &body)
	if body.Kind != model.InvalidProfile {
		t.Fatalf("expected invalid_profile kind, got %q", body.Kind)
	}
}

func TestStartSessionRegistrationFailure(t *testing.T) {
	r, _ := setupRouter(&stubGateway{registerErr: errors.New("backend down")})
	resp := doJSON(r, http.MethodPost, "/session", annJSON)

	if resp.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.Code)
	}
	var body ErrorResponse
	json.Unmarshal(resp.Body.Bytes(), &body)
	if body.Kind != model.RegistrationFailed || body.Snapshot.Phase != model.Idle {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestStartSessionMalformedBody(t *testing.T) {
	r, _ := setupRouter(&stubGateway{})
	resp := doJSON(r, http.MethodPost, "/session", `{`)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestSubmitAnswerFlow(t *testing.T) {
	r, _ := setupRouter(&stubGateway{})
	doJSON(r, http.MethodPost, "/session", annJSON)

	resp := doJSON(r, http.MethodPost, "/session/answers", `{"text":"   "}`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank answer, got %d", resp.Code)
	}

	resp = doJSON(r, http.MethodPost, "/session/answers", `{"text":"I am quiet"}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	resp = doJSON(r, http.MethodPost, "/session/answers", `{"text":"I love hiking"}`)
	snap := decodeSnapshot(t, resp)
	if snap.Phase != model.Complete || snap.StoryText() != "Ann loves hiking in quiet moments." {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	resp = doJSON(r, http.MethodPost, "/session/answers", `{"text":"more"}`)
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 after completion, got %d", resp.Code)
	}
}

func TestSubmitAnswerBackendFailureIsAccepted(t *testing.T) {
	r, _ := setupRouter(&stubGateway{submitErr: errors.New("down")})
	doJSON(r, http.MethodPost, "/session", annJSON)

	resp := doJSON(r, http.MethodPost, "/session/answers", `{"text":"I am quiet"}`)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.Code)
	}
	if resp.Header().Get("X-Storyline-Warning") == "" {
		t.Fatal("expected warning header")
	}
	snap := decodeSnapshot(t, resp)
	if snap.Cursor != 1 || snap.LastError != model.SubmissionFailed {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestStoryFailureAndRetry(t *testing.T) {
	gw := &stubGateway{storyErr: errors.New("llm down")}
	r, _ := setupRouter(gw)
	doJSON(r, http.MethodPost, "/session", annJSON)
	doJSON(r, http.MethodPost, "/session/answers", `{"text":"a"}`)

	resp := doJSON(r, http.MethodPost, "/session/answers", `{"text":"b"}`)
	if resp.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.Code)
	}
	var body ErrorResponse
	json.Unmarshal(resp.Body.Bytes(), &body)
	if body.Snapshot.Phase != model.Failed || body.Kind != model.StoryFetchFailed {
		t.Fatalf("unexpected error body %+v", body)
	}

	gw.storyErr = nil
	resp = doJSON(r, http.MethodPost, "/session/story", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 on retry, got %d", resp.Code)
	}
	if snap := decodeSnapshot(t, resp); snap.Phase != model.Complete {
		t.Fatalf("expected complete, got %s", snap.Phase)
	}
}

func TestRestartReturnsIdle(t *testing.T) {
	r, engine := setupRouter(&stubGateway{})
	doJSON(r, http.MethodPost, "/session", annJSON)

	resp := doJSON(r, http.MethodDelete, "/session", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if snap := decodeSnapshot(t, resp); snap.Phase != model.Idle {
		t.Fatalf("expected idle, got %s", snap.Phase)
	}
	if engine.Snapshot().Profile != nil {
		t.Fatal("expected profile dropped")
	}

	resp = doJSON(r, http.MethodGet, "/session", "")
	if snap := decodeSnapshot(t, resp); snap.Phase != model.Idle {
		t.Fatalf("expected idle, got %s", snap.Phase)
	}
}

func TestRestartClearsCacheAfterClientDisconnect(t *testing.T) {
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "session.db"))
	if err != nil {
		t.Fatalf("NewSQLite err: %v", err)
	}
	defer repo.Close()

	engine := sessionService.NewEngine(questionnaire.MustNew("Q1", "Q2"), &stubGateway{}, sessionService.WithPersister(repo))
	r := chi.NewRouter()
	New(engine).RegisterRoutes(r)
	doJSON(r, http.MethodPost, "/session", annJSON)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodDelete, "/session", nil).WithContext(ctx)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if cached, _ := repo.LoadSession(context.Background()); cached != nil {
		t.Fatalf("restarted session still cached: %+v", cached)
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		sessionService.ErrEmptyAnswer:        http.StatusBadRequest,
		sessionService.ErrInvalidTransition:  http.StatusConflict,
		sessionService.ErrSessionSuperseded:  http.StatusConflict,
		sessionService.ErrRegistrationFailed: http.StatusBadGateway,
		sessionService.ErrSubmissionFailed:   http.StatusAccepted,
		errors.Join(sessionService.ErrSubmissionFailed, sessionService.ErrStoryFetchFailed): http.StatusBadGateway,
		errors.New("boom"): http.StatusInternalServerError,
	}
	for err, want := range cases {
		if got := StatusFor(err); got != want {
			t.Errorf("StatusFor(%v) = %d, want %d", err, got, want)
		}
	}
}
