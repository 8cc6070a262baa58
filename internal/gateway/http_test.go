package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/zhouzirui/storyline/internal/model/profile"
)

var ann = profile.Profile{Name: "Ann", Age: "30", Gender: profile.Female}

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewHTTPClient(srv.URL + "/")
	if err != nil {
		t.Fatalf("NewHTTPClient err: %v", err)
	}
	return client
}

func TestNewHTTPClientRejectsBadURLs(t *testing.T) {
	for _, raw := range []string{"", "ftp://example.com", "http://", "::"} {
		if _, err := NewHTTPClient(raw); err == nil {
			t.Errorf("expected error for %q", raw)
		}
	}
}

func TestRegisterProfilePostsUserInfo(t *testing.T) {
	var got profile.Profile
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/store-user/" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Write([]byte("not even json"))
	})

	if err := client.RegisterProfile(context.Background(), ann); err != nil {
		t.Fatalf("RegisterProfile err: %v", err)
	}
	if got != ann {
		t.Fatalf("backend received %+v", got)
	}
}

func TestSubmitAnswerSendsTextAndUserInfo(t *testing.T) {
	var body map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/process-answer/" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message":"Processed successfully!"}`))
	})

	if err := client.SubmitAnswer(context.Background(), "I am quiet", ann); err != nil {
		t.Fatalf("SubmitAnswer err: %v", err)
	}
	if body["text"] != "I am quiet" {
		t.Fatalf("unexpected text %v", body["text"])
	}
	info, ok := body["user_info"].(map[string]any)
	if !ok || info["name"] != "Ann" || info["age"] != "30" || info["gender"] != "Female" {
		t.Fatalf("unexpected user_info %v", body["user_info"])
	}
}

func TestSubmitAnswerTreatsErrorFieldAsAcknowledged(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"No meaningful data extracted."}`))
	})

	if err := client.SubmitAnswer(context.Background(), "hm", ann); err != nil {
		t.Fatalf("expected 2xx to be success, got %v", err)
	}
}

func TestSubmitAnswerMalformedAckIsDecodeError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>`))
	})

	err := client.SubmitAnswer(context.Background(), "hi", ann)
	var gwErr *Error
	if !errors.As(err, &gwErr) || gwErr.Kind != KindDecode || gwErr.Op != OpSubmitAnswer {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestFetchStory(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/generate-story/" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"story":"Ann loves hiking in quiet moments."}`))
	})

	story, err := client.FetchStory(context.Background(), ann)
	if err != nil {
		t.Fatalf("FetchStory err: %v", err)
	}
	if story != "Ann loves hiking in quiet moments." {
		t.Fatalf("unexpected story %q", story)
	}
}

func TestFetchStoryWithoutStoryIsDecodeError(t *testing.T) {
	for _, body := range []string{`{}`, `{"story":null}`, `{"story":"   "}`} {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(body))
		})

		_, err := client.FetchStory(context.Background(), ann)
		var gwErr *Error
		if !errors.As(err, &gwErr) || gwErr.Kind != KindDecode {
			t.Errorf("body %s: expected decode error, got %v", body, err)
		}
	}
}

func TestNonSuccessStatusIsStatusError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"detail":"neo4j unavailable"}`))
	})

	_, err := client.FetchStory(context.Background(), ann)
	var gwErr *Error
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected *Error, got %T %v", err, err)
	}
	if gwErr.Kind != KindStatus || gwErr.Status != http.StatusInternalServerError {
		t.Fatalf("unexpected error %+v", gwErr)
	}
	if gwErr.Err.Error() != "neo4j unavailable" {
		t.Fatalf("expected detail message, got %q", gwErr.Err.Error())
	}
}

func TestUnreachableBackendIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client, err := NewHTTPClient(url)
	if err != nil {
		t.Fatalf("NewHTTPClient err: %v", err)
	}

	err = client.RegisterProfile(context.Background(), ann)
	var gwErr *Error
	if !errors.As(err, &gwErr) || gwErr.Kind != KindTransport {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestContextDeadlineIsTransportError(t *testing.T) {
	release := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := client.SubmitAnswer(ctx, "slow", ann)
	var gwErr *Error
	if !errors.As(err, &gwErr) || gwErr.Kind != KindTransport {
		t.Fatalf("expected transport error, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded in chain, got %v", err)
	}
}

func TestBaseURLPathPrefixIsKept(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
	}))
	defer srv.Close()

	client, err := NewHTTPClient(srv.URL + "/api/")
	if err != nil {
		t.Fatalf("NewHTTPClient err: %v", err)
	}
	if err := client.RegisterProfile(context.Background(), ann); err != nil {
		t.Fatalf("RegisterProfile err: %v", err)
	}
	if path != "/api/store-user/" {
		t.Fatalf("unexpected path %q", path)
	}
}
