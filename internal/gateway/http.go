package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/zhouzirui/storyline/internal/model/profile"
)

const (
	storeUserPath     = "/store-user/"
	processAnswerPath = "/process-answer/"
	generateStoryPath = "/generate-story/"

	maxResponseBytes = 1 << 20
	maxErrorBytes    = 4 << 10
)

// HTTPClient implements Gateway over the backend's HTTP/JSON contract.
type HTTPClient struct {
	baseURL *url.URL
	client  *http.Client
}

// Option customizes an HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(h *HTTPClient) {
		if c != nil {
			h.client = c
		}
	}
}

// NewHTTPClient returns a client for the backend rooted at baseURL.
func NewHTTPClient(baseURL string, opts ...Option) (*HTTPClient, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("backend url must be http or https, got %q", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("backend url %q has no host", baseURL)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawQuery = ""
	u.Fragment = ""

	h := &HTTPClient{baseURL: u, client: &http.Client{}}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

type answerRequest struct {
	Text     string          `json:"text"`
	UserInfo profile.Profile `json:"user_info"`
}

type storyResponse struct {
	Story *string `json:"story"`
}

// RegisterProfile posts the profile to /store-user/. The body of a 2xx
// response is ignored.
func (h *HTTPClient) RegisterProfile(ctx context.Context, p profile.Profile) error {
	return h.do(ctx, OpRegisterProfile, http.MethodPost, storeUserPath, p, nil)
}

// SubmitAnswer posts one answer with the profile to /process-answer/.
func (h *HTTPClient) SubmitAnswer(ctx context.Context, text string, p profile.Profile) error {
	var ack map[string]any
	if err := h.do(ctx, OpSubmitAnswer, http.MethodPost, processAnswerPath, answerRequest{Text: text, UserInfo: p}, &ack); err != nil {
		return err
	}
	// The backend acknowledges extraction problems with a 2xx and an error
	// field; the answer was still received, so only note it.
	if msg, ok := ack["error"]; ok {
		log.Printf("[gateway] backend acknowledged answer with warning: %v", msg)
	}
	return nil
}

// FetchStory pulls the generated story from /generate-story/.
func (h *HTTPClient) FetchStory(ctx context.Context, _ profile.Profile) (string, error) {
	var resp storyResponse
	if err := h.do(ctx, OpFetchStory, http.MethodGet, generateStoryPath, nil, &resp); err != nil {
		return "", err
	}
	if resp.Story == nil || strings.TrimSpace(*resp.Story) == "" {
		return "", &Error{Op: OpFetchStory, Kind: KindDecode, Err: errors.New("response has no story")}
	}
	return *resp.Story, nil
}

func (h *HTTPClient) do(ctx context.Context, op Op, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &Error{Op: op, Kind: KindTransport, Err: fmt.Errorf("encode request: %w", err)}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.baseURL.String()+path, reader)
	if err != nil {
		return &Error{Op: op, Kind: KindTransport, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return &Error{Op: op, Kind: KindTransport, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{Op: op, Kind: KindStatus, Status: resp.StatusCode, Err: errors.New(readErrorMessage(resp.Body))}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return &Error{Op: op, Kind: KindDecode, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// readErrorMessage extracts a short description from an error response,
// preferring the "error" or "detail" field of a JSON body.
func readErrorMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, maxErrorBytes))
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return "empty response body"
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err == nil {
		for _, key := range []string{"error", "detail", "message"} {
			if v, ok := payload[key]; ok {
				return fmt.Sprint(v)
			}
		}
	}
	return text
}
