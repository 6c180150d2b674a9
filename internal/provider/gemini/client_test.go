package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"farmassist-backend/internal/provider"
)

func generateReply(t *testing.T, text string) []byte {
	t.Helper()
	payload := map[string]any{
		"candidates": []any{
			map[string]any{"content": map[string]any{"parts": []any{map[string]any{"text": text}}}},
		},
	}
	out, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal reply: %v", err)
	}
	return out
}

// newTestServer serves both the image fetch and the generateContent call.
func newTestServer(t *testing.T, generate http.HandlerFunc) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/leaf.jpg") {
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write([]byte("fake-jpeg-bytes"))
			return
		}
		generate(w, r)
	}))
}

func newTestClient(srvURL string) *Client {
	c := NewClient("test-key", "")
	c.baseURL = srvURL
	c.retryDelay = time.Millisecond
	c.overloadDelay = time.Millisecond
	return c
}

func TestAnalyzeSuccess(t *testing.T) {
	var gotReq generateRequest
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, defaultModel) {
			t.Errorf("expected model in path, got %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("expected api key in query, got %q", r.URL.Query().Get("key"))
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write(generateReply(t, `{"disease":"Early Blight","confidence":0.8,"severity":"medium"}`))
	})
	defer srv.Close()

	c := newTestClient(srv.URL)
	res, err := c.Analyze(context.Background(), srv.URL+"/leaf.jpg", "tomato", provider.Location{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Disease != "Early Blight" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(gotReq.Contents) != 1 || len(gotReq.Contents[0].Parts) != 2 {
		t.Fatalf("expected prompt and inline image parts, got %+v", gotReq.Contents)
	}
	if gotReq.Contents[0].Parts[1].InlineData == nil || gotReq.Contents[0].Parts[1].InlineData.Data == "" {
		t.Fatalf("expected base64 image data, got %+v", gotReq.Contents[0].Parts[1])
	}
}

func TestAnalyzeRetriesOnOverload(t *testing.T) {
	var calls atomic.Int32
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write(generateReply(t, `{"disease":"Rust","confidence":0.7}`))
	})
	defer srv.Close()

	c := newTestClient(srv.URL)
	res, err := c.Analyze(context.Background(), srv.URL+"/leaf.jpg", "", provider.Location{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Disease != "Rust" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestAnalyzeGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.Analyze(context.Background(), srv.URL+"/leaf.jpg", "", provider.Location{})
	if err == nil {
		t.Fatalf("expected error after exhausting retries")
	}
	if got := calls.Load(); got != maxAttempts {
		t.Fatalf("expected %d attempts, got %d", maxAttempts, got)
	}
}

func TestAnalyzeAuthErrorDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	})
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.Analyze(context.Background(), srv.URL+"/leaf.jpg", "", provider.Location{})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !provider.IsAuth(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected single attempt on auth failure, got %d", got)
	}
}

func TestAnalyzeMissingKeyIsAuthError(t *testing.T) {
	c := NewClient("", "")
	_, err := c.Analyze(context.Background(), "http://img", "", provider.Location{})
	if err == nil || !provider.IsAuth(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
}
