package groq

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"farmassist-backend/internal/provider"
)

func chatReply(t *testing.T, content string) []byte {
	t.Helper()
	payload := map[string]any{
		"choices": []any{
			map[string]any{"message": map[string]any{"content": content}},
		},
	}
	out, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal reply: %v", err)
	}
	return out
}

func TestAnalyzeSuccess(t *testing.T) {
	var gotAuth string
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(chatReply(t, `{"disease":"Leaf Rust","confidence":0.92,"severity":"high","symptoms":["orange pustules"]}`))
	}))
	defer srv.Close()
	t.Setenv("GROQ_API_URL", srv.URL)

	c := NewClient("test-key", "")
	res, err := c.Analyze(context.Background(), "http://example.com/leaf.jpg", "wheat", provider.Location{District: "Pune", State: "Maharashtra"})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Disease != "Leaf Rust" || res.Confidence != 0.92 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("authorization header: %q", gotAuth)
	}
	if gotReq.Model != defaultModel {
		t.Fatalf("expected default model, got %q", gotReq.Model)
	}
	if gotReq.MaxTokens != 1500 || gotReq.Temperature != 0.1 {
		t.Fatalf("unexpected sampling params: %+v", gotReq)
	}
	if len(gotReq.Messages) != 1 || len(gotReq.Messages[0].Content) != 2 {
		t.Fatalf("expected one message with text and image parts, got %+v", gotReq.Messages)
	}
	if gotReq.Messages[0].Content[1].ImageURL == nil || gotReq.Messages[0].Content[1].ImageURL.URL != "http://example.com/leaf.jpg" {
		t.Fatalf("image part missing: %+v", gotReq.Messages[0].Content[1])
	}
}

func TestAnalyzeMissingKeyIsAuthError(t *testing.T) {
	c := NewClient("", "")
	_, err := c.Analyze(context.Background(), "http://img", "", provider.Location{})
	if err == nil {
		t.Fatalf("expected error for missing key")
	}
	if !provider.IsAuth(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestAnalyzeHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		status   int
		wantAuth bool
	}{
		{http.StatusUnauthorized, true},
		{http.StatusForbidden, true},
		{http.StatusTooManyRequests, false},
		{http.StatusInternalServerError, false},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		t.Setenv("GROQ_API_URL", srv.URL)

		c := NewClient("key", "")
		_, err := c.Analyze(context.Background(), "http://img", "", provider.Location{})
		srv.Close()
		if err == nil {
			t.Fatalf("status %d: expected error", tc.status)
		}
		if provider.IsAuth(err) != tc.wantAuth {
			t.Fatalf("status %d: IsAuth = %v, want %v (err: %v)", tc.status, provider.IsAuth(err), tc.wantAuth, err)
		}
	}
}

func TestAnalyzeSafetyResponseFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(chatReply(t, "safe"))
	}))
	defer srv.Close()
	t.Setenv("GROQ_API_URL", srv.URL)

	c := NewClient("key", "")
	res, err := c.Analyze(context.Background(), "http://img", "", provider.Location{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !res.Failed() {
		t.Fatalf("expected fallback result for safety response, got %+v", res)
	}
}

func TestAnalyzeUnparseableContentFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(chatReply(t, "the leaf looks mostly fine"))
	}))
	defer srv.Close()
	t.Setenv("GROQ_API_URL", srv.URL)

	c := NewClient("key", "")
	res, err := c.Analyze(context.Background(), "http://img", "", provider.Location{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Disease != provider.FallbackDisease {
		t.Fatalf("expected fallback disease, got %q", res.Disease)
	}
}
