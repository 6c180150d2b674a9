package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"farmassist-backend/internal/provider"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel   = "gemini-1.5-flash"

	maxAttempts = 3
)

// Client implements provider.Adapter using the Gemini generateContent API.
// Gemini is the one backend that signals transient overload (HTTP 503), so
// this adapter retries with increasing backoff before surfacing an error.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client

	// backoff bases, overridable in tests to avoid real sleeps
	overloadDelay time.Duration
	retryDelay    time.Duration
}

// NewClient constructs a Gemini adapter. An empty apiKey is tolerated; the
// missing key surfaces as an auth failure at Analyze time.
func NewClient(apiKey, model string) *Client {
	if strings.TrimSpace(model) == "" {
		model = defaultModel
	}
	baseURL := defaultBaseURL
	if override := strings.TrimSpace(os.Getenv("GEMINI_API_URL")); override != "" {
		baseURL = override
	}
	timeout := 60 * time.Second
	if raw := strings.TrimSpace(os.Getenv("GEMINI_TIMEOUT_SECONDS")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			timeout = time.Duration(parsed) * time.Second
		}
	}
	return &Client{
		apiKey:        strings.TrimSpace(apiKey),
		model:         model,
		baseURL:       baseURL,
		httpClient:    &http.Client{Timeout: timeout},
		overloadDelay: 2 * time.Second,
		retryDelay:    time.Second,
	}
}

func (c *Client) Name() string { return provider.NameGemini }

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type generationConfig struct {
	Temperature     float32 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Analyze fetches the image, sends it inline to Gemini, and normalizes the
// reply. Overloaded (503) responses are retried up to maxAttempts with
// increasing backoff; other failures retry on the same budget before the
// last error is surfaced.
func (c *Client) Analyze(ctx context.Context, imgURL, cropType string, loc provider.Location) (provider.DetectionResult, error) {
	if c.apiKey == "" {
		return provider.DetectionResult{}, provider.AuthErrorf(provider.NameGemini, "GEMINI_API_KEY not configured")
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res, retryable, err := c.analyzeOnce(ctx, imgURL, cropType, loc)
		if err == nil {
			return res, nil
		}
		if provider.IsAuth(err) || !retryable {
			return provider.DetectionResult{}, err
		}
		lastErr = err

		if attempt == maxAttempts {
			break
		}
		delay := c.retryDelay * time.Duration(attempt)
		if isOverloaded(err) {
			delay = c.overloadDelay * time.Duration(attempt)
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return provider.DetectionResult{}, provider.NewError(provider.NameGemini, provider.KindTransient, ctx.Err())
		}
	}

	return provider.DetectionResult{}, lastErr
}

func (c *Client) analyzeOnce(ctx context.Context, imgURL, cropType string, loc provider.Location) (provider.DetectionResult, bool, error) {
	imageData, err := c.fetchImageAsBase64(ctx, imgURL)
	if err != nil {
		return provider.DetectionResult{}, true, provider.NewError(provider.NameGemini, provider.KindUnavailable, err)
	}

	reqBody := generateRequest{
		Contents: []content{{
			Parts: []part{
				{Text: buildAnalysisPrompt(cropType, loc)},
				{InlineData: &inlineData{MimeType: "image/jpeg", Data: imageData}},
			},
		}},
		GenerationConfig: generationConfig{
			Temperature:     0.1,
			MaxOutputTokens: 1500,
		},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return provider.DetectionResult{}, false, err
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return provider.DetectionResult{}, false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "Client.Timeout") {
			return provider.DetectionResult{}, true, provider.NewError(provider.NameGemini, provider.KindTransient, fmt.Errorf("request timeout: %w", err))
		}
		return provider.DetectionResult{}, true, provider.NewError(provider.NameGemini, provider.KindUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return provider.DetectionResult{}, true, provider.NewError(provider.NameGemini, provider.KindUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusServiceUnavailable:
		return provider.DetectionResult{}, true, provider.NewError(provider.NameGemini, provider.KindTransient, errOverloaded)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return provider.DetectionResult{}, false, provider.NewError(provider.NameGemini, provider.KindAuth,
			fmt.Errorf("api error: %d - %s", resp.StatusCode, strings.TrimSpace(string(body))))
	case resp.StatusCode != http.StatusOK:
		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		kind := provider.KindUnavailable
		if retryable {
			kind = provider.KindTransient
		}
		return provider.DetectionResult{}, retryable, provider.NewError(provider.NameGemini, kind,
			fmt.Errorf("api error: %d - %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var parsed generateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return provider.DetectionResult{}, true, provider.NewError(provider.NameGemini, provider.KindUnavailable, fmt.Errorf("response parse: %w", err))
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return provider.DetectionResult{}, true, provider.NewError(provider.NameGemini, provider.KindUnavailable, fmt.Errorf("no content in response"))
	}

	text := strings.TrimSpace(parsed.Candidates[0].Content.Parts[0].Text)
	if text == "" {
		return provider.DetectionResult{}, true, provider.NewError(provider.NameGemini, provider.KindUnavailable, fmt.Errorf("empty content in response"))
	}

	return provider.ParseReply(provider.NameGemini, text), false, nil
}

var errOverloaded = errors.New("model overloaded (503)")

func isOverloaded(err error) bool {
	return errors.Is(err, errOverloaded)
}

func (c *Client) fetchImageAsBase64(ctx context.Context, imgURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imgURL, nil)
	if err != nil {
		return "", fmt.Errorf("image fetch failed: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("image fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to fetch image: %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("image fetch failed: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func buildAnalysisPrompt(cropType string, loc provider.Location) string {
	return fmt.Sprintf(`Analyze this plant image as an expert agricultural pathologist.

Context:
- Crop: %s
- Location: %s, %s

Return ONLY valid JSON with this exact structure:
{
  "disease": "specific disease name or 'Healthy'",
  "confidence": 0.85,
  "severity": "low|medium|high",
  "symptoms": ["visible symptoms"],
  "treatment": [{"method": "treatment type", "description": "details", "priority": "high|medium|low"}],
  "fertilizers": ["specific fertilizer names"],
  "homeRemedies": ["natural remedies"],
  "prevention": ["preventive measures"]
}

Be specific and provide at least 2-3 items in each array. No explanations outside JSON.`,
		orUnknown(cropType), orUnknown(loc.District), orUnknown(loc.State))
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Unknown"
	}
	return s
}

var _ provider.Adapter = (*Client)(nil)
