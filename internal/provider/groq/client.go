package groq

import (
	"bytes"
	"context"
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
	apiURL       = "https://api.groq.com/openai/v1/chat/completions"
	defaultModel = "meta-llama/llama-4-scout-17b-16e-instruct"
)

// Client implements provider.Adapter using the Groq vision chat API.
type Client struct {
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewClient constructs a Groq adapter. An empty apiKey is tolerated at
// construction so the Selector can still be wired; Analyze reports the
// missing key as an auth failure, which makes the Selector skip Groq.
func NewClient(apiKey, model string) *Client {
	if strings.TrimSpace(model) == "" {
		model = defaultModel
	}
	timeout := 60 * time.Second
	if raw := strings.TrimSpace(os.Getenv("GROQ_TIMEOUT_SECONDS")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			timeout = time.Duration(parsed) * time.Second
		}
	}
	return &Client{
		apiKey: strings.TrimSpace(apiKey),
		model:  model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *Client) Name() string { return provider.NameGroq }

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float32       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Analyze sends the image and analysis prompt to Groq and normalizes the
// reply into a DetectionResult.
func (c *Client) Analyze(ctx context.Context, imgURL, cropType string, loc provider.Location) (provider.DetectionResult, error) {
	if c.apiKey == "" {
		return provider.DetectionResult{}, provider.AuthErrorf(provider.NameGroq, "GROQ_API_KEY not configured")
	}

	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: buildAnalysisPrompt(cropType, loc)},
				{Type: "image_url", ImageURL: &imageURL{URL: imgURL}},
			},
		}},
		MaxTokens:   1500,
		Temperature: 0.1,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return provider.DetectionResult{}, err
	}

	endpoint := apiURL
	if override := strings.TrimSpace(os.Getenv("GROQ_API_URL")); override != "" {
		endpoint = override
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return provider.DetectionResult{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "Client.Timeout") {
			return provider.DetectionResult{}, provider.NewError(provider.NameGroq, provider.KindTransient, fmt.Errorf("request timeout: %w", err))
		}
		return provider.DetectionResult{}, provider.NewError(provider.NameGroq, provider.KindUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return provider.DetectionResult{}, provider.NewError(provider.NameGroq, provider.KindUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		kind := provider.KindUnavailable
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			kind = provider.KindAuth
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			kind = provider.KindTransient
		}
		return provider.DetectionResult{}, provider.NewError(provider.NameGroq, kind,
			fmt.Errorf("api error: %d - %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return provider.DetectionResult{}, provider.NewError(provider.NameGroq, provider.KindUnavailable, fmt.Errorf("response parse: %w", err))
	}
	if parsed.Error != nil {
		return provider.DetectionResult{}, provider.NewError(provider.NameGroq, provider.KindUnavailable,
			fmt.Errorf("api error: %s (%s)", parsed.Error.Message, parsed.Error.Type))
	}
	if len(parsed.Choices) == 0 {
		return provider.DetectionResult{}, provider.NewError(provider.NameGroq, provider.KindUnavailable, fmt.Errorf("response missing choices"))
	}

	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return provider.DetectionResult{}, provider.NewError(provider.NameGroq, provider.KindUnavailable, fmt.Errorf("response empty content"))
	}

	// The vision stack sometimes routes prompts through a safety model that
	// answers "safe" instead of an analysis.
	if content == "safe" {
		return provider.Fallback(provider.NameGroq, "safety response returned instead of analysis"), nil
	}

	return provider.ParseReply(provider.NameGroq, content), nil
}

func buildAnalysisPrompt(cropType string, loc provider.Location) string {
	return fmt.Sprintf(`You are an expert agricultural pathologist. Analyze this plant image for diseases and provide detailed recommendations.

Context:
- Crop: %s
- Location: %s, %s

IMPORTANT: You must respond with ONLY valid JSON. No explanations, no markdown formatting, just pure JSON.

Required JSON structure:
{
  "disease": "specific disease name or 'Healthy' if no disease detected",
  "confidence": 0.85,
  "severity": "low",
  "symptoms": ["visible symptom 1", "visible symptom 2"],
  "treatment": [
    {
      "method": "Chemical Treatment",
      "description": "Apply copper-based fungicide every 7-10 days",
      "priority": "high"
    }
  ],
  "fertilizers": ["NPK 10-10-10", "Organic compost"],
  "homeRemedies": ["Neem oil spray (2ml/liter)"],
  "prevention": ["Proper plant spacing", "Avoid overhead watering"]
}

Analyze the image carefully and provide specific, actionable recommendations. Ensure all arrays have at least 2-3 items.`,
		orUnknown(cropType), orUnknown(loc.District), orUnknown(loc.State))
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Unknown"
	}
	return s
}

var _ provider.Adapter = (*Client)(nil)
