package huggingface

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"farmassist-backend/internal/provider"
)

const defaultBaseURL = "https://api-inference.huggingface.co/models"

// candidateModels are tried in order; none is plant-specific, so results are
// interpreted heuristically from the classification label.
var candidateModels = []string{
	"microsoft/resnet-50",
	"google/vit-base-patch16-224",
}

// Client implements provider.Adapter using HuggingFace inference-API image
// classifiers. Unlike the LLM-backed adapters it has no text reply to parse:
// it maps classifier labels onto disease names and synthesizes the
// recommendation fields itself.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a HuggingFace adapter. An empty apiKey surfaces as an
// auth failure at Analyze time.
func NewClient(apiKey string) *Client {
	baseURL := defaultBaseURL
	if override := strings.TrimSpace(os.Getenv("HUGGINGFACE_API_URL")); override != "" {
		baseURL = override
	}
	timeout := 60 * time.Second
	if raw := strings.TrimSpace(os.Getenv("HUGGINGFACE_TIMEOUT_SECONDS")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			timeout = time.Duration(parsed) * time.Second
		}
	}
	return &Client{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) Name() string { return provider.NameHuggingFace }

type classification struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Analyze downloads the image, classifies it, and builds a DetectionResult
// from the top label.
func (c *Client) Analyze(ctx context.Context, imgURL, cropType string, loc provider.Location) (provider.DetectionResult, error) {
	if c.apiKey == "" {
		return provider.DetectionResult{}, provider.AuthErrorf(provider.NameHuggingFace, "HUGGINGFACE_API_KEY not configured")
	}

	imageBytes, err := c.fetchImage(ctx, imgURL)
	if err != nil {
		return provider.DetectionResult{}, provider.NewError(provider.NameHuggingFace, provider.KindUnavailable, err)
	}

	results, err := c.classify(ctx, imageBytes)
	if err != nil {
		return provider.DetectionResult{}, err
	}
	if len(results) == 0 {
		return provider.Fallback(provider.NameHuggingFace, "classifier returned no labels"), nil
	}

	return c.formatResponse(results[0], cropType, loc), nil
}

// classify tries each candidate model in order; the first 2xx reply wins.
func (c *Client) classify(ctx context.Context, imageBytes []byte) ([]classification, error) {
	var lastErr error
	authFailed := false

	for _, model := range candidateModels {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+model, bytes.NewReader(imageBytes))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", "application/octet-stream")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			authFailed = true
			lastErr = fmt.Errorf("model %s: api error %d", model, resp.StatusCode)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("model %s: api error %d - %s", model, resp.StatusCode, strings.TrimSpace(string(body)))
			continue
		}

		var results []classification
		if err := json.Unmarshal(body, &results); err != nil {
			lastErr = fmt.Errorf("model %s: response parse: %w", model, err)
			continue
		}
		return results, nil
	}

	if authFailed {
		return nil, provider.NewError(provider.NameHuggingFace, provider.KindAuth, fmt.Errorf("all models failed: %w", lastErr))
	}
	return nil, provider.NewError(provider.NameHuggingFace, provider.KindUnavailable, fmt.Errorf("all models failed: %w", lastErr))
}

func (c *Client) fetchImage(ctx context.Context, imgURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imgURL, nil)
	if err != nil {
		return nil, fmt.Errorf("image fetch failed: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("image fetch failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch image: %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) formatResponse(top classification, cropType string, loc provider.Location) provider.DetectionResult {
	return provider.DetectionResult{
		Disease:      interpretClassification(top.Label, cropType),
		Confidence:   scoreOrDefault(top.Score),
		Severity:     determineSeverity(scoreOrDefault(top.Score)),
		Symptoms:     generateSymptoms(top.Label),
		Treatment:    generateTreatments(cropType),
		Fertilizers:  recommendFertilizers(),
		HomeRemedies: suggestHomeRemedies(),
		Prevention:   preventiveMeasures(),
		Provider:     provider.NameHuggingFace,
	}
}

func scoreOrDefault(score float64) float64 {
	if score <= 0 {
		return 0.5
	}
	return score
}

var diseaseKeywords = []struct {
	keyword string
	disease string
}{
	{"leaf", "Leaf disease"},
	{"spot", "Leaf spot"},
	{"rust", "Plant rust"},
	{"blight", "Blight"},
	{"yellow", "Yellowing disease"},
	{"brown", "Brown spot disease"},
	{"healthy", "Healthy plant"},
}

func interpretClassification(label, cropType string) string {
	if label == "" {
		if cropType == "" {
			cropType = "plant"
		}
		return cropType + " condition unknown"
	}
	lower := strings.ToLower(label)
	for _, kw := range diseaseKeywords {
		if strings.Contains(lower, kw.keyword) {
			return kw.disease
		}
	}
	return "Possible " + strings.ReplaceAll(label, "_", " ") + " condition"
}

func determineSeverity(confidence float64) string {
	switch {
	case confidence > 0.8:
		return "high"
	case confidence > 0.5:
		return "medium"
	default:
		return "low"
	}
}

func generateSymptoms(label string) []string {
	symptoms := []string{"Visible leaf changes", "Abnormal coloration"}
	lower := strings.ToLower(label)
	if strings.Contains(lower, "spot") {
		symptoms = append(symptoms, "Spotted pattern on leaves")
	}
	if strings.Contains(lower, "yellow") {
		symptoms = append(symptoms, "Yellowing of foliage")
	}
	return symptoms
}

func generateTreatments(cropType string) []provider.Treatment {
	if cropType == "" {
		cropType = "the affected crop"
	}
	return []provider.Treatment{
		{
			Method:      "Fungicide Treatment",
			Description: "Apply appropriate fungicide for " + cropType,
			Priority:    "high",
		},
		{
			Method:      "Cultural Practice",
			Description: "Improve plant spacing and air circulation",
			Priority:    "medium",
		},
	}
}

func recommendFertilizers() []string {
	return []string{
		"NPK 10-10-10 (Balanced fertilizer)",
		"Organic compost",
		"Potassium sulfate for disease resistance",
	}
}

func suggestHomeRemedies() []string {
	return []string{
		"Neem oil spray (organic treatment)",
		"Baking soda solution (1 tsp per liter)",
		"Garlic extract spray",
	}
}

func preventiveMeasures() []string {
	return []string{
		"Maintain proper plant spacing",
		"Ensure good drainage",
		"Regular inspection and early detection",
		"Crop rotation practices",
	}
}

var _ provider.Adapter = (*Client)(nil)
