package provider

import (
	"context"
	"strings"
)

// Canonical provider names. The selector tries them in this order unless a
// caller preference moves one to the front.
const (
	NameGroq        = "groq"
	NameGemini      = "gemini"
	NameHuggingFace = "huggingface"
)

// DefaultName is used when a request does not state a preference.
const DefaultName = NameGroq

// FallbackDisease is the sentinel disease value adapters return when a
// backend replied but the reply could not be interpreted.
const FallbackDisease = "Analysis failed"

// Location carries the caller-supplied geographic context for an analysis.
type Location struct {
	District  string   `json:"district,omitempty"`
	State     string   `json:"state,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// Treatment is one treatment suggestion inside a DetectionResult.
type Treatment struct {
	Method      string `json:"method"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
}

// DetectionResult is the canonical normalized output of an adapter call.
// Every adapter funnels its backend's reply through Normalize so the shape
// and defaults are identical regardless of provider.
type DetectionResult struct {
	Disease      string      `json:"disease"`
	Confidence   float64     `json:"confidence"`
	Severity     string      `json:"severity"`
	Symptoms     []string    `json:"symptoms"`
	Treatment    []Treatment `json:"treatment"`
	Fertilizers  []string    `json:"fertilizers"`
	HomeRemedies []string    `json:"homeRemedies"`
	Prevention   []string    `json:"prevention"`

	// Provider is the adapter that produced the result; set by the Selector.
	Provider string `json:"provider,omitempty"`
	// Error is set only on fallback results, describing the parse failure.
	Error string `json:"error,omitempty"`
}

// Failed reports whether the result is the fallback sentinel rather than a
// usable analysis. An empty disease string counts as failure: some backends
// return syntactically valid but semantically empty replies.
func (r DetectionResult) Failed() bool {
	if strings.TrimSpace(r.Disease) == "" {
		return true
	}
	if r.Error != "" {
		return true
	}
	return strings.HasPrefix(r.Disease, FallbackDisease)
}

// Adapter translates one AI backend's API into the DetectionResult contract.
//
// Analyze returns an error only for network, auth, or exhausted-retry
// failures. Unparseable backend replies are converted into a fallback
// DetectionResult so downstream stages always receive a well-shaped value.
type Adapter interface {
	Name() string
	Analyze(ctx context.Context, imageURL, cropType string, loc Location) (DetectionResult, error)
}

// Known reports whether name is a supported provider.
func Known(name string) bool {
	switch name {
	case NameGroq, NameGemini, NameHuggingFace:
		return true
	}
	return false
}
