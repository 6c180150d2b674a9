package provider

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	defaultConfidence = 0.5
	defaultSeverity   = "medium"
)

// ParseReply extracts and normalizes a detection result from a free-text
// backend reply. It never returns an error: replies that cannot be
// interpreted produce the fallback sentinel so the pipeline always has a
// typed value to reason about.
func ParseReply(providerName, content string) DetectionResult {
	jsonStr, ok := ExtractJSONObject(content)
	if !ok {
		return Fallback(providerName, fmt.Sprintf("no JSON object in response: %q", truncate(content, 120)))
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(jsonStr), &fields); err != nil {
		return Fallback(providerName, fmt.Sprintf("invalid JSON in response: %v", err))
	}
	return Normalize(providerName, fields)
}

// Normalize converts a duck-typed provider reply into a DetectionResult,
// applying the shared validation defaults: missing disease is tolerated
// (the Selector treats it as failure), absent or non-numeric confidence
// becomes 0.5, absent severity becomes "medium", and non-array list fields
// become empty slices.
func Normalize(providerName string, fields map[string]any) DetectionResult {
	res := DetectionResult{
		Disease:      stringField(fields, "disease"),
		Confidence:   confidenceField(fields),
		Severity:     severityField(fields),
		Symptoms:     stringListField(fields, "symptoms"),
		Treatment:    treatmentListField(fields, "treatment"),
		Fertilizers:  stringListField(fields, "fertilizers"),
		HomeRemedies: stringListField(fields, "homeRemedies"),
		Prevention:   stringListField(fields, "prevention"),
		Provider:     providerName,
	}
	return res
}

// Fallback builds the sentinel result returned instead of raising when a
// backend replied but its output could not be interpreted.
func Fallback(providerName, errMsg string) DetectionResult {
	return DetectionResult{
		Disease:    FallbackDisease,
		Confidence: 0,
		Severity:   "unknown",
		Symptoms:   []string{"Unable to analyze"},
		Treatment: []Treatment{{
			Method:      "Expert Consultation",
			Description: "Consult local agricultural expert",
			Priority:    "high",
		}},
		Fertilizers:  []string{"Balanced NPK fertilizer"},
		HomeRemedies: []string{"Organic compost application"},
		Prevention:   []string{"Regular monitoring"},
		Provider:     providerName,
		Error:        errMsg,
	}
}

func stringField(fields map[string]any, key string) string {
	if s, ok := fields[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func confidenceField(fields map[string]any) float64 {
	switch v := fields["confidence"].(type) {
	case float64:
		return v
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	}
	return defaultConfidence
}

func severityField(fields map[string]any) string {
	s := strings.ToLower(stringField(fields, "severity"))
	if s == "" {
		return defaultSeverity
	}
	return s
}

func stringListField(fields map[string]any, key string) []string {
	raw, ok := fields[key].([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

func treatmentListField(fields map[string]any, key string) []Treatment {
	raw, ok := fields[key].([]any)
	if !ok {
		return []Treatment{}
	}
	out := make([]Treatment, 0, len(raw))
	for _, item := range raw {
		switch v := item.(type) {
		case map[string]any:
			t := Treatment{
				Method:      stringField(v, "method"),
				Description: stringField(v, "description"),
				Priority:    strings.ToLower(stringField(v, "priority")),
			}
			if t.Method == "" && t.Description == "" {
				continue
			}
			if t.Priority == "" {
				t.Priority = defaultSeverity
			}
			out = append(out, t)
		case string:
			// Some backends flatten treatments into plain strings.
			if strings.TrimSpace(v) == "" {
				continue
			}
			out = append(out, Treatment{Method: v, Description: v, Priority: defaultSeverity})
		}
	}
	return out
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}
