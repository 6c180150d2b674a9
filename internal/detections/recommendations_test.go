package detections

import (
	"strings"
	"testing"

	"farmassist-backend/internal/provider"
)

func TestBuildRecommendationsLocalizesTreatments(t *testing.T) {
	res := provider.DetectionResult{
		Treatment: []provider.Treatment{
			{Method: "Fungicide", Description: "Apply weekly"},
		},
		Fertilizers: []string{"Urea"},
	}
	loc := provider.Location{District: "Nashik", State: "Maharashtra"}

	recs := buildRecommendations(res, "grape", loc)
	if len(recs.Treatment) != 1 {
		t.Fatalf("expected 1 treatment, got %d", len(recs.Treatment))
	}
	tr := recs.Treatment[0]
	if tr.Priority != "medium" {
		t.Fatalf("expected default priority medium, got %q", tr.Priority)
	}
	if !tr.LocationSpecific || !tr.CropSpecific {
		t.Fatalf("expected location and crop flags set, got %+v", tr)
	}
	if tr.AvailabilityNote != "Available at agricultural stores in Nashik" {
		t.Fatalf("availability note: %q", tr.AvailabilityNote)
	}
	if recs.Fertilizers[0] != "Urea (available in Maharashtra)" {
		t.Fatalf("fertilizer localization: %q", recs.Fertilizers[0])
	}
}

func TestBuildRecommendationsAvailabilityFallsBackToState(t *testing.T) {
	res := provider.DetectionResult{
		Treatment: []provider.Treatment{{Method: "Spray", Description: "x", Priority: "low"}},
	}
	recs := buildRecommendations(res, "", provider.Location{State: "Punjab"})
	if got := recs.Treatment[0].AvailabilityNote; got != "Available at agricultural stores in Punjab" {
		t.Fatalf("availability note: %q", got)
	}

	recs = buildRecommendations(res, "", provider.Location{})
	if got := recs.Treatment[0].AvailabilityNote; got != "Available at agricultural stores in your area" {
		t.Fatalf("availability note without location: %q", got)
	}
}

func TestBuildRecommendationsEmptyInputsUseFallbacks(t *testing.T) {
	recs := buildRecommendations(provider.DetectionResult{}, "cotton", provider.Location{})

	if len(recs.Treatment) != 1 {
		t.Fatalf("expected single general treatment, got %d", len(recs.Treatment))
	}
	gt := recs.Treatment[0]
	if gt.Method != "General Treatment" || gt.Priority != "high" {
		t.Fatalf("unexpected general treatment: %+v", gt)
	}
	if !strings.Contains(gt.Description, "cotton") {
		t.Fatalf("expected crop in description, got %q", gt.Description)
	}

	if len(recs.Fertilizers) != 2 || recs.Fertilizers[0] != "Balanced NPK fertilizer (10-10-10)" {
		t.Fatalf("fertilizer fallback: %v", recs.Fertilizers)
	}
	if len(recs.HomeRemedies) != 2 || recs.HomeRemedies[0] != "Neem oil spray (organic treatment)" {
		t.Fatalf("home remedy fallback: %v", recs.HomeRemedies)
	}
	if len(recs.PreventiveMeasures) != 3 {
		t.Fatalf("preventive fallback: %v", recs.PreventiveMeasures)
	}
}

func TestBuildRecommendationsIdempotentFallbacks(t *testing.T) {
	first := buildRecommendations(provider.DetectionResult{}, "", provider.Location{})
	second := buildRecommendations(provider.DetectionResult{}, "", provider.Location{})
	if len(first.Fertilizers) != len(second.Fertilizers) {
		t.Fatalf("fallbacks should be stable: %v vs %v", first.Fertilizers, second.Fertilizers)
	}
	// mutating one result must not leak into the shared fallback lists
	first.Fertilizers[0] = "mutated"
	third := buildRecommendations(provider.DetectionResult{}, "", provider.Location{})
	if third.Fertilizers[0] == "mutated" {
		t.Fatalf("fallback list was mutated through a returned slice")
	}
}
