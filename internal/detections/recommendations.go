package detections

import (
	"fmt"

	"farmassist-backend/internal/provider"
)

// buildRecommendations turns a raw provider result into location and crop
// aware recommendations. Empty provider lists are replaced with general
// fallbacks so callers always get actionable advice.
func buildRecommendations(res provider.DetectionResult, cropType string, loc provider.Location) Recommendations {
	return Recommendations{
		Treatment:          enhanceTreatments(res.Treatment, cropType, loc),
		Fertilizers:        filterFertilizers(res.Fertilizers, loc),
		HomeRemedies:       withFallback(res.HomeRemedies, fallbackHomeRemedies),
		PreventiveMeasures: withFallback(res.Prevention, fallbackPreventiveMeasures),
	}
}

var (
	fallbackFertilizers = []string{
		"Balanced NPK fertilizer (10-10-10)",
		"Organic compost for soil health",
	}
	fallbackHomeRemedies = []string{
		"Neem oil spray (organic treatment)",
		"Proper plant hygiene maintenance",
	}
	fallbackPreventiveMeasures = []string{
		"Regular plant inspection",
		"Maintain proper plant spacing",
		"Ensure good drainage and air circulation",
	}
)

func enhanceTreatments(treatments []provider.Treatment, cropType string, loc provider.Location) []TreatmentOption {
	if len(treatments) == 0 {
		crop := cropType
		if crop == "" {
			crop = "crop"
		}
		return []TreatmentOption{{
			Method:           "General Treatment",
			Description:      fmt.Sprintf("Consult local agricultural expert for %s disease management", crop),
			Priority:         "high",
			LocationSpecific: true,
			CropSpecific:     true,
			AvailabilityNote: availabilityNote(loc),
		}}
	}

	enhanced := make([]TreatmentOption, 0, len(treatments))
	for _, t := range treatments {
		priority := t.Priority
		if priority == "" {
			priority = "medium"
		}
		enhanced = append(enhanced, TreatmentOption{
			Method:           t.Method,
			Description:      t.Description,
			Priority:         priority,
			LocationSpecific: true,
			CropSpecific:     true,
			AvailabilityNote: availabilityNote(loc),
		})
	}
	return enhanced
}

func availabilityNote(loc provider.Location) string {
	area := "your area"
	if loc.District != "" {
		area = loc.District
	} else if loc.State != "" {
		area = loc.State
	}
	return fmt.Sprintf("Available at agricultural stores in %s", area)
}

func filterFertilizers(fertilizers []string, loc provider.Location) []string {
	if len(fertilizers) == 0 {
		return append([]string{}, fallbackFertilizers...)
	}
	region := loc.State
	if region == "" {
		region = "India"
	}
	localized := make([]string, 0, len(fertilizers))
	for _, f := range fertilizers {
		localized = append(localized, fmt.Sprintf("%s (available in %s)", f, region))
	}
	return localized
}

func withFallback(items, fallback []string) []string {
	if len(items) == 0 {
		return append([]string{}, fallback...)
	}
	return items
}
