package detections

import (
	"time"

	"farmassist-backend/internal/provider"
)

// Analysis lifecycle statuses. Forward-only except retry (failed -> pending).
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Processing step statuses.
const (
	StepPending   = "pending"
	StepCompleted = "completed"
	StepFailed    = "failed"
)

// Detection is the canonical disease-detection shape stored on the record.
type Detection struct {
	Disease           string   `json:"disease"`
	Confidence        float64  `json:"confidence"`
	Severity          string   `json:"severity"`
	Symptoms          []string `json:"symptoms,omitempty"`
	AnalysisProvider  string   `json:"analysisProvider,omitempty"`
	NeedsExpertReview bool     `json:"needsExpertReview,omitempty"`
	Reliable          bool     `json:"reliable,omitempty"`
}

// TreatmentOption is one treatment entry in a recommendations object,
// annotated with location and crop context.
type TreatmentOption struct {
	Method           string `json:"method"`
	Description      string `json:"description"`
	Priority         string `json:"priority"`
	LocationSpecific bool   `json:"locationSpecific,omitempty"`
	CropSpecific     bool   `json:"cropSpecific,omitempty"`
	AvailabilityNote string `json:"availabilityNote,omitempty"`
}

// Recommendations bundles the actionable advice derived from a detection.
// All four lists are guaranteed non-empty on completed records.
type Recommendations struct {
	Treatment          []TreatmentOption `json:"treatment"`
	Fertilizers        []string          `json:"fertilizers"`
	HomeRemedies       []string          `json:"homeRemedies"`
	PreventiveMeasures []string          `json:"preventiveMeasures"`
}

// ProcessingStep is one immutable audit entry appended on every pipeline
// stage transition. The step list is append-only: after a crash, the last
// entry plus the record status tells an operator how far the analysis got.
type ProcessingStep struct {
	Step      string         `json:"step"`
	Status    string         `json:"status"`
	Result    map[string]any `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Analysis is the durable record of one disease-detection request.
type Analysis struct {
	ID           string            `json:"id"`
	UserID       string            `json:"userId,omitempty"` // empty for anonymous analyses
	ImageURL     string            `json:"imageUrl"`
	OriginalName string            `json:"originalName,omitempty"`
	Crop         string            `json:"crop,omitempty"`
	Location     provider.Location `json:"location"`

	Detection       *Detection       `json:"detection,omitempty"`
	Recommendations *Recommendations `json:"recommendations,omitempty"`
	ProcessingSteps []ProcessingStep `json:"processingSteps,omitempty"`

	AIProvider string `json:"aiProvider"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`

	// RawResponses keeps unmodified provider output for audit and debugging.
	RawResponses map[string]any `json:"rawResponses,omitempty"`
	FinalResult  map[string]any `json:"finalResult,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ConfidencePercentage returns the stored confidence as a rounded percent.
func (a Analysis) ConfidencePercentage() int {
	if a.Detection == nil {
		return 0
	}
	return int(a.Detection.Confidence*100 + 0.5)
}

// Stats aggregates record counts by status.
type Stats struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
}
