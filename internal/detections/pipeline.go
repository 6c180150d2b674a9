package detections

import (
	"context"
	"fmt"
	"time"

	"farmassist-backend/internal/provider"
	"farmassist-backend/internal/shared/telemetry"
)

// Stage identifies a pipeline stage.
type Stage string

const (
	StageInitialization   Stage = "initialization"
	StageImageAnalysis    Stage = "imageAnalysis"
	StageDiseaseDetection Stage = "diseaseDetection"
	StageRecommendations  Stage = "recommendations"
	StageFinalization     Stage = "finalization"
	StageCompleted        Stage = "completed"
	StageError            Stage = "error"
	StageErrorHandled     Stage = "error_handled"
)

// stageOnSuccess maps each working stage to its successor.
var stageOnSuccess = map[Stage]Stage{
	StageInitialization:   StageImageAnalysis,
	StageImageAnalysis:    StageDiseaseDetection,
	StageDiseaseDetection: StageRecommendations,
	StageRecommendations:  StageFinalization,
	StageFinalization:     StageCompleted,
}

// Confidence thresholds applied during disease detection.
const (
	lowConfidenceThreshold  = 0.3
	highConfidenceThreshold = 0.8
)

// Analyzer runs image analysis across providers. *provider.Selector
// satisfies it.
type Analyzer interface {
	Analyze(ctx context.Context, imageURL, cropType string, loc provider.Location, preferred string) (provider.DetectionResult, error)
}

// Engine drives an analysis record through the detection pipeline. Each
// stage persists exactly one processing step, completed or failed, before
// the run moves on.
type Engine struct {
	Repo     Repo
	Analyzer Analyzer
}

// RunInput carries everything a pipeline run needs.
type RunInput struct {
	AnalysisID string
	ImageURL   string
	CropType   string
	Location   provider.Location
	Provider   string
}

// RunResult is the terminal outcome of a run. Success carries Data;
// failure carries Error and Details. Run never returns a Go error.
type RunResult struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
	Details string         `json:"details,omitempty"`
}

// state accumulates intermediate results across stages of one run.
type state struct {
	input       RunInput
	detection   *Detection
	raw         provider.DetectionResult
	recs        *Recommendations
	finalResult map[string]any
}

// Run executes the pipeline for one analysis record. Stage failures are
// routed through error handling and reported in the result rather than
// escaping as errors.
func (e *Engine) Run(ctx context.Context, input RunInput) RunResult {
	st := &state{input: input}
	stage := StageInitialization
	for {
		current, ok := stageOnSuccess[stage]
		if !ok {
			// completed
			return RunResult{Success: true, Data: st.finalResult}
		}
		if err := e.runStage(ctx, stage, st); err != nil {
			return e.handleError(ctx, stage, st, err)
		}
		stage = current
	}
}

func (e *Engine) runStage(ctx context.Context, stage Stage, st *state) error {
	var result map[string]any
	var err error
	switch stage {
	case StageInitialization:
		result, err = e.initialize(ctx, st)
	case StageImageAnalysis:
		result, err = e.analyzeImage(ctx, st)
	case StageDiseaseDetection:
		result, err = e.detectDisease(ctx, st)
	case StageRecommendations:
		result, err = e.buildRecommendations(ctx, st)
	case StageFinalization:
		result, err = e.finalize(ctx, st)
	default:
		err = fmt.Errorf("unknown stage %q", stage)
	}

	step := ProcessingStep{
		Step:      string(stage),
		Status:    StepCompleted,
		Result:    result,
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		step.Status = StepFailed
		step.Error = err.Error()
	}
	if appendErr := e.Repo.AppendStep(ctx, st.input.AnalysisID, step); appendErr != nil {
		if err == nil {
			err = fmt.Errorf("persist %s step: %w", stage, appendErr)
		} else {
			telemetry.Error("pipeline_step_persist_failed", map[string]any{
				"analysis_id": st.input.AnalysisID,
				"stage":       string(stage),
				"error":       appendErr.Error(),
			})
		}
	}
	return err
}

func (e *Engine) initialize(ctx context.Context, st *state) (map[string]any, error) {
	if st.input.AnalysisID == "" {
		return nil, fmt.Errorf("analysis ID is required")
	}
	if st.input.ImageURL == "" {
		return nil, fmt.Errorf("image URL is required")
	}
	status := StatusProcessing
	if err := e.Repo.Update(ctx, st.input.AnalysisID, Update{Status: &status}); err != nil {
		return nil, fmt.Errorf("mark processing: %w", err)
	}
	return map[string]any{
		"imageUrl": st.input.ImageURL,
		"cropType": st.input.CropType,
		"provider": st.input.Provider,
	}, nil
}

func (e *Engine) analyzeImage(ctx context.Context, st *state) (map[string]any, error) {
	res, err := e.Analyzer.Analyze(ctx, st.input.ImageURL, st.input.CropType, st.input.Location, st.input.Provider)
	if err != nil {
		return nil, err
	}
	if res.Failed() {
		if res.Error != "" {
			return nil, fmt.Errorf("analysis unusable: %s", res.Error)
		}
		return nil, fmt.Errorf("analysis returned no disease identification")
	}
	st.raw = res

	usedProvider := res.Provider
	upd := Update{
		AIProvider:       &usedProvider,
		RawImageAnalysis: rawResultMap(res),
	}
	if err := e.Repo.Update(ctx, st.input.AnalysisID, upd); err != nil {
		return nil, fmt.Errorf("persist analysis result: %w", err)
	}
	return map[string]any{
		"provider":   usedProvider,
		"disease":    res.Disease,
		"confidence": res.Confidence,
	}, nil
}

func (e *Engine) detectDisease(ctx context.Context, st *state) (map[string]any, error) {
	res := st.raw
	confidence := res.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	det := &Detection{
		Disease:          res.Disease,
		Confidence:       confidence,
		Severity:         res.Severity,
		Symptoms:         res.Symptoms,
		AnalysisProvider: res.Provider,
	}
	if confidence < lowConfidenceThreshold {
		det.Disease = "Inconclusive - requires expert review"
		det.Severity = "unknown"
		det.NeedsExpertReview = true
	}
	if confidence >= highConfidenceThreshold {
		det.Severity = "high"
		det.Reliable = true
	}
	st.detection = det

	if err := e.Repo.Update(ctx, st.input.AnalysisID, Update{Detection: det}); err != nil {
		return nil, fmt.Errorf("persist detection: %w", err)
	}
	return map[string]any{
		"disease":           det.Disease,
		"confidence":        det.Confidence,
		"severity":          det.Severity,
		"needsExpertReview": det.NeedsExpertReview,
	}, nil
}

func (e *Engine) buildRecommendations(ctx context.Context, st *state) (map[string]any, error) {
	if st.detection == nil {
		return nil, fmt.Errorf("no detection available for recommendations")
	}
	recs := buildRecommendations(st.raw, st.input.CropType, st.input.Location)
	st.recs = &recs

	if err := e.Repo.Update(ctx, st.input.AnalysisID, Update{Recommendations: &recs}); err != nil {
		return nil, fmt.Errorf("persist recommendations: %w", err)
	}
	return map[string]any{
		"treatments":  len(recs.Treatment),
		"fertilizers": len(recs.Fertilizers),
	}, nil
}

func (e *Engine) finalize(ctx context.Context, st *state) (map[string]any, error) {
	if st.detection == nil || st.recs == nil {
		return nil, fmt.Errorf("incomplete pipeline state at finalization")
	}
	final := map[string]any{
		"analysisId":      st.input.AnalysisID,
		"detection":       st.detection,
		"recommendations": st.recs,
		"metadata": map[string]any{
			"provider":    st.detection.AnalysisProvider,
			"completedAt": time.Now().UTC().Format(time.RFC3339),
			"confidence":  st.detection.Confidence,
			"cropType":    st.input.CropType,
			"location":    st.input.Location,
		},
	}
	st.finalResult = final

	status := StatusCompleted
	upd := Update{Status: &status, FinalResult: final}
	if err := e.Repo.Update(ctx, st.input.AnalysisID, upd); err != nil {
		return nil, fmt.Errorf("persist final result: %w", err)
	}
	return map[string]any{"status": string(StatusCompleted)}, nil
}

// handleError marks the record failed and records an error handling step.
// Persistence failures here are logged, not raised; the caller always gets
// a terminal result.
func (e *Engine) handleError(ctx context.Context, stage Stage, st *state, cause error) RunResult {
	telemetry.Warn("pipeline_stage_failed", map[string]any{
		"analysis_id": st.input.AnalysisID,
		"stage":       string(stage),
		"error":       cause.Error(),
	})

	status := StatusFailed
	msg := cause.Error()
	if err := e.Repo.Update(ctx, st.input.AnalysisID, Update{Status: &status, Error: &msg}); err != nil {
		telemetry.Error("pipeline_failure_persist_failed", map[string]any{
			"analysis_id": st.input.AnalysisID,
			"error":       err.Error(),
		})
	}
	step := ProcessingStep{
		Step:      "error_handling",
		Status:    StepCompleted,
		Result:    map[string]any{"failedStage": string(stage)},
		Error:     msg,
		Timestamp: time.Now().UTC(),
	}
	if err := e.Repo.AppendStep(ctx, st.input.AnalysisID, step); err != nil {
		telemetry.Error("pipeline_failure_persist_failed", map[string]any{
			"analysis_id": st.input.AnalysisID,
			"error":       err.Error(),
		})
	}
	return RunResult{
		Success: false,
		Error:   "Analysis pipeline failed",
		Details: msg,
	}
}

// rawResultMap shapes the provider response for audit storage.
func rawResultMap(res provider.DetectionResult) map[string]any {
	return map[string]any{
		"provider":     res.Provider,
		"disease":      res.Disease,
		"confidence":   res.Confidence,
		"severity":     res.Severity,
		"symptoms":     res.Symptoms,
		"treatment":    res.Treatment,
		"fertilizers":  res.Fertilizers,
		"homeRemedies": res.HomeRemedies,
		"prevention":   res.Prevention,
	}
}
