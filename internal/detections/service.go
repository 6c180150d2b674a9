package detections

import (
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"farmassist-backend/internal/provider"
	"farmassist-backend/internal/shared/metrics"
	"farmassist-backend/internal/shared/storage/object"
	"farmassist-backend/internal/shared/telemetry"
)

// AnalyzeInput is the request payload for a new image analysis.
type AnalyzeInput struct {
	UserID   string
	FileName string
	File     io.Reader
	CropType string
	Location provider.Location
	Provider string
}

// ListResult pairs a page of records with pagination metadata.
type ListResult struct {
	Analyses []Analysis `json:"analyses"`
	Total    int        `json:"total"`
	Limit    int        `json:"limit"`
	Offset   int        `json:"offset"`
	HasMore  bool       `json:"hasMore"`
}

// StatsResult extends raw counts with a derived success rate.
type StatsResult struct {
	Stats
	SuccessRate float64 `json:"successRate"`
}

// Service owns the analysis lifecycle: persist the image, create the
// record, run it through the pipeline, and serve reads back out.
type Service struct {
	Repo   Repo
	Engine *Engine
	Store  object.ObjectStore

	// PublicBaseURL prefixes stored image keys to form fetchable URLs.
	PublicBaseURL string
	// DefaultProvider is used when the request does not name one.
	DefaultProvider string
}

const maxListLimit = 100

// AnalyzeImage stores the uploaded image, creates a pending record, and runs
// the detection pipeline to completion. The returned record reflects the
// terminal pipeline state whether it succeeded or failed.
func (s *Service) AnalyzeImage(ctx context.Context, input AnalyzeInput) (Analysis, error) {
	preferred := input.Provider
	if preferred == "" {
		preferred = s.DefaultProvider
	}
	if preferred == "" {
		preferred = provider.DefaultName
	}

	key, size, _, err := s.Store.Save(ctx, input.UserID, input.FileName, input.File)
	if err != nil {
		return Analysis{}, fmt.Errorf("store image: %w", err)
	}
	imageURL := s.publicURL(key)

	now := time.Now().UTC()
	analysis := Analysis{
		ID:           uuid.NewString(),
		UserID:       input.UserID,
		ImageURL:     imageURL,
		OriginalName: input.FileName,
		Crop:         input.CropType,
		Location:     input.Location,
		AIProvider:   preferred,
		Status:       StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.Repo.Create(ctx, analysis); err != nil {
		return Analysis{}, fmt.Errorf("create analysis record: %w", err)
	}

	telemetry.Info("analysis_started", map[string]any{
		"analysis_id": analysis.ID,
		"user_id":     input.UserID,
		"provider":    preferred,
		"size_bytes":  size,
	})
	metrics.IncDetectionStarted()
	started := time.Now()

	result := s.Engine.Run(ctx, RunInput{
		AnalysisID: analysis.ID,
		ImageURL:   imageURL,
		CropType:   input.CropType,
		Location:   input.Location,
		Provider:   preferred,
	})
	metrics.ObserveDetectionDurationMs(float64(time.Since(started).Milliseconds()))
	if result.Success {
		metrics.IncDetectionCompleted()
	} else {
		metrics.IncDetectionFailed()
	}
	telemetry.Info("analysis_finished", map[string]any{
		"analysis_id": analysis.ID,
		"success":     result.Success,
	})

	return s.Repo.GetByID(ctx, analysis.ID)
}

// Get returns a record. A non-empty userID must match the record owner;
// otherwise the record is reported as not found.
func (s *Service) Get(ctx context.Context, userID, analysisID string) (Analysis, error) {
	analysis, err := s.Repo.GetByID(ctx, analysisID)
	if err != nil {
		return Analysis{}, err
	}
	if userID != "" && analysis.UserID != "" && analysis.UserID != userID {
		return Analysis{}, ErrNotFound
	}
	return analysis, nil
}

// List returns a page of records for the user, newest first.
func (s *Service) List(ctx context.Context, userID string, limit, offset int) (ListResult, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	analyses, total, err := s.Repo.List(ctx, userID, limit, offset)
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{
		Analyses: analyses,
		Total:    total,
		Limit:    limit,
		Offset:   offset,
		HasMore:  offset+len(analyses) < total,
	}, nil
}

// Stats aggregates record counts and success rate for the user.
func (s *Service) Stats(ctx context.Context, userID string) (StatsResult, error) {
	stats, err := s.Repo.Stats(ctx, userID)
	if err != nil {
		return StatsResult{}, err
	}
	out := StatsResult{Stats: stats}
	if stats.Total > 0 {
		out.SuccessRate = float64(stats.Completed) / float64(stats.Total)
	}
	return out, nil
}

// Retry re-runs the pipeline for a failed record. Earlier processing steps
// are preserved; a retry marker step separates the old run from the new one.
func (s *Service) Retry(ctx context.Context, userID, analysisID string) (Analysis, error) {
	analysis, err := s.Get(ctx, userID, analysisID)
	if err != nil {
		return Analysis{}, err
	}
	if analysis.Status != StatusFailed {
		return Analysis{}, ErrRetryNotAllowed
	}

	status := StatusPending
	clearErr := ""
	if err := s.Repo.Update(ctx, analysisID, Update{Status: &status, Error: &clearErr}); err != nil {
		return Analysis{}, fmt.Errorf("reset analysis: %w", err)
	}
	step := ProcessingStep{
		Step:      "retry_initiated",
		Status:    StepCompleted,
		Result:    map[string]any{"previousError": analysis.Error},
		Timestamp: time.Now().UTC(),
	}
	if err := s.Repo.AppendStep(ctx, analysisID, step); err != nil {
		return Analysis{}, fmt.Errorf("record retry: %w", err)
	}

	metrics.IncDetectionRetried()
	result := s.Engine.Run(ctx, RunInput{
		AnalysisID: analysisID,
		ImageURL:   analysis.ImageURL,
		CropType:   analysis.Crop,
		Location:   analysis.Location,
		Provider:   analysis.AIProvider,
	})
	if result.Success {
		metrics.IncDetectionCompleted()
	} else {
		metrics.IncDetectionFailed()
	}
	telemetry.Info("analysis_retried", map[string]any{
		"analysis_id": analysisID,
		"success":     result.Success,
	})

	return s.Repo.GetByID(ctx, analysisID)
}

// Delete removes a record the user owns.
func (s *Service) Delete(ctx context.Context, userID, analysisID string) error {
	if _, err := s.Get(ctx, userID, analysisID); err != nil {
		return err
	}
	return s.Repo.Delete(ctx, analysisID)
}

func (s *Service) publicURL(storageKey string) string {
	base := strings.TrimRight(s.PublicBaseURL, "/")
	return base + path.Join("/uploads", filepath.ToSlash(storageKey))
}
