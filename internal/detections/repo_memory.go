package detections

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo stores analyses in memory and is safe for concurrent use.
// It backs dev mode and tests; semantics mirror the Postgres repo.
type MemoryRepo struct {
	mu   sync.RWMutex
	byID map[string]Analysis
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: make(map[string]Analysis)}
}

// Create stores the analysis.
func (r *MemoryRepo) Create(ctx context.Context, analysis Analysis) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[analysis.ID] = cloneAnalysis(analysis)
	return nil
}

// GetByID returns an analysis by its ID.
func (r *MemoryRepo) GetByID(ctx context.Context, analysisID string) (Analysis, error) {
	if err := ctx.Err(); err != nil {
		return Analysis{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	analysis, ok := r.byID[analysisID]
	if !ok {
		return Analysis{}, ErrNotFound
	}
	return cloneAnalysis(analysis), nil
}

// AppendStep appends one processing step; prior entries are never rewritten.
func (r *MemoryRepo) AppendStep(ctx context.Context, analysisID string, step ProcessingStep) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	analysis, ok := r.byID[analysisID]
	if !ok {
		return ErrNotFound
	}
	if step.Timestamp.IsZero() {
		step.Timestamp = time.Now().UTC()
	}
	analysis.ProcessingSteps = append(analysis.ProcessingSteps, step)
	analysis.UpdatedAt = time.Now().UTC()
	r.byID[analysisID] = analysis
	return nil
}

// Update applies a partial field update by id.
func (r *MemoryRepo) Update(ctx context.Context, analysisID string, upd Update) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	analysis, ok := r.byID[analysisID]
	if !ok {
		return ErrNotFound
	}
	if upd.Status != nil {
		analysis.Status = *upd.Status
	}
	if upd.Error != nil {
		analysis.Error = *upd.Error
	}
	if upd.Detection != nil {
		d := *upd.Detection
		analysis.Detection = &d
	}
	if upd.Recommendations != nil {
		rec := *upd.Recommendations
		analysis.Recommendations = &rec
	}
	if upd.AIProvider != nil {
		analysis.AIProvider = *upd.AIProvider
	}
	if upd.RawImageAnalysis != nil {
		if analysis.RawResponses == nil {
			analysis.RawResponses = map[string]any{}
		}
		analysis.RawResponses["imageAnalysis"] = upd.RawImageAnalysis
	}
	if upd.FinalResult != nil {
		analysis.FinalResult = upd.FinalResult
	}
	analysis.UpdatedAt = time.Now().UTC()
	r.byID[analysisID] = analysis
	return nil
}

// List returns records newest-first with limit/offset; empty userID matches
// all. Heavy fields are stripped, matching the Postgres repo's projection.
func (r *MemoryRepo) List(ctx context.Context, userID string, limit, offset int) ([]Analysis, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = 20
	}

	r.mu.RLock()
	matched := make([]Analysis, 0, len(r.byID))
	for _, a := range r.byID {
		if userID != "" && a.UserID != userID {
			continue
		}
		matched = append(matched, cloneAnalysis(a))
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if offset >= total {
		return []Analysis{}, total, nil
	}
	end := total
	if offset+limit < end {
		end = offset + limit
	}

	page := matched[offset:end]
	for i := range page {
		page[i].ProcessingSteps = nil
		page[i].RawResponses = nil
	}
	return page, total, nil
}

// Stats aggregates record counts by status.
func (r *MemoryRepo) Stats(ctx context.Context, userID string) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats Stats
	for _, a := range r.byID {
		if userID != "" && a.UserID != userID {
			continue
		}
		stats.Total++
		switch a.Status {
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		case StatusPending:
			stats.Pending++
		case StatusProcessing:
			stats.Processing++
		}
	}
	return stats, nil
}

// Delete removes a record.
func (r *MemoryRepo) Delete(ctx context.Context, analysisID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[analysisID]; !ok {
		return ErrNotFound
	}
	delete(r.byID, analysisID)
	return nil
}

func cloneAnalysis(a Analysis) Analysis {
	out := a
	if a.ProcessingSteps != nil {
		out.ProcessingSteps = make([]ProcessingStep, len(a.ProcessingSteps))
		copy(out.ProcessingSteps, a.ProcessingSteps)
	}
	if a.Detection != nil {
		d := *a.Detection
		out.Detection = &d
	}
	if a.Recommendations != nil {
		rec := *a.Recommendations
		out.Recommendations = &rec
	}
	return out
}

var _ Repo = (*MemoryRepo)(nil)
