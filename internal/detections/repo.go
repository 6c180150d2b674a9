package detections

import "context"

// Update is a partial field update applied atomically by id. Nil pointers
// leave the stored value untouched; an Update never touches processingSteps,
// which only grows via AppendStep.
type Update struct {
	Status          *string
	Error           *string // pointer to "" clears a previous error
	Detection       *Detection
	Recommendations *Recommendations
	AIProvider      *string
	// RawImageAnalysis is merged into rawResponses under "imageAnalysis".
	RawImageAnalysis map[string]any
	FinalResult      map[string]any
}

// Repo defines persistence operations for analysis records. Implementations
// must support atomic step append and atomic partial update by id; no
// transactional multi-record coordination is required.
type Repo interface {
	Create(ctx context.Context, analysis Analysis) error
	GetByID(ctx context.Context, analysisID string) (Analysis, error)
	AppendStep(ctx context.Context, analysisID string, step ProcessingStep) error
	Update(ctx context.Context, analysisID string, upd Update) error
	// List returns records newest-first, excluding the heavy processingSteps
	// and rawResponses fields, plus the total match count. An empty userID
	// matches all records.
	List(ctx context.Context, userID string, limit, offset int) ([]Analysis, int, error)
	Stats(ctx context.Context, userID string) (Stats, error)
	Delete(ctx context.Context, analysisID string) error
}
