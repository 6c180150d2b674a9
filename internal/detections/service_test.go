package detections

import (
	"context"
	"errors"
	"strings"
	"testing"

	"farmassist-backend/internal/provider"
	local "farmassist-backend/internal/shared/storage/object/local"
)

func newTestService(t *testing.T, analyzer Analyzer) (*Service, *MemoryRepo) {
	t.Helper()
	repo := NewMemoryRepo()
	svc := &Service{
		Repo:            repo,
		Engine:          &Engine{Repo: repo, Analyzer: analyzer},
		Store:           local.New(t.TempDir()),
		PublicBaseURL:   "http://localhost:8080",
		DefaultProvider: provider.NameGroq,
	}
	return svc, repo
}

func TestAnalyzeImageEndToEnd(t *testing.T) {
	svc, _ := newTestService(t, &stubAnalyzer{res: geminiResult("Leaf Rust", 0.92)})

	analysis, err := svc.AnalyzeImage(context.Background(), AnalyzeInput{
		UserID:   "user-1",
		FileName: "leaf.jpg",
		File:     strings.NewReader("fake-jpeg-bytes"),
		CropType: "wheat",
		Location: provider.Location{District: "Pune", State: "Maharashtra"},
		Provider: provider.NameGemini,
	})
	if err != nil {
		t.Fatalf("AnalyzeImage: %v", err)
	}
	if analysis.Status != StatusCompleted {
		t.Fatalf("status: got %q (error %q)", analysis.Status, analysis.Error)
	}
	if !strings.HasPrefix(analysis.ImageURL, "http://localhost:8080/uploads/") {
		t.Fatalf("image URL: %q", analysis.ImageURL)
	}
	if analysis.ID == "" {
		t.Fatalf("expected generated ID")
	}
	if len(analysis.ProcessingSteps) != 5 {
		t.Fatalf("expected 5 steps on clean run, got %d", len(analysis.ProcessingSteps))
	}
	if analysis.Detection == nil || analysis.Detection.Disease != "Leaf Rust" {
		t.Fatalf("detection: %+v", analysis.Detection)
	}
}

func TestAnalyzeImagePipelineFailureReturnsRecord(t *testing.T) {
	svc, _ := newTestService(t, &stubAnalyzer{err: errors.New("all providers failed. last error: quota")})

	analysis, err := svc.AnalyzeImage(context.Background(), AnalyzeInput{
		UserID:   "user-1",
		FileName: "leaf.jpg",
		File:     strings.NewReader("fake-jpeg-bytes"),
	})
	if err != nil {
		t.Fatalf("AnalyzeImage should not raise on pipeline failure: %v", err)
	}
	if analysis.Status != StatusFailed {
		t.Fatalf("status: got %q", analysis.Status)
	}
	if analysis.Error == "" {
		t.Fatalf("expected error recorded on the analysis")
	}
}

func TestGetEnforcesOwnership(t *testing.T) {
	svc, repo := newTestService(t, &stubAnalyzer{res: geminiResult("Rust", 0.9)})
	seedAnalysis(t, repo, "owned")

	if _, err := svc.Get(context.Background(), "user-1", "owned"); err != nil {
		t.Fatalf("owner read: %v", err)
	}
	if _, err := svc.Get(context.Background(), "user-2", "owned"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for other user, got %v", err)
	}
	if _, err := svc.Get(context.Background(), "", "owned"); err != nil {
		t.Fatalf("admin read without user filter: %v", err)
	}
}

func TestListCapsLimit(t *testing.T) {
	svc, repo := newTestService(t, &stubAnalyzer{})
	for i := 0; i < 3; i++ {
		seedAnalysis(t, repo, "a-"+string(rune('0'+i)))
	}

	result, err := svc.List(context.Background(), "user-1", 500, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if result.Limit != maxListLimit {
		t.Fatalf("expected limit capped at %d, got %d", maxListLimit, result.Limit)
	}
	if result.Total != 3 {
		t.Fatalf("total: got %d", result.Total)
	}
}

func TestStatsSuccessRate(t *testing.T) {
	svc, repo := newTestService(t, &stubAnalyzer{})
	for i, status := range []string{StatusCompleted, StatusCompleted, StatusFailed, StatusPending} {
		a := seedAnalysis(t, repo, "s-"+string(rune('0'+i)))
		st := status
		if err := repo.Update(context.Background(), a.ID, Update{Status: &st}); err != nil {
			t.Fatalf("update status: %v", err)
		}
	}

	stats, err := svc.Stats(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 4 || stats.Completed != 2 || stats.Failed != 1 || stats.Pending != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.SuccessRate != 0.5 {
		t.Fatalf("success rate: got %v", stats.SuccessRate)
	}
}

func TestRetryOnlyFailed(t *testing.T) {
	svc, repo := newTestService(t, &stubAnalyzer{res: geminiResult("Rust", 0.9)})
	a := seedAnalysis(t, repo, "r-1")

	if _, err := svc.Retry(context.Background(), "user-1", a.ID); !errors.Is(err, ErrRetryNotAllowed) {
		t.Fatalf("expected ErrRetryNotAllowed for pending record, got %v", err)
	}
}

func TestRetryPreservesStepHistory(t *testing.T) {
	failing := &stubAnalyzer{err: errors.New("quota exceeded")}
	svc, _ := newTestService(t, failing)

	analysis, err := svc.AnalyzeImage(context.Background(), AnalyzeInput{
		UserID:   "user-1",
		FileName: "leaf.jpg",
		File:     strings.NewReader("fake-jpeg-bytes"),
		CropType: "wheat",
	})
	if err != nil {
		t.Fatalf("AnalyzeImage: %v", err)
	}
	if analysis.Status != StatusFailed {
		t.Fatalf("precondition: expected failed run, got %q", analysis.Status)
	}
	firstRunSteps := len(analysis.ProcessingSteps)

	// provider recovers
	failing.err = nil
	failing.res = geminiResult("Leaf Rust", 0.85)

	retried, err := svc.Retry(context.Background(), "user-1", analysis.ID)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if retried.Status != StatusCompleted {
		t.Fatalf("status after retry: %q (error %q)", retried.Status, retried.Error)
	}
	if retried.Error != "" {
		t.Fatalf("expected error cleared after retry, got %q", retried.Error)
	}
	// old steps + retry_initiated + 5 new stage steps
	want := firstRunSteps + 1 + 5
	if len(retried.ProcessingSteps) != want {
		t.Fatalf("expected %d steps, got %d", want, len(retried.ProcessingSteps))
	}
	marker := retried.ProcessingSteps[firstRunSteps]
	if marker.Step != "retry_initiated" {
		t.Fatalf("expected retry marker at position %d, got %+v", firstRunSteps, marker)
	}
}

func TestDeleteRemovesRecord(t *testing.T) {
	svc, repo := newTestService(t, &stubAnalyzer{})
	a := seedAnalysis(t, repo, "d-1")

	if err := svc.Delete(context.Background(), "user-1", a.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repo.GetByID(context.Background(), a.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected record gone, got %v", err)
	}
}

func TestDeleteOtherUsersRecord(t *testing.T) {
	svc, repo := newTestService(t, &stubAnalyzer{})
	a := seedAnalysis(t, repo, "d-2")

	if err := svc.Delete(context.Background(), "user-2", a.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
