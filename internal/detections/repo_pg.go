package detections

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// PGRepo implements Repo using Postgres. Detection, recommendations,
// location, steps, and raw responses are stored as jsonb; step append and
// partial updates are single statements so no row locking is needed.
type PGRepo struct {
	DB *sql.DB
}

// Create inserts a new analysis record.
func (r *PGRepo) Create(ctx context.Context, analysis Analysis) error {
	const query = `
INSERT INTO analyses (
	id, user_id, image_url, original_name, crop, location,
	detection, recommendations, processing_steps, raw_responses, final_result,
	ai_provider, status, error, created_at, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	location, err := marshalJSONB(analysis.Location)
	if err != nil {
		return err
	}
	detection, err := marshalJSONB(analysis.Detection)
	if err != nil {
		return err
	}
	recommendations, err := marshalJSONB(analysis.Recommendations)
	if err != nil {
		return err
	}
	steps := analysis.ProcessingSteps
	if steps == nil {
		steps = []ProcessingStep{}
	}
	stepsPayload, err := json.Marshal(steps)
	if err != nil {
		return err
	}
	rawResponses, err := marshalJSONB(analysis.RawResponses)
	if err != nil {
		return err
	}
	finalResult, err := marshalJSONB(analysis.FinalResult)
	if err != nil {
		return err
	}

	_, err = r.DB.ExecContext(ctx, query,
		analysis.ID,
		nullString(analysis.UserID),
		analysis.ImageURL,
		nullString(analysis.OriginalName),
		nullString(analysis.Crop),
		location,
		detection,
		recommendations,
		string(stepsPayload),
		rawResponses,
		finalResult,
		analysis.AIProvider,
		analysis.Status,
		nullString(analysis.Error),
		analysis.CreatedAt,
		analysis.UpdatedAt,
	)
	return err
}

const selectColumns = `
id, user_id, image_url, original_name, crop, location,
detection, recommendations, processing_steps, raw_responses, final_result,
ai_provider, status, error, created_at, updated_at`

// GetByID returns an analysis by ID.
func (r *PGRepo) GetByID(ctx context.Context, analysisID string) (Analysis, error) {
	query := `SELECT ` + selectColumns + ` FROM analyses WHERE id = $1 LIMIT 1`
	row := r.DB.QueryRowContext(ctx, query, analysisID)
	analysis, err := scanAnalysis(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Analysis{}, ErrNotFound
		}
		return Analysis{}, err
	}
	return analysis, nil
}

// AppendStep appends one processing step atomically via jsonb concatenation.
func (r *PGRepo) AppendStep(ctx context.Context, analysisID string, step ProcessingStep) error {
	if step.Timestamp.IsZero() {
		step.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(step)
	if err != nil {
		return err
	}
	const query = `
UPDATE analyses
SET processing_steps = processing_steps || $2::jsonb, updated_at = $3
WHERE id = $1`
	res, err := r.DB.ExecContext(ctx, query, analysisID, string(payload), time.Now().UTC())
	if err != nil {
		return err
	}
	return requireRow(res)
}

// Update applies a partial field update in a single statement.
func (r *PGRepo) Update(ctx context.Context, analysisID string, upd Update) error {
	sets := []string{}
	args := []any{analysisID}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if upd.Status != nil {
		sets = append(sets, "status = "+arg(*upd.Status))
	}
	if upd.Error != nil {
		if *upd.Error == "" {
			sets = append(sets, "error = NULL")
		} else {
			sets = append(sets, "error = "+arg(*upd.Error))
		}
	}
	if upd.Detection != nil {
		payload, err := marshalJSONB(upd.Detection)
		if err != nil {
			return err
		}
		sets = append(sets, "detection = "+arg(payload)+"::jsonb")
	}
	if upd.Recommendations != nil {
		payload, err := marshalJSONB(upd.Recommendations)
		if err != nil {
			return err
		}
		sets = append(sets, "recommendations = "+arg(payload)+"::jsonb")
	}
	if upd.AIProvider != nil {
		sets = append(sets, "ai_provider = "+arg(*upd.AIProvider))
	}
	if upd.RawImageAnalysis != nil {
		payload, err := marshalJSONB(upd.RawImageAnalysis)
		if err != nil {
			return err
		}
		sets = append(sets, "raw_responses = COALESCE(raw_responses, '{}'::jsonb) || jsonb_build_object('imageAnalysis', "+arg(payload)+"::jsonb)")
	}
	if upd.FinalResult != nil {
		payload, err := marshalJSONB(upd.FinalResult)
		if err != nil {
			return err
		}
		sets = append(sets, "final_result = "+arg(payload)+"::jsonb")
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = "+arg(time.Now().UTC()))

	query := "UPDATE analyses SET " + strings.Join(sets, ", ") + " WHERE id = $1"
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// List returns records newest-first with limit/offset plus the total match
// count. Heavy jsonb fields are excluded from the projection.
func (r *PGRepo) List(ctx context.Context, userID string, limit, offset int) ([]Analysis, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = 20
	}

	where := ""
	args := []any{}
	if userID != "" {
		where = "WHERE user_id = $1"
		args = append(args, userID)
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM analyses " + where
	if err := r.DB.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`
SELECT id, user_id, image_url, original_name, crop, location,
       detection, recommendations, ai_provider, status, error, created_at, updated_at
FROM analyses %s
ORDER BY created_at DESC
LIMIT $%d OFFSET $%d`, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	analyses := []Analysis{}
	for rows.Next() {
		var a Analysis
		var userIDVal, originalName, crop, errMsg sql.NullString
		var location, detection, recommendations sql.NullString
		if err := rows.Scan(
			&a.ID, &userIDVal, &a.ImageURL, &originalName, &crop, &location,
			&detection, &recommendations, &a.AIProvider, &a.Status, &errMsg,
			&a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, 0, err
		}
		a.UserID = userIDVal.String
		a.OriginalName = originalName.String
		a.Crop = crop.String
		a.Error = errMsg.String
		if err := unmarshalJSONB(location, &a.Location); err != nil {
			return nil, 0, err
		}
		if detection.Valid {
			a.Detection = &Detection{}
			if err := unmarshalJSONB(detection, a.Detection); err != nil {
				return nil, 0, err
			}
		}
		if recommendations.Valid {
			a.Recommendations = &Recommendations{}
			if err := unmarshalJSONB(recommendations, a.Recommendations); err != nil {
				return nil, 0, err
			}
		}
		analyses = append(analyses, a)
	}
	return analyses, total, rows.Err()
}

// Stats aggregates record counts by status in one scan.
func (r *PGRepo) Stats(ctx context.Context, userID string) (Stats, error) {
	where := ""
	args := []any{}
	if userID != "" {
		where = "WHERE user_id = $1"
		args = append(args, userID)
	}
	query := `
SELECT COUNT(*),
       COUNT(*) FILTER (WHERE status = 'completed'),
       COUNT(*) FILTER (WHERE status = 'failed'),
       COUNT(*) FILTER (WHERE status = 'pending'),
       COUNT(*) FILTER (WHERE status = 'processing')
FROM analyses ` + where

	var stats Stats
	err := r.DB.QueryRowContext(ctx, query, args...).Scan(
		&stats.Total, &stats.Completed, &stats.Failed, &stats.Pending, &stats.Processing,
	)
	return stats, err
}

// Delete removes the record.
func (r *PGRepo) Delete(ctx context.Context, analysisID string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM analyses WHERE id = $1`, analysisID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(row rowScanner) (Analysis, error) {
	var a Analysis
	var userID, originalName, crop, errMsg sql.NullString
	var location, detection, recommendations, steps, rawResponses, finalResult sql.NullString
	err := row.Scan(
		&a.ID, &userID, &a.ImageURL, &originalName, &crop, &location,
		&detection, &recommendations, &steps, &rawResponses, &finalResult,
		&a.AIProvider, &a.Status, &errMsg, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return Analysis{}, err
	}
	a.UserID = userID.String
	a.OriginalName = originalName.String
	a.Crop = crop.String
	a.Error = errMsg.String
	if err := unmarshalJSONB(location, &a.Location); err != nil {
		return Analysis{}, err
	}
	if detection.Valid {
		a.Detection = &Detection{}
		if err := unmarshalJSONB(detection, a.Detection); err != nil {
			return Analysis{}, err
		}
	}
	if recommendations.Valid {
		a.Recommendations = &Recommendations{}
		if err := unmarshalJSONB(recommendations, a.Recommendations); err != nil {
			return Analysis{}, err
		}
	}
	if steps.Valid {
		if err := json.Unmarshal([]byte(steps.String), &a.ProcessingSteps); err != nil {
			return Analysis{}, err
		}
	}
	if err := unmarshalJSONB(rawResponses, &a.RawResponses); err != nil {
		return Analysis{}, err
	}
	if err := unmarshalJSONB(finalResult, &a.FinalResult); err != nil {
		return Analysis{}, err
	}
	return a, nil
}

func marshalJSONB(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch val := v.(type) {
	case *Detection:
		if val == nil {
			return nil, nil
		}
	case *Recommendations:
		if val == nil {
			return nil, nil
		}
	case map[string]any:
		if val == nil {
			return nil, nil
		}
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(payload), nil
}

func unmarshalJSONB(src sql.NullString, dst any) error {
	if !src.Valid || strings.TrimSpace(src.String) == "" {
		return nil
	}
	return json.Unmarshal([]byte(src.String), dst)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func requireRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

var _ Repo = (*PGRepo)(nil)
