package repository

import (
	"context"
	"fmt"
)

// ScoreRepository owns the per-question and session score ledger tables.
type ScoreRepository struct {
	db Querier
}

// NewScoreRepository constructs a score ledger repository.
func NewScoreRepository(db Querier) *ScoreRepository {
	return &ScoreRepository{db: db}
}

// UpsertQuestionScore writes one per-question ledger row. Re-judging the
// same (session, question, subject) replaces the points.
func (r *ScoreRepository) UpsertQuestionScore(ctx context.Context, sessionID string, questionID int, subject string, points int) error {
	const q = `
		INSERT INTO question_scores (session_id, question_id, subject, points)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id, question_id, subject)
		DO UPDATE SET points = EXCLUDED.points`
	if _, err := r.db.Exec(ctx, q, sessionID, questionID, subject, points); err != nil {
		return fmt.Errorf("upsert question score: %w", err)
	}
	return nil
}

// UpsertSessionScore writes a subject's final total for the session.
func (r *ScoreRepository) UpsertSessionScore(ctx context.Context, sessionID, subject string, points int) error {
	const q = `
		INSERT INTO session_scores (session_id, subject, points)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_id, subject)
		DO UPDATE SET points = EXCLUDED.points`
	if _, err := r.db.Exec(ctx, q, sessionID, subject, points); err != nil {
		return fmt.Errorf("upsert session score: %w", err)
	}
	return nil
}

// SumQuestionScores totals the per-question rows grouped by subject.
func (r *ScoreRepository) SumQuestionScores(ctx context.Context, sessionID string) (map[string]int, error) {
	const q = `
		SELECT subject, COALESCE(SUM(points), 0)
		FROM question_scores
		WHERE session_id = $1
		GROUP BY subject`
	rows, err := r.db.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("sum question scores: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]int)
	for rows.Next() {
		var subject string
		var points int
		if err := rows.Scan(&subject, &points); err != nil {
			return nil, fmt.Errorf("scan score row: %w", err)
		}
		totals[subject] = points
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate score rows: %w", err)
	}
	return totals, nil
}

// DeactivateSession flips the session's active flag off.
func (r *ScoreRepository) DeactivateSession(ctx context.Context, sessionID string) error {
	const q = `UPDATE sessions SET is_active = FALSE, ended_at = NOW() WHERE id = $1`
	if _, err := r.db.Exec(ctx, q, sessionID); err != nil {
		return fmt.Errorf("deactivate session: %w", err)
	}
	return nil
}
