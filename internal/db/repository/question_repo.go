package repository

import (
	"context"
	"fmt"

	"github.com/derekforsure/APIQ-interactive-quiz-sub000/internal/quiz"
)

// QuestionRepository reads a session's ordered question list. The list is
// owned by the CRUD layer; the engine only needs identifiers, order and
// correct answers.
type QuestionRepository struct {
	db Querier
}

// NewQuestionRepository constructs a question repository.
func NewQuestionRepository(db Querier) *QuestionRepository {
	return &QuestionRepository{db: db}
}

// ListForSession returns the session's questions in presentation order.
func (r *QuestionRepository) ListForSession(ctx context.Context, sessionID string) ([]quiz.Question, error) {
	const q = `
		SELECT id, position, correct_answer
		FROM questions
		WHERE session_id = $1
		ORDER BY position`
	rows, err := r.db.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list session questions: %w", err)
	}
	defer rows.Close()

	var questions []quiz.Question
	for rows.Next() {
		var item quiz.Question
		if err := rows.Scan(&item.ID, &item.Position, &item.CorrectAnswer); err != nil {
			return nil, fmt.Errorf("scan question row: %w", err)
		}
		questions = append(questions, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate question rows: %w", err)
	}
	return questions, nil
}
