package repository

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/derekforsure/APIQ-interactive-quiz-sub000/internal/quiz"
)

// stubRows implements pgx.Rows over canned value rows.
type stubRows struct {
	rows [][]any
	idx  int
	err  error
}

func (r *stubRows) Close()                                       {}
func (r *stubRows) Err() error                                   { return r.err }
func (r *stubRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *stubRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *stubRows) Values() ([]any, error)                       { return nil, nil }
func (r *stubRows) RawValues() [][]byte                          { return nil }
func (r *stubRows) Conn() *pgx.Conn                              { return nil }

func (r *stubRows) Next() bool {
	if r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}

func (r *stubRows) Scan(dest ...any) error {
	row := r.rows[r.idx-1]
	for i, d := range dest {
		switch out := d.(type) {
		case *int:
			*out = row[i].(int)
		case *string:
			*out = row[i].(string)
		default:
			return fmt.Errorf("unsupported scan target %T", d)
		}
	}
	return nil
}

type stubRow struct {
	vals []any
	err  error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return (&stubRows{rows: [][]any{r.vals}, idx: 1}).Scan(dest...)
}

// stubQuerier records the last statement and serves canned results.
type stubQuerier struct {
	lastSQL  string
	lastArgs []any

	rows    *stubRows
	row     stubRow
	execErr error
}

func (q *stubQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	q.lastSQL, q.lastArgs = sql, args
	return pgconn.CommandTag{}, q.execErr
}

func (q *stubQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	q.lastSQL, q.lastArgs = sql, args
	return q.rows, nil
}

func (q *stubQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	q.lastSQL, q.lastArgs = sql, args
	return q.row
}

func TestScoreRepository_UpsertQuestionScore(t *testing.T) {
	db := &stubQuerier{}
	repo := NewScoreRepository(db)

	err := repo.UpsertQuestionScore(context.Background(), "s1", 3, "alice", 2)

	require.NoError(t, err)
	assert.Contains(t, db.lastSQL, "ON CONFLICT (session_id, question_id, subject)")
	assert.Equal(t, []any{"s1", 3, "alice", 2}, db.lastArgs)
}

func TestScoreRepository_UpsertSessionScore(t *testing.T) {
	db := &stubQuerier{}
	repo := NewScoreRepository(db)

	err := repo.UpsertSessionScore(context.Background(), "s1", "physics", 7)

	require.NoError(t, err)
	assert.Contains(t, db.lastSQL, "ON CONFLICT (session_id, subject)")
	assert.Equal(t, []any{"s1", "physics", 7}, db.lastArgs)
}

func TestScoreRepository_SumQuestionScores(t *testing.T) {
	db := &stubQuerier{rows: &stubRows{rows: [][]any{
		{"alice", 5},
		{"bob", 2},
	}}}
	repo := NewScoreRepository(db)

	totals, err := repo.SumQuestionScores(context.Background(), "s1")

	require.NoError(t, err)
	assert.Equal(t, map[string]int{"alice": 5, "bob": 2}, totals)
	assert.Contains(t, db.lastSQL, "GROUP BY subject")
}

func TestScoreRepository_DeactivateSession(t *testing.T) {
	db := &stubQuerier{}
	repo := NewScoreRepository(db)

	err := repo.DeactivateSession(context.Background(), "s1")

	require.NoError(t, err)
	assert.Contains(t, db.lastSQL, "is_active = FALSE")
	assert.Equal(t, []any{"s1"}, db.lastArgs)
}

func TestQuestionRepository_ListForSession(t *testing.T) {
	db := &stubQuerier{rows: &stubRows{rows: [][]any{
		{1, 0, "42"},
		{2, 1, "blue"},
	}}}
	repo := NewQuestionRepository(db)

	questions, err := repo.ListForSession(context.Background(), "s1")

	require.NoError(t, err)
	assert.Equal(t, []quiz.Question{
		{ID: 1, Position: 0, CorrectAnswer: "42"},
		{ID: 2, Position: 1, CorrectAnswer: "blue"},
	}, questions)
	assert.Contains(t, db.lastSQL, "ORDER BY position")
}

func TestStudentRepository_DepartmentOf(t *testing.T) {
	db := &stubQuerier{row: stubRow{vals: []any{"physics"}}}
	repo := NewStudentRepository(db)

	dept, err := repo.DepartmentOf(context.Background(), "alice")

	require.NoError(t, err)
	assert.Equal(t, "physics", dept)
}

func TestStudentRepository_DepartmentOfUnknownStudent(t *testing.T) {
	db := &stubQuerier{row: stubRow{err: pgx.ErrNoRows}}
	repo := NewStudentRepository(db)

	dept, err := repo.DepartmentOf(context.Background(), "ghost")

	require.NoError(t, err)
	assert.Empty(t, dept)
}
