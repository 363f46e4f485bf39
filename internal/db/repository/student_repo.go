package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// StudentRepository resolves roster data for department-mode scoring.
type StudentRepository struct {
	db Querier
}

// NewStudentRepository constructs a student repository.
func NewStudentRepository(db Querier) *StudentRepository {
	return &StudentRepository{db: db}
}

// DepartmentOf returns the student's department name, or "" when the
// student is unknown or has no department assigned.
func (r *StudentRepository) DepartmentOf(ctx context.Context, studentID string) (string, error) {
	const q = `SELECT COALESCE(department, '') FROM students WHERE id = $1`
	var department string
	err := r.db.QueryRow(ctx, q, studentID).Scan(&department)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("resolve department: %w", err)
	}
	return department, nil
}
