package roster

import (
	"context"

	"schooldesk/internal/domain"
)

type RosterRepositoryInterface interface {
	ListStudents(ctx context.Context, limit, offset int) ([]domain.Student, error)
	GetStudentByUserID(ctx context.Context, userID int64) (*domain.Student, error)
	ListTeachers(ctx context.Context, limit, offset int) ([]domain.Teacher, error)
}
