package roster

import (
	"context"

	"schooldesk/internal/domain"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

type Service struct {
	repo RosterRepositoryInterface
}

func NewService(repo RosterRepositoryInterface) *Service {
	return &Service{repo: repo}
}

func (s *Service) ListStudents(ctx context.Context, limit, offset int) ([]domain.Student, error) {
	return s.repo.ListStudents(ctx, clampLimit(limit), max(offset, 0))
}

func (s *Service) GetOwnStudentProfile(ctx context.Context, userID int64) (*domain.Student, error) {
	return s.repo.GetStudentByUserID(ctx, userID)
}

func (s *Service) ListTeachers(ctx context.Context, limit, offset int) ([]domain.Teacher, error) {
	return s.repo.ListTeachers(ctx, clampLimit(limit), max(offset, 0))
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	if limit > maxPageSize {
		return maxPageSize
	}
	return limit
}
