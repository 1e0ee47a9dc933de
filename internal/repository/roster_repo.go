package repository

import (
	"context"

	"schooldesk/internal/domain"

	"gorm.io/gorm"
)

type RosterRepository struct {
	db *gorm.DB
}

func NewRosterRepository(db *gorm.DB) *RosterRepository {
	return &RosterRepository{db: db}
}

func (r *RosterRepository) ListStudents(ctx context.Context, limit, offset int) ([]domain.Student, error) {
	var students []domain.Student
	tx := r.db.WithContext(ctx).
		Order("name").
		Limit(limit).
		Offset(offset).
		Find(&students)
	return students, tx.Error
}

func (r *RosterRepository) GetStudentByUserID(ctx context.Context, userID int64) (*domain.Student, error) {
	var s domain.Student
	tx := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&s)
	if tx.Error != nil {
		return nil, tx.Error
	}
	return &s, nil
}

func (r *RosterRepository) ListTeachers(ctx context.Context, limit, offset int) ([]domain.Teacher, error) {
	var teachers []domain.Teacher
	tx := r.db.WithContext(ctx).
		Order("name").
		Limit(limit).
		Offset(offset).
		Find(&teachers)
	return teachers, tx.Error
}
