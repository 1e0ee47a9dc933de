package domain

import "time"

type Student struct {
	ID     int64  `json:"id" gorm:"primaryKey"`
	UserID int64  `json:"user_id" gorm:"uniqueIndex;not null"`
	Name   string `json:"name"`
	Grade  string `json:"grade,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Teacher struct {
	ID      int64  `json:"id" gorm:"primaryKey"`
	UserID  int64  `json:"user_id" gorm:"uniqueIndex;not null"`
	Name    string `json:"name"`
	Subject string `json:"subject,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
