package domain

import "time"

// RefreshRecord is the server-side half of a refresh credential.
//
// Security notes:
// - We never store the raw credential in DB, only its SHA-256 hash (TokenHash).
// - On refresh we rotate: the current record is consumed exactly once and
//   linked to its successor via RotatedTo.
// - All records descended from one login share a FamilyID. Presenting an
//   already-consumed credential is treated as theft and revokes the family.
type RefreshRecord struct {
	ID int64 `json:"id" gorm:"primaryKey"`

	UserID int64 `json:"user_id" gorm:"index;not null"`

	TokenHash string `json:"-" gorm:"size:64;uniqueIndex;not null"`
	JTI       string `json:"-" gorm:"size:36;not null"`
	FamilyID  string `json:"family_id" gorm:"size:36;index;not null"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at" gorm:"index;not null"`

	RotatedTo *int64     `json:"rotated_to" gorm:"index"`
	UsedAt    *time.Time `json:"used_at"`

	RevokedAt     *time.Time `json:"revoked_at" gorm:"index"`
	RevokedReason string     `json:"revoked_reason,omitempty" gorm:"size:64"`
}

func (RefreshRecord) TableName() string { return "refresh_records" }

func (r *RefreshRecord) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

func (r *RefreshRecord) IsRevoked() bool {
	return r.RevokedAt != nil
}

func (r *RefreshRecord) IsConsumed() bool {
	return r.UsedAt != nil
}
