package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence. The schema itself is owned by the
// goose migrations under migrations/.
type ProfileModel struct {
	ID               string         `gorm:"primaryKey;type:uuid"`
	UserID           string         `gorm:"uniqueIndex;not null"`
	Email            string         `gorm:"not null"`
	FullName         string         `gorm:"not null"`
	Organization     string         `gorm:"not null"`
	AvatarURL        string         `gorm:"not null"`
	SubscriptionTier string         `gorm:"not null"`
	Metadata         datatypes.JSON `gorm:"type:jsonb"`
	IsActive         bool           `gorm:"not null"`
	CreatedAt        time.Time      `gorm:"not null"`
	UpdatedAt        time.Time      `gorm:"not null"`
}

func (ProfileModel) TableName() string { return "user_profiles" }

type FolderModel struct {
	ID        string    `gorm:"primaryKey;type:uuid"`
	OwnerID   string    `gorm:"not null;index"`
	Name      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (FolderModel) TableName() string { return "folders" }

type FileModel struct {
	ID        string    `gorm:"primaryKey;type:uuid"`
	OwnerID   string    `gorm:"not null;index"`
	FolderID  string    `gorm:"type:uuid;not null;index"`
	ObjectKey string    `gorm:"uniqueIndex;not null"`
	Filename  string    `gorm:"not null"`
	Bytes     int64     `gorm:"not null"`
	Mime      string    `gorm:"not null"`
	Status    string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;index"`
}

func (FileModel) TableName() string { return "files" }

type folderRow struct {
	ID        string
	OwnerID   string
	Name      string
	CreatedAt time.Time
	FileCount int64
}

type typeCount struct {
	Kind  string
	Count int64
	Bytes int64
}
