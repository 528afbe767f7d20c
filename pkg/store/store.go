package store

import (
	"context"
	"errors"

	"fileinasnap/pkg/domain"
)

// ErrDuplicate is returned when an insert violates a uniqueness constraint.
var ErrDuplicate = errors.New("duplicate record")

const (
	DefaultFileListLimit = 50
	MaxFileListLimit     = 200
)

// Store defines persistence operations for profiles, folders, and files.
// Every folder and file operation is scoped by owner.
type Store interface {
	// profiles
	GetProfile(ctx context.Context, userID string) (domain.Profile, bool, error)
	CreateProfile(ctx context.Context, p domain.Profile) error
	UpdateProfile(ctx context.Context, userID string, update domain.ProfileUpdate) (domain.Profile, bool, error)

	// folders
	CreateFolder(ctx context.Context, f domain.Folder) error
	GetFolder(ctx context.Context, ownerID, id string) (domain.Folder, bool, error)
	ListFolders(ctx context.Context, ownerID string) ([]domain.Folder, error)
	CountFolders(ctx context.Context, ownerID string) (int, error)
	DeleteFolder(ctx context.Context, ownerID, id string) (bool, error)

	// files
	CreateFile(ctx context.Context, f domain.File) error
	GetFile(ctx context.Context, ownerID, id string) (domain.File, bool, error)
	ListFiles(ctx context.Context, ownerID string, filter domain.FileFilter) ([]domain.File, error)
	CountFiles(ctx context.Context, ownerID string) (int, error)
	SummarizeFiles(ctx context.Context, ownerID string) (domain.FileSummary, error)
	DeleteFile(ctx context.Context, ownerID, id string) (bool, error)

	Ping(ctx context.Context) error
}

// NormalizeLimit clamps a listing limit into [1, MaxFileListLimit].
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultFileListLimit
	}
	if limit > MaxFileListLimit {
		return MaxFileListLimit
	}
	return limit
}

// MimeMajorType returns the part of a MIME type before the slash.
func MimeMajorType(mime string) string {
	for i := 0; i < len(mime); i++ {
		if mime[i] == '/' {
			if i == 0 {
				return "unknown"
			}
			return mime[:i]
		}
	}
	if mime == "" {
		return "unknown"
	}
	return mime
}
