package app

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"fileinasnap/internal/util"
	"fileinasnap/pkg/domain"
	"fileinasnap/pkg/store"
)

const maxFolderNameLen = 255

// ListFolders returns the caller's folders with their file counts.
func (a *App) ListFolders(ctx context.Context, user domain.User) ([]domain.Folder, error) {
	return a.store.ListFolders(ctx, user.ID)
}

// GetFolder returns a folder owned by the caller. Folders owned by anyone
// else are reported as not found.
func (a *App) GetFolder(ctx context.Context, user domain.User, id string) (domain.Folder, error) {
	id = strings.TrimSpace(id)
	if _, err := uuid.Parse(id); err != nil {
		return domain.Folder{}, notFound("folder", id)
	}
	folder, ok, err := a.store.GetFolder(ctx, user.ID, id)
	if err != nil {
		return domain.Folder{}, err
	}
	if !ok {
		return domain.Folder{}, notFound("folder", id)
	}
	return folder, nil
}

// CreateFolder creates a folder for the caller.
func (a *App) CreateFolder(ctx context.Context, user domain.User, name string) (domain.Folder, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Folder{}, invalid("folder name required")
	}
	if utf8.RuneCountInString(name) > maxFolderNameLen {
		return domain.Folder{}, invalid("folder name longer than %d characters", maxFolderNameLen)
	}
	if strings.IndexFunc(name, unicode.IsControl) >= 0 {
		return domain.Folder{}, invalid("folder name contains control characters")
	}
	folder := domain.Folder{
		ID:        uuid.NewString(),
		OwnerID:   user.ID,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.CreateFolder(ctx, folder); err != nil {
		return domain.Folder{}, fmt.Errorf("create folder: %w", err)
	}
	return folder, nil
}

// DeleteFolder removes a folder and every file in it. Objects are removed
// best-effort; metadata is always removed.
func (a *App) DeleteFolder(ctx context.Context, user domain.User, id string) error {
	folder, err := a.GetFolder(ctx, user, id)
	if err != nil {
		return err
	}
	for {
		files, err := a.store.ListFiles(ctx, user.ID, domain.FileFilter{FolderID: folder.ID, Limit: store.MaxFileListLimit})
		if err != nil {
			return fmt.Errorf("list folder files: %w", err)
		}
		if len(files) == 0 {
			break
		}
		for _, f := range files {
			if err := a.removeFile(ctx, user, f); err != nil {
				return err
			}
		}
	}
	deleted, err := a.store.DeleteFolder(ctx, user.ID, folder.ID)
	if err != nil {
		return fmt.Errorf("delete folder: %w", err)
	}
	if !deleted {
		return notFound("folder", folder.ID)
	}
	util.LoggerFromContext(ctx).Info("folder deleted", "folder_id", folder.ID)
	return nil
}
