package app

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"fileinasnap/internal/util"
	"fileinasnap/pkg/domain"
	"fileinasnap/pkg/storage"
	"fileinasnap/pkg/store"
)

const (
	maxFilenameLen     = 255
	defaultContentType = "application/octet-stream"
)

// UploadTicket is a presigned direct-upload grant.
type UploadTicket struct {
	URL       string    `json:"url"`
	Method    string    `json:"method"`
	ObjectKey string    `json:"objectKey"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// CompleteUpload describes an upload the client finished against a ticket.
type CompleteUpload struct {
	FolderID  string
	ObjectKey string
	Filename  string
	Bytes     int64
	Mime      string
}

// Download is a presigned download grant.
type Download struct {
	URL       string    `json:"url"`
	Filename  string    `json:"filename"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// PresignUpload issues an upload URL for a new object inside one of the
// caller's folders.
func (a *App) PresignUpload(ctx context.Context, user domain.User, folderID, filename string) (UploadTicket, error) {
	folder, err := a.GetFolder(ctx, user, folderID)
	if err != nil {
		return UploadTicket{}, err
	}
	name, err := cleanFilename(filename)
	if err != nil {
		return UploadTicket{}, err
	}
	if guessed := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); guessed != "" && !a.mimeAllowed(guessed) {
		return UploadTicket{}, invalid("file type %s is not allowed", guessed)
	}
	if err := a.checkQuota(ctx, user); err != nil {
		return UploadTicket{}, err
	}

	key := buildObjectKey(user.ID, folder.ID, name)
	url, err := a.objects.PresignPut(ctx, key, a.presignExpiry)
	if err != nil {
		return UploadTicket{}, fmt.Errorf("%w: presign upload: %v", domain.ErrUnavailable, err)
	}
	return UploadTicket{
		URL:       url,
		Method:    "PUT",
		ObjectKey: key,
		ExpiresAt: time.Now().UTC().Add(a.presignExpiry),
	}, nil
}

// CompleteUpload records an uploaded object as a file after re-checking
// folder ownership, key namespace, size, type, and quota.
func (a *App) CompleteUpload(ctx context.Context, user domain.User, req CompleteUpload) (domain.File, error) {
	folder, err := a.GetFolder(ctx, user, req.FolderID)
	if err != nil {
		return domain.File{}, err
	}
	key := strings.TrimSpace(req.ObjectKey)
	if !keyInFolder(key, user.ID, folder.ID) {
		return domain.File{}, invalid("object key is outside the folder namespace")
	}
	name, err := cleanFilename(req.Filename)
	if err != nil {
		return domain.File{}, err
	}
	if req.Bytes < 0 {
		return domain.File{}, invalid("bytes must be >= 0")
	}

	info, err := a.objects.Stat(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return domain.File{}, invalid("uploaded object not found")
		}
		return domain.File{}, fmt.Errorf("%w: stat object: %v", domain.ErrUnavailable, err)
	}
	size := info.Size
	if a.maxUploadBytes > 0 && size > a.maxUploadBytes {
		a.discardObject(ctx, key, "too large")
		return domain.File{}, invalid("file exceeds %d bytes", a.maxUploadBytes)
	}
	candidates := contentTypeCandidates(info.ContentType, name, req.Mime)
	for _, candidate := range candidates {
		if !a.mimeAllowed(candidate) {
			a.discardObject(ctx, key, "type not allowed")
			return domain.File{}, invalid("file type %s is not allowed", candidate)
		}
	}
	contentType := defaultContentType
	if len(candidates) > 0 {
		contentType = candidates[0]
	}
	if err := a.checkQuota(ctx, user); err != nil {
		a.discardObject(ctx, key, "quota exceeded")
		return domain.File{}, err
	}

	file := domain.File{
		ID:        uuid.NewString(),
		OwnerID:   user.ID,
		FolderID:  folder.ID,
		ObjectKey: key,
		Filename:  name,
		Bytes:     size,
		Mime:      contentType,
		Status:    domain.FileStatusUploaded,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.CreateFile(ctx, file); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return domain.File{}, invalid("upload already completed")
		}
		return domain.File{}, fmt.Errorf("save file: %w", err)
	}
	util.LoggerFromContext(ctx).Info("upload completed", "file_id", file.ID, "folder_id", folder.ID, "bytes", size)
	return file, nil
}

// ListFiles returns the caller's files, newest first, optionally limited to
// one of the caller's folders.
func (a *App) ListFiles(ctx context.Context, user domain.User, folderID string, limit int) ([]domain.File, error) {
	filter := domain.FileFilter{Limit: store.NormalizeLimit(limit)}
	if strings.TrimSpace(folderID) != "" {
		folder, err := a.GetFolder(ctx, user, folderID)
		if err != nil {
			return nil, err
		}
		filter.FolderID = folder.ID
	}
	return a.store.ListFiles(ctx, user.ID, filter)
}

// GetFile returns a file owned by the caller.
func (a *App) GetFile(ctx context.Context, user domain.User, id string) (domain.File, error) {
	id = strings.TrimSpace(id)
	if _, err := uuid.Parse(id); err != nil {
		return domain.File{}, notFound("file", id)
	}
	file, ok, err := a.store.GetFile(ctx, user.ID, id)
	if err != nil {
		return domain.File{}, err
	}
	if !ok {
		return domain.File{}, notFound("file", id)
	}
	return file, nil
}

// DownloadURL issues a presigned GET for one of the caller's files.
func (a *App) DownloadURL(ctx context.Context, user domain.User, id string) (Download, error) {
	file, err := a.GetFile(ctx, user, id)
	if err != nil {
		return Download{}, err
	}
	url, err := a.objects.PresignGet(ctx, file.ObjectKey, a.presignExpiry)
	if err != nil {
		return Download{}, fmt.Errorf("%w: presign download: %v", domain.ErrUnavailable, err)
	}
	return Download{URL: url, Filename: file.Filename, ExpiresAt: time.Now().UTC().Add(a.presignExpiry)}, nil
}

// DeleteFile removes the object best-effort, then always removes the row.
func (a *App) DeleteFile(ctx context.Context, user domain.User, id string) error {
	file, err := a.GetFile(ctx, user, id)
	if err != nil {
		return err
	}
	return a.removeFile(ctx, user, file)
}

func (a *App) removeFile(ctx context.Context, user domain.User, file domain.File) error {
	a.discardObject(ctx, file.ObjectKey, "file deleted")
	if _, err := a.store.DeleteFile(ctx, user.ID, file.ID); err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

func (a *App) discardObject(ctx context.Context, key, reason string) {
	if err := a.objects.Delete(ctx, key); err != nil {
		util.LoggerFromContext(ctx).Warn("object delete failed", "object_key", key, "reason", reason, "err", err)
	}
}

func (a *App) checkQuota(ctx context.Context, user domain.User) error {
	plan := a.plans.ForTier(user.Tier)
	if plan.MaxFiles == domain.Unlimited {
		return nil
	}
	count, err := a.store.CountFiles(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("count files: %w", err)
	}
	if !plan.AllowsAnotherFile(count) {
		return fmt.Errorf("%w: plan %s allows %d files", domain.ErrQuotaExceeded, plan.ID, plan.MaxFiles)
	}
	return nil
}

func (a *App) mimeAllowed(contentType string) bool {
	if len(a.allowedMime) == 0 {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = contentType
	}
	mediaType = strings.ToLower(mediaType)
	for _, allowed := range a.allowedMime {
		if allowed == mediaType {
			return true
		}
		if prefix, ok := strings.CutSuffix(allowed, "/*"); ok && strings.HasPrefix(mediaType, prefix+"/") {
			return true
		}
	}
	return false
}

// contentTypeCandidates returns the non-empty types known for an upload,
// ordered stored, extension, declared. Every one must pass the allowlist.
func contentTypeCandidates(stored, filename, declared string) []string {
	var out []string
	for _, candidate := range []string{stored, mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))), declared} {
		if candidate = strings.TrimSpace(candidate); candidate != "" {
			out = append(out, candidate)
		}
	}
	return out
}

func cleanFilename(raw string) (string, error) {
	name := strings.TrimSpace(filepath.Base(strings.ReplaceAll(strings.TrimSpace(raw), "\\", "/")))
	if name == "" || name == "." || name == "/" || name == ".." {
		return "", invalid("filename required")
	}
	if utf8.RuneCountInString(name) > maxFilenameLen {
		return "", invalid("filename longer than %d characters", maxFilenameLen)
	}
	return name, nil
}

func keyPrefix(ownerID, folderID string) string {
	owner := sanitizeFilename(ownerID)
	if owner == "" {
		owner = "user"
	}
	return owner + "/" + folderID + "/"
}

// buildObjectKey namespaces objects as {owner}/{folder}/{id}-{filename}.
func buildObjectKey(ownerID, folderID, filename string) string {
	name := sanitizeFilename(filename)
	if name == "" {
		name = "file"
	}
	return keyPrefix(ownerID, folderID) + util.ShortID() + "-" + name
}

func keyInFolder(key, ownerID, folderID string) bool {
	prefix := keyPrefix(ownerID, folderID)
	if !strings.HasPrefix(key, prefix) || len(key) == len(prefix) {
		return false
	}
	return path.Clean(key) == key && !strings.Contains(key[len(prefix):], "/")
}

func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(name))
	lastUnderscore := false
	for _, r := range name {
		if r <= 0x7f {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '-' || r == '_' {
				b.WriteRune(r)
				lastUnderscore = false
				continue
			}
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.Trim(b.String(), "_.")
}
