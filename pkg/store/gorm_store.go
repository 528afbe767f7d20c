package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/pressly/goose/v3"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"fileinasnap/pkg/domain"
	"fileinasnap/pkg/store/migrations"
)

const migrateLockID int64 = 51873301

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and applies pending migrations.
func NewGormStore(ctx context.Context, dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormLog,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(ctx, db, migrate); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func migrate(ctx context.Context, sqlDB *sql.DB) error {
	provider, err := goose.NewProvider(goose.DialectPostgres, sqlDB, migrations.FS)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	for _, res := range results {
		slog.Info("migration applied", "source", res.Source.Path, "duration_ms", res.Duration.Milliseconds())
	}
	return nil
}

func withMigrationLock(ctx context.Context, db *gorm.DB, fn func(context.Context, *sql.DB) error) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(context.WithoutCancel(ctx), conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(ctx, sqlDB)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// Ping checks database connectivity.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GetProfile returns the profile owned by userID.
func (s *GormStore) GetProfile(ctx context.Context, userID string) (domain.Profile, bool, error) {
	var model ProfileModel
	if err := s.db.WithContext(ctx).First(&model, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Profile{}, false, nil
		}
		return domain.Profile{}, false, err
	}
	return profileFromModel(model), true, nil
}

// CreateProfile inserts a profile. A second profile for the same user yields ErrDuplicate.
func (s *GormStore) CreateProfile(ctx context.Context, p domain.Profile) error {
	model, err := profileToModel(p)
	if err != nil {
		return err
	}
	return translate(s.db.WithContext(ctx).Create(&model).Error)
}

// UpdateProfile applies the non-nil fields of update.
func (s *GormStore) UpdateProfile(ctx context.Context, userID string, update domain.ProfileUpdate) (domain.Profile, bool, error) {
	changes := map[string]any{"updated_at": time.Now().UTC()}
	if update.FullName != nil {
		changes["full_name"] = *update.FullName
	}
	if update.Organization != nil {
		changes["organization"] = *update.Organization
	}
	if update.AvatarURL != nil {
		changes["avatar_url"] = *update.AvatarURL
	}
	if update.SubscriptionTier != nil {
		changes["subscription_tier"] = *update.SubscriptionTier
	}
	if update.Metadata != nil {
		raw, err := json.Marshal(update.Metadata)
		if err != nil {
			return domain.Profile{}, false, fmt.Errorf("encode metadata: %w", err)
		}
		changes["metadata"] = datatypes.JSON(raw)
	}
	res := s.db.WithContext(ctx).Model(&ProfileModel{}).Where("user_id = ?", userID).Updates(changes)
	if res.Error != nil {
		return domain.Profile{}, false, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.Profile{}, false, nil
	}
	return s.GetProfile(ctx, userID)
}

// CreateFolder inserts a folder.
func (s *GormStore) CreateFolder(ctx context.Context, f domain.Folder) error {
	model := FolderModel{ID: f.ID, OwnerID: f.OwnerID, Name: f.Name, CreatedAt: f.CreatedAt}
	return translate(s.db.WithContext(ctx).Create(&model).Error)
}

// GetFolder returns a folder only when it belongs to ownerID.
func (s *GormStore) GetFolder(ctx context.Context, ownerID, id string) (domain.Folder, bool, error) {
	rows, err := s.folderRows(ctx, ownerID, id)
	if err != nil {
		return domain.Folder{}, false, err
	}
	if len(rows) == 0 {
		return domain.Folder{}, false, nil
	}
	return folderFromRow(rows[0]), true, nil
}

// ListFolders returns the owner's folders with per-folder file counts.
func (s *GormStore) ListFolders(ctx context.Context, ownerID string) ([]domain.Folder, error) {
	rows, err := s.folderRows(ctx, ownerID, "")
	if err != nil {
		return nil, err
	}
	res := make([]domain.Folder, 0, len(rows))
	for _, row := range rows {
		res = append(res, folderFromRow(row))
	}
	return res, nil
}

func (s *GormStore) folderRows(ctx context.Context, ownerID, id string) ([]folderRow, error) {
	tx := s.db.WithContext(ctx).
		Table("folders").
		Select("folders.id, folders.owner_id, folders.name, folders.created_at, COUNT(files.id) AS file_count").
		Joins("LEFT JOIN files ON files.folder_id = folders.id").
		Where("folders.owner_id = ?", ownerID)
	if id != "" {
		tx = tx.Where("folders.id = ?", id)
	}
	var rows []folderRow
	if err := tx.Group("folders.id").Order("folders.created_at ASC").Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// CountFolders returns the number of folders owned by ownerID.
func (s *GormStore) CountFolders(ctx context.Context, ownerID string) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&FolderModel{}).Where("owner_id = ?", ownerID).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// DeleteFolder removes the folder and any remaining file rows in it.
func (s *GormStore) DeleteFolder(ctx context.Context, ownerID, id string) (bool, error) {
	var deleted bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&FileModel{}, "owner_id = ? AND folder_id = ?", ownerID, id).Error; err != nil {
			return err
		}
		res := tx.Delete(&FolderModel{}, "owner_id = ? AND id = ?", ownerID, id)
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected > 0
		return nil
	})
	return deleted, err
}

// CreateFile inserts a file row. A reused object key yields ErrDuplicate.
func (s *GormStore) CreateFile(ctx context.Context, f domain.File) error {
	model := fileToModel(f)
	return translate(s.db.WithContext(ctx).Create(&model).Error)
}

// GetFile returns a file only when it belongs to ownerID.
func (s *GormStore) GetFile(ctx context.Context, ownerID, id string) (domain.File, bool, error) {
	var model FileModel
	if err := s.db.WithContext(ctx).First(&model, "owner_id = ? AND id = ?", ownerID, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.File{}, false, nil
		}
		return domain.File{}, false, err
	}
	return fileFromModel(model), true, nil
}

// ListFiles returns the owner's files, newest first.
func (s *GormStore) ListFiles(ctx context.Context, ownerID string, filter domain.FileFilter) ([]domain.File, error) {
	tx := s.db.WithContext(ctx).Where("owner_id = ?", ownerID)
	if filter.FolderID != "" {
		tx = tx.Where("folder_id = ?", filter.FolderID)
	}
	var models []FileModel
	if err := tx.Order("created_at DESC").Limit(NormalizeLimit(filter.Limit)).Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.File, 0, len(models))
	for _, m := range models {
		res = append(res, fileFromModel(m))
	}
	return res, nil
}

// CountFiles returns the number of files owned by ownerID.
func (s *GormStore) CountFiles(ctx context.Context, ownerID string) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&FileModel{}).Where("owner_id = ?", ownerID).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// SummarizeFiles aggregates count, bytes, and MIME major types.
func (s *GormStore) SummarizeFiles(ctx context.Context, ownerID string) (domain.FileSummary, error) {
	var rows []typeCount
	err := s.db.WithContext(ctx).
		Model(&FileModel{}).
		Select("COALESCE(NULLIF(split_part(mime, '/', 1), ''), 'unknown') AS kind, COUNT(*) AS count, COALESCE(SUM(bytes), 0) AS bytes").
		Where("owner_id = ?", ownerID).
		Group("kind").
		Scan(&rows).Error
	if err != nil {
		return domain.FileSummary{}, err
	}
	summary := domain.FileSummary{ByType: make(map[string]int, len(rows))}
	for _, row := range rows {
		summary.Count += int(row.Count)
		summary.TotalBytes += row.Bytes
		summary.ByType[row.Kind] = int(row.Count)
	}
	return summary, nil
}

// DeleteFile removes a file row owned by ownerID.
func (s *GormStore) DeleteFile(ctx context.Context, ownerID, id string) (bool, error) {
	res := s.db.WithContext(ctx).Delete(&FileModel{}, "owner_id = ? AND id = ?", ownerID, id)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

func profileToModel(p domain.Profile) (ProfileModel, error) {
	meta := p.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return ProfileModel{}, fmt.Errorf("encode metadata: %w", err)
	}
	return ProfileModel{
		ID:               p.ID,
		UserID:           p.UserID,
		Email:            p.Email,
		FullName:         p.FullName,
		Organization:     p.Organization,
		AvatarURL:        p.AvatarURL,
		SubscriptionTier: p.SubscriptionTier,
		Metadata:         datatypes.JSON(raw),
		IsActive:         p.IsActive,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}, nil
}

func profileFromModel(m ProfileModel) domain.Profile {
	meta := map[string]any{}
	if len(m.Metadata) > 0 {
		if err := json.Unmarshal(m.Metadata, &meta); err != nil {
			slog.Warn("decode profile metadata", "user_id", m.UserID, "err", err)
		}
	}
	return domain.Profile{
		ID:               m.ID,
		UserID:           m.UserID,
		Email:            m.Email,
		FullName:         m.FullName,
		Organization:     m.Organization,
		AvatarURL:        m.AvatarURL,
		SubscriptionTier: m.SubscriptionTier,
		Metadata:         meta,
		IsActive:         m.IsActive,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func folderFromRow(r folderRow) domain.Folder {
	return domain.Folder{
		ID:        r.ID,
		OwnerID:   r.OwnerID,
		Name:      r.Name,
		FileCount: int(r.FileCount),
		CreatedAt: r.CreatedAt,
	}
}

func fileToModel(f domain.File) FileModel {
	return FileModel{
		ID:        f.ID,
		OwnerID:   f.OwnerID,
		FolderID:  f.FolderID,
		ObjectKey: f.ObjectKey,
		Filename:  f.Filename,
		Bytes:     f.Bytes,
		Mime:      f.Mime,
		Status:    string(f.Status),
		CreatedAt: f.CreatedAt,
	}
}

func fileFromModel(m FileModel) domain.File {
	return domain.File{
		ID:        m.ID,
		OwnerID:   m.OwnerID,
		FolderID:  m.FolderID,
		ObjectKey: m.ObjectKey,
		Filename:  m.Filename,
		Bytes:     m.Bytes,
		Mime:      m.Mime,
		Status:    domain.FileStatus(m.Status),
		CreatedAt: m.CreatedAt,
	}
}
