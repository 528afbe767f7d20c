package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fileinasnap/pkg/domain"
	"fileinasnap/pkg/plans"
	"fileinasnap/pkg/storage"
	"fileinasnap/pkg/store"
)

// Permissions checked when permission enforcement is on.
const (
	PermReadFiles          = "read:files"
	PermWriteFiles         = "write:files"
	PermManageSubscription = "manage:subscription"
)

const defaultPresignExpiry = 15 * time.Minute

// Config holds runtime dependencies for the core application.
type Config struct {
	Store            store.Store
	Objects          storage.ObjectStore
	Plans            *plans.Catalog
	PresignExpiry    time.Duration
	MaxUploadBytes   int64
	AllowedMimeTypes []string
}

// App is the core application service wiring together metadata, object
// storage, and plan limits. All folder and file operations are owner-scoped.
type App struct {
	store          store.Store
	objects        storage.ObjectStore
	plans          *plans.Catalog
	presignExpiry  time.Duration
	maxUploadBytes int64
	allowedMime    []string
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("metadata store required")
	}
	if cfg.Objects == nil {
		return nil, errors.New("object store required")
	}
	catalog := cfg.Plans
	if catalog == nil {
		catalog = plans.Default()
	}
	expiry := cfg.PresignExpiry
	if expiry <= 0 {
		expiry = defaultPresignExpiry
	}
	allowed := make([]string, 0, len(cfg.AllowedMimeTypes))
	for _, m := range cfg.AllowedMimeTypes {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			allowed = append(allowed, m)
		}
	}
	return &App{
		store:          cfg.Store,
		objects:        cfg.Objects,
		plans:          catalog,
		presignExpiry:  expiry,
		maxUploadBytes: cfg.MaxUploadBytes,
		allowedMime:    allowed,
	}, nil
}

// Plans returns the public plan catalog.
func (a *App) Plans() []domain.Plan {
	return a.plans.List()
}

// PlanFor returns the plan backing the user's tier.
func (a *App) PlanFor(user domain.User) domain.Plan {
	return a.plans.ForTier(user.Tier)
}

// HealthReport describes dependency readiness.
type HealthReport struct {
	Database string `json:"database"`
	Storage  string `json:"storage"`
}

// Ready checks the metadata store and the bucket.
func (a *App) Ready(ctx context.Context) (HealthReport, error) {
	report := HealthReport{Database: "ok", Storage: "ok"}
	var errs []error
	if err := a.store.Ping(ctx); err != nil {
		report.Database = "error"
		errs = append(errs, fmt.Errorf("database: %w", err))
	}
	exists, err := a.objects.BucketExists(ctx)
	switch {
	case err != nil:
		report.Storage = "error"
		errs = append(errs, fmt.Errorf("storage: %w", err))
	case !exists:
		report.Storage = "missing bucket"
		errs = append(errs, errors.New("storage: bucket missing"))
	}
	if len(errs) > 0 {
		return report, fmt.Errorf("%w: %w", domain.ErrUnavailable, errors.Join(errs...))
	}
	return report, nil
}

func notFound(kind, id string) error {
	return fmt.Errorf("%w: %s %s", domain.ErrNotFound, kind, id)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrValidation, fmt.Sprintf(format, args...))
}
