package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"fileinasnap/internal/util"
	"fileinasnap/pkg/domain"
	"fileinasnap/pkg/store"
)

// ResolveUser turns a verified identity into the request user, creating the
// profile with the default tier on first sight. Concurrent first requests for
// the same subject converge on a single profile.
func (a *App) ResolveUser(ctx context.Context, id domain.Identity) (domain.User, error) {
	subject := strings.TrimSpace(id.Subject)
	if subject == "" {
		return domain.User{}, fmt.Errorf("%w: token subject missing", domain.ErrUnauthenticated)
	}
	profile, err := a.ensureProfile(ctx, id)
	if err != nil {
		return domain.User{}, err
	}
	user := domain.User{
		ID:          subject,
		Email:       firstNonEmpty(id.Email, profile.Email),
		Name:        firstNonEmpty(profile.FullName, id.Name),
		Tier:        profile.SubscriptionTier,
		Permissions: id.Permissions,
		Scopes:      id.Scopes,
	}
	if user.Tier == "" {
		user.Tier = domain.DefaultTier
	}
	return user, nil
}

func (a *App) ensureProfile(ctx context.Context, id domain.Identity) (domain.Profile, error) {
	profile, ok, err := a.store.GetProfile(ctx, id.Subject)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("load profile: %w", err)
	}
	if ok {
		return profile, nil
	}

	now := time.Now().UTC()
	profile = domain.Profile{
		ID:               uuid.NewString(),
		UserID:           id.Subject,
		Email:            id.Email,
		FullName:         id.Name,
		SubscriptionTier: domain.DefaultTier,
		Metadata:         map[string]any{},
		IsActive:         true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	err = a.store.CreateProfile(ctx, profile)
	if err == nil {
		util.LoggerFromContext(ctx).Info("profile created", "user_id", id.Subject, "tier", profile.SubscriptionTier)
		return profile, nil
	}
	if !errors.Is(err, store.ErrDuplicate) {
		return domain.Profile{}, fmt.Errorf("create profile: %w", err)
	}
	// Lost the insert race; the winner's row is authoritative.
	profile, ok, err = a.store.GetProfile(ctx, id.Subject)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("reload profile: %w", err)
	}
	if !ok {
		return domain.Profile{}, fmt.Errorf("profile for %s vanished after duplicate insert", id.Subject)
	}
	return profile, nil
}

// GetProfile returns the caller's profile.
func (a *App) GetProfile(ctx context.Context, user domain.User) (domain.Profile, error) {
	profile, ok, err := a.store.GetProfile(ctx, user.ID)
	if err != nil {
		return domain.Profile{}, err
	}
	if !ok {
		return domain.Profile{}, notFound("profile", user.ID)
	}
	return profile, nil
}

// UpdateProfile applies caller-editable profile fields. Changing the
// subscription tier needs the manage:subscription permission.
func (a *App) UpdateProfile(ctx context.Context, user domain.User, update domain.ProfileUpdate) (domain.Profile, error) {
	if update.FullName != nil {
		v := strings.TrimSpace(*update.FullName)
		update.FullName = &v
	}
	if update.Organization != nil {
		v := strings.TrimSpace(*update.Organization)
		update.Organization = &v
	}
	if update.SubscriptionTier != nil {
		if !user.HasPermission(PermManageSubscription) {
			return domain.Profile{}, fmt.Errorf("%w: changing subscription tier requires %s", domain.ErrForbidden, PermManageSubscription)
		}
		plan, ok := a.plans.Get(*update.SubscriptionTier)
		if !ok {
			return domain.Profile{}, invalid("unknown subscription tier %q", *update.SubscriptionTier)
		}
		update.SubscriptionTier = &plan.ID
	}
	profile, ok, err := a.store.UpdateProfile(ctx, user.ID, update)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("update profile: %w", err)
	}
	if !ok {
		return domain.Profile{}, notFound("profile", user.ID)
	}
	return profile, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
