package app

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"fileinasnap/pkg/domain"
)

// PlanUsage reports how much of the caller's plan is used.
type PlanUsage struct {
	Tier           string `json:"tier"`
	MaxFiles       int    `json:"maxFiles"`
	StorageGB      int    `json:"storageGb"`
	RemainingFiles int    `json:"remainingFiles"`
}

// Stats aggregates the caller's storage usage.
type Stats struct {
	Folders       int            `json:"folders"`
	Files         int            `json:"files"`
	TotalBytes    int64          `json:"totalBytes"`
	TotalMB       float64        `json:"totalMb"`
	TypeBreakdown map[string]int `json:"typeBreakdown"`
	Plan          PlanUsage      `json:"plan"`
}

// Stats returns usage counters for the caller.
func (a *App) Stats(ctx context.Context, user domain.User) (Stats, error) {
	var (
		folders int
		summary domain.FileSummary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := a.store.CountFolders(gctx, user.ID)
		if err != nil {
			return fmt.Errorf("count folders: %w", err)
		}
		folders = n
		return nil
	})
	g.Go(func() error {
		s, err := a.store.SummarizeFiles(gctx, user.ID)
		if err != nil {
			return fmt.Errorf("summarize files: %w", err)
		}
		summary = s
		return nil
	})
	if err := g.Wait(); err != nil {
		return Stats{}, err
	}

	plan := a.plans.ForTier(user.Tier)
	remaining := domain.Unlimited
	if plan.MaxFiles != domain.Unlimited {
		remaining = max(plan.MaxFiles-summary.Count, 0)
	}
	breakdown := summary.ByType
	if breakdown == nil {
		breakdown = map[string]int{}
	}
	return Stats{
		Folders:       folders,
		Files:         summary.Count,
		TotalBytes:    summary.TotalBytes,
		TotalMB:       math.Round(float64(summary.TotalBytes)/(1024*1024)*100) / 100,
		TypeBreakdown: breakdown,
		Plan: PlanUsage{
			Tier:           plan.ID,
			MaxFiles:       plan.MaxFiles,
			StorageGB:      plan.StorageGB,
			RemainingFiles: remaining,
		},
	}, nil
}
