package plans

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"fileinasnap/pkg/domain"
)

// Catalog is the static set of subscription plans, in display order.
type Catalog struct {
	plans []domain.Plan
	byID  map[string]domain.Plan
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, _ := New([]domain.Plan{
		{
			ID: "free", Name: "Free", Price: 0, Interval: "month",
			MaxFiles: 5, StorageGB: 1, APIRateLimitPerMinute: 60,
			Features: []string{"Up to 5 files", "1 GB storage", "Folder organization"},
		},
		{
			ID: "pro", Name: "Pro", Price: 9.99, Interval: "month",
			MaxFiles: domain.Unlimited, StorageGB: 10, APIRateLimitPerMinute: 300,
			Features: []string{"Unlimited files", "10 GB storage", "Download links", "Priority support"},
		},
		{
			ID: "team", Name: "Team", Price: 19.99, Interval: "month",
			MaxFiles: domain.Unlimited, StorageGB: 50, APIRateLimitPerMinute: 600,
			Features: []string{"Unlimited files", "50 GB storage", "Shared organization profile", "Priority support"},
		},
		{
			ID: "enterprise", Name: "Enterprise", Price: 49.99, Interval: "month",
			MaxFiles: domain.Unlimited, StorageGB: domain.Unlimited, APIRateLimitPerMinute: 1200,
			Features: []string{"Unlimited files", "Unlimited storage", "Dedicated support", "Custom retention"},
		},
	})
	return c
}

// New validates plans and builds a catalog. The catalog must contain the default tier.
func New(plans []domain.Plan) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]domain.Plan, len(plans))}
	for _, p := range plans {
		p.ID = strings.ToLower(strings.TrimSpace(p.ID))
		if p.ID == "" {
			return nil, errors.New("plan id is required")
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate plan %q", p.ID)
		}
		if p.MaxFiles < domain.Unlimited || p.MaxFiles == 0 {
			return nil, fmt.Errorf("plan %q: maxFiles must be positive or -1", p.ID)
		}
		if p.StorageGB < domain.Unlimited {
			return nil, fmt.Errorf("plan %q: storageGb must be non-negative or -1", p.ID)
		}
		if p.Name == "" {
			p.Name = p.ID
		}
		if p.Interval == "" {
			p.Interval = "month"
		}
		c.plans = append(c.plans, p)
		c.byID[p.ID] = p
	}
	if _, ok := c.byID[domain.DefaultTier]; !ok {
		return nil, fmt.Errorf("plan catalog must define %q", domain.DefaultTier)
	}
	return c, nil
}

// Load reads a YAML catalog file of the form `plans: [...]`.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plans file: %w", err)
	}
	var file struct {
		Plans []domain.Plan `yaml:"plans"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse plans file: %w", err)
	}
	return New(file.Plans)
}

// List returns every plan in display order.
func (c *Catalog) List() []domain.Plan {
	out := make([]domain.Plan, len(c.plans))
	copy(out, c.plans)
	return out
}

// Get returns the plan with the given id.
func (c *Catalog) Get(id string) (domain.Plan, bool) {
	p, ok := c.byID[strings.ToLower(strings.TrimSpace(id))]
	return p, ok
}

// ForTier resolves a profile tier. Unknown tiers fall back to the default plan.
func (c *Catalog) ForTier(tier string) domain.Plan {
	if p, ok := c.Get(tier); ok {
		return p
	}
	return c.byID[domain.DefaultTier]
}
