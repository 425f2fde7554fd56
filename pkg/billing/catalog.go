package billing

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Unlimited marks a limit without a ceiling.
const Unlimited int64 = -1

const (
	KiB int64 = 1024
	MiB       = 1024 * KiB
	GiB       = 1024 * MiB
)

// Feature is a capability gated by tier.
type Feature string

const (
	FeatureReports Feature = "reports"
)

// Limits is the quota table of a single tier.
type Limits struct {
	CanUploadFiles   bool      `yaml:"can_upload_files" json:"can_upload_files"`
	MaxFileSizeBytes int64     `yaml:"max_file_size_bytes" json:"max_file_size_bytes"`
	MaxStorageBytes  int64     `yaml:"max_storage_bytes" json:"max_storage_bytes"`
	MaxPatients      int64     `yaml:"max_patients" json:"max_patients"`
	Features         []Feature `yaml:"features" json:"features"`
}

// HasFeature reports whether the tier grants f.
func (l Limits) HasFeature(f Feature) bool {
	return slices.Contains(l.Features, f)
}

// TierConfig describes one tier: its display name, the processor prices that
// map to it and its limits.
type TierConfig struct {
	Tier PlanTier `yaml:"tier"`
	Name string   `yaml:"name"`
	// PriceIDs lists every processor price that grants this tier (trial and instant variants).
	PriceIDs []string `yaml:"price_ids"`
	// ChangePriceID is the price used when a tenant switches to this tier.
	ChangePriceID string `yaml:"change_price_id"`
	Limits        Limits `yaml:"limits"`
}

// CatalogConfig points at the deployment's price table.
type CatalogConfig struct {
	File             string `env:"BILLING_CATALOG_FILE"`
	ProTrialPrice    string `env:"PADDLE_PRICE_ID_PRO_TRIAL"`
	ProInstantPrice  string `env:"PADDLE_PRICE_ID_PRO_INSTANT"`
	PlusTrialPrice   string `env:"PADDLE_PRICE_ID_PLUS_TRIAL"`
	PlusInstantPrice string `env:"PADDLE_PRICE_ID_PLUS_INSTANT"`
}

// DefaultTiers returns the built-in tier table without price ids.
func DefaultTiers() []TierConfig {
	return []TierConfig{
		{
			Tier: TierFree,
			Name: "Free",
			Limits: Limits{
				MaxPatients: 5,
			},
		},
		{
			Tier: TierPro,
			Name: "Clinic Pro",
			Limits: Limits{
				CanUploadFiles:   true,
				MaxFileSizeBytes: 50 * MiB,
				MaxStorageBytes:  500 * MiB,
				MaxPatients:      Unlimited,
			},
		},
		{
			Tier: TierPlus,
			Name: "Clinic Plus",
			Limits: Limits{
				CanUploadFiles:   true,
				MaxFileSizeBytes: 200 * MiB,
				MaxStorageBytes:  5 * GiB,
				MaxPatients:      Unlimited,
				Features:         []Feature{FeatureReports},
			},
		},
	}
}

// Catalog maps processor price ids to tiers and tiers to limits.
// It is immutable after construction and safe for concurrent use.
type Catalog struct {
	tiers   map[PlanTier]TierConfig
	byPrice map[string]PlanTier
}

// NewCatalog validates tiers and indexes their prices.
// A free tier is mandatory; a price may belong to one tier only.
func NewCatalog(tiers ...TierConfig) (*Catalog, error) {
	c := &Catalog{
		tiers:   make(map[PlanTier]TierConfig, len(tiers)),
		byPrice: make(map[string]PlanTier),
	}

	for _, t := range tiers {
		if t.Tier == "" || t.Tier == TierUnknown {
			return nil, errors.Join(ErrInvalidCatalog, fmt.Errorf("invalid tier slug %q", t.Tier))
		}
		if _, dup := c.tiers[t.Tier]; dup {
			return nil, errors.Join(ErrInvalidCatalog, fmt.Errorf("duplicate tier %s", t.Tier))
		}
		for _, id := range t.PriceIDs {
			if id == "" {
				continue
			}
			if owner, taken := c.byPrice[id]; taken {
				return nil, errors.Join(ErrInvalidCatalog, fmt.Errorf("price %s mapped to both %s and %s", id, owner, t.Tier))
			}
			c.byPrice[id] = t.Tier
		}
		if t.ChangePriceID != "" {
			if owner, taken := c.byPrice[t.ChangePriceID]; taken && owner != t.Tier {
				return nil, errors.Join(ErrInvalidCatalog, fmt.Errorf("change price %s belongs to %s", t.ChangePriceID, owner))
			}
			c.byPrice[t.ChangePriceID] = t.Tier
		}
		t.PriceIDs = slices.Clone(t.PriceIDs)
		t.Limits.Features = slices.Clone(t.Limits.Features)
		c.tiers[t.Tier] = t
	}

	if _, ok := c.tiers[TierFree]; !ok {
		return nil, errors.Join(ErrInvalidCatalog, errors.New("free tier is required"))
	}

	return c, nil
}

// NewCatalogFromConfig builds the catalog from the optional YAML file, falling
// back to DefaultTiers, then applies the price id environment overrides.
func NewCatalogFromConfig(cfg CatalogConfig) (*Catalog, error) {
	tiers := DefaultTiers()
	if cfg.File != "" {
		loaded, err := LoadTiersFile(cfg.File)
		if err != nil {
			return nil, err
		}
		tiers = loaded
	}

	for i := range tiers {
		switch tiers[i].Tier {
		case TierPro:
			tiers[i].PriceIDs = appendPrices(tiers[i].PriceIDs, cfg.ProTrialPrice, cfg.ProInstantPrice)
			if cfg.ProInstantPrice != "" {
				tiers[i].ChangePriceID = cfg.ProInstantPrice
			}
		case TierPlus:
			tiers[i].PriceIDs = appendPrices(tiers[i].PriceIDs, cfg.PlusTrialPrice, cfg.PlusInstantPrice)
			if cfg.PlusInstantPrice != "" {
				tiers[i].ChangePriceID = cfg.PlusInstantPrice
			}
		}
	}

	return NewCatalog(tiers...)
}

// LoadTiersFile reads a YAML document of the form `tiers: [...]`.
func LoadTiersFile(path string) ([]TierConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Join(ErrInvalidCatalog, err)
	}

	var doc struct {
		Tiers []TierConfig `yaml:"tiers"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Join(ErrInvalidCatalog, err)
	}
	if len(doc.Tiers) == 0 {
		return nil, errors.Join(ErrInvalidCatalog, fmt.Errorf("no tiers in %s", path))
	}
	return doc.Tiers, nil
}

// TierForPrice maps a processor price id to a tier.
// Unknown ids yield TierUnknown instead of an error.
func (c *Catalog) TierForPrice(priceID string) PlanTier {
	if t, ok := c.byPrice[priceID]; ok {
		return t
	}
	return TierUnknown
}

// DisplayName returns the human name of a tier.
func (c *Catalog) DisplayName(t PlanTier) string {
	if cfg, ok := c.tiers[t]; ok && cfg.Name != "" {
		return cfg.Name
	}
	return "Unknown Plan"
}

// Limits returns the quota table of t. Tiers missing from the catalog,
// TierUnknown included, get the free tier's limits.
func (c *Catalog) Limits(t PlanTier) Limits {
	if cfg, ok := c.tiers[t]; ok {
		return cfg.Limits
	}
	return c.tiers[TierFree].Limits
}

// ChangePriceID returns the price a tenant is moved to when switching to t.
func (c *Catalog) ChangePriceID(t PlanTier) (string, error) {
	cfg, ok := c.tiers[t]
	if !ok || t == TierFree {
		return "", ErrInvalidTargetPlan
	}
	if cfg.ChangePriceID != "" {
		return cfg.ChangePriceID, nil
	}
	if n := len(cfg.PriceIDs); n > 0 {
		return cfg.PriceIDs[n-1], nil
	}
	return "", fmt.Errorf("%w: %s", ErrNoPrice, t)
}

// Tiers returns the configured tiers keyed by slug.
func (c *Catalog) Tiers() map[PlanTier]TierConfig {
	return maps.Clone(c.tiers)
}

func appendPrices(ids []string, extra ...string) []string {
	for _, id := range extra {
		if id != "" && !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	return ids
}
