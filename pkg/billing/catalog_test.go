package billing_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/clinicbilling/pkg/billing"
)

func TestCatalog_Defaults(t *testing.T) {
	t.Parallel()

	c := testCatalog(t)

	assert.Equal(t, billing.TierPro, c.TierForPrice(proTrialPrice))
	assert.Equal(t, billing.TierPro, c.TierForPrice(proInstantPrice))
	assert.Equal(t, billing.TierPlus, c.TierForPrice(plusTrialPrice))
	assert.Equal(t, billing.TierPlus, c.TierForPrice(plusPrice))
	assert.Equal(t, billing.TierUnknown, c.TierForPrice("pri_missing"))

	assert.Equal(t, "Clinic Pro", c.DisplayName(billing.TierPro))
	assert.Equal(t, "Clinic Plus", c.DisplayName(billing.TierPlus))
	assert.Equal(t, "Unknown Plan", c.DisplayName(billing.TierUnknown))

	free := c.Limits(billing.TierFree)
	assert.False(t, free.CanUploadFiles)
	assert.EqualValues(t, 5, free.MaxPatients)
	assert.Equal(t, free, c.Limits(billing.TierUnknown))

	pro := c.Limits(billing.TierPro)
	assert.True(t, pro.CanUploadFiles)
	assert.Equal(t, 50*billing.MiB, pro.MaxFileSizeBytes)
	assert.Equal(t, 500*billing.MiB, pro.MaxStorageBytes)
	assert.Equal(t, billing.Unlimited, pro.MaxPatients)
	assert.False(t, pro.HasFeature(billing.FeatureReports))

	plus := c.Limits(billing.TierPlus)
	assert.Equal(t, 200*billing.MiB, plus.MaxFileSizeBytes)
	assert.Equal(t, 5*billing.GiB, plus.MaxStorageBytes)
	assert.True(t, plus.HasFeature(billing.FeatureReports))
}

func TestCatalog_ChangePriceID(t *testing.T) {
	t.Parallel()

	c := testCatalog(t)

	id, err := c.ChangePriceID(billing.TierPlus)
	require.NoError(t, err)
	assert.Equal(t, plusPrice, id)

	_, err = c.ChangePriceID(billing.TierFree)
	assert.ErrorIs(t, err, billing.ErrInvalidTargetPlan)

	_, err = c.ChangePriceID("enterprise")
	assert.ErrorIs(t, err, billing.ErrInvalidTargetPlan)

	bare, err := billing.NewCatalog(billing.DefaultTiers()...)
	require.NoError(t, err)
	_, err = bare.ChangePriceID(billing.TierPro)
	assert.ErrorIs(t, err, billing.ErrNoPrice)
}

func TestNewCatalog_Validation(t *testing.T) {
	t.Parallel()

	t.Run("free tier required", func(t *testing.T) {
		_, err := billing.NewCatalog(billing.TierConfig{Tier: billing.TierPro})
		assert.ErrorIs(t, err, billing.ErrInvalidCatalog)
	})

	t.Run("price owned by two tiers", func(t *testing.T) {
		_, err := billing.NewCatalog(
			billing.TierConfig{Tier: billing.TierFree},
			billing.TierConfig{Tier: billing.TierPro, PriceIDs: []string{"pri_1"}},
			billing.TierConfig{Tier: billing.TierPlus, PriceIDs: []string{"pri_1"}},
		)
		assert.ErrorIs(t, err, billing.ErrInvalidCatalog)
	})

	t.Run("duplicate tier", func(t *testing.T) {
		_, err := billing.NewCatalog(billing.TierConfig{Tier: billing.TierFree}, billing.TierConfig{Tier: billing.TierFree})
		assert.ErrorIs(t, err, billing.ErrInvalidCatalog)
	})

	t.Run("unknown slug is reserved", func(t *testing.T) {
		_, err := billing.NewCatalog(billing.TierConfig{Tier: billing.TierFree}, billing.TierConfig{Tier: billing.TierUnknown})
		assert.ErrorIs(t, err, billing.ErrInvalidCatalog)
	})
}

func TestNewCatalogFromConfig_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tiers:
  - tier: free
    name: Starter
    limits:
      max_patients: 10
  - tier: clinic_pro
    name: Pro
    price_ids: [pri_file_pro]
    limits:
      can_upload_files: true
      max_file_size_bytes: 1048576
      max_storage_bytes: 10485760
      max_patients: -1
      features: [reports]
`), 0o600))

	c, err := billing.NewCatalogFromConfig(billing.CatalogConfig{File: path, ProInstantPrice: "pri_env_pro"})
	require.NoError(t, err)

	assert.Equal(t, "Starter", c.DisplayName(billing.TierFree))
	assert.EqualValues(t, 10, c.Limits(billing.TierFree).MaxPatients)
	assert.Equal(t, billing.TierPro, c.TierForPrice("pri_file_pro"))
	assert.Equal(t, billing.TierPro, c.TierForPrice("pri_env_pro"))
	assert.True(t, c.Limits(billing.TierPro).HasFeature(billing.FeatureReports))

	id, err := c.ChangePriceID(billing.TierPro)
	require.NoError(t, err)
	assert.Equal(t, "pri_env_pro", id)

	_, err = billing.NewCatalogFromConfig(billing.CatalogConfig{File: filepath.Join(t.TempDir(), "missing.yaml")})
	assert.ErrorIs(t, err, billing.ErrInvalidCatalog)
}
