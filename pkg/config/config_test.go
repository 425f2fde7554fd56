package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/clinicbilling/pkg/config"
)

type storeConfig struct {
	Driver string   `env:"CFG_TEST_DRIVER" envDefault:"mongo"`
	Hosts  []string `env:"CFG_TEST_HOSTS" envSeparator:","`
	Secret string   `env:"CFG_TEST_SECRET,required"`
}

func TestLoad(t *testing.T) {
	t.Setenv("CFG_TEST_HOSTS", "a,b")
	t.Setenv("CFG_TEST_SECRET", "s3cret")

	cfg, err := config.Load[storeConfig]()
	require.NoError(t, err)
	assert.Equal(t, "mongo", cfg.Driver)
	assert.Equal(t, []string{"a", "b"}, cfg.Hosts)
	assert.Equal(t, "s3cret", cfg.Secret)
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("CFG_TEST_SECRET", "")
	require.NoError(t, os.Unsetenv("CFG_TEST_SECRET"))

	_, err := config.Load[storeConfig]()
	assert.ErrorIs(t, err, config.ErrParsingConfig)
	assert.Panics(t, func() { config.MustLoad[storeConfig]() })
}

func TestLoadEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env.test")
	require.NoError(t, os.WriteFile(path, []byte("CFG_TEST_DRIVER=postgres\nCFG_TEST_SECRET=from-file\n"), 0o600))

	t.Setenv("CFG_TEST_DRIVER", "memory")
	t.Setenv("CFG_TEST_SECRET", "")
	require.NoError(t, os.Unsetenv("CFG_TEST_SECRET"))

	require.NoError(t, config.LoadEnv(path))
	cfg, err := config.Load[storeConfig]()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Driver, "existing variables win")
	assert.Equal(t, "from-file", cfg.Secret)

	assert.ErrorIs(t, config.LoadEnv(filepath.Join(t.TempDir(), "missing")), config.ErrEnvFile)
}

func TestApp_IsProduction(t *testing.T) {
	t.Parallel()

	assert.True(t, config.App{Environment: "production"}.IsProduction())
	assert.True(t, config.App{Environment: "staging"}.IsProduction())
	assert.False(t, config.App{Environment: "development"}.IsProduction())
}
