package matchconfig

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/sorrel/internal/repositories/matchingconfig"
	matcherrors "github.com/Ramsey-B/sorrel/pkg/errors"
	"github.com/Ramsey-B/sorrel/pkg/models"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "matching.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
thresholds:
  minimum: 0.55
  auto_reject: 0.65
  auto_confirm: 0.9
run:
  workers: 8
  pair_timeout: 5s
names:
  nicknames:
    margaret: [peggy, maggie]
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 0.55, cfg.Thresholds.Minimum)
	assert.Equal(t, 8, cfg.Run.Workers)
	assert.Equal(t, 5*time.Second, cfg.Run.PairTimeout)
	assert.Equal(t, 100, cfg.Run.BatchSize, "unset keys keep defaults")
	assert.Equal(t, 0.45, cfg.Weights[models.IdentifierSSN])
	assert.Equal(t, []string{"peggy", "maggie"}, cfg.Names.Nicknames["margaret"])
	assert.Equal(t, models.GlobalScope, cfg.Scope)
}

func TestLoadFile_Invalid(t *testing.T) {
	path := writeFile(t, `
thresholds:
  minimum: 0.9
`)
	_, err := LoadFile(path)
	require.Error(t, err)
	assert.True(t, matcherrors.IsConfiguration(err))

	_, err = LoadFile(writeFile(t, "thresholds: [oops"))
	assert.True(t, matcherrors.IsConfiguration(err))

	cfg, err := LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, models.DefaultMatchingConfiguration().Version(), cfg.Version())
}

func TestProvider_Effective(t *testing.T) {
	ctx := context.Background()
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	store := matchingconfig.NewMemoryRepository()
	provider := NewProvider(nil, store, logger)

	cfg, err := provider.Effective(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "acme", cfg.Scope)
	assert.Equal(t, 0.5, cfg.Thresholds.Minimum)

	global := models.DefaultMatchingConfiguration()
	global.Thresholds.Minimum = 0.52
	require.NoError(t, provider.Save(ctx, global))

	cfg, err = provider.Effective(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 0.52, cfg.Thresholds.Minimum, "global override applies to companies")

	company := models.DefaultMatchingConfiguration()
	company.Scope = "acme"
	company.Thresholds.Minimum = 0.58
	require.NoError(t, provider.Save(ctx, company))

	cfg, err = provider.Effective(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 0.58, cfg.Thresholds.Minimum)

	cfg, err = provider.Effective(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 0.52, cfg.Thresholds.Minimum)

	bad := models.DefaultMatchingConfiguration()
	bad.Weights[models.IdentifierSSN] = -1
	assert.True(t, matcherrors.IsConfiguration(provider.Save(ctx, bad)))
}
