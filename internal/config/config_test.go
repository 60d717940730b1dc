package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "cardbox.db", cfg.DB)
	assert.Equal(t, "localhost:8484", cfg.Listen)
	assert.Equal(t, 20, cfg.Study.NewCardsPerDay)
	assert.Equal(t, 100, cfg.Study.MaxReviewsPerDay)
	assert.True(t, cfg.Study.MixNewWithReviews)
	assert.Equal(t, 2.5, cfg.SM2.StartingEase)
	assert.Equal(t, 1.3, cfg.SM2.EasyBonus)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	require.NoError(t, err)
	assert.Equal(t, "cardbox.db", cfg.DB)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
db: /tmp/decks.db
study:
  new_cards_per_day: 5
  review_order: random
sm2:
  starting_ease: 2.2
`)

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/decks.db", cfg.DB)
	assert.Equal(t, 5, cfg.Study.NewCardsPerDay)
	assert.Equal(t, "random", cfg.Study.ReviewOrder)
	assert.Equal(t, 2.2, cfg.SM2.StartingEase)
	// Untouched keys keep their defaults.
	assert.Equal(t, 100, cfg.Study.MaxReviewsPerDay)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, "db: /tmp/from-file.db\n")
	t.Setenv("CARDBOX_DB", "/tmp/from-env.db")
	t.Setenv("CARDBOX_STUDY__MAX_REVIEWS_PER_DAY", "42")

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/from-env.db", cfg.DB)
	assert.Equal(t, 42, cfg.Study.MaxReviewsPerDay)
}

func TestLoadFlagsOverrideEverything(t *testing.T) {
	t.Setenv("CARDBOX_LISTEN", "localhost:9000")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("listen", "", "listen address")
	require.NoError(t, flags.Parse([]string{"--listen", "localhost:7777"}))

	cfg, err := Load("", flags)
	require.NoError(t, err)
	assert.Equal(t, "localhost:7777", cfg.Listen)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"ease below floor":       "sm2:\n  starting_ease: 1.0\n",
		"negative daily limit":   "study:\n  new_cards_per_day: -1\n",
		"unknown review order":   "study:\n  review_order: banana\n",
		"zero interval modifier": "sm2:\n  interval_modifier: 0\n",
	}

	for name, contents := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfigFile(t, contents), nil)
			assert.Error(t, err)
		})
	}
}
