package aiclient

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/avantos/audiohook-bridge/pkg/utils"
)

func TestStreamOptionsFromOptionUsesOverrides(t *testing.T) {
	opts := utils.Option{}.With("listen.language", "fr-FR").With("listen.model", "telephony")

	got := StreamOptionsFromOption(opts)

	assert.Equal(t, []string{"fr-FR"}, got.LanguageCodes)
	assert.Equal(t, "telephony", got.Model)
}

func TestStreamOptionsFromOptionFallsBackToDefaults(t *testing.T) {
	got := StreamOptionsFromOption(utils.Option{})

	assert.Equal(t, []string{DefaultLanguageCode}, got.LanguageCodes)
	assert.Equal(t, DefaultModel, got.Model)
}

func TestStreamOptionsFromOptionTreatsEmptyOverrideAsUnset(t *testing.T) {
	opts := utils.Option{}.With("listen.language", "").With("listen.model", "")

	got := StreamOptionsFromOption(opts)

	assert.Equal(t, []string{DefaultLanguageCode}, got.LanguageCodes)
	assert.Equal(t, DefaultModel, got.Model)
}
