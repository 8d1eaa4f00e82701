package locale

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfiguration(t *testing.T) {
	cfg := DefaultConfiguration()
	assert.Equal(t, "us", cfg.KbLayout)
	assert.Equal(t, "en_US.UTF-8 UTF-8", cfg.LocaleGenEntry())
	assert.Equal(t, "en_US.UTF-8", cfg.LangValue())
}

func TestNormalizeFillsDefaults(t *testing.T) {
	cfg := Configuration{SysLang: "de_DE"}
	cfg.Normalize()
	assert.Equal(t, "us", cfg.KbLayout)
	assert.Equal(t, "de_DE", cfg.SysLang)
	assert.Equal(t, "UTF-8", cfg.SysEnc)
}

func TestValidateLanguageTag(t *testing.T) {
	tests := []struct {
		name    string
		lang    string
		wantErr bool
	}{
		{"english", "en_US", false},
		{"german", "de_DE", false},
		{"bare language", "fr", false},
		{"garbage", "zz_!!", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfiguration()
			cfg.SysLang = tt.lang
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEnsureLocaleGenEntryUncomments(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "locale.gen")
	seed := "# Comment\n#en_US.UTF-8 UTF-8\n#de_DE.UTF-8 UTF-8\n"
	require.NoError(t, os.WriteFile(path, []byte(seed), 0o644))

	require.NoError(t, ensureLocaleGenEntry(path, "en_US.UTF-8 UTF-8"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(string(data), "\n")
	assert.Contains(t, lines, "en_US.UTF-8 UTF-8")
	assert.Contains(t, lines, "#de_DE.UTF-8 UTF-8")
}

func TestEnsureLocaleGenEntryAppends(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "locale.gen")

	require.NoError(t, ensureLocaleGenEntry(path, "sv_SE.UTF-8 UTF-8"))
	// running again must not duplicate
	require.NoError(t, ensureLocaleGenEntry(path, "sv_SE.UTF-8 UTF-8"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "sv_SE.UTF-8 UTF-8"))
}
