// Package locale handles keyboard layout, system language, and encoding
// selection plus the files that carry them into the target system.
package locale

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/language"

	cosaierr "github.com/h8d13/cosai/internal/errors"
	"github.com/h8d13/cosai/internal/osexec"
)

// supportedLocalesFile lists every locale glibc can generate.
const supportedLocalesFile = "/usr/share/i18n/SUPPORTED"

// Configuration is the locale_config section of the configuration file.
type Configuration struct {
	KbLayout string `json:"kb_layout" yaml:"kb_layout"`
	SysLang  string `json:"sys_lang" yaml:"sys_lang"`
	SysEnc   string `json:"sys_enc" yaml:"sys_enc"`
}

// DefaultConfiguration returns the us/en_US.UTF-8 defaults.
func DefaultConfiguration() Configuration {
	return Configuration{KbLayout: "us", SysLang: "en_US", SysEnc: "UTF-8"}
}

// Normalize fills in defaults for missing fields.
func (c *Configuration) Normalize() {
	def := DefaultConfiguration()
	if c.KbLayout == "" {
		c.KbLayout = def.KbLayout
	}
	if c.SysLang == "" {
		c.SysLang = def.SysLang
	}
	if c.SysEnc == "" {
		c.SysEnc = def.SysEnc
	}
}

// LocaleGenEntry renders the locale.gen line (e.g. "en_US.UTF-8 UTF-8").
func (c Configuration) LocaleGenEntry() string {
	return fmt.Sprintf("%s.%s %s", c.SysLang, c.SysEnc, c.SysEnc)
}

// LangValue renders the LANG= value for locale.conf.
func (c Configuration) LangValue() string {
	return fmt.Sprintf("%s.%s", c.SysLang, c.SysEnc)
}

// Validate checks the language tag is plausible and, where host files are
// available, that the locale is generatable.
func (c Configuration) Validate() error {
	if c.SysLang == "" {
		return cosaierr.ValidationFailed("locale_config.sys_lang", "empty")
	}

	// locale names are language[_TERRITORY]; BCP 47 wants a hyphen
	tag := strings.ReplaceAll(c.SysLang, "_", "-")
	if _, err := language.Parse(tag); err != nil {
		return cosaierr.ValidationFailed("locale_config.sys_lang", fmt.Sprintf("unrecognized language %q", c.SysLang))
	}

	if locales, err := ListSupportedLocales(); err == nil && len(locales) > 0 {
		if !containsFold(locales, c.LocaleGenEntry()) {
			return cosaierr.ValidationFailed("locale_config", fmt.Sprintf("locale %q not in %s", c.LocaleGenEntry(), supportedLocalesFile))
		}
	}
	return nil
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}

// ListSupportedLocales parses the glibc SUPPORTED file on the live system.
func ListSupportedLocales() ([]string, error) {
	f, err := os.Open(supportedLocalesFile)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var locales []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line == "C.UTF-8 UTF-8" {
			continue
		}
		locales = append(locales, line)
	}
	return locales, scanner.Err()
}

// ListKeyboardLayouts returns the console keymaps known to localectl.
func ListKeyboardLayouts(ctx context.Context, runner osexec.Runner) ([]string, error) {
	res, err := runner.Run(ctx, "localectl", "--no-pager", "list-keymaps")
	if err != nil {
		return nil, err
	}
	return strings.Split(strings.TrimSpace(string(res.Output)), "\n"), nil
}

// VerifyKeyboardLayout checks a layout against localectl's keymap list.
func VerifyKeyboardLayout(ctx context.Context, runner osexec.Runner, layout string) (bool, error) {
	layouts, err := ListKeyboardLayouts(ctx, runner)
	if err != nil {
		return false, err
	}
	return containsFold(layouts, layout), nil
}

// ListTimezones returns the zones known to timedatectl.
func ListTimezones(ctx context.Context, runner osexec.Runner) ([]string, error) {
	res, err := runner.Run(ctx, "timedatectl", "--no-pager", "list-timezones")
	if err != nil {
		return nil, err
	}
	return strings.Split(strings.TrimSpace(string(res.Output)), "\n"), nil
}
