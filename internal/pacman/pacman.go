// Package pacman configures the package manager on the live medium and the
// target, and drives pacstrap.
package pacman

import (
	"fmt"
	"sort"
	"strings"
)

// OptionalRepository names a stock repository that ships disabled.
type OptionalRepository string

const (
	RepoMultilib        OptionalRepository = "multilib"
	RepoTesting         OptionalRepository = "core-testing"
	RepoExtraTesting    OptionalRepository = "extra-testing"
	RepoMultilibTesting OptionalRepository = "multilib-testing"
)

// KnownOptionalRepositories lists valid values for optional_repositories.
func KnownOptionalRepositories() []OptionalRepository {
	return []OptionalRepository{RepoMultilib, RepoTesting, RepoExtraTesting, RepoMultilibTesting}
}

// PacmanOption is a flag toggled in the [options] section.
type PacmanOption string

const (
	OptionColor            PacmanOption = "Color"
	OptionILoveCandy       PacmanOption = "ILoveCandy"
	OptionVerbosePkgLists  PacmanOption = "VerbosePkgLists"
	OptionCheckSpace       PacmanOption = "CheckSpace"
	OptionParallelDownload PacmanOption = "ParallelDownloads"
)

// CustomRepository is a third-party repository appended to pacman.conf.
type CustomRepository struct {
	Name     string `json:"name" yaml:"name"`
	URL      string `json:"url" yaml:"url"`
	SigLevel string `json:"sig_level,omitempty" yaml:"sig_level,omitempty"`
}

// Configuration is the pacman_config section of the configuration file.
type Configuration struct {
	OptionalRepositories []OptionalRepository `json:"optional_repositories,omitempty" yaml:"optional_repositories,omitempty"`
	CustomRepositories   []CustomRepository   `json:"custom_repositories,omitempty" yaml:"custom_repositories,omitempty"`
	Options              []PacmanOption       `json:"pacman_options,omitempty" yaml:"pacman_options,omitempty"`
	ParallelDownloads    int                  `json:"parallel_downloads,omitempty" yaml:"parallel_downloads,omitempty"`
}

// Validate rejects unknown repository names and malformed custom repos.
func (c Configuration) Validate() error {
	known := make(map[OptionalRepository]bool)
	for _, r := range KnownOptionalRepositories() {
		known[r] = true
	}
	for _, r := range c.OptionalRepositories {
		if !known[r] {
			return fmt.Errorf("unknown optional repository %q", r)
		}
	}
	for _, r := range c.CustomRepositories {
		if r.Name == "" || r.URL == "" {
			return fmt.Errorf("custom repository needs both name and url")
		}
	}
	if c.ParallelDownloads < 0 || c.ParallelDownloads > 32 {
		return fmt.Errorf("parallel_downloads out of range: %d", c.ParallelDownloads)
	}
	return nil
}

// EditPacmanConf applies the configuration to pacman.conf content. Optional
// repositories get their section headers uncommented, options are enabled in
// [options], and custom repositories are appended.
func EditPacmanConf(content string, cfg Configuration) string {
	lines := strings.Split(content, "\n")

	lines = uncommentRepositories(lines, cfg.OptionalRepositories)
	lines = enableOptions(lines, cfg)

	out := strings.Join(lines, "\n")
	if len(cfg.CustomRepositories) > 0 {
		if !strings.HasSuffix(out, "\n") {
			out += "\n"
		}
		out += renderCustomRepositories(cfg.CustomRepositories)
	}
	return out
}

func uncommentRepositories(lines []string, repos []OptionalRepository) []string {
	want := make(map[string]bool, len(repos))
	for _, r := range repos {
		want[string(r)] = true
	}

	inWanted := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		stripped := strings.TrimSpace(strings.TrimLeft(trimmed, "#"))

		if strings.HasPrefix(stripped, "[") && strings.HasSuffix(stripped, "]") {
			name := strings.Trim(stripped, "[]")
			inWanted = want[name]
			if inWanted {
				lines[i] = stripped
			}
			continue
		}
		// include lines under a wanted section header
		if inWanted && strings.HasPrefix(stripped, "Include") {
			lines[i] = stripped
		}
	}
	return lines
}

func enableOptions(lines []string, cfg Configuration) []string {
	want := make(map[string]bool, len(cfg.Options))
	for _, o := range cfg.Options {
		want[string(o)] = true
	}

	seen := make(map[string]bool)
	inOptions := false
	optionsEnd := -1
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		stripped := strings.TrimSpace(strings.TrimLeft(trimmed, "#"))

		if strings.HasPrefix(trimmed, "[") {
			if inOptions {
				optionsEnd = i
			}
			inOptions = trimmed == "[options]"
			continue
		}
		if !inOptions {
			continue
		}
		key, _, _ := strings.Cut(stripped, "=")
		key = strings.TrimSpace(key)
		if want[key] {
			if key == string(OptionParallelDownload) && cfg.ParallelDownloads > 0 {
				lines[i] = fmt.Sprintf("ParallelDownloads = %d", cfg.ParallelDownloads)
			} else {
				lines[i] = stripped
			}
			seen[key] = true
		}
	}

	// options with no commented template line get inserted before the next section
	var missing []string
	for o := range want {
		if !seen[o] {
			missing = append(missing, o)
		}
	}
	sort.Strings(missing)
	if len(missing) == 0 || optionsEnd < 0 {
		for _, o := range missing {
			lines = append(lines, renderOption(o, cfg))
		}
		return lines
	}
	inserted := make([]string, 0, len(lines)+len(missing))
	inserted = append(inserted, lines[:optionsEnd]...)
	for _, o := range missing {
		inserted = append(inserted, renderOption(o, cfg))
	}
	return append(inserted, lines[optionsEnd:]...)
}

func renderOption(name string, cfg Configuration) string {
	if name == string(OptionParallelDownload) && cfg.ParallelDownloads > 0 {
		return fmt.Sprintf("ParallelDownloads = %d", cfg.ParallelDownloads)
	}
	return name
}

func renderCustomRepositories(repos []CustomRepository) string {
	var b strings.Builder
	for _, r := range repos {
		sig := r.SigLevel
		if sig == "" {
			sig = "Optional TrustAll"
		}
		fmt.Fprintf(&b, "\n[%s]\nSigLevel = %s\nServer = %s\n", r.Name, sig, r.URL)
	}
	return b.String()
}
