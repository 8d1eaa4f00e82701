package bootstrap

import (
	"fmt"
	"os"
	"strings"
)

// Patch is a single idempotent text edit applied to a payload file.
// Marker is checked first; when present the patch is considered applied.
type Patch struct {
	File    string
	Marker  string
	Find    string
	Replace string
}

// AutoUpdatePatches disables the payload's self-update so the pinned
// version from the mirror is what actually runs.
func AutoUpdatePatches() []Patch {
	return []Patch{
		{
			File:    "settings.conf",
			Marker:  "AUTO_UPDATE=0",
			Find:    "AUTO_UPDATE=1",
			Replace: "AUTO_UPDATE=0",
		},
	}
}

// Apply performs the patch if its marker is absent. Returns whether the file
// was modified.
func (p Patch) Apply(root string) (bool, error) {
	path := root + "/" + p.File
	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("reading patch target: %w", err)
	}
	content := string(data)

	if strings.Contains(content, p.Marker) {
		return false, nil
	}
	if !strings.Contains(content, p.Find) {
		return false, fmt.Errorf("%s: pattern %q not found", p.File, p.Find)
	}

	patched := strings.Replace(content, p.Find, p.Replace, 1)
	if err := os.WriteFile(path, []byte(patched), 0o644); err != nil {
		return false, fmt.Errorf("writing patched file: %w", err)
	}
	return true, nil
}

// ApplyAll runs every patch, tolerating already-applied ones.
func ApplyAll(root string, patches []Patch) (int, error) {
	applied := 0
	for _, p := range patches {
		changed, err := p.Apply(root)
		if err != nil {
			return applied, err
		}
		if changed {
			applied++
		}
	}
	return applied, nil
}
