// Package mirror selects and ranks package mirrors from the distribution's
// mirror status feed, with an offline fallback to the live system's
// mirrorlist.
package mirror

import (
	"fmt"
	"sort"
	"strings"
)

// statusURL is the mirror health feed queried when online.
const statusURL = "https://archlinux.org/mirrors/status/json/"

// mirrorlistPath is the live system's mirrorlist, used offline.
const mirrorlistPath = "/etc/pacman.d/mirrorlist"

// Configuration is the mirror_config section of the configuration file.
type Configuration struct {
	MirrorRegions map[string][]string `json:"mirror_regions,omitempty" yaml:"mirror_regions,omitempty"`
	CustomServers []CustomServer      `json:"custom_servers,omitempty" yaml:"custom_servers,omitempty"`
}

// CustomServer is a user-supplied mirror placed ahead of ranked regions.
type CustomServer struct {
	URL string `json:"url" yaml:"url"`
}

// Mirror is one entry from the status feed.
type Mirror struct {
	URL         string  `json:"url"`
	Protocol    string  `json:"protocol"`
	Country     string  `json:"country"`
	CountryCode string  `json:"country_code"`
	Active      bool    `json:"active"`
	Score       float64 `json:"score"`
	Completion  float64 `json:"completion_pct"`
}

// statusFeed mirrors the shape of the status JSON document.
type statusFeed struct {
	URLs []Mirror `json:"urls"`
}

// Empty reports whether no mirror preference was configured at all.
func (c Configuration) Empty() bool {
	return len(c.MirrorRegions) == 0 && len(c.CustomServers) == 0
}

// ServerURL renders a mirror's Server= value for a mirrorlist.
func ServerURL(base string) string {
	return strings.TrimRight(base, "/") + "/$repo/os/$arch"
}

// FilterRegions keeps active https/http mirrors in any requested region,
// sorted by score ascending (lower is healthier in the feed).
func FilterRegions(mirrors []Mirror, regions map[string][]string) []Mirror {
	wanted := make(map[string]bool, len(regions))
	for name := range regions {
		wanted[strings.ToLower(name)] = true
	}

	var out []Mirror
	for _, m := range mirrors {
		if !m.Active || m.Completion < 0.9 {
			continue
		}
		if m.Protocol != "https" && m.Protocol != "http" {
			continue
		}
		if len(wanted) > 0 && !wanted[strings.ToLower(m.Country)] && !wanted[strings.ToLower(m.CountryCode)] {
			continue
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score < out[j].Score })
	return out
}

// RenderMirrorlist produces the mirrorlist file content. Custom servers come
// first, then explicit region URLs from the configuration, then ranked
// mirrors from the feed.
func RenderMirrorlist(cfg Configuration, ranked []Mirror) string {
	var b strings.Builder
	b.WriteString("# Generated by cosai\n")

	for _, s := range cfg.CustomServers {
		fmt.Fprintf(&b, "Server = %s\n", s.URL)
	}

	regionNames := make([]string, 0, len(cfg.MirrorRegions))
	for name := range cfg.MirrorRegions {
		regionNames = append(regionNames, name)
	}
	sort.Strings(regionNames)
	for _, name := range regionNames {
		urls := cfg.MirrorRegions[name]
		if len(urls) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n## %s\n", name)
		for _, u := range urls {
			fmt.Fprintf(&b, "Server = %s\n", ServerURL(u))
		}
	}

	if len(ranked) > 0 {
		b.WriteString("\n## Ranked\n")
		for i, m := range ranked {
			if i >= 10 {
				break
			}
			fmt.Fprintf(&b, "Server = %s\n", ServerURL(m.URL))
		}
	}
	return b.String()
}

// ParseMirrorlist extracts Server= URLs from mirrorlist content, skipping
// comments. Used in offline mode to reuse the live medium's mirrors.
func ParseMirrorlist(content string) []string {
	var servers []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found || strings.TrimSpace(key) != "Server" {
			continue
		}
		servers = append(servers, strings.TrimSpace(value))
	}
	return servers
}
