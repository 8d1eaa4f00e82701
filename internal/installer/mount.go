package installer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/h8d13/cosai/internal/disk"
)

// mountEntry is one mount operation, ordered shallow to deep.
type mountEntry struct {
	source     string
	mountpoint string
	options    []string
}

// stepMount mounts the formatted layout under the target mountpoint. Btrfs
// roots are mounted once per subvolume.
func (in *Installer) stepMount(ctx context.Context) error {
	entries, err := mountPlan(&in.cfg.Disk)
	if err != nil {
		return err
	}

	for _, e := range entries {
		target := filepath.Join(in.opts.Mountpoint, e.mountpoint)
		if !in.opts.DryRun {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		}
		args := []string{}
		if len(e.options) > 0 {
			args = append(args, "--options", strings.Join(e.options, ","))
		}
		args = append(args, e.source, target)
		if _, err := in.runner.Run(ctx, "mount", args...); err != nil {
			return err
		}
	}
	return nil
}

// mountPlan orders every partition and subvolume by mountpoint depth so
// parents mount before children.
func mountPlan(layout *disk.LayoutConfiguration) ([]mountEntry, error) {
	var entries []mountEntry

	for i := range layout.Modifications {
		for j := range layout.Modifications[i].Partitions {
			p := &layout.Modifications[i].Partitions[j]
			if p.FsType == "" {
				continue
			}
			source := p.DevPath
			if layout.Encryption.ShouldEncrypt(p) {
				source = disk.MapperPath(p)
			}
			if source == "" {
				return nil, fmt.Errorf("partition for %q has no device path", p.Mountpoint)
			}

			if p.FsType == disk.Btrfs && len(p.BtrfsSubvols) > 0 {
				for _, sv := range p.BtrfsSubvols {
					opts := append([]string{}, p.MountOptions...)
					opts = append(opts, "subvol="+sv.Name)
					entries = append(entries, mountEntry{source: source, mountpoint: sv.Mountpoint, options: opts})
				}
				continue
			}
			if p.Mountpoint == "" {
				continue
			}
			entries = append(entries, mountEntry{source: source, mountpoint: p.Mountpoint, options: p.MountOptions})
		}
	}

	if len(entries) == 0 {
		return nil, fmt.Errorf("layout has nothing to mount")
	}

	sort.SliceStable(entries, func(a, b int) bool {
		return mountDepth(entries[a].mountpoint) < mountDepth(entries[b].mountpoint)
	})
	if entries[0].mountpoint != "/" {
		return nil, fmt.Errorf("layout has no root mount")
	}
	return entries, nil
}

func mountDepth(mountpoint string) int {
	if mountpoint == "/" {
		return 0
	}
	return strings.Count(strings.TrimSuffix(mountpoint, "/"), "/")
}
