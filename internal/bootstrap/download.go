// Package bootstrap obtains the installer payload on a live medium, either
// as a release tarball from a mirror or as a git checkout, and applies the
// local patches the payload needs before first run.
package bootstrap

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	cosaierr "github.com/h8d13/cosai/internal/errors"
	"github.com/h8d13/cosai/internal/retry"
)

// Downloader fetches and unpacks release tarballs.
type Downloader struct {
	client *http.Client
	policy retry.Policy
}

// NewDownloader builds a downloader with the given retry policy.
func NewDownloader(policy retry.Policy) *Downloader {
	return &Downloader{
		client: &http.Client{Timeout: 5 * time.Minute},
		policy: policy,
	}
}

// FetchTarball downloads url into destDir and extracts it, retrying
// transient failures. Returns the extraction root.
func (d *Downloader) FetchTarball(ctx context.Context, url, destDir string) (string, error) {
	attempts := d.policy.MaxRetries + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := d.policy.Delay(attempt)
			slog.Warn("tarball fetch failed, retrying", "attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		root, err := d.fetchOnce(ctx, url, destDir)
		if err == nil {
			return root, nil
		}
		lastErr = err
	}
	return "", cosaierr.DownloadError(url, lastErr)
}

func (d *Downloader) fetchOnce(ctx context.Context, url, destDir string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("download returned %s", resp.Status)
	}

	hash := sha256.New()
	root, err := Extract(io.TeeReader(resp.Body, hash), destDir)
	if err != nil {
		return "", err
	}
	// drain trailing bytes so the digest covers the whole download
	io.Copy(hash, resp.Body)
	slog.Info("Snapshot downloaded", "url", url, "sha256", hex.EncodeToString(hash.Sum(nil)))
	return root, nil
}

// Extract unpacks a gzipped tarball into destDir. Entries escaping destDir
// are rejected.
func Extract(r io.Reader, destDir string) (string, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return "", fmt.Errorf("gzip: %w", err)
	}
	defer gz.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", err
	}

	var root string
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("tar: %w", err)
		}

		target, err := securePath(destDir, hdr.Name)
		if err != nil {
			return "", err
		}
		if root == "" {
			if top, _, found := strings.Cut(strings.TrimPrefix(hdr.Name, "./"), "/"); found && top != "" {
				root = filepath.Join(destDir, top)
			}
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return "", err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return "", err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, hdr.FileInfo().Mode().Perm())
			if err != nil {
				return "", err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return "", err
			}
			f.Close()
		case tar.TypeSymlink:
			if filepath.IsAbs(hdr.Linkname) {
				return "", fmt.Errorf("archive symlink escapes destination: %s -> %s", hdr.Name, hdr.Linkname)
			}
			if _, err := securePath(destDir, filepath.Join(filepath.Dir(hdr.Name), hdr.Linkname)); err != nil {
				return "", err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return "", err
			}
			_ = os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return "", err
			}
		}
	}

	if root == "" {
		root = destDir
	}
	return root, nil
}

// securePath joins name under destDir and rejects traversal outside it.
func securePath(destDir, name string) (string, error) {
	target := filepath.Join(destDir, name)
	if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) && target != filepath.Clean(destDir) {
		return "", fmt.Errorf("archive entry escapes destination: %s", name)
	}
	return target, nil
}
