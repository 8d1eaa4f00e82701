package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"time"

	cosaierr "github.com/h8d13/cosai/internal/errors"
	"github.com/h8d13/cosai/internal/retry"
)

// Fetcher retrieves and ranks mirrors, retrying transient feed failures.
type Fetcher struct {
	client *http.Client
	policy retry.Policy
	url    string
}

// NewFetcher builds a fetcher with the given retry policy.
func NewFetcher(policy retry.Policy) *Fetcher {
	return &Fetcher{
		client: &http.Client{Timeout: 20 * time.Second},
		policy: policy,
		url:    statusURL,
	}
}

// FetchStatus downloads and decodes the mirror status feed.
func (f *Fetcher) FetchStatus(ctx context.Context) ([]Mirror, error) {
	var feed statusFeed

	attempts := f.policy.MaxRetries + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := f.policy.Delay(attempt)
			slog.Warn("mirror status fetch failed, retrying",
				"attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		feed, lastErr = f.fetchOnce(ctx)
		if lastErr == nil {
			return feed.URLs, nil
		}
	}
	return nil, cosaierr.MirrorFetchError(f.url, lastErr)
}

func (f *Fetcher) fetchOnce(ctx context.Context) (statusFeed, error) {
	var feed statusFeed

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return feed, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return feed, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return feed, fmt.Errorf("status feed returned %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return feed, err
	}
	return feed, nil
}

// OfflineServers reads the live medium's mirrorlist for offline installs.
func OfflineServers() ([]string, error) {
	data, err := os.ReadFile(mirrorlistPath)
	if err != nil {
		return nil, cosaierr.Wrap(err, cosaierr.CategoryMirror, cosaierr.SeverityError, "reading live mirrorlist")
	}
	return ParseMirrorlist(string(data)), nil
}

// RankBySpeed reorders the head of an already score-sorted mirror list by a
// measured lastsync fetch, so equally healthy mirrors near the top are tried
// fastest-first. Mirrors that fail the measurement sink to the back of the
// measured group; the tail keeps its score order.
func RankBySpeed(ctx context.Context, client *http.Client, mirrors []Mirror, head int) []Mirror {
	if head > len(mirrors) {
		head = len(mirrors)
	}
	if head < 2 {
		return mirrors
	}

	type measured struct {
		m Mirror
		d time.Duration
	}
	timed := make([]measured, head)
	for i := 0; i < head; i++ {
		d, err := MeasureSpeed(ctx, client, mirrors[i].URL)
		if err != nil {
			slog.Debug("Mirror speed measurement failed", "url", mirrors[i].URL, "error", err)
			d = time.Hour
		}
		timed[i] = measured{mirrors[i], d}
	}
	sort.SliceStable(timed, func(i, j int) bool { return timed[i].d < timed[j].d })

	out := make([]Mirror, 0, len(mirrors))
	for _, t := range timed {
		out = append(out, t.m)
	}
	return append(out, mirrors[head:]...)
}

// MeasureSpeed times a small fetch from a mirror and returns the duration,
// used to break score ties between nearby mirrors.
func MeasureSpeed(ctx context.Context, client *http.Client, base string) (time.Duration, error) {
	url := ServerURL(base)
	// lastsync is a tiny file every mirror carries
	url = url[:len(url)-len("/$repo/os/$arch")] + "/lastsync"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return time.Since(start), nil
}
