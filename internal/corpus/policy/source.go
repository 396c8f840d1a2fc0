package policy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/orgai/backend/internal/metrics"
	"github.com/orgai/backend/pkg/apperr"
	"github.com/orgai/backend/pkg/logger"
	"github.com/orgai/backend/pkg/retry"
)

const maxSourceBytes = 64 << 20

type LoaderConfig struct {
	// Source is an http(s) URL or a local file path.
	Source          string
	CacheFile       string
	RefreshInterval time.Duration
	HTTPClient      *http.Client
	Retry           retry.Config
}

// Loader reads policy records from the source, keeping a local cache file
// whose modification time records the last successful fetch.
type Loader struct {
	cfg LoaderConfig
	now func() time.Time
}

func NewLoader(cfg LoaderConfig) *Loader {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 24 * time.Hour
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
		cfg.Retry.Logger = logger.GetLogger()
	}
	return &Loader{cfg: cfg, now: time.Now}
}

func (l *Loader) remote() bool {
	return strings.HasPrefix(l.cfg.Source, "http://") || strings.HasPrefix(l.cfg.Source, "https://")
}

// Load returns the current record set. Remote sources are fetched only when
// the cache file is missing or older than the refresh interval; a failed
// fetch falls back to the cache. No cache and no successful fetch is a
// configuration error.
func (l *Loader) Load(ctx context.Context) ([]Record, error) {
	records, _, err := l.load(ctx)
	return records, err
}

// load also reports when the returned records were last fetched: the cache
// file's modification time when the cache is served, otherwise now.
func (l *Loader) load(ctx context.Context) ([]Record, time.Time, error) {
	if !l.remote() {
		records, err := readRecords(l.cfg.Source)
		if err != nil {
			return nil, time.Time{}, apperr.Configuration("load policy documents", err)
		}
		metrics.SourceRefreshes.WithLabelValues("policy", "local").Inc()
		return records, l.now(), nil
	}

	cachedAt, cached := l.cacheTime()
	if cached && l.now().Sub(cachedAt) < l.cfg.RefreshInterval {
		records, err := readRecords(l.cfg.CacheFile)
		if err == nil {
			metrics.SourceRefreshes.WithLabelValues("policy", "cache").Inc()
			logger.Info("Using cached policy documents",
				zap.String("cache_file", l.cfg.CacheFile),
				zap.Time("last_update", cachedAt),
				zap.Int("records", len(records)),
			)
			return records, cachedAt, nil
		}
		logger.Warn("Policy cache unreadable, fetching from source", zap.Error(err))
	}

	records, fetchErr := l.fetch(ctx)
	if fetchErr == nil {
		metrics.SourceRefreshes.WithLabelValues("policy", "fetched").Inc()
		logger.Info("Updated policy documents from source",
			zap.String("source", l.cfg.Source),
			zap.Int("records", len(records)),
		)
		return records, l.now(), nil
	}

	metrics.SourceRefreshes.WithLabelValues("policy", "failed").Inc()
	connErr := apperr.Connection("fetch policy documents", fetchErr)
	if cached {
		records, err := readRecords(l.cfg.CacheFile)
		if err == nil {
			logger.Warn("Policy source unreachable, serving stale cache",
				zap.Error(connErr),
				zap.Time("last_update", cachedAt),
			)
			return records, cachedAt, nil
		}
	}
	return nil, time.Time{}, apperr.Configuration("load policy documents",
		fmt.Errorf("no policy cache file %q and source fetch failed: %w", l.cfg.CacheFile, connErr))
}

func (l *Loader) cacheTime() (time.Time, bool) {
	info, err := os.Stat(l.cfg.CacheFile)
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}

func (l *Loader) fetch(ctx context.Context) ([]Record, error) {
	body, err := retry.DoWithResult(ctx, l.cfg.Retry, func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.cfg.Source, nil)
		if err != nil {
			return nil, retry.Permanent(fmt.Errorf("failed to build request: %w", err))
		}
		req.Header.Set("Accept", "application/json")

		resp, err := l.cfg.HTTPClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch policy documents: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			statusErr := fmt.Errorf("policy source returned HTTP %d", resp.StatusCode)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return nil, retry.Permanent(statusErr)
			}
			return nil, statusErr
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxSourceBytes))
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}

	records, err := DecodeRecords(body)
	if err != nil {
		return nil, err
	}

	if err := writeCache(l.cfg.CacheFile, body); err != nil {
		logger.Warn("Failed to write policy cache", zap.String("cache_file", l.cfg.CacheFile), zap.Error(err))
	}
	return records, nil
}

func readRecords(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("policy documents file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to read policy documents: %w", err)
	}
	return DecodeRecords(data)
}

func writeCache(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
