// Package maintenance schedules nightly compaction of the rotated pane
// logs and hook-event log files internal/monitor's rotateFile leaves
// behind: gzip them in place, then delete any compacted rotation past
// its retention age. This runs independently of the 1s Monitor Loop
// tick, on its own github.com/robfig/cron/v3 schedule.
package maintenance

import (
	"compress/gzip"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/robfig/cron/v3"
)

// rotationSuffix matches the "<name>.<epochMs>" or "<name>.<epochMs>.gz"
// shape internal/monitor's rotateFile produces (fmt.Sprintf("%s.%d", ...)).
var rotationSuffix = regexp.MustCompile(`\.\d{10,}(\.gz)?$`)

// Config tunes what gets compacted and how often.
type Config struct {
	Dirs     []string // directories to scan: pane log dir, event log dir
	MaxAge   time.Duration
	Schedule string // standard 5-field cron expression
}

// DefaultConfig compacts nightly at 03:00 and deletes rotations older
// than 7 days.
func DefaultConfig(dirs ...string) Config {
	return Config{
		Dirs:     dirs,
		MaxAge:   7 * 24 * time.Hour,
		Schedule: "0 3 * * *",
	}
}

// Compactor owns the cron schedule driving compactOnce.
type Compactor struct {
	cfg    Config
	logger *slog.Logger
	cron   *cron.Cron
}

func New(cfg Config, logger *slog.Logger) *Compactor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compactor{cfg: cfg, logger: logger, cron: cron.New()}
}

// Start schedules the nightly compaction job. It returns an error only if
// the cron expression fails to parse.
func (c *Compactor) Start() error {
	_, err := c.cron.AddFunc(c.cfg.Schedule, func() {
		c.RunOnce(time.Now())
	})
	if err != nil {
		return err
	}
	c.cron.Start()
	return nil
}

// Stop waits for any in-flight job to finish, then halts the scheduler.
func (c *Compactor) Stop() {
	ctx := c.cron.Stop()
	<-ctx.Done()
}

// RunOnce compacts every configured directory immediately. Exposed for
// manual/administrative triggers and tests, outside the cron schedule.
func (c *Compactor) RunOnce(now time.Time) {
	for _, dir := range c.cfg.Dirs {
		if err := compactDir(dir, c.cfg.MaxAge, now); err != nil {
			c.logger.Warn("maintenance: compact failed", "dir", dir, "err", err)
		}
	}
}

// compactDir gzips every uncompressed rotation in dir, then deletes any
// rotation (compressed or not) older than maxAge.
func compactDir(dir string, maxAge time.Duration, now time.Time) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, e := range entries {
		if e.IsDir() || !rotationSuffix.MatchString(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		info, err := e.Info()
		if err != nil {
			continue
		}

		if filepath.Ext(e.Name()) != ".gz" {
			originalModTime := info.ModTime()
			gzPath, err := gzipFile(path)
			if err != nil {
				continue
			}
			os.Chtimes(gzPath, originalModTime, originalModTime)
			path = gzPath
		}

		if now.Sub(info.ModTime()) > maxAge {
			os.Remove(path)
		}
	}
	return nil
}

func gzipFile(path string) (string, error) {
	src, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer src.Close()

	gzPath := path + ".gz"
	dst, err := os.OpenFile(gzPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", err
	}

	gw := gzip.NewWriter(dst)
	if _, err := io.Copy(gw, src); err != nil {
		gw.Close()
		dst.Close()
		os.Remove(gzPath)
		return "", err
	}
	if err := gw.Close(); err != nil {
		dst.Close()
		os.Remove(gzPath)
		return "", err
	}
	if err := dst.Close(); err != nil {
		os.Remove(gzPath)
		return "", err
	}

	if err := os.Remove(path); err != nil {
		return "", err
	}
	return gzPath, nil
}
