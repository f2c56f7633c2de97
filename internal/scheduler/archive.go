package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"

	"agroalert/internal/types"
)

// Archiver writes purged alerts to gzip-compressed NDJSON files, one file
// per maintenance tick, so expired records stay auditable after retention
// removes them from the store.
type Archiver struct {
	dir    string
	logger *slog.Logger
}

// NewArchiver creates an Archiver writing into dir. The directory is created
// on first use.
func NewArchiver(dir string, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{dir: dir, logger: logger}
}

// Archive writes one batch of purged alerts. The file name carries the tick
// timestamp: alerts-20060102T150405Z.ndjson.gz.
func (a *Archiver) Archive(ctx context.Context, purged []*types.Alert, now time.Time) error {
	if len(purged) == 0 {
		return nil
	}

	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return fmt.Errorf("creating archive directory: %w", err)
	}

	name := fmt.Sprintf("alerts-%s.ndjson.gz", now.UTC().Format("20060102T150405Z"))
	path := filepath.Join(a.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating archive file: %w", err)
	}
	defer f.Close()

	zw := gzip.NewWriter(f)
	enc := json.NewEncoder(zw)
	for _, alert := range purged {
		if err := enc.Encode(alert); err != nil {
			zw.Close()
			return fmt.Errorf("encoding alert %s: %w", alert.ID, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("flushing archive: %w", err)
	}

	a.logger.InfoContext(ctx, "archived purged alerts",
		"file", path,
		"count", len(purged),
	)
	return nil
}
