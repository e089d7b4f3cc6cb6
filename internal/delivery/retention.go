package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"

	"reportflow/internal/types"
)

// SweeperConfig configures the retention sweep.
type SweeperConfig struct {
	// Retention is how long delivery logs are kept. Rows older than this
	// are archived and deleted.
	Retention time.Duration

	// BatchSize bounds how many rows one sweep pass touches.
	BatchSize int

	// ArchiveDir is where purged rows are written as gzip JSONL before
	// deletion. Empty disables archival; rows are then deleted outright.
	ArchiveDir string
}

// Sweeper enforces the delivery log retention window. Only terminal rows
// are eligible, so the sweep can never race an armed retry timer: a FAILED
// row waiting on its timer is not terminal and stays put.
type Sweeper struct {
	cfg     SweeperConfig
	repo    LogRepository
	clock   types.Clock
	metrics Metrics
	logger  types.Logger
}

// NewSweeper creates a Sweeper. A nil clock falls back to real UTC time
// and nil metrics to the no-op recorder.
func NewSweeper(cfg SweeperConfig, repo LogRepository, clock types.Clock, metrics Metrics, logger types.Logger) *Sweeper {
	if cfg.Retention <= 0 {
		cfg.Retention = 90 * 24 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &Sweeper{
		cfg:     cfg,
		repo:    repo,
		clock:   clock,
		metrics: metrics,
		logger:  logger,
	}
}

// Sweep archives and deletes delivery logs older than the retention window,
// in batches, until no candidates remain or the context ends. Returns the
// number of rows purged.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.clock.Now().Add(-s.cfg.Retention)
	total := 0

	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		batch, err := s.repo.ListPurgeable(ctx, cutoff, s.cfg.BatchSize)
		if err != nil {
			return total, fmt.Errorf("retention sweep: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		if s.cfg.ArchiveDir != "" {
			if err := s.archive(batch); err != nil {
				// Do not delete what we failed to archive.
				return total, fmt.Errorf("retention sweep: %w", err)
			}
		}

		ids := make([]string, len(batch))
		for i, d := range batch {
			ids[i] = d.ID
		}
		deleted, err := s.repo.DeleteByIDs(ctx, ids)
		if err != nil {
			return total, fmt.Errorf("retention sweep: %w", err)
		}
		total += deleted

		if len(batch) < s.cfg.BatchSize {
			break
		}
	}

	if total > 0 {
		s.metrics.RecordRetentionPurged(ctx, total)
		s.logger.Info("retention sweep purged delivery logs",
			"purged", total,
			"cutoff", cutoff,
		)
	}
	return total, nil
}

// archive appends the batch to a per-day gzip JSONL file, one delivery log
// per line.
func (s *Sweeper) archive(batch []*types.DeliveryLog) error {
	if err := os.MkdirAll(s.cfg.ArchiveDir, 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}

	name := fmt.Sprintf("delivery_logs_%s.jsonl.gz", s.clock.Now().Format("20060102"))
	path := filepath.Join(s.cfg.ArchiveDir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open archive file: %w", err)
	}
	defer f.Close()

	// Each append is its own gzip member; readers see one concatenated
	// stream.
	zw := gzip.NewWriter(f)
	enc := json.NewEncoder(zw)
	for _, d := range batch {
		if err := enc.Encode(d); err != nil {
			zw.Close()
			return fmt.Errorf("encode archived delivery: %w", err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("flush archive: %w", err)
	}
	return f.Sync()
}
