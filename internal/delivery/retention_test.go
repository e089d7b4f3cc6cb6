package delivery

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reportflow/internal/types"
)

func seedLog(t *testing.T, repo *memRepo, id string, status types.DeliveryStatus, age time.Duration, now time.Time) {
	t.Helper()
	require.NoError(t, repo.Create(context.Background(), &types.DeliveryLog{
		ID:        id,
		ReportID:  "rpt_1",
		Status:    status,
		CreatedAt: now.Add(-age),
	}))
}

func TestSweeper_PurgesOnlyOldTerminalRows(t *testing.T) {
	repo := newMemRepo()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	clock := newFakeClock(now)

	day := 24 * time.Hour
	seedLog(t, repo, "dlv_old_sent", types.DeliveryStatusSent, 100*day, now)
	seedLog(t, repo, "dlv_old_skipped", types.DeliveryStatusSkipped, 95*day, now)
	seedLog(t, repo, "dlv_old_failed", types.DeliveryStatusFailed, 120*day, now)
	seedLog(t, repo, "dlv_recent_sent", types.DeliveryStatusSent, 10*day, now)

	s := NewSweeper(SweeperConfig{Retention: 90 * day}, repo, clock, nil, testLogger{})

	purged, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, purged)

	// Non-terminal rows survive no matter how old: an armed retry must not
	// lose its log row.
	_, err = repo.GetByID(context.Background(), "dlv_old_failed")
	assert.NoError(t, err)
	_, err = repo.GetByID(context.Background(), "dlv_recent_sent")
	assert.NoError(t, err)
	_, err = repo.GetByID(context.Background(), "dlv_old_sent")
	assert.Error(t, err)
}

func TestSweeper_ArchivesBeforeDeleting(t *testing.T) {
	repo := newMemRepo()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	clock := newFakeClock(now)
	dir := t.TempDir()

	seedLog(t, repo, "dlv_1", types.DeliveryStatusSent, 100*24*time.Hour, now)
	seedLog(t, repo, "dlv_2", types.DeliveryStatusBounced, 99*24*time.Hour, now)

	s := NewSweeper(SweeperConfig{ArchiveDir: dir}, repo, clock, nil, testLogger{})

	purged, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, purged)

	f, err := os.Open(filepath.Join(dir, "delivery_logs_20260302.jsonl.gz"))
	require.NoError(t, err)
	defer f.Close()

	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer zr.Close()

	var ids []string
	scanner := bufio.NewScanner(zr)
	for scanner.Scan() {
		var d types.DeliveryLog
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &d))
		ids = append(ids, d.ID)
	}
	require.NoError(t, scanner.Err())
	assert.ElementsMatch(t, []string{"dlv_1", "dlv_2"}, ids)
}

func TestSweeper_ArchiveFailureLeavesRows(t *testing.T) {
	repo := newMemRepo()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	clock := newFakeClock(now)

	seedLog(t, repo, "dlv_1", types.DeliveryStatusSent, 100*24*time.Hour, now)

	// A file where the archive directory should be makes MkdirAll fail.
	dir := filepath.Join(t.TempDir(), "blocked")
	require.NoError(t, os.WriteFile(dir, []byte("x"), 0o644))

	s := NewSweeper(SweeperConfig{ArchiveDir: dir}, repo, clock, nil, testLogger{})

	_, err := s.Sweep(context.Background())
	require.Error(t, err)

	_, err = repo.GetByID(context.Background(), "dlv_1")
	assert.NoError(t, err)
}

func TestSweeper_NothingToDo(t *testing.T) {
	repo := newMemRepo()
	s := NewSweeper(SweeperConfig{}, repo, nil, nil, testLogger{})

	purged, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, purged)
}
