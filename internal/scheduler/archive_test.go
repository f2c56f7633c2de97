package scheduler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agroalert/internal/types"
)

// filepathGlob lists the archive files written into dir.
func filepathGlob(dir string) ([]string, error) {
	return filepath.Glob(filepath.Join(dir, "*.ndjson.gz"))
}

// readArchivedAlerts decodes every alert from every archive file in dir.
func readArchivedAlerts(t *testing.T, dir string) []types.Alert {
	t.Helper()

	files, err := filepathGlob(dir)
	require.NoError(t, err)

	var out []types.Alert
	for _, path := range files {
		f, err := os.Open(path)
		require.NoError(t, err)
		zr, err := gzip.NewReader(f)
		require.NoError(t, err)

		dec := json.NewDecoder(zr)
		for {
			var a types.Alert
			if err := dec.Decode(&a); err == io.EOF {
				break
			} else {
				require.NoError(t, err)
			}
			out = append(out, a)
		}
		require.NoError(t, zr.Close())
		require.NoError(t, f.Close())
	}
	return out
}

func TestArchive_WritesCompressedNDJSON(t *testing.T) {
	dir := t.TempDir()
	a := NewArchiver(dir, slog.New(slog.DiscardHandler))

	alerts := []*types.Alert{
		{ID: "alr_1", UserID: "u1", Kind: types.RiskFrost, Status: types.AlertSent},
		{ID: "alr_2", UserID: "u2", Kind: types.RiskWind, Status: types.AlertPending},
	}
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	require.NoError(t, a.Archive(context.Background(), alerts, now))

	files, err := filepathGlob(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "alerts-20260310T080000Z.ndjson.gz", filepath.Base(files[0]))

	got := readArchivedAlerts(t, dir)
	require.Len(t, got, 2)
	assert.Equal(t, "alr_1", got[0].ID)
	assert.Equal(t, "alr_2", got[1].ID)
}

func TestArchive_EmptyBatchWritesNothing(t *testing.T) {
	dir := t.TempDir()
	a := NewArchiver(dir, slog.New(slog.DiscardHandler))

	require.NoError(t, a.Archive(context.Background(), nil, time.Now()))

	files, err := filepathGlob(dir)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestArchive_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "archive")
	a := NewArchiver(dir, slog.New(slog.DiscardHandler))

	alerts := []*types.Alert{{ID: "alr_1", UserID: "u1", Kind: types.RiskFrost}}
	require.NoError(t, a.Archive(context.Background(), alerts, time.Now()))

	files, err := filepathGlob(dir)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}
