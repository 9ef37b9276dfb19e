package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-citizenlink/types"
)

var t0 = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

func openMemory(t *testing.T, lookback time.Duration) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(":memory:", lookback, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteRoundTrip(t *testing.T) {
	s := openMemory(t, 0)
	ctx := context.Background()

	in := types.Complaint{
		ID:          "c1",
		Lat:         6.75,
		Lng:         125.35,
		Category:    "fire",
		Subcategory: "structure",
		Text:        "fire near market",
		Location:    "Rizal Ave",
		SubmittedAt: t0.Add(1500 * time.Millisecond),
		Status:      "open",
	}
	require.NoError(t, s.Insert(ctx, in))

	got, err := s.ListActiveComplaints(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, in.SubmittedAt.Equal(got[0].SubmittedAt))
	got[0].SubmittedAt = in.SubmittedAt
	assert.Equal(t, in, got[0])
}

func TestSQLiteSkipsClosedComplaints(t *testing.T) {
	s := openMemory(t, 0)
	ctx := context.Background()

	for id, status := range map[string]string{"a": "", "b": "open", "c": "Resolved", "d": "rejected"} {
		require.NoError(t, s.Insert(ctx, types.Complaint{ID: id, Category: "trash", Text: "basura", SubmittedAt: t0, Status: status}))
	}

	got, err := s.ListActiveComplaints(ctx)
	require.NoError(t, err)

	var ids []string
	for _, c := range got {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestSQLiteLookback(t *testing.T) {
	s := openMemory(t, 24*time.Hour)
	s.now = func() time.Time { return t0.Add(48 * time.Hour) }
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, types.Complaint{ID: "old", Category: "noise", Text: "ingay", SubmittedAt: t0}))
	require.NoError(t, s.Insert(ctx, types.Complaint{ID: "new", Category: "noise", Text: "ingay", SubmittedAt: t0.Add(47 * time.Hour)}))
	// just past the cutoff, with fractional seconds
	require.NoError(t, s.Insert(ctx, types.Complaint{ID: "edge", Category: "noise", Text: "ingay", SubmittedAt: t0.Add(24*time.Hour + 500*time.Millisecond)}))

	got, err := s.ListActiveComplaints(ctx)
	require.NoError(t, err)

	var ids []string
	for _, c := range got {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"edge", "new"}, ids)
}

func TestSQLiteInsertReplaces(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "complaints.db"), 0, nil)
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	c := types.Complaint{ID: "c1", Category: "pothole", Text: "lubak", SubmittedAt: t0}
	require.NoError(t, s.Insert(ctx, c))
	c.Status = "closed"
	require.NoError(t, s.Insert(ctx, c))

	got, err := s.ListActiveComplaints(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}
