package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allbin/forcerig/internal/link"
	"github.com/allbin/forcerig/internal/session"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "db", "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	ctx := context.Background()

	s, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	var n int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&n))
	assert.Equal(t, len(migrations), n)
}

func TestRecordSession(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	out := session.Outcome{
		ID:            "5b7f5f1e-7d0c-4c58-9a55-0e1f0d5a2b11",
		Label:         "20250301_100000",
		State:         session.CriticalFault,
		Quality:       session.QualityUntrusted,
		CriticalError: true,
		Started:       start,
		Finished:      start.Add(30 * time.Second),
		WindowStart:   start.Add(5 * time.Second),
		Readings:      120,
		Warnings:      []string{"actuator restarted during measurement"},
		ErrorSummary: session.ErrorSummary{
			Total:    4,
			Kinds:    []link.ErrorKind{link.ErrorI2CTimeout, link.ErrorForceSensor},
			Critical: true,
			Recent: []session.ErrorRecord{
				{Time: start.Add(10 * time.Second), Kind: link.ErrorI2CTimeout, Message: "I2CTIMEOUT"},
				{Time: start.Add(11 * time.Second), Kind: link.ErrorForceSensor, Message: "FORCEERROR"},
			},
		},
	}
	require.NoError(t, s.RecordSession(ctx, out))

	got, err := s.Session(ctx, out.ID)
	require.NoError(t, err)
	assert.Equal(t, out.Label, got.Label)
	assert.Equal(t, "critical-fault", got.State)
	assert.Equal(t, "untrusted", got.Quality)
	assert.True(t, got.CriticalError)
	assert.False(t, got.Success)
	assert.Equal(t, 120, got.Readings)
	assert.Equal(t, 4, got.ErrorTotal)
	assert.True(t, got.Started.Equal(start))
	assert.Equal(t, out.Warnings, got.Warnings)
	require.Len(t, got.Errors, 2)
	assert.Equal(t, "FORCEERROR", got.Errors[1].Kind)

	_, err = s.Session(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	// duplicate ids are rejected
	assert.Error(t, s.RecordSession(ctx, out))
}

func TestRecentSessions(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.RecordSession(ctx, session.Outcome{
			Label:    base.Add(time.Duration(i) * time.Minute).Format("20060102_150405"),
			State:    session.Completed,
			Success:  true,
			Started:  base.Add(time.Duration(i) * time.Minute),
			Finished: base.Add(time.Duration(i)*time.Minute + 40*time.Second),
		}))
	}

	got, err := s.RecentSessions(ctx, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "20250301_100400", got[0].Label)
	assert.Equal(t, "20250301_100200", got[2].Label)
	assert.NotEmpty(t, got[0].ID)
	assert.Empty(t, got[0].Warnings)
}

func TestRecordSweep(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	id, err := s.RecordSweep(ctx, SweepEntry{
		Label:    "20250301_100000",
		Path:     "output/sweep_20250301_100000.s2p",
		Started:  start,
		Duration: 42 * time.Second,
		Success:  true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	_, err = s.RecordSweep(ctx, SweepEntry{
		SessionID: "abc",
		Label:     "20250301_100500",
		Started:   start.Add(5 * time.Minute),
		Error:     "vna: sweep failed",
	})
	require.NoError(t, err)

	sweeps, err := s.RecentSweeps(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sweeps, 2)
	assert.Equal(t, "abc", sweeps[0].SessionID)
	assert.False(t, sweeps[0].Success)
	assert.Equal(t, "", sweeps[1].SessionID)
	assert.Equal(t, 42*time.Second, sweeps[1].Duration)
	assert.Equal(t, id, sweeps[1].ID)
}
