package record

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", FileName("20250101_120000"))
	w, err := Create(path)
	require.NoError(t, err)

	ts := time.Date(2025, 1, 1, 12, 0, 0, 500_000_000, time.UTC)
	require.NoError(t, w.Write(Reading{Time: ts, ForceN: 8.95123, DeflectionMM: 1.23456}))
	require.NoError(t, w.Write(Reading{Time: ts.Add(time.Second), ForceN: -0.1, DeflectionMM: 0}))
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	assert.ErrorIs(t, w.Write(Reading{}), ErrClosed)
	assert.Equal(t, 2, w.Count())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Equal(t, []string{
		"timestamp,force_N,deflection_mm",
		"2025-01-01T12:00:00.5Z,8.951,1.2346",
		"2025-01-01T12:00:01.5Z,-0.100,0.0000",
	}, lines)

	got, err := Read(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Time.Equal(ts))
	assert.InDelta(t, 8.951, got[0].ForceN, 1e-9)
}

func TestWriterConcurrent(t *testing.T) {
	w, err := Create(filepath.Join(t.TempDir(), "fd.csv"))
	require.NoError(t, err)
	defer w.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				assert.NoError(t, w.Write(Reading{Time: time.Now(), ForceN: float64(i), DeflectionMM: float64(j)}))
			}
		}()
	}
	wg.Wait()

	got, err := Read(w.Path())
	require.NoError(t, err)
	assert.Len(t, got, 200)
}
