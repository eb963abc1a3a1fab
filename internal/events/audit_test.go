package events

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAudit(t *testing.T, maxSize int64) (*AuditLogger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "logs", "transitions.jsonl")
	l, err := NewAuditLogger(path, maxSize)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l, path
}

func TestAuditLogger_RecordAndTail(t *testing.T) {
	l, path := newTestAudit(t, 0)

	require.NoError(t, l.Record("layer2", "ENABLE", "Dhuhr", true, map[string]any{"timer_id": 1022}))
	require.NoError(t, l.Record("layer2", "DISABLE", "Dhuhr", true, nil))

	got, err := Tail(path, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "ENABLE", got[0].Action)
	assert.Equal(t, "Dhuhr", got[0].Prayer)
	assert.EqualValues(t, 1022, got[0].Details["timer_id"])
	assert.Equal(t, "DISABLE", got[1].Action)

	last, err := Tail(path, 1)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, "DISABLE", last[0].Action)
}

func TestTail_MissingFile(t *testing.T) {
	got, err := Tail(filepath.Join(t.TempDir(), "nope.jsonl"), 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAuditLogger_NilIsNoop(t *testing.T) {
	var l *AuditLogger
	assert.NoError(t, l.Record("layer1", "ENABLE", "Asr", true, nil))
	assert.NoError(t, l.Close())
}

func TestAuditLogger_Rotation(t *testing.T) {
	l, path := newTestAudit(t, 200)
	for i := 0; i < 10; i++ {
		require.NoError(t, l.Record("layer1", "ENABLE", "Maghrib", true, map[string]any{"i": i}))
	}
	archived, err := os.ReadDir(filepath.Join(filepath.Dir(path), ArchiveDir))
	require.NoError(t, err)
	assert.NotEmpty(t, archived)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.LessOrEqual(t, info.Size(), int64(200))
}

func TestAuditLogger_Checksum(t *testing.T) {
	l, path := newTestAudit(t, 0)
	l.EnableChecksum(true)
	l.now = func() time.Time { return time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC) }

	require.NoError(t, l.Record("layer2", "ENABLE", "Dhuhr", true, nil))
	require.NoError(t, l.Record("layer2", "DISABLE", "Dhuhr", true, nil))

	total, valid, err := VerifyLogIntegrity(path)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, 2, valid)

	// Tamper with the file: flip the prayer name of the first entry.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := bytes.Replace(data, []byte("Dhuhr"), []byte("Xhuhr"), 1)
	require.NoError(t, os.WriteFile(path, tampered, 0644))

	total, valid, err = VerifyLogIntegrity(path)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, valid)
}

func TestAuditLogger_ConcurrentWrites(t *testing.T) {
	l, path := newTestAudit(t, 0)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = l.Record("layer1", "DISABLE", "Isha", true, map[string]any{"i": i})
		}(i)
	}
	wg.Wait()

	got, err := Tail(path, 0)
	require.NoError(t, err)
	assert.Len(t, got, 20)
}
