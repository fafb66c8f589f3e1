package reliability

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aristath/volbalance/internal/database"
	testingpkg "github.com/aristath/volbalance/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	deleted   []string
	uploadErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: make(map[string][]byte)}
}

func (m *memoryStore) Upload(ctx context.Context, key string, body io.Reader) error {
	if m.uploadErr != nil {
		return m.uploadErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memoryStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ObjectInfo
	for k, v := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, ObjectInfo{Key: k, Size: int64(len(v))})
		}
	}
	return out, nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	m.deleted = append(m.deleted, key)
	return nil
}

func archiveEntries(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	out := make(map[string][]byte)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		body, err := io.ReadAll(tr)
		require.NoError(t, err)
		out[hdr.Name] = body
	}
	return out
}

func TestBackupService_CreateAndUpload(t *testing.T) {
	dataDir := t.TempDir()
	stateDB := testingpkg.NewTestDB(t, "state")
	ledgerDB := testingpkg.NewTestDB(t, "ledger")

	_, err := stateDB.Conn().Exec(`INSERT INTO portfolio_state (key, value, updated_at) VALUES ('cash', '123', 0)`)
	require.NoError(t, err)

	csvPath := filepath.Join(dataDir, "rebalance_log.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("timestamp,cycle_id\n"), 0644))

	store := newMemoryStore()
	svc := NewBackupService(store, map[string]*database.DB{"state": stateDB, "ledger": ledgerDB},
		[]string{csvPath, filepath.Join(dataDir, "missing.csv")}, dataDir, "/nightly/", zerolog.Nop())

	key, err := svc.CreateAndUploadBackup(context.Background())
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(key, "nightly/volbalance-backup-"), key)
	assert.True(t, strings.HasSuffix(key, ".tar.gz"))

	entries := archiveEntries(t, store.objects[key])
	assert.Contains(t, entries, "state.db")
	assert.Contains(t, entries, "ledger.db")
	assert.Equal(t, "timestamp,cycle_id\n", string(entries["rebalance_log.csv"]))
	require.Contains(t, entries, metadataName)

	var meta BackupMetadata
	require.NoError(t, json.Unmarshal(entries[metadataName], &meta))
	assert.Len(t, meta.Files, 3)
	for _, f := range meta.Files {
		assert.True(t, strings.HasPrefix(f.Checksum, "sha256:"))
	}

	// staging is cleaned up
	leftovers, err := filepath.Glob(filepath.Join(dataDir, "backup-staging-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestBackupService_UploadFailure(t *testing.T) {
	store := newMemoryStore()
	store.uploadErr = errors.New("network down")
	svc := NewBackupService(store, map[string]*database.DB{"state": testingpkg.NewTestDB(t, "state")}, nil, t.TempDir(), "", zerolog.Nop())

	_, err := svc.CreateAndUploadBackup(context.Background())
	assert.ErrorContains(t, err, "network down")
}

func seedBackups(store *memoryStore, prefix string, ages ...time.Duration) {
	now := time.Now().UTC()
	for _, age := range ages {
		name := archivePrefix + now.Add(-age).Format(archiveTimeFmt) + archiveSuffix
		store.objects[prefix+name] = []byte("x")
	}
	store.objects[prefix+"unrelated.txt"] = []byte("y")
}

func TestBackupService_ListBackups(t *testing.T) {
	store := newMemoryStore()
	seedBackups(store, "p/", 48*time.Hour, time.Hour, 24*time.Hour)
	svc := NewBackupService(store, nil, nil, t.TempDir(), "p", zerolog.Nop())

	backups, err := svc.ListBackups(context.Background())
	require.NoError(t, err)
	require.Len(t, backups, 3)
	assert.True(t, backups[0].Timestamp.After(backups[1].Timestamp))
	assert.True(t, backups[1].Timestamp.After(backups[2].Timestamp))
}

func TestBackupService_RotateOldBackups(t *testing.T) {
	day := 24 * time.Hour

	t.Run("deletes beyond retention keeping newest three", func(t *testing.T) {
		store := newMemoryStore()
		seedBackups(store, "", 1*day, 2*day, 40*day, 41*day, 42*day)
		svc := NewBackupService(store, nil, nil, t.TempDir(), "", zerolog.Nop())

		deleted, err := svc.RotateOldBackups(context.Background(), 30)
		require.NoError(t, err)
		assert.Equal(t, 2, deleted)

		remaining, err := svc.ListBackups(context.Background())
		require.NoError(t, err)
		assert.Len(t, remaining, 3)
	})

	t.Run("keeps minimum even when old", func(t *testing.T) {
		store := newMemoryStore()
		seedBackups(store, "", 50*day, 60*day, 70*day)
		svc := NewBackupService(store, nil, nil, t.TempDir(), "", zerolog.Nop())

		deleted, err := svc.RotateOldBackups(context.Background(), 30)
		require.NoError(t, err)
		assert.Zero(t, deleted)
	})

	t.Run("zero retention keeps everything", func(t *testing.T) {
		store := newMemoryStore()
		seedBackups(store, "", 50*day, 60*day, 70*day, 80*day)
		svc := NewBackupService(store, nil, nil, t.TempDir(), "", zerolog.Nop())

		deleted, err := svc.RotateOldBackups(context.Background(), 0)
		require.NoError(t, err)
		assert.Zero(t, deleted)
		assert.Empty(t, store.deleted)
	})
}
