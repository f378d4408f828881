package backup

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tradeplane/internal/storedb"
)

type fakeObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: make(map[string][]byte)}
}

func (f *fakeObjectStore) Upload(ctx context.Context, key string, body io.Reader, size int64) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return nil
}

func (f *fakeObjectStore) List(ctx context.Context, prefix string) ([]Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var infos []Info
	for key, data := range f.objects {
		if len(key) < len(prefix) || key[:len(prefix)] != prefix {
			continue
		}
		info := Info{Key: key, SizeBytes: int64(len(data))}
		if ts, ok := TimestampFromKey(key); ok {
			info.Timestamp = ts
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (f *fakeObjectStore) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}

func testDB(t *testing.T, name string) *storedb.DB {
	t.Helper()
	db, err := storedb.Open(storedb.Config{Path: "file::memory:?cache=shared", Profile: storedb.ProfileStandard, Name: name})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(`CREATE TABLE IF NOT EXISTS widgets (id INTEGER PRIMARY KEY, name TEXT)`))
	_, err = db.Conn().Exec(`INSERT INTO widgets (name) VALUES ('a'), ('b')`)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestService_CreateAndUploadProducesOneArchive(t *testing.T) {
	db := testDB(t, "backup-test-ledger")
	store := newFakeObjectStore()
	svc := NewService(store, []NamedDB{{Name: "ledger", DB: db.Conn()}}, Config{StagingDir: t.TempDir()}, zerolog.Nop())

	require.NoError(t, svc.CreateAndUpload(context.Background()))

	store.mu.Lock()
	count := len(store.objects)
	store.mu.Unlock()
	require.Equal(t, 1, count)
}

func TestService_RotateOldBackupsKeepsMinimumCount(t *testing.T) {
	store := newFakeObjectStore()
	svc := NewService(store, nil, Config{RetentionDays: 1}, zerolog.Nop())

	now := time.Now()
	for i, age := range []time.Duration{0, 48 * time.Hour, 72 * time.Hour, 96 * time.Hour} {
		ts := now.Add(-age)
		key := archiveKeyFor(ts)
		store.objects[key] = []byte("x")
		_ = i
	}
	require.Len(t, store.objects, 4)

	require.NoError(t, svc.RotateOldBackups(context.Background()))

	store.mu.Lock()
	remaining := len(store.objects)
	store.mu.Unlock()
	require.Equal(t, minBackupsToKeep, remaining)
}

func TestService_RotateOldBackupsNoopsBelowMinimum(t *testing.T) {
	store := newFakeObjectStore()
	svc := NewService(store, nil, Config{RetentionDays: 1}, zerolog.Nop())

	store.objects[archiveKeyFor(time.Now().Add(-96*time.Hour))] = []byte("x")
	store.objects[archiveKeyFor(time.Now())] = []byte("x")

	require.NoError(t, svc.RotateOldBackups(context.Background()))
	require.Len(t, store.objects, 2)
}

func TestTimestampFromKey_RoundTripsArchiveKeyFor(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	key := archiveKeyFor(now)

	ts, ok := TimestampFromKey(key)
	require.True(t, ok)
	require.Equal(t, now.UTC(), ts.UTC())
}

func TestTimestampFromKey_RejectsUnrelatedKeys(t *testing.T) {
	_, ok := TimestampFromKey("some-other-file.txt")
	require.False(t, ok)
}
