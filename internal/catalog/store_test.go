package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completedFull(database string, started time.Time) *BackupRecord {
	return &BackupRecord{
		ID:          GenerateID(TypeFull, database, started),
		Type:        TypeFull,
		Database:    database,
		Status:      StatusCompleted,
		StartedAt:   started,
		FinishedAt:  started.Add(2 * time.Minute),
		ChainPolicy: PolicyImmediatePredecessor,
		Location:    "/backups/" + database + "/full.dump",
		Statistics:  &Statistics{TotalTables: 12, TotalRowsProcessed: 48000, TotalSizeBytes: 1 << 20},
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir())
	started := time.Date(2025, 3, 10, 8, 30, 15, 123456789, time.UTC)
	rec := completedFull("mydb", started)

	require.NoError(t, store.Put(rec))
	assert.Equal(t, int64(1), rec.Revision)
	assert.Equal(t, DocumentVersion, rec.Version)

	loaded, err := store.Get(rec.ID)
	require.NoError(t, err)
	assert.True(t, rec.Equal(loaded), "reloaded record differs: %+v vs %+v", rec, loaded)
	assert.Equal(t, time.UTC, loaded.StartedAt.Location())
	assert.True(t, started.Equal(loaded.StartedAt))
}

func TestPutNormalizesLocalTimestamps(t *testing.T) {
	store := NewStore(t.TempDir())
	loc := time.FixedZone("UTC-5", -5*60*60)
	rec := completedFull("mydb", time.Date(2025, 3, 10, 3, 0, 0, 0, loc))

	require.NoError(t, store.Put(rec))

	loaded, err := store.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loaded.StartedAt.Location())
	assert.Equal(t, 8, loaded.StartedAt.Hour())
}

func TestPutRejectsStaleRevision(t *testing.T) {
	store := NewStore(t.TempDir())
	rec := completedFull("mydb", time.Now().UTC())
	require.NoError(t, store.Put(rec))

	stale := rec.Clone()
	stale.Revision = 0
	err := store.Put(stale)
	assert.ErrorIs(t, err, ErrStaleWrite)

	// The persisted document is untouched.
	loaded, err := store.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), loaded.Revision)
}

func TestPutRejectsNonzeroRevisionForNewRecord(t *testing.T) {
	store := NewStore(t.TempDir())
	rec := completedFull("mydb", time.Now().UTC())
	rec.Revision = 3

	assert.ErrorIs(t, store.Put(rec), ErrStaleWrite)
}

func TestPutRejectsInvalidRecord(t *testing.T) {
	store := NewStore(t.TempDir())
	rec := completedFull("mydb", time.Now().UTC())
	rec.Location = ""

	var verr *ValidationError
	require.ErrorAs(t, store.Put(rec), &verr)
	assert.Equal(t, "location", verr.Field)
}

func TestFullBackupRegistersChainRoot(t *testing.T) {
	store := NewStore(t.TempDir())
	first := completedFull("mydb", time.Now().UTC().Add(-time.Hour))
	require.NoError(t, store.Put(first))

	idx, err := store.Index("mydb")
	require.NoError(t, err)
	assert.Equal(t, []string{first.ID}, idx.Roots)
	assert.Equal(t, first.ID, idx.OpenRoot)

	// A new full backup opens a new chain; the old root stays listed.
	second := completedFull("mydb", time.Now().UTC())
	require.NoError(t, store.Put(second))

	idx, err = store.Index("mydb")
	require.NoError(t, err)
	assert.Equal(t, []string{first.ID, second.ID}, idx.Roots)
	assert.Equal(t, second.ID, idx.OpenRoot)

	// Re-persisting a known root (status transition) leaves the index alone.
	first.Location = "/backups/mydb/full-moved.dump"
	require.NoError(t, store.Put(first))
	idx, err = store.Index("mydb")
	require.NoError(t, err)
	assert.Equal(t, second.ID, idx.OpenRoot)
}

func TestListByDatabaseOrdersByStartTime(t *testing.T) {
	store := NewStore(t.TempDir())
	base := time.Now().UTC().Truncate(time.Second)
	older := completedFull("mydb", base.Add(-2*time.Hour))
	newer := completedFull("mydb", base)
	require.NoError(t, store.Put(newer))
	require.NoError(t, store.Put(older))

	records, err := store.ListByDatabase("mydb")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, older.ID, records[0].ID)
	assert.Equal(t, newer.ID, records[1].ID)
}

func TestCorruptDocumentSurfacedOthersLoadable(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	healthy := completedFull("otherdb", time.Now().UTC())
	require.NoError(t, store.Put(healthy))

	victim := completedFull("mydb", time.Now().UTC())
	require.NoError(t, store.Put(victim))
	path := filepath.Join(dir, "mydb", victim.ID+".json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	snap, err := store.Load()
	require.Error(t, err)

	var corrupt *CorruptionError
	require.ErrorAs(t, err, &corrupt)
	assert.Equal(t, victim.ID, corrupt.ID)
	assert.NotEmpty(t, corrupt.Raw)

	// The unrelated database is fully loadable.
	require.Contains(t, snap.Databases, "otherdb")
	require.Len(t, snap.Databases["otherdb"].Records, 1)
	assert.Equal(t, healthy.ID, snap.Databases["otherdb"].Records[0].ID)
}

func TestPutNeverOverwritesCorruptDocument(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	rec := completedFull("mydb", time.Now().UTC())
	require.NoError(t, store.Put(rec))

	path := filepath.Join(dir, "mydb", rec.ID+".json")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))

	rec.Location = "/elsewhere.dump"
	var corrupt *CorruptionError
	assert.ErrorAs(t, store.Put(rec), &corrupt)
}

func TestUnknownFieldsTolerated(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	rec := completedFull("mydb", time.Now().UTC())
	require.NoError(t, store.Put(rec))

	// Simulate a newer writer adding a field.
	path := filepath.Join(dir, "mydb", rec.ID+".json")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	patched := []byte(`{"future_field": "ignored",` + string(raw[1:]))
	require.NoError(t, os.WriteFile(path, patched, 0o644))

	loaded, err := store.Get(rec.ID)
	require.NoError(t, err)
	assert.True(t, rec.Equal(loaded))
}

func TestGetUnknownID(t *testing.T) {
	store := NewStore(t.TempDir())
	_, err := store.Get("full_mydb_20250101T000000_ab12")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestChainSummaryRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir())
	root := completedFull("mydb", time.Now().UTC())
	require.NoError(t, store.Put(root))

	graph := BuildGraph("mydb", []*BackupRecord{root}, &DatabaseIndex{OpenRoot: root.ID})
	chain := graph.Chain(root.ID)
	require.NotNil(t, chain)

	sum := SummarizeChain(chain, "mydb", time.Now())
	require.NoError(t, store.WriteChainSummary(sum))

	loaded, err := store.ReadChainSummary("mydb", root.ID)
	require.NoError(t, err)
	assert.Equal(t, root.ID, loaded.RootID)
	require.Len(t, loaded.Members, 1)
	assert.Equal(t, root.ID, loaded.Members[0].ID)
	assert.Equal(t, PolicyImmediatePredecessor, loaded.Policy)
}
