package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/mapstructure"
)

const (
	indexFilename = "index.json"
	chainsDirname = "chains"
)

// DatabaseIndex is the per-database catalog index: the known chain roots and
// the chain currently accepting differentials.
type DatabaseIndex struct {
	Version  int      `json:"version"             mapstructure:"version"`
	Database string   `json:"database"            mapstructure:"database"`
	Roots    []string `json:"roots"               mapstructure:"roots"`
	OpenRoot string   `json:"open_root,omitempty" mapstructure:"open_root"`
}

// DatabaseState is one database's slice of the catalog as loaded from disk.
type DatabaseState struct {
	Records []*BackupRecord
	Index   *DatabaseIndex
}

// Snapshot is the whole catalog as loaded from disk. Databases whose
// documents were corrupt are still present with whatever loaded cleanly.
type Snapshot struct {
	Databases map[string]*DatabaseState
}

// Store persists one JSON document per BackupRecord plus one index document
// per database under:
//
//	<dir>/<database>/<id>.json
//	<dir>/<database>/index.json
//	<dir>/<database>/chains/<rootID>.chain.json
//
// Every write is temp-file-then-rename atomic. Writes to the same record id
// are serialized and revision-checked; a Put derived from a revision that no
// longer matches the persisted document is rejected with ErrStaleWrite.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore returns a store rooted at dir. The directory is created lazily on
// first write.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the catalog root directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) databaseDir(database string) string {
	return filepath.Join(s.dir, database)
}

func (s *Store) recordPath(database, id string) string {
	return filepath.Join(s.databaseDir(database), id+".json")
}

// Put atomically persists rec. For a new record rec.Revision must be zero;
// for an update it must match the persisted revision. On success the caller's
// record is updated with the new revision.
func (s *Store) Put(rec *BackupRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.recordPath(rec.Database, rec.ID)
	existing, err := s.readRecordFile(path)
	switch {
	case err == nil:
		if existing.Revision != rec.Revision {
			return fmt.Errorf("%w: %s has revision %d, write derived from %d",
				ErrStaleWrite, rec.ID, existing.Revision, rec.Revision)
		}
	case os.IsNotExist(err):
		if rec.Revision != 0 {
			return fmt.Errorf("%w: %s does not exist but write carries revision %d",
				ErrStaleWrite, rec.ID, rec.Revision)
		}
	default:
		// Corruption included: never silently overwrite an unreadable document.
		return err
	}

	out := rec.Clone()
	out.NormalizeUTC()
	out.Version = DocumentVersion
	out.Revision++

	if err := writeAtomicJSON(path, out); err != nil {
		return fmt.Errorf("persist record %s: %w", rec.ID, err)
	}

	// The index references the record, so it is only touched after the record
	// write has succeeded; a failure here can never leave a dangling entry.
	if out.Type == TypeFull && out.BasisID == "" {
		if err := s.registerRoot(out); err != nil {
			return err
		}
	}

	rec.Revision = out.Revision
	rec.Version = out.Version
	return nil
}

// registerRoot appends a new chain root to the database index and marks its
// chain as the open one. Re-persisting an already known root (status
// transitions of the same full backup) leaves the index alone.
func (s *Store) registerRoot(rec *BackupRecord) error {
	idx, err := s.readIndex(rec.Database)
	if err != nil {
		return err
	}
	for _, root := range idx.Roots {
		if root == rec.ID {
			return nil
		}
	}
	idx.Roots = append(idx.Roots, rec.ID)
	idx.OpenRoot = rec.ID
	idx.Version = DocumentVersion
	if err := writeAtomicJSON(filepath.Join(s.databaseDir(rec.Database), indexFilename), idx); err != nil {
		return fmt.Errorf("persist index for %s: %w", rec.Database, err)
	}
	return nil
}

// Get resolves a record by id across all databases.
func (s *Store) Get(id string) (*BackupRecord, error) {
	dbs, err := s.Databases()
	if err != nil {
		return nil, err
	}
	for _, db := range dbs {
		rec, err := s.readRecordFile(s.recordPath(db, id))
		if err == nil {
			return rec, nil
		}
		if os.IsNotExist(err) {
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// ListByDatabase returns all of a database's records ordered by start time.
// Corrupt documents are reported through the returned error while every
// readable record is still returned.
func (s *Store) ListByDatabase(database string) ([]*BackupRecord, error) {
	entries, err := os.ReadDir(s.databaseDir(database))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list records for %s: %w", database, err)
	}

	var records []*BackupRecord
	var errs *multierror.Error
	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == indexFilename || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		rec, err := s.readRecordFile(filepath.Join(s.databaseDir(database), entry.Name()))
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].StartedAt.Equal(records[j].StartedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].StartedAt.Before(records[j].StartedAt)
	})
	return records, errs.ErrorOrNil()
}

// Index returns the database's catalog index, or an empty one if none has
// been written yet.
func (s *Store) Index(database string) (*DatabaseIndex, error) {
	return s.readIndex(database)
}

// Databases lists every database directory known to the catalog.
func (s *Store) Databases() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list catalog directory: %w", err)
	}
	var dbs []string
	for _, entry := range entries {
		if entry.IsDir() {
			dbs = append(dbs, entry.Name())
		}
	}
	sort.Strings(dbs)
	return dbs, nil
}

// Load reads the full catalog. Corruption in one database never prevents
// loading the others: the snapshot holds everything readable and the error
// aggregates every CorruptionError encountered.
func (s *Store) Load() (*Snapshot, error) {
	dbs, err := s.Databases()
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{Databases: make(map[string]*DatabaseState, len(dbs))}
	var errs *multierror.Error
	for _, db := range dbs {
		records, err := s.ListByDatabase(db)
		if err != nil {
			errs = multierror.Append(errs, err)
		}
		idx, err := s.readIndex(db)
		if err != nil {
			errs = multierror.Append(errs, err)
			idx = &DatabaseIndex{Version: DocumentVersion, Database: db}
		}
		snap.Databases[db] = &DatabaseState{Records: records, Index: idx}
	}
	return snap, errs.ErrorOrNil()
}

func (s *Store) readIndex(database string) (*DatabaseIndex, error) {
	path := filepath.Join(s.databaseDir(database), indexFilename)
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &DatabaseIndex{Version: DocumentVersion, Database: database}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read index for %s: %w", database, err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &CorruptionError{ID: database + "/" + indexFilename, Path: path, Raw: raw, Err: err}
	}
	var idx DatabaseIndex
	if err := decodeDocument(doc, &idx); err != nil {
		return nil, &CorruptionError{ID: database + "/" + indexFilename, Path: path, Raw: raw, Err: err}
	}
	return &idx, nil
}

// readRecordFile parses one record document. Unknown fields are tolerated so
// newer writers do not break this reader; an unparseable document surfaces as
// a CorruptionError carrying the raw bytes.
func (s *Store) readRecordFile(path string) (*BackupRecord, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	id := strings.TrimSuffix(filepath.Base(path), ".json")
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &CorruptionError{ID: id, Path: path, Raw: raw, Err: err}
	}
	var rec BackupRecord
	if err := decodeDocument(doc, &rec); err != nil {
		return nil, &CorruptionError{ID: id, Path: path, Raw: raw, Err: err}
	}
	if rec.ID == "" {
		return nil, &CorruptionError{ID: id, Path: path, Raw: raw,
			Err: fmt.Errorf("document has no id field")}
	}
	rec.NormalizeUTC()
	return &rec, nil
}

// decodeDocument maps a parsed JSON document onto a typed struct, tolerating
// unknown fields so version N+1 documents stay readable.
func decodeDocument(doc map[string]any, target any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:     target,
		DecodeHook: mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
	})
	if err != nil {
		return err
	}
	return dec.Decode(doc)
}

// writeAtomicJSON writes v as indented JSON via a temp file in the target
// directory followed by a rename, so a crash mid-write leaves the prior
// document intact.
func writeAtomicJSON(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %q: %w", dir, err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
