package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ChainSummary is the per-chain integrity file regenerated after every
// completed operation, so external restore tooling can read restoration
// order without re-deriving the graph.
type ChainSummary struct {
	Version     int           `json:"version"      mapstructure:"version"`
	RootID      string        `json:"root_id"      mapstructure:"root_id"`
	Database    string        `json:"database"     mapstructure:"database"`
	Policy      ChainPolicy   `json:"policy"       mapstructure:"policy"`
	GeneratedAt time.Time     `json:"generated_at" mapstructure:"generated_at"`
	Members     []ChainMember `json:"members"      mapstructure:"members"`
}

// ChainMember is one link in the restoration order.
type ChainMember struct {
	ID        string       `json:"id"                 mapstructure:"id"`
	Type      BackupType   `json:"type"               mapstructure:"type"`
	Status    BackupStatus `json:"status"             mapstructure:"status"`
	BasisID   string       `json:"basis_id,omitempty" mapstructure:"basis_id"`
	StartedAt time.Time    `json:"started_at"         mapstructure:"started_at"`
}

// SummarizeChain derives the integrity document for a chain. Members keep
// their graph order: root first, then by start time.
func SummarizeChain(c *Chain, database string, now time.Time) *ChainSummary {
	sum := &ChainSummary{
		Version:     DocumentVersion,
		RootID:      c.Root.Record.ID,
		Database:    database,
		Policy:      c.Policy,
		GeneratedAt: now.UTC(),
	}
	for _, member := range c.Members {
		rec := member.Record
		sum.Members = append(sum.Members, ChainMember{
			ID:        rec.ID,
			Type:      rec.Type,
			Status:    rec.Status,
			BasisID:   rec.BasisID,
			StartedAt: rec.StartedAt,
		})
	}
	return sum
}

func (s *Store) chainSummaryPath(database, rootID string) string {
	return filepath.Join(s.databaseDir(database), chainsDirname, rootID+".chain.json")
}

// WriteChainSummary atomically persists a chain's integrity file.
func (s *Store) WriteChainSummary(sum *ChainSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.chainSummaryPath(sum.Database, sum.RootID)
	if err := writeAtomicJSON(path, sum); err != nil {
		return fmt.Errorf("persist chain summary %s: %w", sum.RootID, err)
	}
	return nil
}

// ReadChainSummary loads a chain's integrity file.
func (s *Store) ReadChainSummary(database, rootID string) (*ChainSummary, error) {
	path := s.chainSummaryPath(database, rootID)
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: chain summary for %s", ErrNotFound, rootID)
	}
	if err != nil {
		return nil, fmt.Errorf("read chain summary %s: %w", rootID, err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &CorruptionError{ID: rootID, Path: path, Raw: raw, Err: err}
	}
	var sum ChainSummary
	if err := decodeDocument(doc, &sum); err != nil {
		return nil, &CorruptionError{ID: rootID, Path: path, Raw: raw, Err: err}
	}
	return &sum, nil
}
