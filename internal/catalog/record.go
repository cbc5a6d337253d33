package catalog

import (
	"time"
)

// DocumentVersion is written into every persisted document so future fields
// do not break older readers.
const DocumentVersion = 1

// BackupType is the closed set of backup kinds the catalog tracks.
type BackupType string

const (
	TypeFull         BackupType = "full"
	TypePartial      BackupType = "partial"
	TypeDifferential BackupType = "differential"
	TypeWalArchive   BackupType = "wal_archive"
)

// IsValid reports whether t is a known backup type.
func (t BackupType) IsValid() bool {
	switch t {
	case TypeFull, TypePartial, TypeDifferential, TypeWalArchive:
		return true
	}
	return false
}

// BasisEligible reports whether a backup of this type may serve as the basis
// of a differential. WAL archives never do.
func (t BackupType) BasisEligible() bool {
	switch t {
	case TypeFull, TypePartial, TypeDifferential:
		return true
	}
	return false
}

// RequiresBasis reports whether records of this type must carry a BasisID.
func (t BackupType) RequiresBasis() bool {
	return t == TypeDifferential || t == TypeWalArchive
}

// BackupStatus is the persisted lifecycle state of a record.
type BackupStatus string

const (
	StatusPending   BackupStatus = "pending"
	StatusRunning   BackupStatus = "running"
	StatusCompleted BackupStatus = "completed"
	StatusFailed    BackupStatus = "failed"
)

// IsValid reports whether s is a known status.
func (s BackupStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether a record in this status is immutable.
func (s BackupStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ChainPolicy decides which prior record a new differential is taken against.
// It is recorded on the chain root at creation time and applies for the
// chain's whole lifetime.
type ChainPolicy string

const (
	// PolicyImmediatePredecessor layers differentials: full -> diff1 -> diff2,
	// each relative to the newest completed member.
	PolicyImmediatePredecessor ChainPolicy = "immediate-predecessor"
	// PolicyRootAnchored takes every differential against the root full backup.
	PolicyRootAnchored ChainPolicy = "root-anchored"
)

// IsValid reports whether p is a known chain policy.
func (p ChainPolicy) IsValid() bool {
	return p == PolicyImmediatePredecessor || p == PolicyRootAnchored
}

// Statistics are the counters gathered while a backup runs. Optional until
// the record completes, required once it has.
type Statistics struct {
	TotalTables        int   `json:"total_tables"         mapstructure:"total_tables"`
	TotalRowsProcessed int64 `json:"total_rows_processed" mapstructure:"total_rows_processed"`
	TotalSizeBytes     int64 `json:"total_size_bytes"     mapstructure:"total_size_bytes"`
}

// BackupRecord is one node in the catalog.
type BackupRecord struct {
	Version     int          `json:"version"                mapstructure:"version"`
	ID          string       `json:"id"                     mapstructure:"id"`
	Type        BackupType   `json:"type"                   mapstructure:"type"`
	Database    string       `json:"database"               mapstructure:"database"`
	Status      BackupStatus `json:"status"                 mapstructure:"status"`
	StartedAt   time.Time    `json:"started_at"             mapstructure:"started_at"`
	FinishedAt  time.Time    `json:"finished_at,omitzero"   mapstructure:"finished_at"`
	BasisID     string       `json:"basis_id,omitempty"     mapstructure:"basis_id"`
	ChainPolicy ChainPolicy  `json:"chain_policy,omitempty" mapstructure:"chain_policy"`
	Location    string       `json:"location,omitempty"     mapstructure:"location"`
	Statistics  *Statistics  `json:"statistics,omitempty"   mapstructure:"statistics"`
	ErrorDetail string       `json:"error_detail,omitempty" mapstructure:"error_detail"`

	// Revision is bumped by the store on every successful write; a Put whose
	// revision does not match the persisted document is rejected.
	Revision int64 `json:"revision" mapstructure:"revision"`
}

// Clone returns a deep copy of the record.
func (r *BackupRecord) Clone() *BackupRecord {
	out := *r
	if r.Statistics != nil {
		stats := *r.Statistics
		out.Statistics = &stats
	}
	return &out
}

// NormalizeUTC forces both timestamps into UTC. Naive/local timestamps must
// never be stored or compared.
func (r *BackupRecord) NormalizeUTC() {
	r.StartedAt = r.StartedAt.UTC()
	if !r.FinishedAt.IsZero() {
		r.FinishedAt = r.FinishedAt.UTC()
	}
}

// Validate checks the record's shape before it is persisted.
func (r *BackupRecord) Validate() error {
	if r.ID == "" {
		return NewValidationError("id", "backup id is required", r.ID)
	}
	if !r.Type.IsValid() {
		return NewValidationError("type", "unknown backup type", r.Type)
	}
	if r.Database == "" {
		return NewValidationError("database", "database name is required", r.Database)
	}
	if !r.Status.IsValid() {
		return NewValidationError("status", "unknown backup status", r.Status)
	}
	if r.StartedAt.IsZero() {
		return NewValidationError("started_at", "start timestamp is required", r.StartedAt)
	}
	if r.Type.RequiresBasis() && r.BasisID == "" {
		return NewValidationError("basis_id", "basis is required for this backup type", r.BasisID)
	}
	if !r.Type.RequiresBasis() && r.BasisID != "" {
		return NewValidationError("basis_id", "full and partial backups must not have a basis", r.BasisID)
	}
	if r.Type == TypeFull && !r.ChainPolicy.IsValid() {
		return NewValidationError("chain_policy", "chain roots must record a chain policy", r.ChainPolicy)
	}
	if r.Status == StatusCompleted {
		if r.Location == "" {
			return NewValidationError("location", "completed backups must record an artifact location", r.Location)
		}
		if r.Statistics == nil {
			return NewValidationError("statistics", "completed backups must record statistics", nil)
		}
	}
	if r.Status == StatusFailed && r.ErrorDetail == "" {
		return NewValidationError("error_detail", "failed backups must record an error detail", r.ErrorDetail)
	}
	return nil
}

// Equal reports whether two records are semantically identical, comparing
// timestamps by instant rather than by location.
func (r *BackupRecord) Equal(other *BackupRecord) bool {
	if other == nil {
		return false
	}
	if r.ID != other.ID || r.Type != other.Type || r.Database != other.Database ||
		r.Status != other.Status || r.BasisID != other.BasisID ||
		r.ChainPolicy != other.ChainPolicy || r.Location != other.Location ||
		r.ErrorDetail != other.ErrorDetail {
		return false
	}
	if !r.StartedAt.Equal(other.StartedAt) || !r.FinishedAt.Equal(other.FinishedAt) {
		return false
	}
	if (r.Statistics == nil) != (other.Statistics == nil) {
		return false
	}
	if r.Statistics != nil && *r.Statistics != *other.Statistics {
		return false
	}
	return true
}
