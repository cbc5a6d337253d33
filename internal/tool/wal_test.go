package tool

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextWALSegment(t *testing.T) {
	tests := []struct {
		name    string
		current string
		want    string
	}{
		{"increment", "000000010000000000000004", "000000010000000000000005"},
		{"segment rollover", "0000000100000000000000FF", "000000010000000100000000"},
		{"log rollover", "00000001FFFFFFFF000000FF", "000000020000000000000000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextWALSegment(tt.current)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNextWALSegmentRejectsMalformedNames(t *testing.T) {
	_, err := NextWALSegment("0000000100000000")
	assert.Error(t, err)

	_, err = NextWALSegment("zzzzzzzz0000000000000004")
	assert.Error(t, err)
}

func TestValidateSequenceContiguous(t *testing.T) {
	check := &WALArchiveCheck{
		Archived: []string{
			"000000010000000000000003",
			"000000010000000000000004",
			"000000010000000000000005",
		},
		BaseBackupWAL: "000000010000000000000002",
		CurrentWAL:    "000000010000000000000005",
	}
	assert.NoError(t, check.ValidateSequence())
}

func TestValidateSequenceReportsFirstGap(t *testing.T) {
	check := &WALArchiveCheck{
		Archived: []string{
			"000000010000000000000003",
			// 04 missing
			"000000010000000000000005",
		},
		BaseBackupWAL: "000000010000000000000002",
		CurrentWAL:    "000000010000000000000005",
	}
	err := check.ValidateSequence()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "000000010000000000000004")
}

func TestValidateSequenceIgnoresOutOfRangeSegments(t *testing.T) {
	check := &WALArchiveCheck{
		Archived: []string{
			// Covered by the base backup already.
			"000000010000000000000001",
			"000000010000000000000003",
			// Beyond the server's current position.
			"000000010000000000000009",
		},
		BaseBackupWAL: "000000010000000000000002",
		CurrentWAL:    "000000010000000000000003",
	}
	assert.NoError(t, check.ValidateSequence())
}

func TestValidateSequenceEmptyRange(t *testing.T) {
	check := &WALArchiveCheck{
		BaseBackupWAL: "000000010000000000000002",
		CurrentWAL:    "000000010000000000000002",
	}
	assert.NoError(t, check.ValidateSequence())
}

func TestValidateSequenceChecksDisk(t *testing.T) {
	dir := t.TempDir()
	onDisk := "000000010000000000000003"
	require.NoError(t, os.WriteFile(filepath.Join(dir, onDisk), []byte("wal"), 0o644))

	check := &WALArchiveCheck{
		Archived:      []string{onDisk},
		BaseBackupWAL: "000000010000000000000002",
		CurrentWAL:    "000000010000000000000003",
		Dir:           dir,
	}
	assert.NoError(t, check.ValidateSequence())

	check.Archived = append(check.Archived, "000000010000000000000004")
	check.CurrentWAL = "000000010000000000000004"
	err := check.ValidateSequence()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing on disk")
}

func TestValidateTimeline(t *testing.T) {
	check := &WALArchiveCheck{
		Archived:      []string{"000000010000000000000003"},
		BaseBackupWAL: "000000010000000000000002",
		CurrentWAL:    "000000010000000000000003",
	}
	assert.NoError(t, check.ValidateTimeline())

	check.CurrentWAL = "000000020000000000000003"
	err := check.ValidateTimeline()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeline conflict")
}
