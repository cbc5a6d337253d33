package tool

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyArtifact(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good.dump")
	require.NoError(t, os.WriteFile(good, []byte("data"), 0o644))
	assert.NoError(t, VerifyArtifact(good))

	empty := filepath.Join(dir, "empty.dump")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	assert.ErrorIs(t, VerifyArtifact(empty), ErrToolFailure)

	assert.ErrorIs(t, VerifyArtifact(filepath.Join(dir, "missing.dump")), ErrToolFailure)
	assert.ErrorIs(t, VerifyArtifact(""), ErrToolFailure)
}

func TestVerifyArtifactDirectory(t *testing.T) {
	dir := t.TempDir()

	emptyDir := filepath.Join(dir, "basebackup-empty")
	require.NoError(t, os.Mkdir(emptyDir, 0o755))
	assert.ErrorIs(t, VerifyArtifact(emptyDir), ErrToolFailure)

	fullDir := filepath.Join(dir, "basebackup")
	require.NoError(t, os.Mkdir(fullDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(fullDir, "base.tar"), []byte("tar"), 0o644))
	assert.NoError(t, VerifyArtifact(fullDir))
}

func TestExcerptKeepsTail(t *testing.T) {
	long := make([]byte, stderrExcerptLimit+100)
	for i := range long {
		long[i] = 'x'
	}
	long[len(long)-1] = '!'

	got := excerpt(long)
	assert.Len(t, got, stderrExcerptLimit+3)
	assert.Equal(t, "...", got[:3])
	assert.Equal(t, byte('!'), got[len(got)-1])

	assert.Equal(t, "short error", excerpt([]byte("  short error\n")))
}
