package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectBasisNoChain(t *testing.T) {
	g := BuildGraph("mydb", nil, &DatabaseIndex{})
	sel := &Selector{}

	_, err := sel.SelectBasis(g)
	assert.ErrorIs(t, err, ErrNoBasisAvailable)
}

func TestSelectBasisRootNotCompleted(t *testing.T) {
	root := fullAt("mydb", 0, PolicyImmediatePredecessor)
	root.Status = StatusRunning
	root.Location = ""
	root.Statistics = nil

	g := BuildGraph("mydb", []*BackupRecord{root}, &DatabaseIndex{OpenRoot: root.ID},
		WithActiveHandles(map[string]struct{}{root.ID: {}}))
	sel := &Selector{}

	_, err := sel.SelectBasis(g)
	assert.ErrorIs(t, err, ErrNoBasisAvailable)
}

func TestSelectBasisImmediatePredecessor(t *testing.T) {
	root := fullAt("mydb", 0, PolicyImmediatePredecessor)
	diff1 := diffAt("mydb", root.ID, time.Hour)
	diff2 := diffAt("mydb", diff1.ID, 2*time.Hour)

	g := BuildGraph("mydb", []*BackupRecord{root, diff1, diff2}, &DatabaseIndex{OpenRoot: root.ID})
	sel := &Selector{}

	basis, err := sel.SelectBasis(g)
	require.NoError(t, err)
	assert.Equal(t, diff2.ID, basis.ID)
}

func TestSelectBasisImmediatePredecessorFreshChain(t *testing.T) {
	root := fullAt("mydb", 0, PolicyImmediatePredecessor)

	g := BuildGraph("mydb", []*BackupRecord{root}, &DatabaseIndex{OpenRoot: root.ID})
	sel := &Selector{}

	basis, err := sel.SelectBasis(g)
	require.NoError(t, err)
	assert.Equal(t, root.ID, basis.ID)
}

func TestSelectBasisSkipsNonCompleted(t *testing.T) {
	root := fullAt("mydb", 0, PolicyImmediatePredecessor)
	done := diffAt("mydb", root.ID, time.Hour)
	failed := diffAt("mydb", done.ID, 2*time.Hour)
	failed.Status = StatusFailed
	failed.ErrorDetail = "pg_dump exited with code 1"
	failed.Location = ""
	failed.Statistics = nil

	g := BuildGraph("mydb", []*BackupRecord{root, done, failed}, &DatabaseIndex{OpenRoot: root.ID})
	sel := &Selector{}

	basis, err := sel.SelectBasis(g)
	require.NoError(t, err)
	assert.Equal(t, done.ID, basis.ID)
}

func TestSelectBasisSkipsWalArchives(t *testing.T) {
	root := fullAt("mydb", 0, PolicyImmediatePredecessor)
	wal := diffAt("mydb", root.ID, time.Hour)
	wal.Type = TypeWalArchive
	wal.ID = GenerateID(TypeWalArchive, "mydb", wal.StartedAt)

	g := BuildGraph("mydb", []*BackupRecord{root, wal}, &DatabaseIndex{OpenRoot: root.ID})
	sel := &Selector{}

	basis, err := sel.SelectBasis(g)
	require.NoError(t, err)
	assert.Equal(t, root.ID, basis.ID)
}

func TestSelectBasisRootAnchored(t *testing.T) {
	root := fullAt("mydb", 0, PolicyRootAnchored)
	diff1 := diffAt("mydb", root.ID, time.Hour)
	diff1.ChainPolicy = PolicyRootAnchored
	diff2 := diffAt("mydb", root.ID, 2*time.Hour)
	diff2.ChainPolicy = PolicyRootAnchored

	g := BuildGraph("mydb", []*BackupRecord{root, diff1, diff2}, &DatabaseIndex{OpenRoot: root.ID})
	sel := &Selector{}

	basis, err := sel.SelectBasis(g)
	require.NoError(t, err)
	assert.Equal(t, root.ID, basis.ID)
}

func TestSelectBasisChainFull(t *testing.T) {
	root := fullAt("mydb", 0, PolicyImmediatePredecessor)
	diff1 := diffAt("mydb", root.ID, time.Hour)
	diff2 := diffAt("mydb", diff1.ID, 2*time.Hour)

	g := BuildGraph("mydb", []*BackupRecord{root, diff1, diff2}, &DatabaseIndex{OpenRoot: root.ID})
	sel := &Selector{MaxDifferentials: 2}

	_, err := sel.SelectBasis(g)
	assert.ErrorIs(t, err, ErrChainFull)

	// Zero means unlimited.
	sel = &Selector{}
	_, err = sel.SelectBasis(g)
	assert.NoError(t, err)
}

func TestSelectBasisRejectsMixedPolicies(t *testing.T) {
	root := fullAt("mydb", 0, PolicyImmediatePredecessor)
	diff := diffAt("mydb", root.ID, time.Hour)
	diff.ChainPolicy = PolicyRootAnchored

	g := BuildGraph("mydb", []*BackupRecord{root, diff}, &DatabaseIndex{OpenRoot: root.ID})
	sel := &Selector{}

	_, err := sel.SelectBasis(g)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "chain_policy", verr.Field)
}
