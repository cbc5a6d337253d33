package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshotOf(database string, index *DatabaseIndex, records ...*BackupRecord) *Snapshot {
	return &Snapshot{Databases: map[string]*DatabaseState{
		database: {Records: records, Index: index},
	}}
}

func TestListChains(t *testing.T) {
	old := fullAt("mydb", 0, PolicyImmediatePredecessor)
	oldDiff := diffAt("mydb", old.ID, time.Hour)
	current := fullAt("mydb", 24*time.Hour, PolicyImmediatePredecessor)
	pendingDiff := diffAt("mydb", current.ID, 25*time.Hour)
	pendingDiff.Status = StatusPending
	pendingDiff.Location = ""
	pendingDiff.Statistics = nil

	q := NewQuery(snapshotOf("mydb",
		&DatabaseIndex{Roots: []string{old.ID, current.ID}, OpenRoot: current.ID},
		old, oldDiff, current, pendingDiff))

	chains := q.ListChains("mydb")
	require.Len(t, chains, 2)

	assert.Equal(t, old.ID, chains[0].RootID)
	assert.False(t, chains[0].Open)
	assert.Equal(t, 2, chains[0].Members)
	assert.Equal(t, 2, chains[0].Completed)

	assert.Equal(t, current.ID, chains[1].RootID)
	assert.True(t, chains[1].Open)
	assert.Equal(t, 2, chains[1].Members)
	assert.Equal(t, 1, chains[1].Completed)

	assert.Nil(t, q.ListChains("unknown"))
}

func TestDescribeChain(t *testing.T) {
	root := fullAt("mydb", 0, PolicyImmediatePredecessor)
	diff := diffAt("mydb", root.ID, time.Hour)

	q := NewQuery(snapshotOf("mydb", &DatabaseIndex{OpenRoot: root.ID}, root, diff))

	desc, err := q.DescribeChain(root.ID)
	require.NoError(t, err)
	assert.Equal(t, "mydb", desc.Database)
	assert.Equal(t, PolicyImmediatePredecessor, desc.Policy)
	require.Len(t, desc.Members, 2)
	assert.Nil(t, desc.Members[0].Basis)
	require.NotNil(t, desc.Members[1].Basis)
	assert.Equal(t, root.ID, desc.Members[1].Basis.ID)
	assert.Equal(t, string(StatusCompleted), desc.Members[1].Status)
}

func TestDescribeChainUnknownRoot(t *testing.T) {
	q := NewQuery(snapshotOf("mydb", &DatabaseIndex{}))
	_, err := q.DescribeChain("full_mydb_20250101T000000_ab12")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDescribeChainReportsInterrupted(t *testing.T) {
	root := fullAt("mydb", 0, PolicyImmediatePredecessor)
	crashed := diffAt("mydb", root.ID, time.Hour)
	crashed.Status = StatusRunning
	crashed.Location = ""
	crashed.Statistics = nil

	// No live handle owns the running record: a prior process died mid-backup.
	q := NewQuery(snapshotOf("mydb", &DatabaseIndex{OpenRoot: root.ID}, root, crashed))

	desc, err := q.DescribeChain(root.ID)
	require.NoError(t, err)
	require.Len(t, desc.Members, 2)
	assert.Equal(t, "interrupted", desc.Members[1].Status)
	assert.Equal(t, FlagInterrupted, desc.Members[1].Flag)
}

func TestValidateChainClean(t *testing.T) {
	root := fullAt("mydb", 0, PolicyImmediatePredecessor)
	diff := diffAt("mydb", root.ID, time.Hour)
	diff.ChainPolicy = PolicyImmediatePredecessor

	q := NewQuery(snapshotOf("mydb", &DatabaseIndex{OpenRoot: root.ID}, root, diff))

	report, err := q.ValidateChain(root.ID)
	require.NoError(t, err)
	assert.True(t, report.OK())
}

func TestValidateChainFindsIssues(t *testing.T) {
	root := fullAt("mydb", 0, PolicyImmediatePredecessor)
	interrupted := diffAt("mydb", root.ID, time.Hour)
	interrupted.Status = StatusRunning
	interrupted.Location = ""
	interrupted.Statistics = nil
	mixed := diffAt("mydb", root.ID, 2*time.Hour)
	mixed.ChainPolicy = PolicyRootAnchored
	bare := diffAt("mydb", mixed.ID, 3*time.Hour)
	bare.Location = ""
	bare.Statistics = nil

	q := NewQuery(snapshotOf("mydb", &DatabaseIndex{OpenRoot: root.ID},
		root, interrupted, mixed, bare))

	report, err := q.ValidateChain(root.ID)
	require.NoError(t, err)
	require.False(t, report.OK())

	var texts []string
	for _, issue := range report.Issues.Errors {
		texts = append(texts, issue.Error())
	}
	joined := ""
	for _, s := range texts {
		joined += s + "\n"
	}
	assert.Contains(t, joined, "interrupted while running")
	assert.Contains(t, joined, "taken under policy")
	assert.Contains(t, joined, "no artifact location")
	assert.Contains(t, joined, "no statistics")
}

func TestValidateChainUnknownRoot(t *testing.T) {
	q := NewQuery(snapshotOf("mydb", &DatabaseIndex{}))
	_, err := q.ValidateChain("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHistory(t *testing.T) {
	root := fullAt("mydb", 0, PolicyImmediatePredecessor)
	diff := diffAt("mydb", root.ID, time.Hour)
	partial := fullAt("mydb", 2*time.Hour, "")
	partial.Type = TypePartial
	partial.ID = GenerateID(TypePartial, "mydb", partial.StartedAt)
	partial.ChainPolicy = ""

	q := NewQuery(snapshotOf("mydb", &DatabaseIndex{OpenRoot: root.ID}, root, diff, partial))

	all := q.History("mydb", 0)
	require.Len(t, all, 3)
	assert.Equal(t, partial.ID, all[0].ID)
	assert.Equal(t, diff.ID, all[1].ID)
	assert.Equal(t, root.ID, all[2].ID)

	capped := q.History("mydb", 2)
	require.Len(t, capped, 2)
	assert.Equal(t, partial.ID, capped[0].ID)

	assert.Nil(t, q.History("unknown", 0))
}
