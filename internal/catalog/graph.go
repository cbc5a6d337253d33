package catalog

import (
	"sort"
)

// Flag marks a derived condition on a graph node. Flags are never persisted:
// the store is authoritative for record state, the graph only reports what
// linking revealed.
type Flag string

const (
	FlagNone Flag = ""
	// FlagOrphaned marks a record whose basis id resolves to nothing. The
	// artifact may still be restorable by hand, so the record is reported,
	// not discarded.
	FlagOrphaned Flag = "orphaned"
	// FlagInvalid marks a record on a basis cycle.
	FlagInvalid Flag = "invalid"
	// FlagInterrupted marks a record persisted as running by a process that
	// is no longer around to finish it.
	FlagInterrupted Flag = "interrupted"
)

// Node is one record linked into the chain graph.
type Node struct {
	Record *BackupRecord
	Basis  *Node
	Flag   Flag
}

// EffectiveStatus is the record status with derived interruption applied.
func (n *Node) EffectiveStatus() string {
	if n.Flag == FlagInterrupted {
		return string(FlagInterrupted)
	}
	return string(n.Record.Status)
}

// Chain is the ordered lineage reachable from one full backup root.
type Chain struct {
	Root *Node
	// Members holds the root followed by every linked record, ordered by
	// start time.
	Members []*Node
	Policy  ChainPolicy
}

// Graph is the derived, rebuildable view of one database's backup lineage.
type Graph struct {
	Database string
	nodes    map[string]*Node
	chains   map[string]*Chain
	// Standalone holds records that belong to no chain: partial backups and
	// orphaned/invalid records.
	Standalone []*Node
	openRoot   string
}

type buildOptions struct {
	active map[string]struct{}
}

// BuildOption adjusts graph construction.
type BuildOption func(*buildOptions)

// WithActiveHandles names the record ids currently owned by live backup
// handles in this process. Running records without a live handle are flagged
// interrupted.
func WithActiveHandles(ids map[string]struct{}) BuildOption {
	return func(o *buildOptions) { o.active = ids }
}

// BuildGraph links a database's records into chains via their basis ids.
// Unresolvable bases flag the node orphaned, basis cycles flag every node on
// the cycle invalid; neither aborts construction.
func BuildGraph(database string, records []*BackupRecord, index *DatabaseIndex, opts ...BuildOption) *Graph {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	g := &Graph{
		Database: database,
		nodes:    make(map[string]*Node, len(records)),
		chains:   make(map[string]*Chain),
	}
	if index != nil {
		g.openRoot = index.OpenRoot
	}

	ordered := make([]*BackupRecord, len(records))
	copy(ordered, records)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].StartedAt.Equal(ordered[j].StartedAt) {
			return ordered[i].ID < ordered[j].ID
		}
		return ordered[i].StartedAt.Before(ordered[j].StartedAt)
	})

	for _, rec := range ordered {
		node := &Node{Record: rec}
		if rec.Status == StatusRunning {
			if _, live := o.active[rec.ID]; !live {
				node.Flag = FlagInterrupted
			}
		}
		g.nodes[rec.ID] = node
	}

	// Link bases.
	for _, rec := range ordered {
		node := g.nodes[rec.ID]
		if rec.BasisID == "" {
			continue
		}
		basis, ok := g.nodes[rec.BasisID]
		if !ok {
			node.Flag = FlagOrphaned
			continue
		}
		node.Basis = basis
	}

	// Cycle guard: walking basis links must never revisit a node already on
	// the current path.
	for _, rec := range ordered {
		node := g.nodes[rec.ID]
		onPath := map[*Node]bool{}
		for cur := node; cur != nil; cur = cur.Basis {
			if onPath[cur] {
				for marked := range onPath {
					marked.Flag = FlagInvalid
				}
				break
			}
			onPath[cur] = true
		}
	}

	// Assemble chains from roots outward.
	for _, rec := range ordered {
		node := g.nodes[rec.ID]
		if node.Flag == FlagInvalid {
			g.Standalone = append(g.Standalone, node)
			continue
		}
		root := node
		for root.Basis != nil {
			root = root.Basis
		}
		if root.Record.Type != TypeFull || node.Flag == FlagOrphaned {
			g.Standalone = append(g.Standalone, node)
			continue
		}
		chain, ok := g.chains[root.Record.ID]
		if !ok {
			chain = &Chain{Root: root, Policy: root.Record.ChainPolicy}
			g.chains[root.Record.ID] = chain
		}
		chain.Members = append(chain.Members, node)
	}

	return g
}

// Node returns the graph node for id, or nil.
func (g *Graph) Node(id string) *Node { return g.nodes[id] }

// Chain returns the chain rooted at rootID, or nil.
func (g *Graph) Chain(rootID string) *Chain { return g.chains[rootID] }

// Chains returns every chain ordered by root start time.
func (g *Graph) Chains() []*Chain {
	out := make([]*Chain, 0, len(g.chains))
	for _, c := range g.chains {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Root.Record.StartedAt.Before(out[j].Root.Record.StartedAt)
	})
	return out
}

// OpenChain returns the chain currently accepting differentials, or nil when
// no chain is open.
func (g *Graph) OpenChain() *Chain {
	if g.openRoot == "" {
		return nil
	}
	return g.chains[g.openRoot]
}
