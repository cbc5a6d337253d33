package catalog

import (
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"
)

// Query offers read-only views over the chain graph. It never mutates the
// store; rebuild it after writes.
type Query struct {
	graphs map[string]*Graph
}

// NewQuery builds one graph per database from a loaded snapshot.
func NewQuery(snap *Snapshot, opts ...BuildOption) *Query {
	q := &Query{graphs: make(map[string]*Graph, len(snap.Databases))}
	for db, state := range snap.Databases {
		q.graphs[db] = BuildGraph(db, state.Records, state.Index, opts...)
	}
	return q
}

// ChainInfo is the list-level view of one chain.
type ChainInfo struct {
	RootID    string
	Database  string
	Policy    ChainPolicy
	Open      bool
	Members   int
	Completed int
}

// ListChains summarizes every chain of a database, ordered by root start
// time.
func (q *Query) ListChains(database string) []ChainInfo {
	g, ok := q.graphs[database]
	if !ok {
		return nil
	}
	open := g.OpenChain()
	var out []ChainInfo
	for _, chain := range g.Chains() {
		info := ChainInfo{
			RootID:   chain.Root.Record.ID,
			Database: database,
			Policy:   chain.Policy,
			Open:     chain == open,
			Members:  len(chain.Members),
		}
		for _, m := range chain.Members {
			if m.Record.Status == StatusCompleted {
				info.Completed++
			}
		}
		out = append(out, info)
	}
	return out
}

// MemberDescription is one record in a described chain, with its basis
// resolved and interruption surfaced.
type MemberDescription struct {
	Record *BackupRecord
	Basis  *BackupRecord
	Status string
	Flag   Flag
}

// ChainDescription is the ordered, fully resolved view of one chain.
type ChainDescription struct {
	RootID   string
	Database string
	Policy   ChainPolicy
	Members  []MemberDescription
}

// DescribeChain returns the ordered record list for the chain rooted at
// rootID. A record persisted as running by a dead process is reported with
// status "interrupted", never completed or failed.
func (q *Query) DescribeChain(rootID string) (*ChainDescription, error) {
	for db, g := range q.graphs {
		chain := g.Chain(rootID)
		if chain == nil {
			continue
		}
		desc := &ChainDescription{
			RootID:   rootID,
			Database: db,
			Policy:   chain.Policy,
		}
		for _, member := range chain.Members {
			md := MemberDescription{
				Record: member.Record,
				Status: member.EffectiveStatus(),
				Flag:   member.Flag,
			}
			if member.Basis != nil {
				md.Basis = member.Basis.Record
			}
			desc.Members = append(desc.Members, md)
		}
		return desc, nil
	}
	return nil, fmt.Errorf("%w: chain root %s", ErrNotFound, rootID)
}

// ValidationReport is the structured result of re-checking one chain.
// Validation is diagnostic: findings land in Issues, they are not errors of
// the query itself.
type ValidationReport struct {
	RootID string
	Issues *multierror.Error
}

// OK reports whether validation found nothing wrong.
func (r *ValidationReport) OK() bool {
	return r.Issues.ErrorOrNil() == nil
}

// ValidateChain re-runs the cycle, orphan, ordering, and policy checks for
// the chain rooted at rootID.
func (q *Query) ValidateChain(rootID string) (*ValidationReport, error) {
	for _, g := range q.graphs {
		chain := g.Chain(rootID)
		if chain == nil {
			continue
		}
		report := &ValidationReport{RootID: rootID}

		root := chain.Root.Record
		if root.Type != TypeFull {
			report.Issues = multierror.Append(report.Issues,
				fmt.Errorf("root %s has type %s, want full", root.ID, root.Type))
		}
		if root.BasisID != "" {
			report.Issues = multierror.Append(report.Issues,
				fmt.Errorf("root %s has a basis id", root.ID))
		}
		if !chain.Policy.IsValid() {
			report.Issues = multierror.Append(report.Issues,
				fmt.Errorf("root %s records no chain policy", root.ID))
		}

		prev := root.StartedAt
		for _, member := range chain.Members {
			rec := member.Record
			switch member.Flag {
			case FlagInvalid:
				report.Issues = multierror.Append(report.Issues,
					fmt.Errorf("member %s lies on a basis cycle", rec.ID))
			case FlagOrphaned:
				report.Issues = multierror.Append(report.Issues,
					fmt.Errorf("member %s references missing basis %s", rec.ID, rec.BasisID))
			case FlagInterrupted:
				report.Issues = multierror.Append(report.Issues,
					fmt.Errorf("member %s was interrupted while running", rec.ID))
			}
			if rec.ID != root.ID {
				if member.Basis == nil {
					report.Issues = multierror.Append(report.Issues,
						fmt.Errorf("member %s resolves no basis within the chain", rec.ID))
				}
				if rec.StartedAt.Before(prev) {
					report.Issues = multierror.Append(report.Issues,
						fmt.Errorf("member %s started before its predecessor", rec.ID))
				}
				if rec.Type == TypeDifferential && rec.ChainPolicy != "" && rec.ChainPolicy != chain.Policy {
					report.Issues = multierror.Append(report.Issues,
						fmt.Errorf("member %s was taken under policy %q, chain uses %q",
							rec.ID, rec.ChainPolicy, chain.Policy))
				}
			}
			if rec.Status == StatusCompleted {
				if rec.Location == "" {
					report.Issues = multierror.Append(report.Issues,
						fmt.Errorf("completed member %s records no artifact location", rec.ID))
				}
				if rec.Statistics == nil {
					report.Issues = multierror.Append(report.Issues,
						fmt.Errorf("completed member %s records no statistics", rec.ID))
				}
			}
			prev = rec.StartedAt
		}
		return report, nil
	}
	return nil, fmt.Errorf("%w: chain root %s", ErrNotFound, rootID)
}

// History returns a database's records newest first, capped at limit
// (unlimited when limit <= 0). Standalone and chained records both appear.
func (q *Query) History(database string, limit int) []*BackupRecord {
	g, ok := q.graphs[database]
	if !ok {
		return nil
	}
	var out []*BackupRecord
	for _, node := range g.nodes {
		out = append(out, node.Record)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Graph exposes the derived graph for a database, for callers that need the
// raw structure (the lifecycle controller, chiefly).
func (q *Query) Graph(database string) *Graph {
	return q.graphs[database]
}
