package catalog

import (
	"fmt"
)

// Selector computes which prior artifact a new differential must be taken
// against, honoring the chain policy recorded at chain creation.
type Selector struct {
	// MaxDifferentials caps how many differentials one chain may hold before
	// a new full backup is forced. Zero means unlimited.
	MaxDifferentials int
}

// SelectBasis returns the basis record for a new differential on the
// database the graph was built for.
//
// Policy immediate-predecessor picks the most recently completed,
// basis-eligible member of the open chain; root-anchored always picks the
// root. WAL archive records are never a basis. With no open chain (no
// completed full backup yet) the selection fails with ErrNoBasisAvailable —
// before any record is created.
func (s *Selector) SelectBasis(g *Graph) (*BackupRecord, error) {
	chain := g.OpenChain()
	if chain == nil {
		return nil, fmt.Errorf("%w: database %s has no open chain", ErrNoBasisAvailable, g.Database)
	}
	if chain.Root.Record.Status != StatusCompleted {
		return nil, fmt.Errorf("%w: chain root %s is not completed", ErrNoBasisAvailable, chain.Root.Record.ID)
	}
	if !chain.Policy.IsValid() {
		return nil, NewValidationError("chain_policy", "chain root records no policy", chain.Policy)
	}

	// One chain, one policy: a member created under a different policy means
	// the chain's history can no longer be trusted.
	diffCount := 0
	for _, member := range chain.Members {
		rec := member.Record
		if rec.Type == TypeDifferential {
			diffCount++
			if rec.ChainPolicy != "" && rec.ChainPolicy != chain.Policy {
				return nil, NewValidationError("chain_policy",
					fmt.Sprintf("chain %s mixes policies: member %s was taken under %q",
						chain.Root.Record.ID, rec.ID, rec.ChainPolicy), chain.Policy)
			}
		}
	}
	if s.MaxDifferentials > 0 && diffCount >= s.MaxDifferentials {
		return nil, fmt.Errorf("%w: chain %s already holds %d differentials",
			ErrChainFull, chain.Root.Record.ID, diffCount)
	}

	if chain.Policy == PolicyRootAnchored {
		return chain.Root.Record, nil
	}

	// Immediate predecessor: newest completed eligible member. Members are
	// ordered by start time, so walk backwards.
	for i := len(chain.Members) - 1; i >= 0; i-- {
		rec := chain.Members[i].Record
		if rec.Status != StatusCompleted {
			continue
		}
		if !rec.Type.BasisEligible() {
			continue
		}
		return rec, nil
	}
	return nil, fmt.Errorf("%w: chain %s has no completed eligible member",
		ErrNoBasisAvailable, chain.Root.Record.ID)
}
