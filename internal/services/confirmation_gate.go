package services

import (
	"context"
	"sort"
	"sync"

	"bridge-relayer/internal/models"

	"github.com/ethereum/go-ethereum/common"
)

// BlockHashReader canonical source hash lookups
type BlockHashReader interface {
	BlockHash(ctx context.Context, number uint64) (common.Hash, error)
}

// Candidate an intent waiting in (or leaving) the gate
type Candidate struct {
	ID     models.MessageID
	Intent models.Intent
}

// GateResult outcome of one Evaluate pass, both lists in (blockNumber, logIndex) order
type GateResult struct {
	Promoted  []Candidate
	Discarded []Candidate
}

// LowestDiscardedBlock first block that lost a candidate to a reorg.
func (r *GateResult) LowestDiscardedBlock() (uint64, bool) {
	if len(r.Discarded) == 0 {
		return 0, false
	}
	lowest := r.Discarded[0].Intent.SourceBlockNumber
	for _, c := range r.Discarded[1:] {
		if c.Intent.SourceBlockNumber < lowest {
			lowest = c.Intent.SourceBlockNumber
		}
	}
	return lowest, true
}

// ConfirmationGate holds candidates until their block is confirmationDepth deep and still canonical
type ConfirmationGate struct {
	mu      sync.Mutex
	depth   uint64
	hashes  BlockHashReader
	byBlock map[uint64]map[models.MessageID]models.Intent
	index   map[models.MessageID]uint64
}

// NewConfirmationGate creates a new ConfirmationGate instance
func NewConfirmationGate(depth uint64, hashes BlockHashReader) *ConfirmationGate {
	return &ConfirmationGate{
		depth:   depth,
		hashes:  hashes,
		byBlock: make(map[uint64]map[models.MessageID]models.Intent),
		index:   make(map[models.MessageID]uint64),
	}
}

// Depth configured confirmation depth
func (g *ConfirmationGate) Depth() uint64 {
	return g.depth
}

// Add admits a candidate under its observed block hash. Re-adding an identical candidate is a no-op and
// returns false; a candidate re-observed at a different position replaces the old one.
func (g *ConfirmationGate) Add(id models.MessageID, intent models.Intent) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if block, ok := g.index[id]; ok {
		existing := g.byBlock[block][id]
		if block == intent.SourceBlockNumber && existing.SourceBlockHash == intent.SourceBlockHash {
			return false
		}
		g.removeLocked(id)
	}

	entries, ok := g.byBlock[intent.SourceBlockNumber]
	if !ok {
		entries = make(map[models.MessageID]models.Intent)
		g.byBlock[intent.SourceBlockNumber] = entries
	}
	entries[id] = intent
	g.index[id] = intent.SourceBlockNumber
	return true
}

// Remove drops a candidate; reports whether it was present.
func (g *ConfirmationGate) Remove(id models.MessageID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.removeLocked(id)
}

func (g *ConfirmationGate) removeLocked(id models.MessageID) bool {
	block, ok := g.index[id]
	if !ok {
		return false
	}
	delete(g.index, id)
	delete(g.byBlock[block], id)
	if len(g.byBlock[block]) == 0 {
		delete(g.byBlock, block)
	}
	return true
}

// Contains reports whether id is waiting in the gate.
func (g *ConfirmationGate) Contains(id models.MessageID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.index[id]
	return ok
}

// Len number of waiting candidates
func (g *ConfirmationGate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.index)
}

// Pending waiting candidates in source order.
func (g *ConfirmationGate) Pending() []Candidate {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]Candidate, 0, len(g.index))
	for _, entries := range g.byBlock {
		for id, intent := range entries {
			out = append(out, Candidate{ID: id, Intent: intent})
		}
	}
	sortCandidates(out)
	return out
}

// Evaluate re-checks every block that is at least depth deep under head, lowest first. A block whose
// canonical hash still matches promotes its candidates; a mismatch discards them. On a lookup error the
// blocks already decided are returned along with the error and the rest stay in the gate.
func (g *ConfirmationGate) Evaluate(ctx context.Context, head uint64) (*GateResult, error) {
	g.mu.Lock()
	var ready []uint64
	for block := range g.byBlock {
		if block <= head && head-block >= g.depth {
			ready = append(ready, block)
		}
	}
	g.mu.Unlock()
	sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })

	result := &GateResult{}
	for _, block := range ready {
		canonical, err := g.hashes.BlockHash(ctx, block)
		if err != nil {
			return result, err
		}

		g.mu.Lock()
		var promoted, discarded []Candidate
		for id, intent := range g.byBlock[block] {
			if intent.SourceBlockHash == canonical {
				promoted = append(promoted, Candidate{ID: id, Intent: intent})
			} else {
				discarded = append(discarded, Candidate{ID: id, Intent: intent})
			}
			delete(g.index, id)
		}
		delete(g.byBlock, block)
		g.mu.Unlock()

		sortCandidates(promoted)
		sortCandidates(discarded)
		result.Promoted = append(result.Promoted, promoted...)
		result.Discarded = append(result.Discarded, discarded...)
	}
	return result, nil
}

func sortCandidates(c []Candidate) {
	sort.Slice(c, func(i, j int) bool {
		return c[i].Intent.Before(c[j].Intent)
	})
}
