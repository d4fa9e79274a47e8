package services

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"bridge-relayer/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticHashes struct {
	hashes map[uint64]common.Hash
	fail   map[uint64]bool
}

func (s *staticHashes) BlockHash(ctx context.Context, number uint64) (common.Hash, error) {
	if s.fail[number] {
		return common.Hash{}, errors.New("header unavailable")
	}
	return s.hashes[number], nil
}

func blockHash(n uint64) common.Hash {
	return common.BigToHash(new(big.Int).SetUint64(n + 0xb10c))
}

func gateCandidate(nonce int64, block uint64, index uint) (models.MessageID, models.Intent) {
	return intentID(nonce), models.Intent{
		SourceChainID:       testSourceChain,
		SourceBridgeAddress: testSourceBridge,
		Nonce:               big.NewInt(nonce),
		DestinationChainID:  testDestinationChain,
		SourceBlockNumber:   block,
		SourceBlockHash:     blockHash(block),
		LogIndex:            index,
	}
}

func TestConfirmationGateWaitsForDepth(t *testing.T) {
	hashes := &staticHashes{hashes: map[uint64]common.Hash{100: blockHash(100)}}
	gate := NewConfirmationGate(3, hashes)

	id, intent := gateCandidate(5, 100, 0)
	assert.True(t, gate.Add(id, intent))
	assert.False(t, gate.Add(id, intent))
	assert.Equal(t, 1, gate.Len())

	for _, head := range []uint64{99, 100, 102} {
		res, err := gate.Evaluate(context.Background(), head)
		require.NoError(t, err)
		assert.Empty(t, res.Promoted, "head %d", head)
		assert.Empty(t, res.Discarded, "head %d", head)
	}

	res, err := gate.Evaluate(context.Background(), 103)
	require.NoError(t, err)
	require.Len(t, res.Promoted, 1)
	assert.Equal(t, id, res.Promoted[0].ID)
	assert.Zero(t, gate.Len())
}

func TestConfirmationGateDiscardsOnHashMismatch(t *testing.T) {
	hashes := &staticHashes{hashes: map[uint64]common.Hash{
		100: common.HexToHash("0xdead"),
		101: blockHash(101),
	}}
	gate := NewConfirmationGate(2, hashes)

	idA, a := gateCandidate(1, 100, 0)
	idB, b := gateCandidate(2, 101, 0)
	gate.Add(idA, a)
	gate.Add(idB, b)

	res, err := gate.Evaluate(context.Background(), 110)
	require.NoError(t, err)
	require.Len(t, res.Discarded, 1)
	assert.Equal(t, idA, res.Discarded[0].ID)
	require.Len(t, res.Promoted, 1)
	assert.Equal(t, idB, res.Promoted[0].ID)

	lowest, ok := res.LowestDiscardedBlock()
	assert.True(t, ok)
	assert.Equal(t, uint64(100), lowest)
}

func TestConfirmationGateOrdersPromotions(t *testing.T) {
	hashes := &staticHashes{hashes: map[uint64]common.Hash{}}
	gate := NewConfirmationGate(1, hashes)
	for _, c := range []struct {
		nonce int64
		block uint64
		index uint
	}{{3, 102, 0}, {1, 100, 4}, {2, 100, 1}} {
		id, intent := gateCandidate(c.nonce, c.block, c.index)
		hashes.hashes[c.block] = blockHash(c.block)
		gate.Add(id, intent)
	}

	pending := gate.Pending()
	require.Len(t, pending, 3)
	assert.Equal(t, intentID(2), pending[0].ID)

	res, err := gate.Evaluate(context.Background(), 200)
	require.NoError(t, err)
	var order []models.MessageID
	for _, c := range res.Promoted {
		order = append(order, c.ID)
	}
	assert.Equal(t, []models.MessageID{intentID(2), intentID(1), intentID(3)}, order)
}

func TestConfirmationGateReplacesMovedCandidate(t *testing.T) {
	hashes := &staticHashes{hashes: map[uint64]common.Hash{101: blockHash(101)}}
	gate := NewConfirmationGate(3, hashes)

	id, intent := gateCandidate(5, 100, 0)
	gate.Add(id, intent)
	_, moved := gateCandidate(5, 101, 2)
	assert.True(t, gate.Add(id, moved))
	assert.Equal(t, 1, gate.Len())

	res, err := gate.Evaluate(context.Background(), 104)
	require.NoError(t, err)
	require.Len(t, res.Promoted, 1)
	assert.Equal(t, uint64(101), res.Promoted[0].Intent.SourceBlockNumber)
	assert.Empty(t, res.Discarded)
}

func TestConfirmationGateKeepsUndecidedOnError(t *testing.T) {
	hashes := &staticHashes{
		hashes: map[uint64]common.Hash{100: blockHash(100)},
		fail:   map[uint64]bool{101: true},
	}
	gate := NewConfirmationGate(1, hashes)
	idA, a := gateCandidate(1, 100, 0)
	idB, b := gateCandidate(2, 101, 0)
	gate.Add(idA, a)
	gate.Add(idB, b)

	res, err := gate.Evaluate(context.Background(), 110)
	require.Error(t, err)
	require.Len(t, res.Promoted, 1)
	assert.Equal(t, idA, res.Promoted[0].ID)
	assert.True(t, gate.Contains(idB))
	assert.False(t, gate.Contains(idA))
}

func TestConfirmationGateRemove(t *testing.T) {
	gate := NewConfirmationGate(3, &staticHashes{})
	id, intent := gateCandidate(1, 100, 0)
	gate.Add(id, intent)
	assert.True(t, gate.Remove(id))
	assert.False(t, gate.Remove(id))
	assert.Zero(t, gate.Len())
	assert.Empty(t, gate.Pending())
}
