package ctf

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
)

// CollateralID is the asset id the bridge uses for the collateral token itself.
var CollateralID = big.NewInt(0)

// BinaryPartition splits a two-outcome condition into its two index sets.
var BinaryPartition = []uint64{1, 2}

// ConditionID derives keccak256(oracle ‖ questionId ‖ uint256(outcomeSlotCount)).
func ConditionID(oracle common.Address, questionID common.Hash, outcomeSlotCount int) common.Hash {
	return crypto.Keccak256Hash(
		oracle.Bytes(),
		questionID.Bytes(),
		math.U256Bytes(big.NewInt(int64(outcomeSlotCount))),
	)
}

// CollectionID derives the collection of a single index set under the root
// collection.
func CollectionID(conditionID common.Hash, indexSet uint64) common.Hash {
	return crypto.Keccak256Hash(
		conditionID.Bytes(),
		math.U256Bytes(new(big.Int).SetUint64(indexSet)),
	)
}

// PositionID derives uint256(keccak256(collateral ‖ collectionId)).
func PositionID(collateral common.Address, collectionID common.Hash) *big.Int {
	return new(big.Int).SetBytes(crypto.Keccak256(collateral.Bytes(), collectionID.Bytes()))
}

// PositionIDFor is the outcome token id for indexSet of conditionID.
func PositionIDFor(collateral common.Address, conditionID common.Hash, indexSet uint64) *big.Int {
	return PositionID(collateral, CollectionID(conditionID, indexSet))
}

func fullIndexSet(slots int) uint64 {
	if slots >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(slots)) - 1
}
