// Package merkle commits to a set of announcement hashes.
package merkle

import (
	"github.com/pkg/errors"

	"github.com/nganji523/packetcrypt-rs/internal/crypto"
	"github.com/nganji523/packetcrypt-rs/pkg/types"
)

// ProofStep is one sibling on the path from a leaf to the root
type ProofStep struct {
	Sibling types.Hash
	Left    bool // sibling is the left operand
}

func hashPair(left, right *types.Hash) types.Hash {
	w := crypto.NewHashWriter()
	w.InfallibleWrite(left[:])
	w.InfallibleWrite(right[:])
	return w.Finalize()
}

// nextLevel pairs up a level, duplicating the last node of odd levels
func nextLevel(level []types.Hash) []types.Hash {
	if len(level)%2 != 0 {
		level = append(level, level[len(level)-1])
	}

	next := make([]types.Hash, 0, len(level)/2)
	for i := 0; i < len(level); i += 2 {
		next = append(next, hashPair(&level[i], &level[i+1]))
	}
	return next
}

// BuildMerkleRoot constructs a merkle root from announcement hashes.
// If there's an odd number of hashes, the last one is duplicated
func BuildMerkleRoot(hashes []types.Hash) types.Hash {
	if len(hashes) == 0 {
		return types.Hash{}
	}

	// Make a copy to avoid modifying the original slice
	level := make([]types.Hash, len(hashes))
	copy(level, hashes)

	for len(level) > 1 {
		level = nextLevel(level)
	}
	return level[0]
}

// BuildMerkleTree builds the complete merkle tree and returns all levels,
// leaves first
func BuildMerkleTree(hashes []types.Hash) [][]types.Hash {
	if len(hashes) == 0 {
		return nil
	}

	level := make([]types.Hash, len(hashes))
	copy(level, hashes)
	tree := [][]types.Hash{level}

	for len(level) > 1 {
		level = nextLevel(level)
		tree = append(tree, level)
	}
	return tree
}

// BuildProof returns the sibling path of the leaf at index
func BuildProof(hashes []types.Hash, index int) ([]ProofStep, error) {
	if index < 0 || index >= len(hashes) {
		return nil, errors.Errorf("leaf index %d out of range [0, %d)", index, len(hashes))
	}

	tree := BuildMerkleTree(hashes)
	var proof []ProofStep
	for _, level := range tree[:len(tree)-1] {
		sibling := index ^ 1
		if sibling >= len(level) {
			sibling = index
		}
		proof = append(proof, ProofStep{Sibling: level[sibling], Left: sibling < index})
		index /= 2
	}
	return proof, nil
}

// VerifyProof checks that leaf is committed to by root through proof
func VerifyProof(root, leaf types.Hash, proof []ProofStep) bool {
	current := leaf
	for i := range proof {
		step := &proof[i]
		if step.Left {
			current = hashPair(&step.Sibling, &current)
		} else {
			current = hashPair(&current, &step.Sibling)
		}
	}
	return current == root
}
