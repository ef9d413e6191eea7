package merkle

import (
	"bytes"
	"strings"

	"github.com/govatlas/core/pkg/ident"
)

// InclusionProof lets a verifier confirm a leaf's membership in a tree
// without holding the whole tree.
type InclusionProof struct {
	LeafPath   string      `json:"leaf_path"`
	LeafHash   string      `json:"leaf_hash"`
	MerkleRoot string      `json:"merkle_root"`
	Path       []ProofStep `json:"proof_path"`
}

// ProofStep is one sibling hash on the path from a leaf to the root.
type ProofStep struct {
	Side        string `json:"side"` // "L" or "R": which side the sibling sits on
	SiblingHash string `json:"sibling_hash"`
}

// VerifyInclusion recomputes the root from proof and compares it against
// expectedRoot (the root the verifier already trusts).
func VerifyInclusion(proof InclusionProof, expectedRoot string) bool {
	current := proof.LeafHash
	for _, step := range proof.Path {
		var buf bytes.Buffer
		buf.WriteString(nodeDomain)
		buf.WriteByte(0)
		if step.Side == "L" {
			buf.Write(mustHex(step.SiblingHash))
			buf.Write(mustHex(current))
		} else {
			buf.Write(mustHex(current))
			buf.Write(mustHex(step.SiblingHash))
		}
		current = ident.SHA256Hex(buf.Bytes())
	}
	return strings.EqualFold(current, expectedRoot) && strings.EqualFold(current, proof.MerkleRoot)
}
