// Package merkle provides domain-separated Merkle tree construction and
// inclusion proofs, wired by pkg/verify.BatchEvidence to produce one
// summary root over a batch of sessions for out-of-band archival.
//
// Grounded on core/pkg/merkle/tree.go and core/pkg/merkle/proof.go
// (domain-separated leaf/node prefixes, odd-node self-duplication), adapted
// to use pkg/canon instead of a kernel/csnf dependency (dropped entirely,
// see DESIGN.md).
package merkle

import (
	"bytes"
	"encoding/hex"
	"sort"

	"github.com/govatlas/core/pkg/canon"
	"github.com/govatlas/core/pkg/ident"
)

const (
	leafDomain = "govatlas:evidence:leaf:v1"
	nodeDomain = "govatlas:evidence:node:v1"
)

// Leaf is one path/value pair committed into the tree.
type Leaf struct {
	Path     string
	LeafHash string
}

// Tree is a constructed Merkle tree over a batch of session (or any
// path-keyed) values.
type Tree struct {
	Leaves []Leaf
	Levels [][]string // bottom-up, Levels[len-1] is [Root]
	Root   string
}

// Build constructs a Tree from a map of path -> arbitrary JSON value,
// canonicalizing each value via pkg/canon before hashing so the tree is
// reproducible across implementations.
func Build(data map[string]any) (*Tree, error) {
	paths := make([]string, 0, len(data))
	for k := range data {
		paths = append(paths, k)
	}
	sort.Strings(paths)

	leaves := make([]Leaf, len(paths))
	for i, path := range paths {
		canonical, err := canon.JSON(data[path])
		if err != nil {
			return nil, err
		}
		leaves[i] = Leaf{Path: path, LeafHash: leafHash(path, canonical)}
	}

	if len(leaves) == 0 {
		return &Tree{Root: ""}, nil
	}

	tree := &Tree{Leaves: leaves}
	level := hashesOf(leaves)
	for len(level) > 1 {
		tree.Levels = append(tree.Levels, level)
		level = nextLevel(level)
	}
	tree.Levels = append(tree.Levels, level)
	tree.Root = level[0]
	return tree, nil
}

// Proof returns an inclusion proof for path, or false if path is not a
// member of the tree.
func (t *Tree) Proof(path string) (InclusionProof, bool) {
	idx := -1
	for i, l := range t.Leaves {
		if l.Path == path {
			idx = i
			break
		}
	}
	if idx == -1 {
		return InclusionProof{}, false
	}

	proof := InclusionProof{LeafPath: path, LeafHash: t.Leaves[idx].LeafHash, MerkleRoot: t.Root}
	level := hashesOf(t.Leaves)
	pos := idx
	for len(level) > 1 {
		siblingPos := pos ^ 1
		if siblingPos >= len(level) {
			siblingPos = pos // odd node self-duplication
		}
		side := "R"
		if siblingPos < pos {
			side = "L"
		}
		proof.Path = append(proof.Path, ProofStep{Side: side, SiblingHash: level[siblingPos]})
		level = nextLevel(level)
		pos /= 2
	}
	return proof, true
}

func leafHash(path string, canonical []byte) string {
	var buf bytes.Buffer
	buf.WriteString(leafDomain)
	buf.WriteByte(0)
	buf.WriteString(path)
	buf.WriteByte(0)
	buf.Write(canonical)
	return ident.SHA256Hex(buf.Bytes())
}

func nodeHash(left, right string) string {
	var buf bytes.Buffer
	buf.WriteString(nodeDomain)
	buf.WriteByte(0)
	buf.Write(mustHex(left))
	buf.Write(mustHex(right))
	return ident.SHA256Hex(buf.Bytes())
}

func hashesOf(leaves []Leaf) []string {
	out := make([]string, len(leaves))
	for i, l := range leaves {
		out[i] = l.LeafHash
	}
	return out
}

func nextLevel(level []string) []string {
	if len(level)%2 != 0 {
		level = append(level, level[len(level)-1])
	}
	out := make([]string, len(level)/2)
	for i := 0; i < len(level); i += 2 {
		out[i/2] = nodeHash(level[i], level[i+1])
	}
	return out
}

func mustHex(s string) []byte {
	b, _ := hex.DecodeString(s)
	return b
}
