package smt

import (
	"bytes"
	"encoding/binary"
	"hash"
	"io"

	"github.com/pkg/errors"

	"github.com/nilmap/smt/bitops"
)

// Proof is a full inclusion/exclusion proof for one key against one root.
type Proof struct {
	// SideNodes are the sibling digests collected by sidenodes(), deepest
	// first, with placeholder siblings omitted from neither list (a full
	// proof keeps every non-nil sidenode the traversal visited).
	SideNodes [][]byte
	// NonMembershipLeafData is nil for a root-is-placeholder or a genuine
	// inclusion proof, and the colliding leaf's payload for a genuine
	// non-membership proof (a different key occupies this path).
	NonMembershipLeafData []byte
}

// CompactProof is Proof with placeholder sidenodes elided and recorded in
// a bitmask instead, for a smaller wire size at deep traversal depths.
type CompactProof struct {
	SideNodes             [][]byte
	Bitmask               []byte
	NumSideNodes          int
	NonMembershipLeafData []byte
}

// Prove generates a full proof for key against root.
func (t *Tree) Prove(key, root []byte) (Proof, error) {
	path := t.th.path(key)
	sidenodes, pathnodes, leafPayload, err := t.sidenodes(path, root)
	if err != nil {
		return Proof{}, err
	}

	var nonMembership []byte
	if !t.th.isPlaceholder(pathnodes[0]) {
		actualPath, _ := t.th.parseLeaf(leafPayload)
		if !bytes.Equal(actualPath, path) {
			nonMembership = leafPayload
		}
	}

	return Proof{
		SideNodes:             sidenodes,
		NonMembershipLeafData: nonMembership,
	}, nil
}

// ProveCompact generates a compact proof for key against root.
func (t *Tree) ProveCompact(key, root []byte) (CompactProof, error) {
	proof, err := t.Prove(key, root)
	if err != nil {
		return CompactProof{}, err
	}
	return Compact(proof), nil
}

// Compact elides placeholder sidenodes from proof, recording their
// positions (deepest-first) in a bitmask.
func Compact(proof Proof) CompactProof {
	var bitmask []byte
	var compacted [][]byte

	placeholder := make([]byte, 0)
	if len(proof.SideNodes) > 0 {
		placeholder = make([]byte, len(proof.SideNodes[0]))
	}

	for i, sideNode := range proof.SideNodes {
		if bytes.Equal(sideNode, placeholder) {
			bitmask = bitops.SetBit(bitmask, i)
			continue
		}
		compacted = append(compacted, sideNode)
	}

	return CompactProof{
		SideNodes:             compacted,
		Bitmask:               bitmask,
		NumSideNodes:          len(proof.SideNodes),
		NonMembershipLeafData: proof.NonMembershipLeafData,
	}
}

// Decompact reconstructs the full sidenode list a CompactProof was built
// from, restoring placeholder sidenodes at the positions the bitmask
// marks.
func Decompact(proof CompactProof, digestSize int) Proof {
	placeholder := make([]byte, digestSize)

	full := make([][]byte, proof.NumSideNodes)
	next := 0
	for i := 0; i < proof.NumSideNodes; i++ {
		if len(proof.Bitmask)*8 > i && bitops.BitAt(proof.Bitmask, i) == 1 {
			full[i] = placeholder
			continue
		}
		full[i] = proof.SideNodes[next]
		next++
	}

	return Proof{
		SideNodes:             full,
		NonMembershipLeafData: proof.NonMembershipLeafData,
	}
}

// Verify checks whether proof demonstrates that key maps to value (an
// inclusion claim) or is absent (value is nil/empty, an exclusion claim)
// against root, hashing with newHash.
func Verify(proof Proof, root, key, value []byte, newHash func() hash.Hash) (bool, error) {
	th := newTreeHasher(newHash)
	path := th.path(key)
	depth := th.pathSize() * 8

	var current []byte
	if len(value) == 0 {
		// Exclusion claim.
		if proof.NonMembershipLeafData == nil {
			current = th.placeholder()
		} else {
			if !th.isLeaf(proof.NonMembershipLeafData) {
				return false, errors.New("non-membership leaf data is not a leaf payload")
			}
			actualPath, _ := th.parseLeaf(proof.NonMembershipLeafData)
			if bytes.Equal(actualPath, path) {
				return false, nil // the colliding leaf can't be this very key
			}
			current = th.digest(proof.NonMembershipLeafData)
		}
	} else {
		valueHash := th.digest(value)
		current, _ = th.digestLeaf(path, valueHash)
	}

	// Sidenodes run deepest-first; rehash upward exactly as the engine
	// builds the tree on insert, combining the bottom-most sidenode first.
	offset := depth - len(proof.SideNodes)
	for i := offset; i < depth; i++ {
		sideNode := proof.SideNodes[i-offset]
		if bitops.BitAt(path, depth-1-i) == bitops.Right {
			current, _ = th.digestNode(sideNode, current)
		} else {
			current, _ = th.digestNode(current, sideNode)
		}
	}

	return bytes.Equal(current, root), nil
}

// --- Wire codec, per spec's normative proof wire format: a length-prefixed
// list of n-byte digests followed by a length-prefixed (possibly empty)
// non-membership leaf payload. A compact proof additionally carries a
// length-prefixed bitmask.

func writeLenPrefixed(w io.Writer, b []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readLenPrefixed(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// EncodeProof writes proof to w in the normative wire format.
func EncodeProof(w io.Writer, proof Proof) error {
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(proof.SideNodes)))
	if _, err := w.Write(countBuf[:]); err != nil {
		return err
	}
	for _, sideNode := range proof.SideNodes {
		if err := writeLenPrefixed(w, sideNode); err != nil {
			return err
		}
	}
	return writeLenPrefixed(w, proof.NonMembershipLeafData)
}

// DecodeProof reads a Proof previously written by EncodeProof.
func DecodeProof(r io.Reader) (Proof, error) {
	var countBuf [4]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return Proof{}, err
	}
	count := binary.BigEndian.Uint32(countBuf[:])

	sideNodes := make([][]byte, 0, count)
	for i := uint32(0); i < count; i++ {
		sideNode, err := readLenPrefixed(r)
		if err != nil {
			return Proof{}, err
		}
		sideNodes = append(sideNodes, sideNode)
	}

	nonMembership, err := readLenPrefixed(r)
	if err != nil {
		return Proof{}, err
	}
	if len(nonMembership) == 0 {
		nonMembership = nil
	}

	return Proof{SideNodes: sideNodes, NonMembershipLeafData: nonMembership}, nil
}

// EncodeCompactProof writes proof to w in the normative compact wire
// format: sidenode count, compacted sidenodes, bitmask, non-membership leaf.
func EncodeCompactProof(w io.Writer, proof CompactProof) error {
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(proof.NumSideNodes))
	if _, err := w.Write(countBuf[:]); err != nil {
		return err
	}

	var sideCountBuf [4]byte
	binary.BigEndian.PutUint32(sideCountBuf[:], uint32(len(proof.SideNodes)))
	if _, err := w.Write(sideCountBuf[:]); err != nil {
		return err
	}
	for _, sideNode := range proof.SideNodes {
		if err := writeLenPrefixed(w, sideNode); err != nil {
			return err
		}
	}

	if err := writeLenPrefixed(w, proof.Bitmask); err != nil {
		return err
	}
	return writeLenPrefixed(w, proof.NonMembershipLeafData)
}

// DecodeCompactProof reads a CompactProof previously written by
// EncodeCompactProof.
func DecodeCompactProof(r io.Reader) (CompactProof, error) {
	var countBuf [4]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return CompactProof{}, err
	}
	numSideNodes := binary.BigEndian.Uint32(countBuf[:])

	var sideCountBuf [4]byte
	if _, err := io.ReadFull(r, sideCountBuf[:]); err != nil {
		return CompactProof{}, err
	}
	sideCount := binary.BigEndian.Uint32(sideCountBuf[:])

	sideNodes := make([][]byte, 0, sideCount)
	for i := uint32(0); i < sideCount; i++ {
		sideNode, err := readLenPrefixed(r)
		if err != nil {
			return CompactProof{}, err
		}
		sideNodes = append(sideNodes, sideNode)
	}

	bitmask, err := readLenPrefixed(r)
	if err != nil {
		return CompactProof{}, err
	}
	if len(bitmask) == 0 {
		bitmask = nil
	}

	nonMembership, err := readLenPrefixed(r)
	if err != nil {
		return CompactProof{}, err
	}
	if len(nonMembership) == 0 {
		nonMembership = nil
	}

	return CompactProof{
		SideNodes:             sideNodes,
		Bitmask:               bitmask,
		NumSideNodes:          int(numSideNodes),
		NonMembershipLeafData: nonMembership,
	}, nil
}
