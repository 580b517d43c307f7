package smt

import (
	"bytes"
	"crypto/sha256"
	"hash"

	"golang.org/x/crypto/sha3"
)

var (
	leafPrefix = []byte{0x00}
	nodePrefix = []byte{0x01}
)

// treeHasher provides domain-separated hashing of leaf and internal node
// payloads, path derivation, and payload parsing. It never retains a
// hash.Hash instance across calls: newHash is invoked fresh each time so
// the hasher is safe to share across concurrent readers.
type treeHasher struct {
	newHash func() hash.Hash
	size    int // digest size n, in bytes
}

func newTreeHasher(newHash func() hash.Hash) *treeHasher {
	size := newHash().Size()
	return &treeHasher{
		newHash: newHash,
		size:    size,
	}
}

// NewKeccak256Hasher returns the Keccak-256 hash constructor, the digest
// used throughout this package's worked examples.
func NewKeccak256Hasher() func() hash.Hash {
	return sha3.NewLegacyKeccak256
}

// NewSHA256Hasher returns the SHA-256 hash constructor.
func NewSHA256Hasher() func() hash.Hash {
	return sha256.New
}

func (th *treeHasher) digest(data []byte) []byte {
	h := th.newHash()
	h.Write(data)
	return h.Sum(nil)
}

// path derives a key's position in the tree.
func (th *treeHasher) path(key []byte) []byte {
	return th.digest(key)
}

// pathSize is the digest width n, in bytes. The tree's depth is 8*pathSize.
func (th *treeHasher) pathSize() int {
	return th.size
}

func (th *treeHasher) placeholder() []byte {
	return make([]byte, th.size)
}

func (th *treeHasher) isPlaceholder(data []byte) bool {
	return bytes.Equal(data, th.placeholder())
}

// digestLeaf builds a leaf payload (0x00 ‖ path ‖ valueHash) and returns
// its digest alongside the payload.
func (th *treeHasher) digestLeaf(path, valueHash []byte) ([]byte, []byte) {
	payload := make([]byte, 0, len(leafPrefix)+len(path)+len(valueHash))
	payload = append(payload, leafPrefix...)
	payload = append(payload, path...)
	payload = append(payload, valueHash...)
	return th.digest(payload), payload
}

// digestNode builds an internal payload (0x01 ‖ left ‖ right) and returns
// its digest alongside the payload.
func (th *treeHasher) digestNode(left, right []byte) ([]byte, []byte) {
	payload := make([]byte, 0, len(nodePrefix)+len(left)+len(right))
	payload = append(payload, nodePrefix...)
	payload = append(payload, left...)
	payload = append(payload, right...)
	return th.digest(payload), payload
}

// parseLeaf slices a leaf payload into (path, valueHash). Panics if
// payload is shorter than 1+2n, which indicates store corruption — a
// programmer error per spec's invariant 1.
func (th *treeHasher) parseLeaf(payload []byte) (path, valueHash []byte) {
	want := len(leafPrefix) + 2*th.size
	if len(payload) < want {
		panic(ErrMalformedPayload)
	}
	path = payload[len(leafPrefix) : len(leafPrefix)+th.size]
	valueHash = payload[len(leafPrefix)+th.size:]
	return path, valueHash
}

// parseNode slices an internal payload into (left, right).
func (th *treeHasher) parseNode(payload []byte) (left, right []byte) {
	want := len(nodePrefix) + 2*th.size
	if len(payload) < want {
		panic(ErrMalformedPayload)
	}
	left = payload[len(nodePrefix) : len(nodePrefix)+th.size]
	right = payload[len(nodePrefix)+th.size:]
	return left, right
}

func (th *treeHasher) isLeaf(payload []byte) bool {
	return len(payload) > 0 && payload[0] == leafPrefix[0]
}
