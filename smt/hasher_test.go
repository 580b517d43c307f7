package smt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTreeHasherLeafRoundTrip(t *testing.T) {
	th := newTreeHasher(NewKeccak256Hasher())

	path := th.path([]byte("some-key"))
	valueHash := th.digest([]byte("some-value"))

	digest, payload := th.digestLeaf(path, valueHash)

	require.True(t, th.isLeaf(payload))
	assert.Equal(t, digest, th.digest(payload))

	gotPath, gotValueHash := th.parseLeaf(payload)
	assert.Equal(t, path, gotPath)
	assert.Equal(t, valueHash, gotValueHash)
}

func TestTreeHasherNodeRoundTrip(t *testing.T) {
	th := newTreeHasher(NewKeccak256Hasher())

	left := th.digest([]byte("left"))
	right := th.digest([]byte("right"))

	digest, payload := th.digestNode(left, right)

	require.False(t, th.isLeaf(payload))
	assert.Equal(t, digest, th.digest(payload))

	gotLeft, gotRight := th.parseNode(payload)
	assert.Equal(t, left, gotLeft)
	assert.Equal(t, right, gotRight)
}

func TestTreeHasherDomainSeparation(t *testing.T) {
	th := newTreeHasher(NewKeccak256Hasher())

	// A leaf and an internal node built from colliding byte runs must never
	// produce the same digest, since the prefix byte is part of the hashed
	// payload.
	path := th.digest([]byte("a"))
	valueHash := th.digest([]byte("b"))
	leafDigest, _ := th.digestLeaf(path, valueHash)
	nodeDigest, _ := th.digestNode(path, valueHash)

	assert.NotEqual(t, leafDigest, nodeDigest)
}

func TestTreeHasherPlaceholderWidth(t *testing.T) {
	th := newTreeHasher(NewKeccak256Hasher())

	assert.True(t, th.isPlaceholder(th.placeholder()))
	assert.Len(t, th.placeholder(), th.pathSize())
	assert.Equal(t, 32, th.pathSize())
}

func TestTreeHasherSHA256(t *testing.T) {
	th := newTreeHasher(NewSHA256Hasher())
	assert.Equal(t, 32, th.pathSize())
}
