package smt_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nilmap/smt/smt"
)

func TestProofVerifiesInclusion(t *testing.T) {
	tree := newTestTree(t)

	_, err := tree.Update([]byte("k1"), []byte("v1"))
	require.NoError(t, err)
	_, err = tree.Update([]byte("k2"), []byte("v2"))
	require.NoError(t, err)

	proof, err := tree.Prove([]byte("k1"), tree.Root())
	require.NoError(t, err)

	ok, err := smt.Verify(proof, tree.Root(), []byte("k1"), []byte("v1"), smt.NewKeccak256Hasher())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestProofRejectsWrongValue(t *testing.T) {
	tree := newTestTree(t)

	_, err := tree.Update([]byte("k1"), []byte("v1"))
	require.NoError(t, err)

	proof, err := tree.Prove([]byte("k1"), tree.Root())
	require.NoError(t, err)

	ok, err := smt.Verify(proof, tree.Root(), []byte("k1"), []byte("not-v1"), smt.NewKeccak256Hasher())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProofVerifiesNonMembershipAgainstEmptyTree(t *testing.T) {
	tree := newTestTree(t)

	proof, err := tree.Prove([]byte("k1"), tree.Root())
	require.NoError(t, err)
	assert.Nil(t, proof.NonMembershipLeafData)
	assert.Empty(t, proof.SideNodes)

	ok, err := smt.Verify(proof, tree.Root(), []byte("k1"), nil, smt.NewKeccak256Hasher())
	require.NoError(t, err)
	assert.True(t, ok)
}

// P9: expanding a compact proof via its bitmask yields the original full
// sidenode list.
func TestCompactProofRoundTrip(t *testing.T) {
	tree := newTestTree(t)

	for i := 0; i < 32; i++ {
		_, err := tree.Update([]byte{byte(i)}, []byte{byte(i), byte(i)})
		require.NoError(t, err)
	}

	proof, err := tree.Prove([]byte{17}, tree.Root())
	require.NoError(t, err)

	compact := smt.Compact(proof)
	expanded := smt.Decompact(compact, 32)

	require.Equal(t, len(proof.SideNodes), len(expanded.SideNodes))
	for i := range proof.SideNodes {
		assert.True(t, bytes.Equal(proof.SideNodes[i], expanded.SideNodes[i]))
	}

	ok, err := smt.Verify(expanded, tree.Root(), []byte{17}, []byte{17, 17}, smt.NewKeccak256Hasher())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestProofWireCodecRoundTrip(t *testing.T) {
	tree := newTestTree(t)

	_, err := tree.Update([]byte("k1"), []byte("v1"))
	require.NoError(t, err)
	_, err = tree.Update([]byte("k2"), []byte("v2"))
	require.NoError(t, err)

	proof, err := tree.Prove([]byte("k1"), tree.Root())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, smt.EncodeProof(&buf, proof))

	decoded, err := smt.DecodeProof(&buf)
	require.NoError(t, err)

	require.Equal(t, len(proof.SideNodes), len(decoded.SideNodes))
	for i := range proof.SideNodes {
		assert.True(t, bytes.Equal(proof.SideNodes[i], decoded.SideNodes[i]))
	}
	assert.Equal(t, proof.NonMembershipLeafData, decoded.NonMembershipLeafData)
}

func TestCompactProofWireCodecRoundTrip(t *testing.T) {
	tree := newTestTree(t)

	for i := 0; i < 16; i++ {
		_, err := tree.Update([]byte{byte(i)}, []byte{byte(i)})
		require.NoError(t, err)
	}

	compact, err := tree.ProveCompact([]byte{3}, tree.Root())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, smt.EncodeCompactProof(&buf, compact))

	decoded, err := smt.DecodeCompactProof(&buf)
	require.NoError(t, err)

	assert.Equal(t, compact.NumSideNodes, decoded.NumSideNodes)
	assert.Equal(t, compact.Bitmask, decoded.Bitmask)
	require.Equal(t, len(compact.SideNodes), len(decoded.SideNodes))
	for i := range compact.SideNodes {
		assert.True(t, bytes.Equal(compact.SideNodes[i], decoded.SideNodes[i]))
	}
}
