package smt_test

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nilmap/smt/smt"
)

func newTestTree(t *testing.T) *smt.Tree {
	t.Helper()
	return smt.New(smt.NewMemStore(), smt.NewMemStore())
}

func TestEmptyTreeRoot(t *testing.T) {
	tree := newTestTree(t)

	assert.Equal(t, make([]byte, 32), tree.Root())

	value, err := tree.Get([]byte("anything"))
	require.NoError(t, err)
	assert.Empty(t, value)
}

func TestSingleInsert(t *testing.T) {
	tree := newTestTree(t)

	root, err := tree.Update([]byte("k1"), []byte("v1"))
	require.NoError(t, err)
	assert.Equal(t, root, tree.Root())

	value, err := tree.Get([]byte("k1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), value)
}

func TestTwoInsertsBothRetrievable(t *testing.T) {
	tree := newTestTree(t)

	_, err := tree.Update([]byte("k1"), []byte("v1"))
	require.NoError(t, err)
	_, err = tree.Update([]byte("k2"), []byte("v2"))
	require.NoError(t, err)

	v1, err := tree.Get([]byte("k1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), v1)

	v2, err := tree.Get([]byte("k2"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), v2)
}

func TestDeleteToEmpty(t *testing.T) {
	tree := newTestTree(t)

	_, err := tree.Update([]byte("k1"), []byte("v1"))
	require.NoError(t, err)
	_, err = tree.Update([]byte("k2"), []byte("v2"))
	require.NoError(t, err)

	_, err = tree.Delete([]byte("k1"))
	require.NoError(t, err)
	root, err := tree.Delete([]byte("k2"))
	require.NoError(t, err)

	assert.Equal(t, make([]byte, 32), root)
	assert.Equal(t, root, tree.Root())
}

func TestDeleteOneOfTwoLeavesSurvivorAtRoot(t *testing.T) {
	tree := newTestTree(t)

	_, err := tree.Update([]byte("k1"), []byte("v1"))
	require.NoError(t, err)
	_, err = tree.Update([]byte("k2"), []byte("v2"))
	require.NoError(t, err)

	root, err := tree.Delete([]byte("k2"))
	require.NoError(t, err)

	// P7: a single-leaf tree's root is exactly the leaf digest.
	single := newTestTree(t)
	wantRoot, err := single.Update([]byte("k1"), []byte("v1"))
	require.NoError(t, err)

	assert.Equal(t, wantRoot, root)
}

func TestDeleteAbsentKeyIsNoop(t *testing.T) {
	tree := newTestTree(t)

	_, err := tree.Update([]byte("k1"), []byte("v1"))
	require.NoError(t, err)
	before := tree.Root()

	after, err := tree.Delete([]byte("does-not-exist"))
	require.NoError(t, err)

	assert.Equal(t, before, after)
}

func TestUpdateRejectsEmptyValue(t *testing.T) {
	tree := newTestTree(t)

	_, err := tree.Update([]byte("k1"), nil)
	require.Error(t, err)
}

func TestUpdateIdempotentOnSameValue(t *testing.T) {
	tree := newTestTree(t)

	first, err := tree.Update([]byte("k1"), []byte("v1"))
	require.NoError(t, err)

	second, err := tree.Update([]byte("k1"), []byte("v1"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestUpdateOverwritesDifferentValue(t *testing.T) {
	tree := newTestTree(t)

	first, err := tree.Update([]byte("k1"), []byte("v1"))
	require.NoError(t, err)

	second, err := tree.Update([]byte("k1"), []byte("v2"))
	require.NoError(t, err)

	assert.NotEqual(t, first, second)

	value, err := tree.Get([]byte("k1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), value)
}

func TestNonMembershipProof(t *testing.T) {
	tree := newTestTree(t)

	_, err := tree.Update([]byte("k1"), []byte("v1"))
	require.NoError(t, err)
	_, err = tree.Update([]byte("k2"), []byte("v2"))
	require.NoError(t, err)

	// "k5"'s path shares its first bit with k1's and k2's, so its traversal
	// ends on one of their leaves rather than on a placeholder.
	proof, err := tree.Prove([]byte("k5"), tree.Root())
	require.NoError(t, err)
	require.NotEmpty(t, proof.NonMembershipLeafData)

	ok, err := smt.Verify(proof, tree.Root(), []byte("k5"), nil, smt.NewKeccak256Hasher())
	require.NoError(t, err)
	assert.True(t, ok)
}

// P2: deterministic root regardless of insertion order.
func TestDeterministicRootRegardlessOfOrder(t *testing.T) {
	kvs := map[string]string{
		"alpha":   "1",
		"bravo":   "2",
		"charlie": "3",
		"delta":   "4",
	}

	rootA := rootAfterInserting(t, kvs, []string{"alpha", "bravo", "charlie", "delta"})
	rootB := rootAfterInserting(t, kvs, []string{"delta", "charlie", "bravo", "alpha"})

	assert.Equal(t, rootA, rootB)
}

func rootAfterInserting(t *testing.T, kvs map[string]string, order []string) []byte {
	t.Helper()
	tree := newTestTree(t)
	for _, k := range order {
		_, err := tree.Update([]byte(k), []byte(kvs[k]))
		require.NoError(t, err)
	}
	return tree.Root()
}

// Exercises the engine under a randomized mix of inserts, updates, and
// deletes, checking every surviving key's value at the end. Adapted from
// the teacher package's bulk test.
func TestBulkOperations(t *testing.T) {
	for round := 0; round < 5; round++ {
		bulkOperations(t, 200, 400, 400, 100)
	}
	for round := 0; round < 5; round++ {
		bulkOperations(t, 200, 100, 100, 500)
	}
}

func bulkOperations(t *testing.T, ops, insertWeight, updateWeight, deleteWeight int) {
	t.Helper()

	tree := newTestTree(t)
	live := make(map[string]string)
	max := insertWeight + updateWeight + deleteWeight

	for i := 0; i < ops; i++ {
		n := rand.Intn(max)
		switch {
		case n < insertWeight:
			key := randomBytes(8 + rand.Intn(24))
			value := randomBytes(1 + rand.Intn(64))
			live[string(key)] = string(value)
			_, err := tree.Update(key, value)
			require.NoError(t, err)
		case n < insertWeight+updateWeight:
			key := pickKey(live)
			if key == "" {
				continue
			}
			value := randomBytes(1 + rand.Intn(64))
			live[key] = string(value)
			_, err := tree.Update([]byte(key), value)
			require.NoError(t, err)
		default:
			key := pickKey(live)
			if key == "" {
				continue
			}
			delete(live, key)
			_, err := tree.Delete([]byte(key))
			require.NoError(t, err)
		}
	}

	for k, v := range live {
		got, err := tree.Get([]byte(k))
		require.NoError(t, err)
		assert.True(t, bytes.Equal([]byte(v), got))
	}

	if len(live) == 0 {
		assert.Equal(t, make([]byte, 32), tree.Root())
	}
}

func pickKey(m map[string]string) string {
	for k := range m {
		return k
	}
	return ""
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	rand.Read(b)
	return b
}
