// Package smt implements an authenticated sparse Merkle tree: a key-value
// map in which every possible digest-shaped key has a position, and a
// single root digest binds the entire mapping.
package smt

import (
	"bytes"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/nilmap/smt/bitops"
)

// Tree is a sparse Merkle tree over a node Store and a value Store.
type Tree struct {
	th            *treeHasher
	nodes, values Store
	root          []byte
	log           zerolog.Logger
	metrics       *metrics
}

// New creates a Tree over nodes and values, with its root initialized to
// the placeholder digest.
func New(nodes, values Store, opts ...Option) *Tree {
	cfg := DefaultConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	th := newTreeHasher(cfg.newHash)
	t := &Tree{
		th:      th,
		nodes:   nodes,
		values:  values,
		root:    th.placeholder(),
		log:     cfg.log,
		metrics: newMetrics(cfg.registry),
	}
	return t
}

// Import creates a Tree over a non-empty node/value Store pair, with its
// root set to an already-known digest.
func Import(nodes, values Store, root []byte, opts ...Option) *Tree {
	t := New(nodes, values, opts...)
	t.root = root
	return t
}

// Root returns the current root digest.
func (t *Tree) Root() []byte {
	return t.root
}

// SetRoot sets the current root digest directly, without touching the
// stores. Used to move the tree's view between roots produced by
// *ForRoot operations.
func (t *Tree) SetRoot(root []byte) {
	t.root = root
}

func (t *Tree) depth() int {
	return t.th.pathSize() * 8
}

// Get returns the raw value stored for key, or a zero-length slice if
// key is absent.
func (t *Tree) Get(key []byte) ([]byte, error) {
	return t.GetFromRoot(key, t.root)
}

// GetFromRoot returns the raw value stored for key as seen from root,
// without changing the tree's current root.
func (t *Tree) GetFromRoot(key, root []byte) ([]byte, error) {
	t.metrics.recordOp("get")

	if t.th.isPlaceholder(root) {
		return []byte{}, nil
	}

	path := t.th.path(key)
	_, _, leafPayload, err := t.sidenodes(path, root)
	if err != nil {
		return nil, err
	}
	if leafPayload == nil {
		return []byte{}, nil
	}

	actualPath, valueHash := t.th.parseLeaf(leafPayload)
	if !bytes.Equal(actualPath, path) {
		return []byte{}, nil
	}

	value, err := t.values.Get(path)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return []byte{}, nil
		}
		return nil, wrapStoreErr(err)
	}
	if !bytes.Equal(t.th.digest(value), valueHash) {
		return nil, wrapStoreErr(errors.New("value record does not match leaf's value hash"))
	}
	return value, nil
}

// Has reports whether key currently holds a non-empty value.
func (t *Tree) Has(key []byte) (bool, error) {
	v, err := t.Get(key)
	return len(v) > 0, err
}

// Update sets value for key, rewriting the tree's root. value must be
// non-empty; Update rejects an empty value with ErrInvariantViolation —
// use Delete to remove a key.
func (t *Tree) Update(key, value []byte) ([]byte, error) {
	newRoot, err := t.UpdateForRoot(key, value, t.root)
	if err != nil {
		return nil, err
	}
	t.root = newRoot
	return newRoot, nil
}

// Delete removes key, rewriting the tree's root. Deleting an absent key
// leaves the root unchanged.
func (t *Tree) Delete(key []byte) ([]byte, error) {
	newRoot, err := t.DeleteForRoot(key, t.root)
	if err != nil {
		return nil, err
	}
	t.root = newRoot
	return newRoot, nil
}

// UpdateForRoot performs Update against an explicit root without touching
// the tree's current root, returning the resulting root.
func (t *Tree) UpdateForRoot(key, value, root []byte) ([]byte, error) {
	if len(value) == 0 {
		return nil, errors.Wrap(ErrInvariantViolation, "Update requires a non-empty value; use Delete")
	}

	path := t.th.path(key)
	sidenodes, pathnodes, oldLeafPayload, err := t.sidenodes(path, root)
	if err != nil {
		return nil, errors.Wrap(err, "sidenode traversal failed")
	}

	newRoot, err := t.updateWithSidenodes(path, value, sidenodes, pathnodes, oldLeafPayload, root)
	if err != nil {
		return nil, err
	}

	t.log.Debug().Hex("key_path", path).Hex("root", newRoot).Msg("updated key")
	return newRoot, nil
}

// DeleteForRoot performs Delete against an explicit root without touching
// the tree's current root, returning the resulting root.
func (t *Tree) DeleteForRoot(key, root []byte) ([]byte, error) {
	path := t.th.path(key)
	sidenodes, pathnodes, leafPayload, err := t.sidenodes(path, root)
	if err != nil {
		return nil, errors.Wrap(err, "sidenode traversal failed")
	}
	if leafPayload != nil {
		// The slot holds another key's leaf: this key is absent.
		if actualPath, _ := t.th.parseLeaf(leafPayload); !bytes.Equal(actualPath, path) {
			return root, nil
		}
	}

	newRoot, err := t.deleteWithSidenodes(path, sidenodes, pathnodes)
	if errors.Is(err, ErrKeyAlreadyEmpty) {
		return root, nil
	}
	if err != nil {
		return nil, err
	}

	if err := t.values.Delete(path); err != nil {
		return nil, wrapStoreErr(err)
	}

	t.log.Debug().Hex("key_path", path).Hex("root", newRoot).Msg("deleted key")
	return newRoot, nil
}

// sidenodes walks the tree from root along path, returning the sibling
// digests collected along the way (deepest-first after the trailing
// reversal), the pathnodes visited (deepest-first, always ending in
// root), and the payload of the terminal leaf if one was reached.
func (t *Tree) sidenodes(path, root []byte) (sidenodes, pathnodes [][]byte, leafPayload []byte, err error) {
	pathnodes = [][]byte{root}

	if t.th.isPlaceholder(root) {
		return nil, pathnodes, nil, nil
	}

	node, err := t.nodes.Get(root)
	if err != nil {
		return nil, nil, nil, wrapStoreErr(err)
	}
	if t.th.isLeaf(node) {
		return nil, pathnodes, node, nil
	}

	for i := 0; i < t.depth(); i++ {
		left, right := t.th.parseNode(node)

		var child, sibling []byte
		if bitops.BitAt(path, i) == bitops.Left {
			child, sibling = left, right
		} else {
			child, sibling = right, left
		}

		sidenodes = append(sidenodes, sibling)
		pathnodes = append(pathnodes, child)

		if t.th.isPlaceholder(child) {
			break
		}

		node, err = t.nodes.Get(child)
		if err != nil {
			t.log.Warn().Hex("digest", child).Msg("pathnode digest missing from node store")
			return nil, nil, nil, wrapStoreErr(errors.Wrap(errNotFound, err.Error()))
		}
		if t.th.isLeaf(node) {
			leafPayload = node
			break
		}
	}

	t.metrics.recordDepth(len(sidenodes))
	return reverseSlices(sidenodes), reverseSlices(pathnodes), leafPayload, nil
}

func (t *Tree) updateWithSidenodes(path, value []byte, sidenodes, pathnodes [][]byte, oldLeafPayload, rootBefore []byte) ([]byte, error) {
	t.metrics.recordOp("update")

	valueHash := t.th.digest(value)
	currentHash, currentPayload := t.th.digestLeaf(path, valueHash)

	var commonPrefixLen int
	var oldValueHash []byte
	if t.th.isPlaceholder(pathnodes[0]) {
		commonPrefixLen = t.depth()
	} else {
		actualPath, vh := t.th.parseLeaf(oldLeafPayload)
		oldValueHash = vh
		commonPrefixLen = bitops.CommonPrefixLen(actualPath, path)
	}

	if commonPrefixLen == t.depth() && oldValueHash != nil && bytes.Equal(oldValueHash, valueHash) {
		// Same path, same value hash: idempotent, no store writes needed.
		return rootBefore, nil
	}

	if err := t.nodes.Put(currentHash, currentPayload); err != nil {
		return nil, wrapStoreErr(err)
	}
	if err := t.values.Put(path, value); err != nil {
		return nil, wrapStoreErr(err)
	}

	if commonPrefixLen != t.depth() {
		// Case A: pair the new leaf with the conflicting existing leaf at
		// their point of divergence.
		if bitops.BitAt(path, commonPrefixLen) == bitops.Right {
			currentHash, currentPayload = t.th.digestNode(pathnodes[0], currentHash)
		} else {
			currentHash, currentPayload = t.th.digestNode(currentHash, pathnodes[0])
		}
		if err := t.nodes.Put(currentHash, currentPayload); err != nil {
			return nil, wrapStoreErr(err)
		}
	} else if !t.th.isPlaceholder(pathnodes[0]) {
		// Case B, different value: delete the stale leaf record.
		if err := t.nodes.Delete(pathnodes[0]); err != nil {
			return nil, wrapStoreErr(err)
		}
	}

	for i := 1; i < len(pathnodes); i++ {
		if err := t.nodes.Delete(pathnodes[i]); err != nil {
			return nil, wrapStoreErr(err)
		}
	}

	offset := t.depth() - len(sidenodes)
	for i := 0; i < t.depth(); i++ {
		var sideNode []byte

		idx := i - offset
		switch {
		case idx < 0:
			if commonPrefixLen != t.depth() && commonPrefixLen > t.depth()-1-i {
				sideNode = t.th.placeholder()
			} else {
				continue
			}
		default:
			sideNode = sidenodes[idx]
		}

		if bitops.BitAt(path, t.depth()-1-i) == bitops.Right {
			currentHash, currentPayload = t.th.digestNode(sideNode, currentHash)
		} else {
			currentHash, currentPayload = t.th.digestNode(currentHash, sideNode)
		}
		if err := t.nodes.Put(currentHash, currentPayload); err != nil {
			return nil, wrapStoreErr(err)
		}
	}

	return currentHash, nil
}

func (t *Tree) deleteWithSidenodes(path []byte, sidenodes, pathnodes [][]byte) ([]byte, error) {
	if t.th.isPlaceholder(pathnodes[0]) {
		return nil, ErrKeyAlreadyEmpty
	}

	t.metrics.recordOp("delete")

	for _, node := range pathnodes {
		if t.th.isPlaceholder(node) {
			continue
		}
		if err := t.nodes.Delete(node); err != nil {
			return nil, wrapStoreErr(err)
		}
	}

	var currentHash, currentPayload []byte
	nonPlaceholderReached := false

	for i, sideNode := range sidenodes {
		if currentPayload == nil {
			sideNodeValue, err := t.nodes.Get(sideNode)
			if err != nil {
				return nil, wrapStoreErr(errors.Wrap(errNotFound, err.Error()))
			}

			if t.th.isLeaf(sideNodeValue) {
				// Leaf sibling: bubble it up until it meets a non-placeholder
				// sibling of its own.
				currentHash = sideNode
				currentPayload = sideNode
				continue
			}
			// Internal sibling: stays in place; rehash from here upward with
			// a placeholder standing in for the deleted subtree.
			currentPayload = t.th.placeholder()
			nonPlaceholderReached = true
		}

		if !nonPlaceholderReached {
			if t.th.isPlaceholder(sideNode) {
				continue
			}
			nonPlaceholderReached = true
		}

		if bitops.BitAt(path, len(sidenodes)-1-i) == bitops.Right {
			currentHash, currentPayload = t.th.digestNode(sideNode, currentPayload)
		} else {
			currentHash, currentPayload = t.th.digestNode(currentPayload, sideNode)
		}
		if err := t.nodes.Put(currentHash, currentPayload); err != nil {
			return nil, wrapStoreErr(err)
		}
		currentPayload = currentHash
	}

	if currentHash == nil {
		currentHash = t.th.placeholder()
	}
	return currentHash, nil
}

// RemovePathForRoot deletes the node records (and, if the terminal slot
// holds a leaf for this exact path, the value record) that sidenodes(path,
// root) visits. It is a best-effort pruning helper, not part of the
// mutation contract: the engine never calls it itself, and it is safe to
// skip entirely at the cost of unbounded store growth (spec's orphan GC
// Non-goal).
func (t *Tree) RemovePathForRoot(key, root []byte) error {
	path := t.th.path(key)
	_, pathnodes, leafPayload, err := t.sidenodes(path, root)
	if err != nil {
		return err
	}

	for i, node := range pathnodes {
		if i == 0 && leafPayload != nil {
			if actualPath, _ := t.th.parseLeaf(leafPayload); bytes.Equal(actualPath, path) {
				if err := t.values.Delete(path); err != nil {
					return wrapStoreErr(err)
				}
			}
		}
		if t.th.isPlaceholder(node) {
			continue
		}
		if err := t.nodes.Delete(node); err != nil {
			return wrapStoreErr(err)
		}
	}
	return nil
}

// RemovePath deletes the node records reachable from removeRoot along
// key's path, except for any record still reachable from keepRoot along
// the same path — used when a caller retires an old root but wants to
// keep a specific prior root (e.g. the previous block's state) alive.
func (t *Tree) RemovePath(key, removeRoot, keepRoot []byte) error {
	path := t.th.path(key)
	_, removeNodes, leafPayload, err := t.sidenodes(path, removeRoot)
	if err != nil {
		return err
	}
	_, keepNodes, _, err := t.sidenodes(path, keepRoot)
	if err != nil {
		return err
	}

	kept := make(map[string]struct{}, len(keepNodes))
	for _, n := range keepNodes {
		kept[string(n)] = struct{}{}
	}

	for i, node := range removeNodes {
		if i == 0 && leafPayload != nil {
			if _, isKept := kept[string(removeNodes[0])]; !isKept {
				if actualPath, _ := t.th.parseLeaf(leafPayload); bytes.Equal(actualPath, path) {
					if err := t.values.Delete(path); err != nil {
						return wrapStoreErr(err)
					}
				}
			}
		}
		if t.th.isPlaceholder(node) {
			continue
		}
		if _, isKept := kept[string(node)]; isKept {
			continue
		}
		if err := t.nodes.Delete(node); err != nil {
			return wrapStoreErr(err)
		}
	}
	return nil
}

// RemovePathsForRoot prunes the node records visited along every key in
// keys from root. Unlike RemovePathForRoot, a failure pruning one key does
// not stop the others: every key is attempted, and any failures are
// aggregated into a single multierror.Error so a caller can log or retry
// the subset that failed without losing the pruning already done for the
// rest.
func (t *Tree) RemovePathsForRoot(keys [][]byte, root []byte) error {
	seen := make(map[string]struct{})
	var toDelete [][]byte
	var result *multierror.Error

	for _, key := range keys {
		path := t.th.path(key)
		_, pathnodes, leafPayload, err := t.sidenodes(path, root)
		if err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "key %x", key))
			continue
		}

		if leafPayload != nil {
			if actualPath, _ := t.th.parseLeaf(leafPayload); bytes.Equal(actualPath, path) {
				if err := t.values.Delete(path); err != nil {
					result = multierror.Append(result, errors.Wrapf(err, "key %x: value delete", key))
				}
				if err := t.nodes.Delete(pathnodes[0]); err != nil {
					result = multierror.Append(result, errors.Wrapf(err, "key %x: leaf delete", key))
				}
			}
		}

		for i, node := range pathnodes {
			if i == 0 || t.th.isPlaceholder(node) {
				continue
			}
			if _, dup := seen[string(node)]; dup {
				continue
			}
			seen[string(node)] = struct{}{}
			toDelete = append(toDelete, node)
		}
	}

	for _, node := range toDelete {
		if err := t.nodes.Delete(node); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "node %x", node))
		}
	}

	return result.ErrorOrNil()
}

func reverseSlices(s [][]byte) [][]byte {
	out := make([][]byte, len(s))
	for i, v := range s {
		out[len(s)-1-i] = v
	}
	return out
}
