// Package merkle builds content-addressed hash trees over structured
// values, persists them into an object store, and rebuilds values from
// stored trees. Equal subtrees hash identically at every level, so
// storage is deduplicated and unchanged subtrees are cheap to skip when
// comparing revisions.
package merkle

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/myayush/temporal-db/cas"
)

// ErrCorruptObject indicates a referenced Merkle node is absent from the
// object store or its stored record cannot be decoded.
var ErrCorruptObject = errors.New("corrupt object")

// NodeType tags a Merkle node with the kind of value it encodes.
type NodeType string

const (
	TypeNull    NodeType = "null"
	TypeBoolean NodeType = "boolean"
	TypeNumber  NodeType = "number"
	TypeString  NodeType = "string"
	TypeObject  NodeType = "object"
	TypeArray   NodeType = "array"
)

// IsLeaf reports whether the type tags a primitive leaf.
func (t NodeType) IsLeaf() bool {
	switch t {
	case TypeNull, TypeBoolean, TypeNumber, TypeString:
		return true
	}
	return false
}

// Node is one node of a Merkle tree. Leaves carry the primitive value;
// internal nodes map child keys (object keys, or stringified array
// indices) to child node hashes.
type Node struct {
	Type     NodeType          `json:"type"`
	Value    interface{}       `json:"value,omitempty"`
	Children map[string]string `json:"children,omitempty"`
}

// payload returns the canonical hashing/persistence payload of the node.
// The persisted record is exactly the hashed content, so the storage key
// of a node always equals the hash of its stored bytes.
func (n *Node) payload() map[string]interface{} {
	if n.Type.IsLeaf() {
		return map[string]interface{}{
			"type":  string(n.Type),
			"value": n.Value,
		}
	}
	children := make(map[string]interface{}, len(n.Children))
	for k, h := range n.Children {
		children[k] = h
	}
	return map[string]interface{}{
		"type":     string(n.Type),
		"children": children,
	}
}

// Hash computes the content hash of the node.
func (n *Node) Hash() (string, error) {
	canonical, err := cas.CanonicalJSON(n.payload())
	if err != nil {
		return "", err
	}
	return cas.HashHex(canonical), nil
}

// Encode returns the canonical persisted record for the node.
func (n *Node) Encode() ([]byte, error) {
	return cas.CanonicalJSON(n.payload())
}

// Tree is an in-memory Merkle tree: a root hash plus every node of the
// DAG keyed by hash. Shared subtrees appear once.
type Tree struct {
	RootHash string
	Nodes    map[string]*Node
}

// Root returns the root node of the tree.
func (t *Tree) Root() *Node {
	return t.Nodes[t.RootHash]
}

// FromValue builds the Merkle tree of a structured value. Object keys
// and array indices are enumerated in sorted order so that structurally
// equal values always produce identical hashes.
func FromValue(v interface{}) (*Tree, error) {
	tree := &Tree{Nodes: make(map[string]*Node)}
	root, err := tree.add(v)
	if err != nil {
		return nil, err
	}
	tree.RootHash = root
	return tree, nil
}

// add builds the node for v, records it and its descendants in the tree,
// and returns its hash.
func (t *Tree) add(v interface{}) (string, error) {
	var node *Node

	switch val := v.(type) {
	case nil:
		node = &Node{Type: TypeNull}
	case bool:
		node = &Node{Type: TypeBoolean, Value: val}
	case float64:
		node = &Node{Type: TypeNumber, Value: val}
	case int:
		node = &Node{Type: TypeNumber, Value: float64(val)}
	case int64:
		node = &Node{Type: TypeNumber, Value: float64(val)}
	case string:
		node = &Node{Type: TypeString, Value: val}
	case []interface{}:
		children := make(map[string]string, len(val))
		for i, elem := range val {
			childHash, err := t.add(elem)
			if err != nil {
				return "", err
			}
			children[strconv.Itoa(i)] = childHash
		}
		node = &Node{Type: TypeArray, Children: children}
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		children := make(map[string]string, len(val))
		for _, k := range keys {
			childHash, err := t.add(val[k])
			if err != nil {
				return "", err
			}
			children[k] = childHash
		}
		node = &Node{Type: TypeObject, Children: children}
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}

	hash, err := node.Hash()
	if err != nil {
		return "", err
	}
	t.Nodes[hash] = node
	return hash, nil
}

// ToValue projects a tree back into the structured value it encodes.
// Array children are ordered by numeric index, not lexicographically,
// so arrays of any length survive the round trip.
func ToValue(t *Tree) (interface{}, error) {
	return t.materialize(t.RootHash)
}

func (t *Tree) materialize(hash string) (interface{}, error) {
	node, ok := t.Nodes[hash]
	if !ok {
		return nil, fmt.Errorf("%w: missing node %s", ErrCorruptObject, hash)
	}

	switch node.Type {
	case TypeNull:
		return nil, nil
	case TypeBoolean, TypeNumber, TypeString:
		return node.Value, nil
	case TypeArray:
		indices := make([]int, 0, len(node.Children))
		for k := range node.Children {
			i, err := strconv.Atoi(k)
			if err != nil {
				return nil, fmt.Errorf("%w: non-numeric array key %q in node %s", ErrCorruptObject, k, hash)
			}
			indices = append(indices, i)
		}
		sort.Ints(indices)

		arr := make([]interface{}, 0, len(indices))
		for _, i := range indices {
			child, err := t.materialize(node.Children[strconv.Itoa(i)])
			if err != nil {
				return nil, err
			}
			arr = append(arr, child)
		}
		return arr, nil
	case TypeObject:
		obj := make(map[string]interface{}, len(node.Children))
		for k, childHash := range node.Children {
			child, err := t.materialize(childHash)
			if err != nil {
				return nil, err
			}
			obj[k] = child
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("%w: unknown node type %q in node %s", ErrCorruptObject, node.Type, hash)
	}
}

// ObjectWriter is the slice of the object store that Store needs.
type ObjectWriter interface {
	// PutObject persists a node record under its hash key. Writing an
	// already-present hash must be a no-op.
	PutObject(hash string, data []byte) error
	// HasObject reports whether a node record exists.
	HasObject(hash string) (bool, error)
}

// ObjectReader is the slice of the object store that Load needs.
type ObjectReader interface {
	// GetObject reads a node record by hash. A miss returns an error.
	GetObject(hash string) ([]byte, error)
}

// Store persists every node of the tree, depth-first post-order, and
// returns the root hash. Nodes already present in the store are skipped
// along with their entire subtree.
func Store(w ObjectWriter, t *Tree) (string, error) {
	if err := storeNode(w, t, t.RootHash); err != nil {
		return "", err
	}
	return t.RootHash, nil
}

func storeNode(w ObjectWriter, t *Tree, hash string) error {
	exists, err := w.HasObject(hash)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	node, ok := t.Nodes[hash]
	if !ok {
		return fmt.Errorf("%w: tree references missing node %s", ErrCorruptObject, hash)
	}

	if !node.Type.IsLeaf() {
		for _, childHash := range node.Children {
			if err := storeNode(w, t, childHash); err != nil {
				return err
			}
		}
	}

	data, err := node.Encode()
	if err != nil {
		return err
	}
	return w.PutObject(hash, data)
}

// Load reads the tree rooted at rootHash out of the object store. A
// referenced hash that is absent or undecodable is a corruption error.
func Load(r ObjectReader, rootHash string) (*Tree, error) {
	tree := &Tree{RootHash: rootHash, Nodes: make(map[string]*Node)}
	if err := loadNode(r, tree, rootHash); err != nil {
		return nil, err
	}
	return tree, nil
}

func loadNode(r ObjectReader, t *Tree, hash string) error {
	if _, ok := t.Nodes[hash]; ok {
		return nil
	}

	data, err := r.GetObject(hash)
	if err != nil {
		return fmt.Errorf("%w: reading node %s: %v", ErrCorruptObject, hash, err)
	}

	var node Node
	if err := json.Unmarshal(data, &node); err != nil {
		return fmt.Errorf("%w: decoding node %s: %v", ErrCorruptObject, hash, err)
	}
	if node.Type.IsLeaf() != (node.Children == nil) {
		return fmt.Errorf("%w: node %s has inconsistent shape for type %q", ErrCorruptObject, hash, node.Type)
	}
	t.Nodes[hash] = &node

	if !node.Type.IsLeaf() {
		for _, childHash := range node.Children {
			if err := loadNode(r, t, childHash); err != nil {
				return err
			}
		}
	}
	return nil
}
