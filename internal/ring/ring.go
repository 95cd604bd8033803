// Package ring implements the consistent hash ring used to assign cache
// keys to cluster nodes. Every node is replicated across a fixed number of
// virtual nodes (vnodes) to smooth load distribution, and both the key
// digest and the per-vnode node digest use MurmurHash3 x86-32 with seed 0,
// matching the wire-compatible reference implementation this ring was
// ported from.
package ring

import (
	"sort"

	"github.com/twmb/murmur3"
)

// DefaultVnodes is the number of virtual nodes assigned to each node when
// none is specified.
const DefaultVnodes = 64

// Node is anything that can be hashed into the ring and ordered, so that
// ties within a single vnode slot resolve deterministically.
type Node interface {
	comparable
	Bytes() []byte
	Less(other any) bool
}

// slot is one bucket of the ring: the set of nodes whose vnode hash landed
// on this digest, kept in Less order so lookups are deterministic when two
// nodes collide on the same slot.
type slot[T Node] struct {
	digest uint32
	nodes  []T
}

// HashRing is a consistent hash ring over nodes of type T. It is not safe
// for concurrent mutation; callers that rebuild the ring from a membership
// snapshot should build a fresh HashRing and swap it in atomically (see
// internal/gossip).
type HashRing[T Node] struct {
	vnodes uint32
	slots  []slot[T]
}

// New creates an empty HashRing with the given vnode count.
func New[T Node](vnodes uint32) *HashRing[T] {
	return &HashRing[T]{vnodes: vnodes}
}

// NewDefault creates an empty HashRing with DefaultVnodes virtual nodes.
func NewDefault[T Node]() *HashRing[T] {
	return New[T](DefaultVnodes)
}

// Build constructs a HashRing containing exactly the given nodes, with the
// ring's configured vnode count.
func Build[T Node](vnodes uint32, nodes []T) *HashRing[T] {
	r := New[T](vnodes)
	for _, n := range nodes {
		r.AddNode(n)
	}
	return r
}

// AddNode inserts node into the ring, replicated across r.vnodes virtual
// nodes. Adding the same node twice is idempotent.
func (r *HashRing[T]) AddNode(node T) {
	for i := uint32(0); i < r.vnodes; i++ {
		digest := hashNode(node, i)
		r.insert(digest, node)
	}
}

func (r *HashRing[T]) insert(digest uint32, node T) {
	idx := sort.Search(len(r.slots), func(i int) bool { return r.slots[i].digest >= digest })
	if idx < len(r.slots) && r.slots[idx].digest == digest {
		s := &r.slots[idx]
		for _, existing := range s.nodes {
			if existing == node {
				return
			}
		}
		s.nodes = insertSorted(s.nodes, node)
		return
	}
	r.slots = append(r.slots, slot[T]{})
	copy(r.slots[idx+1:], r.slots[idx:])
	r.slots[idx] = slot[T]{digest: digest, nodes: []T{node}}
}

func insertSorted[T Node](nodes []T, node T) []T {
	idx := sort.Search(len(nodes), func(i int) bool { return !nodes[i].Less(node) })
	nodes = append(nodes, node)
	copy(nodes[idx+1:], nodes[idx:])
	nodes[idx] = node
	return nodes
}

// Lookup returns the node responsible for key: the first node (in digest
// order) whose vnode digest is >= the key's digest, wrapping around to the
// smallest digest in the ring if the key's digest is past every vnode.
func (r *HashRing[T]) Lookup(key []byte) (T, bool) {
	var zero T
	if len(r.slots) == 0 {
		return zero, false
	}
	digest := hashKey(key)
	idx := sort.Search(len(r.slots), func(i int) bool { return r.slots[i].digest >= digest })
	if idx < len(r.slots) {
		return r.slots[idx].nodes[0], true
	}
	return r.slots[0].nodes[0], true
}

// LookupUntil returns the first node (scanning forward from key's digest,
// then wrapping to scan from the start up to and including key's digest)
// that satisfies predicate. It returns false if no node in the ring
// satisfies predicate. Used by the router to skip Dead members.
func (r *HashRing[T]) LookupUntil(key []byte, predicate func(T) bool) (T, bool) {
	var zero T
	if len(r.slots) == 0 {
		return zero, false
	}
	digest := hashKey(key)

	start := sort.Search(len(r.slots), func(i int) bool { return r.slots[i].digest >= digest })
	for i := start; i < len(r.slots); i++ {
		if n, ok := findMatch(r.slots[i].nodes, predicate); ok {
			return n, true
		}
	}
	end := sort.Search(len(r.slots), func(i int) bool { return r.slots[i].digest > digest })
	for i := 0; i < end; i++ {
		if n, ok := findMatch(r.slots[i].nodes, predicate); ok {
			return n, true
		}
	}
	return zero, false
}

func findMatch[T Node](nodes []T, predicate func(T) bool) (T, bool) {
	for _, n := range nodes {
		if predicate(n) {
			return n, true
		}
	}
	var zero T
	return zero, false
}

// ListVnodes returns the digest of every virtual node assigned to node.
func (r *HashRing[T]) ListVnodes(node T) []uint32 {
	out := make([]uint32, r.vnodes)
	for i := uint32(0); i < r.vnodes; i++ {
		out[i] = hashNode(node, i)
	}
	return out
}

// Vnodes reports the ring's configured virtual node count.
func (r *HashRing[T]) Vnodes() uint32 {
	return r.vnodes
}

func hashKey(key []byte) uint32 {
	return murmur3.SeedSum32(0, key)
}

func hashNode[T Node](node T, vnode uint32) uint32 {
	buf := make([]byte, 0, len(node.Bytes())+4)
	buf = append(buf, node.Bytes()...)
	buf = append(buf, byte(vnode), byte(vnode>>8), byte(vnode>>16), byte(vnode>>24))
	return murmur3.SeedSum32(0, buf)
}
