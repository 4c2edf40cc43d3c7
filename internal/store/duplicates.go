package store

import (
	"sync"

	"github.com/coder/hnsw"

	"github.com/example/face-auth/internal/biometric"
)

// duplicateSearchWidth is how many neighbours are inspected to skip the
// caller's own descriptor.
const duplicateSearchWidth = 2

// DuplicateIndex is an in-memory nearest-neighbour index over enrolled
// descriptors, keyed by user ID.
type DuplicateIndex struct {
	mu          sync.Mutex
	descriptors map[string]biometric.Descriptor
	graph       *hnsw.Graph[string]
	stale       bool
}

// NewDuplicateIndex returns an empty index.
func NewDuplicateIndex() *DuplicateIndex {
	return &DuplicateIndex{
		descriptors: make(map[string]biometric.Descriptor),
		graph:       newGraph(),
	}
}

func newGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.Distance = hnsw.EuclideanDistance
	return g
}

// Upsert replaces the descriptor stored for userID. Replacing an existing
// key marks the graph for rebuild on the next search.
func (x *DuplicateIndex) Upsert(userID string, d biometric.Descriptor) {
	x.mu.Lock()
	defer x.mu.Unlock()
	vec := append(biometric.Descriptor(nil), d...)
	if _, ok := x.descriptors[userID]; ok {
		x.stale = true
	} else if !x.stale {
		x.graph.Add(hnsw.MakeNode(userID, []float32(vec)))
	}
	x.descriptors[userID] = vec
}

// Len returns the number of indexed users.
func (x *DuplicateIndex) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.descriptors)
}

// NearestOther returns the closest enrolled user other than userID.
func (x *DuplicateIndex) NearestOther(userID string, d biometric.Descriptor) (string, float64, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if len(x.descriptors) == 0 {
		return "", 0, false
	}
	if x.stale {
		x.graph = newGraph()
		for key, vec := range x.descriptors {
			x.graph.Add(hnsw.MakeNode(key, []float32(vec)))
		}
		x.stale = false
	}
	for _, n := range x.graph.Search(d, duplicateSearchWidth) {
		if n.Key == userID {
			continue
		}
		dist, err := biometric.Distance(n.Value, d)
		if err != nil {
			continue
		}
		return n.Key, dist, true
	}
	return "", 0, false
}
