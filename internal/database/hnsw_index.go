package database

import (
	"bufio"
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/coder/hnsw"
)

// HNSWIndexMetadata stores metadata for validating cached HNSW indexes.
type HNSWIndexMetadata struct {
	Count     int64     `json:"count"`
	BuildTime time.Time `json:"build_time"`
	Version   int       `json:"version"` // For future compatibility
}

const hnswMetadataVersion = 2

// ErrIndexNotInitialized is returned by Search before anything was added or loaded.
var ErrIndexNotInitialized = errors.New("index not initialized")

// VectorIndex wraps an HNSW graph for cosine nearest-neighbour search.
// Keys are asset ids for embeddings and face ids for faces.
type VectorIndex[K cmp.Ordered] struct {
	graph *hnsw.Graph[K]
	dims  int
	mu    sync.RWMutex
}

// NewVectorIndex creates a new empty index.
func NewVectorIndex[K cmp.Ordered]() *VectorIndex[K] {
	return &VectorIndex[K]{}
}

func newGraph[K cmp.Ordered]() *hnsw.Graph[K] {
	g := hnsw.NewGraph[K]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	g.EfSearch = HNSWEfSearch
	g.Distance = hnsw.CosineDistance
	return g
}

// Build replaces the index contents with the given vectors.
func (h *VectorIndex[K]) Build(vectors map[K][]float32) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.graph = nil
	h.dims = 0
	if len(vectors) == 0 {
		return
	}

	g := newGraph[K]()
	for key, vec := range vectors {
		if len(vec) == 0 {
			continue
		}
		if h.dims == 0 {
			h.dims = len(vec)
		}
		if len(vec) != h.dims {
			continue
		}
		g.Add(hnsw.MakeNode(key, vec))
	}
	h.graph = g
}

// Add inserts or replaces a single vector.
// Vectors whose dimension differs from the indexed ones are ignored.
func (h *VectorIndex[K]) Add(key K, vec []float32) {
	if len(vec) == 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.graph == nil {
		h.graph = newGraph[K]()
		h.dims = len(vec)
	}
	if len(vec) != h.dims {
		return
	}

	// The graph panics on duplicate keys in some versions, so replace explicitly.
	h.graph.Delete(key)
	h.graph.Add(hnsw.MakeNode(key, vec))
}

// Delete removes a key from the index.
func (h *VectorIndex[K]) Delete(key K) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.graph != nil {
		h.graph.Delete(key)
	}
}

// Search returns up to k neighbours closer than maxDistance, nearest first.
func (h *VectorIndex[K]) Search(query []float32, k int, maxDistance float64) ([]Neighbor[K], error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil {
		return nil, ErrIndexNotInitialized
	}
	if h.graph.Len() == 0 || len(query) != h.dims {
		return nil, nil
	}

	// Request more candidates to ensure we have enough after distance filtering
	searchK := max(k*HNSWSearchMultiplier, HNSWMinSearch)

	nodes := h.graph.Search(query, searchK)
	hits := make([]Neighbor[K], 0, min(len(nodes), k))
	for _, n := range nodes {
		// Compute actual cosine distance using the embedding from the node directly.
		d := CosineDistance(query, n.Value)
		if d >= maxDistance {
			continue
		}
		hits = append(hits, Neighbor[K]{Key: n.Key, Distance: d})
	}

	sortNeighbors(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func sortNeighbors[K cmp.Ordered](hits []Neighbor[K]) {
	// Insertion sort: HNSW output is already nearly ordered.
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && less(hits[j], hits[j-1]); j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
}

func less[K cmp.Ordered](a, b Neighbor[K]) bool {
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	return a.Key < b.Key
}

// Count returns the number of indexed vectors.
func (h *VectorIndex[K]) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.graph == nil {
		return 0
	}
	return h.graph.Len()
}

// IsEmpty returns true if the index has no graph data loaded.
func (h *VectorIndex[K]) IsEmpty() bool {
	return h.Count() == 0
}

// SaveWithMetadata persists the index to disk along with metadata for staleness detection.
func (h *VectorIndex[K]) SaveWithMetadata(path string, metadata HNSWIndexMetadata) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil || h.graph.Len() == 0 {
		// Remove existing files if index is empty (best-effort cleanup).
		_ = os.Remove(path)
		_ = os.Remove(path + ".meta")
		return nil
	}

	f, err := os.Create(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to create HNSW index file: %w", err)
	}
	w := bufio.NewWriter(f)
	if err := h.graph.Export(w); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to export HNSW graph: %w", err)
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to flush HNSW graph: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close HNSW index file: %w", err)
	}

	metadata.Version = hnswMetadataVersion
	if metadata.BuildTime.IsZero() {
		metadata.BuildTime = time.Now()
	}
	metaData, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(path+".meta", metaData, 0o600); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}
	return nil
}

// Load replaces the index with the graph stored at path.
func (h *VectorIndex[K]) Load(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to open HNSW index: %w", err)
	}
	defer f.Close()

	g := newGraph[K]()
	if err := g.Import(bufio.NewReader(f)); err != nil {
		return fmt.Errorf("failed to load HNSW index: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.graph = g
	h.dims = g.Dims()
	return nil
}

// LoadHNSWMetadata loads metadata from a separate .meta file.
func LoadHNSWMetadata(path string) (HNSWIndexMetadata, error) {
	var metadata HNSWIndexMetadata

	data, err := os.ReadFile(path + ".meta") //nolint:gosec // path is from trusted config
	if err != nil {
		return metadata, fmt.Errorf("failed to read metadata file: %w", err)
	}
	if err := json.Unmarshal(data, &metadata); err != nil {
		return metadata, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	if metadata.Version != hnswMetadataVersion {
		return metadata, fmt.Errorf("unsupported index metadata version %d", metadata.Version)
	}
	return metadata, nil
}
