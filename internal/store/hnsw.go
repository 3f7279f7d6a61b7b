package store

import (
	"context"
	"database/sql"
	"math"
	"sync"

	"github.com/coder/hnsw"
)

// hnswIndex is an in-memory approximate candidate index over record ids.
// It is rebuilt from the database whenever its size or newest created_at
// disagrees with the table, which picks up writes made by other processes.
type hnswIndex struct {
	mu    sync.RWMutex
	dims  int
	graph *hnsw.Graph[uint64]

	// id mapping (string <-> uint64)
	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64

	// newest is the largest created_at (unix nanos) indexed.
	newest int64
}

func newHNSWIndex(dims int) *hnswIndex {
	idx := &hnswIndex{dims: dims}
	idx.reset()
	return idx
}

func (x *hnswIndex) reset() {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = 16
	g.EfSearch = 64
	g.Ml = 0.25
	x.graph = g
	x.idMap = make(map[string]uint64)
	x.keyMap = make(map[uint64]string)
	x.nextKey = 0
	x.newest = 0
}

// ensureBuilt rebuilds the index when it is out of step with the table.
func (x *hnswIndex) ensureBuilt(ctx context.Context, db *sql.DB, dims int) error {
	var count int
	var newest int64
	err := db.QueryRowContext(ctx, "SELECT COUNT(*), COALESCE(MAX(created_at), 0) FROM embeddings").
		Scan(&count, &newest)
	if err != nil {
		return err
	}
	if x.inStep(count, newest) {
		return nil
	}

	rows, err := db.QueryContext(ctx, "SELECT id, vector, created_at FROM embeddings ORDER BY created_at, id")
	if err != nil {
		return err
	}
	defer rows.Close()

	x.mu.Lock()
	defer x.mu.Unlock()
	x.reset()
	for rows.Next() {
		var id string
		var blob []byte
		var created int64
		if err := rows.Scan(&id, &blob, &created); err != nil {
			return err
		}
		vec, err := decodeVector(blob)
		if err != nil || len(vec) != dims {
			// scan path reports corrupt rows
			continue
		}
		x.addLocked(id, vec, created)
	}
	return rows.Err()
}

func (x *hnswIndex) inStep(count int, newest int64) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return count == len(x.idMap) && newest == x.newest
}

func (x *hnswIndex) add(id string, vec []float32, created int64) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.addLocked(id, vec, created)
}

// addLocked inserts or replaces id. Replaced nodes are orphaned rather than
// deleted from the graph; coder/hnsw misbehaves when the last node is removed.
func (x *hnswIndex) addLocked(id string, vec []float32, created int64) {
	if key, ok := x.idMap[id]; ok {
		delete(x.keyMap, key)
		delete(x.idMap, id)
	}
	key := x.nextKey
	x.nextKey++

	normalized := make([]float32, len(vec))
	copy(normalized, vec)
	normalizeInPlace(normalized)

	x.graph.Add(hnsw.MakeNode(key, normalized))
	x.idMap[id] = key
	x.keyMap[key] = id
	x.newest = max(x.newest, created)
}

func (x *hnswIndex) remove(ids []string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, id := range ids {
		if key, ok := x.idMap[id]; ok {
			delete(x.keyMap, key)
			delete(x.idMap, id)
		}
	}
}

// search returns up to k candidate ids, nearest first.
func (x *hnswIndex) search(query []float32, k int) []string {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.graph.Len() == 0 || len(x.idMap) == 0 {
		return nil
	}
	q := make([]float32, len(query))
	copy(q, query)
	normalizeInPlace(q)

	// Orphaned nodes take result slots, so ask for extra.
	orphans := x.graph.Len() - len(x.idMap)
	nodes := x.graph.Search(q, k+orphans)

	ids := make([]string, 0, k)
	for _, n := range nodes {
		id, ok := x.keyMap[n.Key]
		if !ok {
			continue
		}
		ids = append(ids, id)
		if len(ids) == k {
			break
		}
	}
	return ids
}

func (x *hnswIndex) len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.idMap)
}

func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}
