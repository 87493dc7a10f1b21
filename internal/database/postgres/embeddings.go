package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/kozaktomas/photo-jobs/internal/database"
	"github.com/pgvector/pgvector-go"
	"github.com/sirupsen/logrus"
)

// EmbeddingRepository provides PostgreSQL-backed embedding storage with optional in-memory HNSW index
type EmbeddingRepository struct {
	pool          *Pool
	hnswIndex     *database.VectorIndex[string]
	hnswEnabled   bool
	hnswIndexPath string // Path to persist HNSW index (optional)
	hnswMu        sync.RWMutex
}

// NewEmbeddingRepository creates a new PostgreSQL embedding repository
func NewEmbeddingRepository(pool *Pool) *EmbeddingRepository {
	return &EmbeddingRepository{pool: pool}
}

// Get retrieves an embedding by asset id, returns nil if not found
func (r *EmbeddingRepository) Get(ctx context.Context, assetID string) (*database.StoredEmbedding, error) {
	query := `
		SELECT asset_id, embedding, model, dim, created_at
		FROM smart_search
		WHERE asset_id = $1
	`

	var emb database.StoredEmbedding
	var vec pgvector.Vector

	err := r.pool.QueryRow(ctx, query, assetID).Scan(
		&emb.AssetID,
		&vec,
		&emb.Model,
		&emb.Dim,
		&emb.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query embedding: %w", err)
	}

	emb.Embedding = vec.Slice()
	return &emb, nil
}

// Has checks if an embedding exists for the given asset id
func (r *EmbeddingRepository) Has(ctx context.Context, assetID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM smart_search WHERE asset_id = $1)", assetID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check embedding exists: %w", err)
	}
	return exists, nil
}

// Count returns the total number of embeddings stored
func (r *EmbeddingRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM smart_search").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count embeddings: %w", err)
	}
	return count, nil
}

// FindSimilarWithDistance finds similar embeddings and returns distances.
// Uses in-memory HNSW index if enabled, otherwise falls back to PostgreSQL.
func (r *EmbeddingRepository) FindSimilarWithDistance(ctx context.Context, embedding []float32, limit int, maxDistance float64) ([]database.StoredEmbedding, []float64, error) {
	r.hnswMu.RLock()
	hnswEnabled := r.hnswEnabled && r.hnswIndex != nil
	r.hnswMu.RUnlock()

	if hnswEnabled {
		return r.findSimilarWithDistanceHNSW(embedding, limit, maxDistance)
	}

	return r.findSimilarWithDistancePostgres(ctx, embedding, limit, maxDistance)
}

// findSimilarWithDistanceHNSW uses the in-memory HNSW index for similarity search
func (r *EmbeddingRepository) findSimilarWithDistanceHNSW(embedding []float32, limit int, maxDistance float64) ([]database.StoredEmbedding, []float64, error) {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()

	hits, err := r.hnswIndex.Search(embedding, limit, maxDistance)
	if errors.Is(err, database.ErrIndexNotInitialized) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("HNSW search: %w", err)
	}

	results := make([]database.StoredEmbedding, 0, len(hits))
	distances := make([]float64, 0, len(hits))
	for _, h := range hits {
		results = append(results, database.StoredEmbedding{AssetID: h.Key})
		distances = append(distances, h.Distance)
	}
	return results, distances, nil
}

// findSimilarWithDistancePostgres uses PostgreSQL for similarity search with ef_search optimization
func (r *EmbeddingRepository) findSimilarWithDistancePostgres(ctx context.Context, embedding []float32, limit int, maxDistance float64) ([]database.StoredEmbedding, []float64, error) {
	// Use transaction to set ef_search for better recall (matching in-memory HNSW config)
	tx, err := r.pool.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // read-only

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", database.HNSWEfSearch)); err != nil {
		return nil, nil, fmt.Errorf("set ef_search: %w", err)
	}

	query := `
		SELECT asset_id, embedding, model, dim, created_at,
		       embedding <=> $1::vector AS distance
		FROM smart_search
		WHERE embedding <=> $1::vector < $2
		ORDER BY distance
		LIMIT $3
	`

	vec := pgvector.NewVector(embedding)
	rows, err := tx.QueryContext(ctx, query, vec, maxDistance, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("query similar embeddings: %w", err)
	}
	defer rows.Close()

	var embeddings []database.StoredEmbedding
	var distances []float64

	for rows.Next() {
		var emb database.StoredEmbedding
		var vec pgvector.Vector
		var dist float64

		if err := rows.Scan(
			&emb.AssetID,
			&vec,
			&emb.Model,
			&emb.Dim,
			&emb.CreatedAt,
			&dist,
		); err != nil {
			return nil, nil, fmt.Errorf("scan embedding: %w", err)
		}

		emb.Embedding = vec.Slice()
		embeddings = append(embeddings, emb)
		distances = append(distances, dist)
	}

	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate embeddings: %w", err)
	}

	return embeddings, distances, nil
}

// Save upserts the embedding and marks the embedding attribute in one transaction
func (r *EmbeddingRepository) Save(ctx context.Context, assetID string, embedding []float32, model string, sourceChecksum string) error {
	err := r.pool.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO smart_search (asset_id, embedding, model, dim)
			VALUES ($1, $2::vector, $3, $4)
			ON CONFLICT (asset_id) DO UPDATE SET
				embedding = EXCLUDED.embedding,
				model = EXCLUDED.model,
				dim = EXCLUDED.dim,
				created_at = NOW()
		`, assetID, pgvector.NewVector(embedding), model, len(embedding))
		if err != nil {
			return fmt.Errorf("save embedding: %w", err)
		}
		return markAttribute(ctx, tx, assetID, database.AttributeEmbedding, sourceChecksum)
	})
	if err != nil {
		return err
	}

	// Keep the in-memory index in sync only after the row is durable.
	r.hnswMu.RLock()
	if r.hnswEnabled && r.hnswIndex != nil {
		r.hnswIndex.Add(assetID, embedding)
	}
	r.hnswMu.RUnlock()
	return nil
}

// getAllEmbeddings loads every embedding keyed by asset id
func (r *EmbeddingRepository) getAllEmbeddings(ctx context.Context) (map[string][]float32, error) {
	rows, err := r.pool.Query(ctx, "SELECT asset_id, embedding FROM smart_search ORDER BY asset_id")
	if err != nil {
		return nil, fmt.Errorf("query all embeddings: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]float32)
	for rows.Next() {
		var id string
		var vec pgvector.Vector
		if err := rows.Scan(&id, &vec); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		out[id] = vec.Slice()
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embeddings: %w", err)
	}
	return out, nil
}

// EnableHNSW loads or builds an in-memory HNSW index for O(log N) similarity search.
// If indexPath is provided, it will try to load from disk first and save after building.
// This should be called once at startup.
func (r *EmbeddingRepository) EnableHNSW(ctx context.Context, indexPath string) error {
	r.hnswMu.Lock()
	defer r.hnswMu.Unlock()

	r.hnswIndexPath = indexPath
	log := logrus.WithField("index", "embeddings")

	var dbCount int64
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM smart_search").Scan(&dbCount); err != nil {
		return fmt.Errorf("failed to get embedding count: %w", err)
	}

	if indexPath != "" {
		if idx, ok := tryLoadIndex[string](indexPath, dbCount, log); ok {
			r.hnswIndex = idx
			r.hnswEnabled = true
			return nil
		}
	}

	vectors, err := r.getAllEmbeddings(ctx)
	if err != nil {
		return fmt.Errorf("failed to load embeddings: %w", err)
	}

	r.hnswIndex = database.NewVectorIndex[string]()
	r.hnswIndex.Build(vectors)
	log.WithField("count", len(vectors)).Info("built HNSW index")

	if indexPath != "" && len(vectors) > 0 {
		if err := r.hnswIndex.SaveWithMetadata(indexPath, database.HNSWIndexMetadata{Count: dbCount}); err != nil {
			log.WithError(err).Warn("failed to save HNSW index to disk")
		}
	}

	r.hnswEnabled = true
	return nil
}

// tryLoadIndex loads a cached index when its metadata matches the database row count.
func tryLoadIndex[K string | int64](indexPath string, dbCount int64, log *logrus.Entry) (*database.VectorIndex[K], bool) {
	metadata, err := database.LoadHNSWMetadata(indexPath)
	if err != nil {
		log.WithError(err).Info("no usable index metadata, rebuilding")
		return nil, false
	}
	if metadata.Count != dbCount {
		log.WithFields(logrus.Fields{"db": dbCount, "cached": metadata.Count}).Info("cached index is stale, rebuilding")
		return nil, false
	}

	idx := database.NewVectorIndex[K]()
	if err := idx.Load(indexPath); err != nil {
		log.WithError(err).Warn("failed to load cached index, rebuilding")
		return nil, false
	}
	if idx.IsEmpty() {
		return nil, false
	}
	log.WithField("count", idx.Count()).Info("loaded HNSW index from disk")
	return idx, true
}

// IsHNSWEnabled returns whether the in-memory HNSW index is enabled
func (r *EmbeddingRepository) IsHNSWEnabled() bool {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()
	return r.hnswEnabled && r.hnswIndex != nil
}

// SaveHNSWIndex saves the current HNSW index to disk (if path configured)
func (r *EmbeddingRepository) SaveHNSWIndex(ctx context.Context) error {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()

	if r.hnswIndexPath == "" || r.hnswIndex == nil {
		return nil
	}

	var count int64
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM smart_search").Scan(&count); err != nil {
		return fmt.Errorf("failed to get embedding count: %w", err)
	}

	if err := r.hnswIndex.SaveWithMetadata(r.hnswIndexPath, database.HNSWIndexMetadata{Count: count}); err != nil {
		return fmt.Errorf("saving HNSW embedding index: %w", err)
	}
	return nil
}

// Verify interface compliance
var _ database.EmbeddingWriter = (*EmbeddingRepository)(nil)
