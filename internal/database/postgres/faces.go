package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/kozaktomas/photo-jobs/internal/database"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/sirupsen/logrus"
)

const faceColumns = `id, asset_id, face_index, embedding, bbox, det_score, model,
	image_width, image_height, person_id, created_at`

// FaceRepository provides PostgreSQL-backed face storage with optional in-memory HNSW index.
type FaceRepository struct {
	pool          *Pool
	hnswIndex     *database.VectorIndex[int64]
	hnswEnabled   bool
	hnswIndexPath string // Path to persist HNSW index (optional)
	hnswMu        sync.RWMutex
}

// NewFaceRepository creates a new PostgreSQL face repository.
func NewFaceRepository(pool *Pool) *FaceRepository {
	return &FaceRepository{pool: pool}
}

// GetFaces retrieves all faces for an asset.
func (r *FaceRepository) GetFaces(ctx context.Context, assetID string) ([]database.StoredFace, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+faceColumns+`
		FROM faces
		WHERE asset_id = $1
		ORDER BY face_index
	`, assetID)
	if err != nil {
		return nil, fmt.Errorf("query faces: %w", err)
	}
	defer rows.Close()

	return scanFaces(rows)
}

// Count returns the total number of faces stored.
func (r *FaceRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM faces").Scan(&count); err != nil {
		return 0, fmt.Errorf("count faces: %w", err)
	}
	return count, nil
}

// FindSimilarWithDistance finds faces closer than maxDistance and returns them with distances.
// Uses in-memory HNSW index if enabled, otherwise falls back to PostgreSQL.
func (r *FaceRepository) FindSimilarWithDistance(
	ctx context.Context, embedding []float32, limit int, maxDistance float64,
) ([]database.StoredFace, []float64, error) {
	if r.IsHNSWEnabled() {
		return r.findSimilarWithDistanceHNSW(ctx, embedding, limit, maxDistance)
	}
	return r.findSimilarWithDistancePostgres(ctx, embedding, limit, maxDistance)
}

func (r *FaceRepository) findSimilarWithDistanceHNSW(
	ctx context.Context, embedding []float32, limit int, maxDistance float64,
) ([]database.StoredFace, []float64, error) {
	r.hnswMu.RLock()
	hits, err := r.hnswIndex.Search(embedding, limit, maxDistance)
	r.hnswMu.RUnlock()
	if errors.Is(err, database.ErrIndexNotInitialized) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("HNSW search: %w", err)
	}
	if len(hits) == 0 {
		return nil, nil, nil
	}

	// The index only holds ids; the rows carry person assignments that change independently.
	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.Key
	}
	rows, err := r.pool.Query(ctx, `SELECT `+faceColumns+` FROM faces WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, nil, fmt.Errorf("query faces by id: %w", err)
	}
	defer rows.Close()

	found, err := scanFaces(rows)
	if err != nil {
		return nil, nil, err
	}
	byID := make(map[int64]database.StoredFace, len(found))
	for _, f := range found {
		byID[f.ID] = f
	}

	faces := make([]database.StoredFace, 0, len(hits))
	distances := make([]float64, 0, len(hits))
	for _, h := range hits {
		f, ok := byID[h.Key]
		if !ok {
			// Deleted since the index was built.
			continue
		}
		faces = append(faces, f)
		distances = append(distances, h.Distance)
	}
	return faces, distances, nil
}

func (r *FaceRepository) findSimilarWithDistancePostgres(
	ctx context.Context, embedding []float32, limit int, maxDistance float64,
) ([]database.StoredFace, []float64, error) {
	tx, err := r.pool.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // read-only

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", database.HNSWEfSearch)); err != nil {
		return nil, nil, fmt.Errorf("set ef_search: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT `+faceColumns+`, embedding <=> $1::vector AS distance
		FROM faces
		WHERE embedding <=> $1::vector < $2
		ORDER BY distance, id
		LIMIT $3
	`, pgvector.NewVector(embedding), maxDistance, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("query similar faces: %w", err)
	}
	defer rows.Close()

	var faces []database.StoredFace
	var distances []float64
	for rows.Next() {
		var dist float64
		face, err := scanFaceRow(rows, &dist)
		if err != nil {
			return nil, nil, err
		}
		faces = append(faces, face)
		distances = append(distances, dist)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate faces: %w", err)
	}
	return faces, distances, nil
}

// GetPeopleForAsset returns the distinct people assigned to faces of an asset.
func (r *FaceRepository) GetPeopleForAsset(ctx context.Context, assetID string) ([]database.Person, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.id, p.name, p.created_at,
		       (SELECT COUNT(*) FROM faces c WHERE c.person_id = p.id) AS face_count
		FROM people p
		WHERE p.id IN (SELECT person_id FROM faces WHERE asset_id = $1 AND person_id IS NOT NULL)
		ORDER BY p.created_at, p.id
	`, assetID)
	if err != nil {
		return nil, fmt.Errorf("query people for asset: %w", err)
	}
	defer rows.Close()

	return scanPeople(rows)
}

// ListPeople returns every person with their face count.
func (r *FaceRepository) ListPeople(ctx context.Context) ([]database.Person, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.id, p.name, p.created_at, COUNT(f.id) AS face_count
		FROM people p
		LEFT JOIN faces f ON f.person_id = p.id
		GROUP BY p.id, p.name, p.created_at
		ORDER BY p.created_at, p.id
	`)
	if err != nil {
		return nil, fmt.Errorf("query people: %w", err)
	}
	defer rows.Close()

	return scanPeople(rows)
}

func scanPeople(rows *sql.Rows) ([]database.Person, error) {
	var people []database.Person
	for rows.Next() {
		var p database.Person
		if err := rows.Scan(&p.ID, &p.Name, &p.CreatedAt, &p.FaceCount); err != nil {
			return nil, fmt.Errorf("scan person: %w", err)
		}
		people = append(people, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate people: %w", err)
	}
	return people, nil
}

// ReplaceFaces stores the detected faces of an asset, replacing any existing ones,
// and marks the faces attribute in the same transaction.
func (r *FaceRepository) ReplaceFaces(
	ctx context.Context, assetID string, faces []database.StoredFace, sourceChecksum string,
) ([]database.StoredFace, error) {
	var oldIDs []int64
	var inserted []database.StoredFace

	err := r.pool.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		oldIDs, err = scanFaceIDs(ctx, tx, assetID)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM faces WHERE asset_id = $1", assetID); err != nil {
			return fmt.Errorf("delete existing faces: %w", err)
		}

		inserted, err = insertFacesReturningIDs(ctx, tx, assetID, faces)
		if err != nil {
			return err
		}
		return markAttribute(ctx, tx, assetID, database.AttributeFaces, sourceChecksum)
	})
	if err != nil {
		return nil, err
	}

	r.updateHNSWFaces(oldIDs, inserted)
	return inserted, nil
}

// insertFacesReturningIDs inserts faces into the database and returns them with assigned IDs.
func insertFacesReturningIDs(
	ctx context.Context, tx *sql.Tx, assetID string, faces []database.StoredFace,
) ([]database.StoredFace, error) {
	inserted := make([]database.StoredFace, 0, len(faces))

	for i := range faces {
		face := faces[i]
		face.AssetID = assetID
		face.PersonID = ""

		err := tx.QueryRowContext(ctx, `
			INSERT INTO faces (asset_id, face_index, embedding, bbox, det_score, model, image_width, image_height)
			VALUES ($1, $2, $3::vector, $4, $5, $6, $7, $8)
			RETURNING id, created_at
		`,
			assetID,
			face.FaceIndex,
			pgvector.NewVector(face.Embedding),
			pq.Array(face.BBox),
			face.DetScore,
			face.Model,
			face.ImageWidth,
			face.ImageHeight,
		).Scan(&face.ID, &face.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("insert face %d: %w", face.FaceIndex, err)
		}
		inserted = append(inserted, face)
	}

	return inserted, nil
}

// updateHNSWFaces removes old face IDs and adds new faces to the HNSW index.
func (r *FaceRepository) updateHNSWFaces(oldIDs []int64, newFaces []database.StoredFace) {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()

	if !r.hnswEnabled || r.hnswIndex == nil {
		return
	}
	for _, id := range oldIDs {
		r.hnswIndex.Delete(id)
	}
	for i := range newFaces {
		r.hnswIndex.Add(newFaces[i].ID, newFaces[i].Embedding)
	}
}

func scanFaceIDs(ctx context.Context, tx *sql.Tx, assetID string) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, "SELECT id FROM faces WHERE asset_id = $1", assetID)
	if err != nil {
		return nil, fmt.Errorf("query face ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan face id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate face ids: %w", err)
	}
	return ids, nil
}

// AssignFaces creates the new people, applies the face assignments and marks
// the people attribute, all in one transaction.
func (r *FaceRepository) AssignFaces(
	ctx context.Context, assetID string, newPeople []database.Person,
	assignments []database.FaceAssignment, sourceChecksum string,
) error {
	return r.pool.inTx(ctx, func(tx *sql.Tx) error {
		for _, p := range newPeople {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO people (id, name) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING",
				p.ID, p.Name,
			); err != nil {
				return fmt.Errorf("insert person %s: %w", p.ID, err)
			}
		}

		for _, a := range assignments {
			if _, err := tx.ExecContext(ctx,
				"UPDATE faces SET person_id = $2 WHERE id = $1",
				a.FaceID, a.PersonID,
			); err != nil {
				return fmt.Errorf("assign face %d: %w", a.FaceID, err)
			}
		}

		return markAttribute(ctx, tx, assetID, database.AttributePeople, sourceChecksum)
	})
}

// scanFaceRow scans a single row into a StoredFace, with optional extra scan destinations
// appended after the standard face columns (e.g., a distance column).
func scanFaceRow(scanner interface{ Scan(...any) error }, extraDest ...any) (database.StoredFace, error) {
	var face database.StoredFace
	var vec pgvector.Vector
	var bbox pq.Float64Array
	var personID sql.NullString

	dest := make([]any, 0, 11+len(extraDest))
	dest = append(dest,
		&face.ID,
		&face.AssetID,
		&face.FaceIndex,
		&vec,
		&bbox,
		&face.DetScore,
		&face.Model,
		&face.ImageWidth,
		&face.ImageHeight,
		&personID,
		&face.CreatedAt,
	)
	dest = append(dest, extraDest...)

	if err := scanner.Scan(dest...); err != nil {
		return face, fmt.Errorf("scan face: %w", err)
	}

	face.Embedding = vec.Slice()
	face.BBox = []float64(bbox)
	if personID.Valid {
		face.PersonID = personID.String
	}
	return face, nil
}

func scanFaces(rows *sql.Rows) ([]database.StoredFace, error) {
	var faces []database.StoredFace
	for rows.Next() {
		face, err := scanFaceRow(rows)
		if err != nil {
			return nil, err
		}
		faces = append(faces, face)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate faces: %w", err)
	}
	return faces, nil
}

func (r *FaceRepository) getAllFaceVectors(ctx context.Context) (map[int64][]float32, error) {
	rows, err := r.pool.Query(ctx, "SELECT id, embedding FROM faces ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query all faces: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]float32)
	for rows.Next() {
		var id int64
		var vec pgvector.Vector
		if err := rows.Scan(&id, &vec); err != nil {
			return nil, fmt.Errorf("scan face: %w", err)
		}
		out[id] = vec.Slice()
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate faces: %w", err)
	}
	return out, nil
}

// EnableHNSW loads or builds an in-memory HNSW index for face similarity search.
// If indexPath is provided, it will try to load from disk first and save after building.
func (r *FaceRepository) EnableHNSW(ctx context.Context, indexPath string) error {
	r.hnswMu.Lock()
	defer r.hnswMu.Unlock()

	r.hnswIndexPath = indexPath
	log := logrus.WithField("index", "faces")

	var dbCount int64
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM faces").Scan(&dbCount); err != nil {
		return fmt.Errorf("failed to get face count: %w", err)
	}

	if indexPath != "" {
		if idx, ok := tryLoadIndex[int64](indexPath, dbCount, log); ok {
			r.hnswIndex = idx
			r.hnswEnabled = true
			return nil
		}
	}

	vectors, err := r.getAllFaceVectors(ctx)
	if err != nil {
		return fmt.Errorf("failed to load faces: %w", err)
	}

	r.hnswIndex = database.NewVectorIndex[int64]()
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

// IsHNSWEnabled returns whether the in-memory HNSW index is enabled.
func (r *FaceRepository) IsHNSWEnabled() bool {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()
	return r.hnswEnabled && r.hnswIndex != nil
}

// SaveHNSWIndex saves the current HNSW index to disk (if path configured).
func (r *FaceRepository) SaveHNSWIndex(ctx context.Context) error {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()

	if r.hnswIndexPath == "" || r.hnswIndex == nil {
		return nil
	}

	var count int64
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM faces").Scan(&count); err != nil {
		return fmt.Errorf("failed to get face count: %w", err)
	}

	if err := r.hnswIndex.SaveWithMetadata(r.hnswIndexPath, database.HNSWIndexMetadata{Count: count}); err != nil {
		return fmt.Errorf("saving HNSW face index: %w", err)
	}
	return nil
}

// Verify interface compliance
var _ database.FaceWriter = (*FaceRepository)(nil)
