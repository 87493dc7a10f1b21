// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/photo-jobs/internal/database"
)

// Store is the shared in-memory state behind the mock repositories.
type Store struct {
	mu         sync.RWMutex
	assets     map[string]*database.Asset
	embeddings map[string]*database.StoredEmbedding
	faces      map[int64]*database.StoredFace
	people     map[string]*database.Person
	nextFaceID int64

	// Error injection
	GetAssetError        error
	CountAssetsError     error
	ListAssetIDsError    error
	MissingError         error
	CreateAssetError     error
	UpsertExifError      error
	UpsertThumbnailError error
	DuplicateError       error
	SaveEmbeddingError   error
	FindSimilarError     error
	ReplaceFacesError    error
	AssignFacesError     error
}

// NewStore creates an empty mock store.
func NewStore() *Store {
	return &Store{
		assets:     make(map[string]*database.Asset),
		embeddings: make(map[string]*database.StoredEmbedding),
		faces:      make(map[int64]*database.StoredFace),
		people:     make(map[string]*database.Person),
	}
}

// Repository returns the store wired as a database.Repository.
func (s *Store) Repository() database.Repository {
	return database.Repository{
		Assets:     &AssetRepository{s: s},
		Embeddings: &EmbeddingRepository{s: s},
		Faces:      &FaceRepository{s: s},
	}
}

// AddAsset inserts an asset as-is, including its job status.
func (s *Store) AddAsset(asset database.Asset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if asset.JobStatus == nil {
		asset.JobStatus = make(map[database.Attribute]database.AttributeStatus)
	}
	s.assets[asset.ID] = cloneAsset(&asset)
}

// AddEmbedding stores an embedding without touching job status.
func (s *Store) AddEmbedding(emb database.StoredEmbedding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.embeddings[emb.AssetID] = &emb
}

// AddFaces stores faces for an asset without touching job status.
func (s *Store) AddFaces(assetID string, faces []database.StoredFace) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range faces {
		s.nextFaceID++
		face := faces[i]
		face.ID = s.nextFaceID
		face.AssetID = assetID
		s.faces[face.ID] = &face
	}
}

// FaceCount returns the number of stored faces.
func (s *Store) FaceCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.faces)
}

func cloneAsset(a *database.Asset) *database.Asset {
	c := *a
	c.JobStatus = maps.Clone(a.JobStatus)
	if c.JobStatus == nil {
		c.JobStatus = make(map[database.Attribute]database.AttributeStatus)
	}
	if a.Exif != nil {
		exif := *a.Exif
		c.Exif = &exif
	}
	if a.DuplicateID != nil {
		id := *a.DuplicateID
		c.DuplicateID = &id
	}
	c.Thumbhash = slices.Clone(a.Thumbhash)
	return &c
}

// mark must be called with the lock held.
func (s *Store) mark(assetID string, attr database.Attribute, checksum string) {
	if a, ok := s.assets[assetID]; ok {
		a.JobStatus[attr] = database.AttributeStatus{SourceChecksum: checksum, ComputedAt: time.Now()}
	}
}

// sortedAssetIDs must be called with the lock held.
func (s *Store) sortedAssetIDs() []string {
	ids := slices.Collect(maps.Keys(s.assets))
	slices.Sort(ids)
	return ids
}

// AssetRepository is a mock implementation of database.AssetWriter
type AssetRepository struct {
	s *Store
}

// GetAsset returns a copy of the asset, nil if not found
func (r *AssetRepository) GetAsset(ctx context.Context, id string) (*database.Asset, error) {
	if r.s.GetAssetError != nil {
		return nil, r.s.GetAssetError
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	a, ok := r.s.assets[id]
	if !ok {
		return nil, nil
	}
	return cloneAsset(a), nil
}

// ListAssetIDs returns ids after the cursor in sorted order
func (r *AssetRepository) ListAssetIDs(ctx context.Context, after string, limit int) ([]string, error) {
	if r.s.ListAssetIDsError != nil {
		return nil, r.s.ListAssetIDsError
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []string
	for _, id := range r.s.sortedAssetIDs() {
		if id <= after {
			continue
		}
		out = append(out, id)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// GetAssetsMissingAttribute returns ids lacking attr but carrying every required attribute
func (r *AssetRepository) GetAssetsMissingAttribute(ctx context.Context, attr database.Attribute, requires []database.Attribute, after string, limit int) ([]string, error) {
	if r.s.MissingError != nil {
		return nil, r.s.MissingError
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []string
	for _, id := range r.s.sortedAssetIDs() {
		if id <= after {
			continue
		}
		a := r.s.assets[id]
		if a.Has(attr) || !a.HasAll(requires) {
			continue
		}
		out = append(out, id)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// CountAssets returns the number of assets
func (r *AssetRepository) CountAssets(ctx context.Context) (int, error) {
	if r.s.CountAssetsError != nil {
		return 0, r.s.CountAssetsError
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return len(r.s.assets), nil
}

// GetDuplicateMembers returns sorted ids sharing the duplicate id
func (r *AssetRepository) GetDuplicateMembers(ctx context.Context, duplicateID string) ([]string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	return r.s.duplicateMembers(duplicateID), nil
}

// duplicateMembers must be called with the lock held.
func (s *Store) duplicateMembers(duplicateID string) []string {
	var out []string
	for _, id := range s.sortedAssetIDs() {
		a := s.assets[id]
		if a.DuplicateID != nil && *a.DuplicateID == duplicateID {
			out = append(out, id)
		}
	}
	return out
}

// CreateAsset inserts an asset with an empty exif row
func (r *AssetRepository) CreateAsset(ctx context.Context, asset *database.Asset) error {
	if r.s.CreateAssetError != nil {
		return r.s.CreateAssetError
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := time.Now()
	if asset.CreatedAt.IsZero() {
		asset.CreatedAt = now
	}
	asset.UpdatedAt = now
	asset.Exif = &database.ExifInfo{}
	asset.JobStatus = make(map[database.Attribute]database.AttributeStatus)
	r.s.assets[asset.ID] = cloneAsset(asset)
	return nil
}

// UpsertExif replaces the exif row and marks metadata
func (r *AssetRepository) UpsertExif(ctx context.Context, assetID string, exif database.ExifInfo, sourceChecksum string) error {
	if r.s.UpsertExifError != nil {
		return r.s.UpsertExifError
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.assets[assetID]
	if !ok {
		return nil
	}
	a.Exif = &exif
	r.s.mark(assetID, database.AttributeMetadata, sourceChecksum)
	return nil
}

// UpsertThumbnail stores rendition info and marks thumbnail
func (r *AssetRepository) UpsertThumbnail(ctx context.Context, assetID string, thumb database.ThumbnailInfo, sourceChecksum string) error {
	if r.s.UpsertThumbnailError != nil {
		return r.s.UpsertThumbnailError
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.assets[assetID]
	if !ok {
		return nil
	}
	a.PreviewPath = thumb.PreviewPath
	a.ThumbnailPath = thumb.ThumbnailPath
	a.Thumbhash = slices.Clone(thumb.Thumbhash)
	r.s.mark(assetID, database.AttributeThumbnail, sourceChecksum)
	return nil
}

// MergeDuplicateGroup merges the groups of assetID and matches into one id
func (r *AssetRepository) MergeDuplicateGroup(ctx context.Context, assetID string, matches []string, sourceChecksum string) (string, error) {
	if r.s.DuplicateError != nil {
		return "", r.s.DuplicateError
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	members := append([]string{assetID}, matches...)
	existing := make(map[string]bool)
	for _, id := range members {
		if a, ok := r.s.assets[id]; ok && a.DuplicateID != nil {
			existing[*a.DuplicateID] = true
		}
	}

	target := uuid.NewString()
	if len(existing) > 0 {
		// Deterministic choice so concurrent merges converge on the same id.
		target = slices.Min(slices.Collect(maps.Keys(existing)))
	}

	for _, a := range r.s.assets {
		inGroup := a.DuplicateID != nil && existing[*a.DuplicateID]
		if inGroup || slices.Contains(members, a.ID) {
			id := target
			a.DuplicateID = &id
		}
	}
	r.s.mark(assetID, database.AttributeDuplicates, sourceChecksum)
	return target, nil
}

// ClearDuplicateGroup removes the asset from its group and marks duplicates
func (r *AssetRepository) ClearDuplicateGroup(ctx context.Context, assetID string, sourceChecksum string) error {
	if r.s.DuplicateError != nil {
		return r.s.DuplicateError
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if a, ok := r.s.assets[assetID]; ok && a.DuplicateID != nil {
		previous := *a.DuplicateID
		a.DuplicateID = nil
		if rest := r.s.duplicateMembers(previous); len(rest) == 1 {
			r.s.assets[rest[0]].DuplicateID = nil
		}
	}
	r.s.mark(assetID, database.AttributeDuplicates, sourceChecksum)
	return nil
}

// EmbeddingRepository is a mock implementation of database.EmbeddingWriter
type EmbeddingRepository struct {
	s *Store
}

// Get retrieves an embedding by asset id
func (r *EmbeddingRepository) Get(ctx context.Context, assetID string) (*database.StoredEmbedding, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	emb, ok := r.s.embeddings[assetID]
	if !ok {
		return nil, nil
	}
	c := *emb
	c.Embedding = slices.Clone(emb.Embedding)
	return &c, nil
}

// Has checks if an embedding exists
func (r *EmbeddingRepository) Has(ctx context.Context, assetID string) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	_, ok := r.s.embeddings[assetID]
	return ok, nil
}

// Count returns the total number of embeddings
func (r *EmbeddingRepository) Count(ctx context.Context) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return len(r.s.embeddings), nil
}

// FindSimilarWithDistance brute-forces the nearest embeddings
func (r *EmbeddingRepository) FindSimilarWithDistance(ctx context.Context, embedding []float32, limit int, maxDistance float64) ([]database.StoredEmbedding, []float64, error) {
	if r.s.FindSimilarError != nil {
		return nil, nil, r.s.FindSimilarError
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	vectors := make(map[string][]float32, len(r.s.embeddings))
	for id, emb := range r.s.embeddings {
		vectors[id] = emb.Embedding
	}

	hits := database.RankByCosine(embedding, vectors, limit, maxDistance)
	results := make([]database.StoredEmbedding, 0, len(hits))
	distances := make([]float64, 0, len(hits))
	for _, h := range hits {
		results = append(results, *r.s.embeddings[h.Key])
		distances = append(distances, h.Distance)
	}
	return results, distances, nil
}

// Save upserts the embedding and marks the embedding attribute
func (r *EmbeddingRepository) Save(ctx context.Context, assetID string, embedding []float32, model string, sourceChecksum string) error {
	if r.s.SaveEmbeddingError != nil {
		return r.s.SaveEmbeddingError
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.embeddings[assetID] = &database.StoredEmbedding{
		AssetID:   assetID,
		Embedding: slices.Clone(embedding),
		Model:     model,
		Dim:       len(embedding),
		CreatedAt: time.Now(),
	}
	r.s.mark(assetID, database.AttributeEmbedding, sourceChecksum)
	return nil
}

// FaceRepository is a mock implementation of database.FaceWriter
type FaceRepository struct {
	s *Store
}

// GetFaces retrieves all faces for an asset ordered by face index
func (r *FaceRepository) GetFaces(ctx context.Context, assetID string) ([]database.StoredFace, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []database.StoredFace
	for _, f := range r.s.faces {
		if f.AssetID == assetID {
			out = append(out, *f)
		}
	}
	slices.SortFunc(out, func(a, b database.StoredFace) int { return a.FaceIndex - b.FaceIndex })
	return out, nil
}

// Count returns the total number of faces
func (r *FaceRepository) Count(ctx context.Context) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return len(r.s.faces), nil
}

// FindSimilarWithDistance brute-forces the nearest faces
func (r *FaceRepository) FindSimilarWithDistance(ctx context.Context, embedding []float32, limit int, maxDistance float64) ([]database.StoredFace, []float64, error) {
	if r.s.FindSimilarError != nil {
		return nil, nil, r.s.FindSimilarError
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	vectors := make(map[int64][]float32, len(r.s.faces))
	for id, f := range r.s.faces {
		vectors[id] = f.Embedding
	}

	hits := database.RankByCosine(embedding, vectors, limit, maxDistance)
	results := make([]database.StoredFace, 0, len(hits))
	distances := make([]float64, 0, len(hits))
	for _, h := range hits {
		results = append(results, *r.s.faces[h.Key])
		distances = append(distances, h.Distance)
	}
	return results, distances, nil
}

// GetPeopleForAsset returns the people with at least one face on the asset
func (r *FaceRepository) GetPeopleForAsset(ctx context.Context, assetID string) ([]database.Person, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	seen := make(map[string]bool)
	for _, f := range r.s.faces {
		if f.AssetID == assetID && f.Assigned() {
			seen[f.PersonID] = true
		}
	}
	return r.s.peopleByID(seen), nil
}

// ListPeople returns every person with face counts
func (r *FaceRepository) ListPeople(ctx context.Context) ([]database.Person, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	all := make(map[string]bool, len(r.s.people))
	for id := range r.s.people {
		all[id] = true
	}
	return r.s.peopleByID(all), nil
}

// peopleByID must be called with the lock held.
func (s *Store) peopleByID(ids map[string]bool) []database.Person {
	counts := make(map[string]int)
	for _, f := range s.faces {
		if f.Assigned() {
			counts[f.PersonID]++
		}
	}

	out := make([]database.Person, 0, len(ids))
	for id := range ids {
		p, ok := s.people[id]
		if !ok {
			continue
		}
		c := *p
		c.FaceCount = counts[id]
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b database.Person) int {
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out
}

// ReplaceFaces replaces all faces of the asset and marks faces
func (r *FaceRepository) ReplaceFaces(ctx context.Context, assetID string, faces []database.StoredFace, sourceChecksum string) ([]database.StoredFace, error) {
	if r.s.ReplaceFacesError != nil {
		return nil, r.s.ReplaceFacesError
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for id, f := range r.s.faces {
		if f.AssetID == assetID {
			delete(r.s.faces, id)
		}
	}

	stored := make([]database.StoredFace, 0, len(faces))
	for i := range faces {
		r.s.nextFaceID++
		face := faces[i]
		face.ID = r.s.nextFaceID
		face.AssetID = assetID
		face.CreatedAt = time.Now()
		r.s.faces[face.ID] = &face
		stored = append(stored, face)
	}
	r.s.mark(assetID, database.AttributeFaces, sourceChecksum)
	return stored, nil
}

// AssignFaces creates people, applies assignments and marks people
func (r *FaceRepository) AssignFaces(ctx context.Context, assetID string, newPeople []database.Person, assignments []database.FaceAssignment, sourceChecksum string) error {
	if r.s.AssignFacesError != nil {
		return r.s.AssignFacesError
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, p := range newPeople {
		person := p
		if person.CreatedAt.IsZero() {
			person.CreatedAt = time.Now()
		}
		r.s.people[person.ID] = &person
	}
	for _, a := range assignments {
		if f, ok := r.s.faces[a.FaceID]; ok {
			f.PersonID = a.PersonID
		}
	}
	r.s.mark(assetID, database.AttributePeople, sourceChecksum)
	return nil
}

// Verify interface compliance
var (
	_ database.AssetWriter     = (*AssetRepository)(nil)
	_ database.EmbeddingWriter = (*EmbeddingRepository)(nil)
	_ database.FaceWriter      = (*FaceRepository)(nil)
)
