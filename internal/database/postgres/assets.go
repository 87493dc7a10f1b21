package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/kozaktomas/photo-jobs/internal/database"
	"github.com/lib/pq"
)

// AssetRepository provides PostgreSQL-backed asset storage
type AssetRepository struct {
	pool *Pool
}

// NewAssetRepository creates a new PostgreSQL asset repository
func NewAssetRepository(pool *Pool) *AssetRepository {
	return &AssetRepository{pool: pool}
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// markAttribute upserts the asset_job_status row for an attribute.
func markAttribute(ctx context.Context, ex execer, assetID string, attr database.Attribute, sourceChecksum string) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO asset_job_status (asset_id, attribute, source_checksum, computed_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (asset_id, attribute) DO UPDATE SET
			source_checksum = EXCLUDED.source_checksum,
			computed_at = NOW()
	`, assetID, string(attr), sourceChecksum)
	if err != nil {
		return fmt.Errorf("mark %s for asset %s: %w", attr, assetID, err)
	}
	return nil
}

// cursor maps an empty paging cursor to the smallest uuid.
func cursor(after string) string {
	if after == "" {
		return uuid.Nil.String()
	}
	return after
}

// GetAsset retrieves an asset with its exif row and job status, returns nil if not found
func (r *AssetRepository) GetAsset(ctx context.Context, id string) (*database.Asset, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	var a database.Asset
	var assetType string
	var preview, thumb sql.NullString
	var duplicateID sql.NullString
	var exif database.ExifInfo
	var hasExif bool
	var exifMake, model, lens, exposure sql.NullString
	var orientation, iso, width, height sql.NullInt32
	var dateTaken sql.NullTime
	var lat, lon, fNumber, focal sql.NullFloat64
	var fileSize sql.NullInt64

	err := r.pool.QueryRow(ctx, `
		SELECT a.id, a.owner_id, a.original_path, a.original_file_name, a.checksum, a.type,
		       a.file_created_at, a.created_at, a.updated_at, a.thumbhash, a.preview_path,
		       a.thumbnail_path, a.duplicate_id,
		       e.asset_id IS NOT NULL, e.make, e.model, e.lens_model, e.orientation,
		       e.date_time_original, e.latitude, e.longitude, e.exposure_time, e.f_number,
		       e.focal_length, e.iso, e.exif_image_width, e.exif_image_height, e.file_size_in_byte
		FROM assets a
		LEFT JOIN asset_exif e ON e.asset_id = a.id
		WHERE a.id = $1
	`, id).Scan(
		&a.ID, &a.OwnerID, &a.OriginalPath, &a.OriginalFileName, &a.Checksum, &assetType,
		&a.FileCreatedAt, &a.CreatedAt, &a.UpdatedAt, &a.Thumbhash, &preview,
		&thumb, &duplicateID,
		&hasExif, &exifMake, &model, &lens, &orientation,
		&dateTaken, &lat, &lon, &exposure, &fNumber,
		&focal, &iso, &width, &height, &fileSize,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query asset: %w", err)
	}

	a.Type = database.AssetType(assetType)
	a.PreviewPath = preview.String
	a.ThumbnailPath = thumb.String
	if duplicateID.Valid {
		a.DuplicateID = &duplicateID.String
	}
	if hasExif {
		exif.Make = nullString(exifMake)
		exif.Model = nullString(model)
		exif.LensModel = nullString(lens)
		exif.ExposureTime = nullString(exposure)
		exif.Orientation = nullInt(orientation)
		exif.ISO = nullInt(iso)
		exif.ExifImageWidth = nullInt(width)
		exif.ExifImageHeight = nullInt(height)
		exif.Latitude = nullFloat(lat)
		exif.Longitude = nullFloat(lon)
		exif.FNumber = nullFloat(fNumber)
		exif.FocalLength = nullFloat(focal)
		if dateTaken.Valid {
			exif.DateTimeOriginal = &dateTaken.Time
		}
		if fileSize.Valid {
			exif.FileSizeInByte = &fileSize.Int64
		}
		a.Exif = &exif
	}

	a.JobStatus, err = r.getJobStatus(ctx, id)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AssetRepository) getJobStatus(ctx context.Context, id string) (map[database.Attribute]database.AttributeStatus, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT attribute, source_checksum, computed_at
		FROM asset_job_status
		WHERE asset_id = $1
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query job status: %w", err)
	}
	defer rows.Close()

	status := make(map[database.Attribute]database.AttributeStatus)
	for rows.Next() {
		var attr string
		var s database.AttributeStatus
		if err := rows.Scan(&attr, &s.SourceChecksum, &s.ComputedAt); err != nil {
			return nil, fmt.Errorf("scan job status: %w", err)
		}
		status[database.Attribute(attr)] = s
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job status: %w", err)
	}
	return status, nil
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func nullInt(v sql.NullInt32) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int32)
	return &n
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}

// ListAssetIDs returns asset ids after the cursor in stable id order
func (r *AssetRepository) ListAssetIDs(ctx context.Context, after string, limit int) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM assets
		WHERE id > $1::uuid
		ORDER BY id
		LIMIT $2
	`, cursor(after), limit)
	if err != nil {
		return nil, fmt.Errorf("list asset ids: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

// GetAssetsMissingAttribute returns ids lacking attr but carrying every required attribute
func (r *AssetRepository) GetAssetsMissingAttribute(ctx context.Context, attr database.Attribute, requires []database.Attribute, after string, limit int) ([]string, error) {
	required := make([]string, len(requires))
	for i, a := range requires {
		required[i] = string(a)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT a.id FROM assets a
		WHERE a.id > $1::uuid
		  AND NOT EXISTS (
			SELECT 1 FROM asset_job_status s
			WHERE s.asset_id = a.id AND s.attribute = $2
		  )
		  AND (
			SELECT COUNT(*) FROM asset_job_status s
			WHERE s.asset_id = a.id AND s.attribute = ANY($3::text[])
		  ) = cardinality($3::text[])
		ORDER BY a.id
		LIMIT $4
	`, cursor(after), string(attr), pq.Array(required), limit)
	if err != nil {
		return nil, fmt.Errorf("query assets missing %s: %w", attr, err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

func scanIDs(rows *sql.Rows) ([]string, error) {
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ids: %w", err)
	}
	return ids, nil
}

// CountAssets returns the total number of assets
func (r *AssetRepository) CountAssets(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM assets").Scan(&count); err != nil {
		return 0, fmt.Errorf("count assets: %w", err)
	}
	return count, nil
}

// GetDuplicateMembers returns the ids of all assets sharing the duplicate id
func (r *AssetRepository) GetDuplicateMembers(ctx context.Context, duplicateID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, "SELECT id FROM assets WHERE duplicate_id = $1 ORDER BY id", duplicateID)
	if err != nil {
		return nil, fmt.Errorf("query duplicate members: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

// CreateAsset inserts a new asset together with an empty exif row
func (r *AssetRepository) CreateAsset(ctx context.Context, asset *database.Asset) error {
	return r.pool.inTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO assets (id, owner_id, original_path, original_file_name, checksum, type, file_created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING created_at, updated_at
		`, asset.ID, asset.OwnerID, asset.OriginalPath, asset.OriginalFileName, asset.Checksum,
			string(asset.Type), asset.FileCreatedAt,
		).Scan(&asset.CreatedAt, &asset.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert asset: %w", err)
		}

		if _, err := tx.ExecContext(ctx, "INSERT INTO asset_exif (asset_id) VALUES ($1)", asset.ID); err != nil {
			return fmt.Errorf("insert empty exif: %w", err)
		}
		asset.Exif = &database.ExifInfo{}
		asset.JobStatus = make(map[database.Attribute]database.AttributeStatus)
		return nil
	})
}

// UpsertExif replaces the exif row and marks the metadata attribute
func (r *AssetRepository) UpsertExif(ctx context.Context, assetID string, exif database.ExifInfo, sourceChecksum string) error {
	return r.pool.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO asset_exif (asset_id, make, model, lens_model, orientation, date_time_original,
			                        latitude, longitude, exposure_time, f_number, focal_length, iso,
			                        exif_image_width, exif_image_height, file_size_in_byte, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW())
			ON CONFLICT (asset_id) DO UPDATE SET
				make = EXCLUDED.make,
				model = EXCLUDED.model,
				lens_model = EXCLUDED.lens_model,
				orientation = EXCLUDED.orientation,
				date_time_original = EXCLUDED.date_time_original,
				latitude = EXCLUDED.latitude,
				longitude = EXCLUDED.longitude,
				exposure_time = EXCLUDED.exposure_time,
				f_number = EXCLUDED.f_number,
				focal_length = EXCLUDED.focal_length,
				iso = EXCLUDED.iso,
				exif_image_width = EXCLUDED.exif_image_width,
				exif_image_height = EXCLUDED.exif_image_height,
				file_size_in_byte = EXCLUDED.file_size_in_byte,
				updated_at = NOW()
		`, assetID, exif.Make, exif.Model, exif.LensModel, exif.Orientation, exif.DateTimeOriginal,
			exif.Latitude, exif.Longitude, exif.ExposureTime, exif.FNumber, exif.FocalLength, exif.ISO,
			exif.ExifImageWidth, exif.ExifImageHeight, exif.FileSizeInByte)
		if err != nil {
			return fmt.Errorf("upsert exif: %w", err)
		}
		return markAttribute(ctx, tx, assetID, database.AttributeMetadata, sourceChecksum)
	})
}

// UpsertThumbnail stores rendition paths and thumbhash and marks the thumbnail attribute
func (r *AssetRepository) UpsertThumbnail(ctx context.Context, assetID string, thumb database.ThumbnailInfo, sourceChecksum string) error {
	return r.pool.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE assets
			SET preview_path = $2, thumbnail_path = $3, thumbhash = $4, updated_at = NOW()
			WHERE id = $1
		`, assetID, thumb.PreviewPath, thumb.ThumbnailPath, thumb.Thumbhash)
		if err != nil {
			return fmt.Errorf("update thumbnail: %w", err)
		}
		return markAttribute(ctx, tx, assetID, database.AttributeThumbnail, sourceChecksum)
	})
}

// MergeDuplicateGroup puts assetID, matches and everything already grouped with them under one id.
// The smallest existing group id wins so concurrent merges converge.
func (r *AssetRepository) MergeDuplicateGroup(ctx context.Context, assetID string, matches []string, sourceChecksum string) (string, error) {
	members := append([]string{assetID}, matches...)
	var target string

	err := r.pool.inTx(ctx, func(tx *sql.Tx) error {
		// Lock the member rows so two merges touching the same assets serialize.
		if _, err := tx.ExecContext(ctx, `
			SELECT id FROM assets WHERE id = ANY($1::uuid[]) ORDER BY id FOR UPDATE
		`, pq.Array(members)); err != nil {
			return fmt.Errorf("lock duplicate members: %w", err)
		}

		rows, err := tx.QueryContext(ctx, `
			SELECT DISTINCT duplicate_id::text FROM assets
			WHERE id = ANY($1::uuid[]) AND duplicate_id IS NOT NULL
			ORDER BY 1
		`, pq.Array(members))
		if err != nil {
			return fmt.Errorf("query existing duplicate groups: %w", err)
		}
		existing, err := scanIDs(rows)
		rows.Close()
		if err != nil {
			return err
		}

		target = uuid.NewString()
		if len(existing) > 0 {
			target = existing[0]
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE assets SET duplicate_id = $1, updated_at = NOW()
			WHERE id = ANY($2::uuid[]) OR duplicate_id = ANY($3::uuid[])
		`, target, pq.Array(members), pq.Array(existing))
		if err != nil {
			return fmt.Errorf("merge duplicate group: %w", err)
		}
		return markAttribute(ctx, tx, assetID, database.AttributeDuplicates, sourceChecksum)
	})
	if err != nil {
		return "", err
	}
	return target, nil
}

// ClearDuplicateGroup removes assetID from its duplicate group and marks the duplicates attribute.
// A group left with a single member is dissolved.
func (r *AssetRepository) ClearDuplicateGroup(ctx context.Context, assetID string, sourceChecksum string) error {
	return r.pool.inTx(ctx, func(tx *sql.Tx) error {
		var previous sql.NullString
		err := tx.QueryRowContext(ctx, "SELECT duplicate_id::text FROM assets WHERE id = $1 FOR UPDATE", assetID).Scan(&previous)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("load duplicate group: %w", err)
		}

		if _, err := tx.ExecContext(ctx, "UPDATE assets SET duplicate_id = NULL, updated_at = NOW() WHERE id = $1", assetID); err != nil {
			return fmt.Errorf("clear duplicate group: %w", err)
		}

		if previous.Valid {
			_, err := tx.ExecContext(ctx, `
				UPDATE assets SET duplicate_id = NULL, updated_at = NOW()
				WHERE duplicate_id = $1 AND (SELECT COUNT(*) FROM assets WHERE duplicate_id = $1) = 1
			`, previous.String)
			if err != nil {
				return fmt.Errorf("dissolve duplicate group: %w", err)
			}
		}
		return markAttribute(ctx, tx, assetID, database.AttributeDuplicates, sourceChecksum)
	})
}

// Verify interface compliance
var _ database.AssetWriter = (*AssetRepository)(nil)
