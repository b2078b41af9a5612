package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-video/pkg/simplevideo"
)

const table = "video_assets"

var assetColumns = []string{
	"id::text", "object_key", "bucket", "filename", "size", "content_type",
	"last_modified", "upload_date", "duration", "thumbnail_url", "streaming_url",
	"status", "created_at", "updated_at",
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository implements simplevideo.Repository using PostgreSQL
type Repository struct {
	db  DBTX
	now func() time.Time
}

// New creates a new PostgreSQL repository
func New(db DBTX) *Repository {
	return &Repository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return New(pool)
}

func (r *Repository) UpsertAsset(ctx context.Context, key string, patch simplevideo.AssetPatch) (*simplevideo.VideoAsset, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	query, args, err := buildUpsert(key, patch, uuid.New(), r.now())
	if err != nil {
		return nil, fmt.Errorf("build upsert: %w", err)
	}

	asset, err := scanAsset(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, r.handlePostgresError("upsert asset", err)
	}
	return asset, nil
}

// buildUpsert renders an INSERT ... ON CONFLICT statement that only touches
// the columns set in patch. id and created_at are written on insert only.
func buildUpsert(key string, patch simplevideo.AssetPatch, id uuid.UUID, now time.Time) (string, []interface{}, error) {
	columns := []string{"id", "object_key", "created_at", "updated_at"}
	values := []interface{}{id, key, now, now}

	set := func(column string, value interface{}) {
		columns = append(columns, column)
		values = append(values, value)
	}
	if patch.Bucket != nil {
		set("bucket", *patch.Bucket)
	}
	if patch.Filename != nil {
		set("filename", *patch.Filename)
	}
	if patch.Size != nil {
		set("size", *patch.Size)
	}
	if patch.ContentType != nil {
		set("content_type", *patch.ContentType)
	}
	if patch.LastModified != nil {
		set("last_modified", *patch.LastModified)
	}
	if patch.UploadDate != nil {
		set("upload_date", *patch.UploadDate)
	}
	if patch.Duration != nil {
		set("duration", *patch.Duration)
	} else if patch.ClearDuration {
		set("duration", nil)
	}
	if patch.ThumbnailURL != nil {
		set("thumbnail_url", *patch.ThumbnailURL)
	}
	if patch.StreamingURL != nil {
		set("streaming_url", *patch.StreamingURL)
	}
	if patch.Status != nil {
		set("status", string(*patch.Status))
	}

	updates := make([]string, 0, len(columns)-2)
	for _, column := range columns[3:] {
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", column, column))
	}

	return psql.Insert(table).
		Columns(columns...).
		Values(values...).
		Suffix("ON CONFLICT (object_key) DO UPDATE SET " + strings.Join(updates, ", ") +
			" RETURNING " + strings.Join(assetColumns, ", ")).
		ToSql()
}

func (r *Repository) GetAsset(ctx context.Context, id string) (*simplevideo.VideoAsset, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, simplevideo.ErrVideoNotFound
	}
	return r.getOne(ctx, "get asset", sq.Eq{"id": parsed})
}

func (r *Repository) GetAssetByKey(ctx context.Context, key string) (*simplevideo.VideoAsset, error) {
	return r.getOne(ctx, "get asset by key", sq.Eq{"object_key": key})
}

func (r *Repository) getOne(ctx context.Context, operation string, where sq.Eq) (*simplevideo.VideoAsset, error) {
	query, args, err := psql.Select(assetColumns...).From(table).Where(where).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", operation, err)
	}

	asset, err := scanAsset(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, simplevideo.ErrVideoNotFound
		}
		return nil, r.handlePostgresError(operation, err)
	}
	return asset, nil
}

func (r *Repository) ListAssetsByStatus(ctx context.Context, statuses []simplevideo.AssetStatus) ([]*simplevideo.VideoAsset, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	names := make([]string, len(statuses))
	for i, status := range statuses {
		names[i] = string(status)
	}

	query, args, err := psql.Select(assetColumns...).
		From(table).
		Where(sq.Eq{"status": names}).
		OrderBy("upload_date DESC NULLS LAST", "object_key").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list assets: %w", err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, r.handlePostgresError("list assets", err)
	}
	defer rows.Close()

	var assets []*simplevideo.VideoAsset
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, r.handlePostgresError("scan asset", err)
		}
		assets = append(assets, asset)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("list assets", err)
	}
	return assets, nil
}

func (r *Repository) DeleteAssetByKey(ctx context.Context, key string) error {
	query, args, err := psql.Delete(table).Where(sq.Eq{"object_key": key}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete asset: %w", err)
	}
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return r.handlePostgresError("delete asset", err)
	}
	return nil
}

func scanAsset(row pgx.Row) (*simplevideo.VideoAsset, error) {
	var (
		asset        simplevideo.VideoAsset
		status       string
		lastModified *time.Time
		uploadDate   *time.Time
	)
	err := row.Scan(
		&asset.ID, &asset.Key, &asset.Bucket, &asset.Filename, &asset.Size, &asset.ContentType,
		&lastModified, &uploadDate, &asset.Duration, &asset.ThumbnailURL, &asset.StreamingURL,
		&status, &asset.CreatedAt, &asset.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	asset.Status = simplevideo.AssetStatus(status)
	if lastModified != nil {
		asset.LastModified = lastModified.UTC()
	}
	if uploadDate != nil {
		asset.UploadDate = uploadDate.UTC()
	}
	return &asset, nil
}

// Error handling helper
func (r *Repository) handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("asset already exists: %s", pgErr.ConstraintName)
		case "23502": // not_null_violation
			return fmt.Errorf("required field %s is missing", pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}

	return fmt.Errorf("database error in %s: %w", operation, err)
}
