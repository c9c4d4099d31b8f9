package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/mediagate/internal/domain/model"
)

// mediaColumns — столбцы media_records для SELECT/RETURNING.
const mediaColumns = `media_id, title, duration, thumbnail, blob_link, size_bytes,
	cached_at, created_at, updated_at`

// MediaRepository — персистентный уровень Cache Store.
type MediaRepository interface {
	// GetByID возвращает запись по идентификатору или ErrNotFound.
	GetByID(ctx context.Context, mediaID string) (*model.MediaRecord, error)
	// Upsert создаёт запись или дополняет существующую.
	// Пустые поля rec не затирают сохранённые значения. Возвращает итоговую запись.
	Upsert(ctx context.Context, rec *model.MediaRecord) (*model.MediaRecord, error)
	// GetQueryMapping возвращает идентификатор для нормализованного запроса или ErrNotFound.
	GetQueryMapping(ctx context.Context, query string) (string, error)
	// PutQueryMapping сохраняет отображение, если его ещё нет.
	// Возвращает идентификатор, который фактически хранится для query.
	PutQueryMapping(ctx context.Context, query, mediaID string) (string, error)
}

// mediaRepo — реализация MediaRepository через pgx.
type mediaRepo struct {
	db DBTX
}

// NewMediaRepository создаёт репозиторий медиа-записей и отображений запросов.
func NewMediaRepository(db DBTX) MediaRepository {
	return &mediaRepo{db: db}
}

// GetByID возвращает запись по идентификатору.
func (r *mediaRepo) GetByID(ctx context.Context, mediaID string) (*model.MediaRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM media_records WHERE media_id = $1`, mediaColumns)

	rec, err := scanMediaRecord(r.db.QueryRow(ctx, query, mediaID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения медиа-записи: %w", err)
	}
	return rec, nil
}

// Upsert выполняет INSERT ... ON CONFLICT с COALESCE для каждого поля.
func (r *mediaRepo) Upsert(ctx context.Context, rec *model.MediaRecord) (*model.MediaRecord, error) {
	if strings.TrimSpace(rec.ID) == "" {
		return nil, fmt.Errorf("пустой идентификатор медиа-записи")
	}

	query := fmt.Sprintf(`
		INSERT INTO media_records (media_id, title, duration, thumbnail, blob_link, size_bytes, cached_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (media_id) DO UPDATE SET
			title      = COALESCE(EXCLUDED.title, media_records.title),
			duration   = COALESCE(EXCLUDED.duration, media_records.duration),
			thumbnail  = COALESCE(EXCLUDED.thumbnail, media_records.thumbnail),
			blob_link  = COALESCE(EXCLUDED.blob_link, media_records.blob_link),
			size_bytes = COALESCE(EXCLUDED.size_bytes, media_records.size_bytes),
			cached_at  = COALESCE(EXCLUDED.cached_at, media_records.cached_at),
			updated_at = NOW()
		RETURNING %s`, mediaColumns)

	merged, err := scanMediaRecord(r.db.QueryRow(ctx, query,
		rec.ID,
		nullString(rec.Title),
		nullString(rec.Duration),
		nullString(rec.Thumbnail),
		nullString(rec.BlobLink),
		nullInt64(rec.SizeBytes),
		rec.CachedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("ошибка сохранения медиа-записи: %w", err)
	}
	return merged, nil
}

// GetQueryMapping возвращает идентификатор для нормализованного запроса.
func (r *mediaRepo) GetQueryMapping(ctx context.Context, query string) (string, error) {
	var mediaID string
	err := r.db.QueryRow(ctx,
		`SELECT media_id FROM query_mappings WHERE query = $1`, query,
	).Scan(&mediaID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("ошибка получения отображения запроса: %w", err)
	}
	return mediaID, nil
}

// PutQueryMapping вставляет отображение, существующее не перезаписывается.
// Вставленная строка и уже существующая читаются одним запросом:
// CTE не видит собственную вставку, поэтому нужен UNION ALL.
func (r *mediaRepo) PutQueryMapping(ctx context.Context, query, mediaID string) (string, error) {
	var stored string
	err := r.db.QueryRow(ctx, `
		WITH ins AS (
			INSERT INTO query_mappings (query, media_id)
			VALUES ($1, $2)
			ON CONFLICT (query) DO NOTHING
			RETURNING media_id
		)
		SELECT media_id FROM ins
		UNION ALL
		SELECT media_id FROM query_mappings WHERE query = $1
		LIMIT 1`,
		query, mediaID,
	).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		// Конкурентная вставка зафиксирована после снимка запроса — перечитываем.
		return r.GetQueryMapping(ctx, query)
	}
	if err != nil {
		return "", fmt.Errorf("ошибка сохранения отображения запроса: %w", err)
	}
	return stored, nil
}

// scanMediaRecord сканирует одну строку media_records.
func scanMediaRecord(row pgx.Row) (*model.MediaRecord, error) {
	var rec model.MediaRecord
	var title, duration, thumbnail, blobLink *string
	var size *int64
	var cachedAt *time.Time

	err := row.Scan(
		&rec.ID, &title, &duration, &thumbnail, &blobLink, &size,
		&cachedAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Title = derefString(title)
	rec.Duration = derefString(duration)
	rec.Thumbnail = derefString(thumbnail)
	rec.BlobLink = derefString(blobLink)
	rec.SizeBytes = derefInt64(size)
	rec.CachedAt = cachedAt
	return &rec, nil
}
