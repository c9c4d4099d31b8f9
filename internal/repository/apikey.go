package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/mediagate/internal/domain/model"
)

// apiKeyColumns — столбцы api_keys для SELECT.
const apiKeyColumns = `api_key, owner, plan, active, daily_limit, used_today,
	last_reset, total_usage, created_at`

// APIKeyRepository — хранилище ключей и счётчиков квот.
type APIKeyRepository interface {
	// GetByKey возвращает запись ключа или ErrNotFound.
	GetByKey(ctx context.Context, key string) (*model.QuotaRecord, error)
	// UpdateLocked блокирует строку ключа (SELECT ... FOR UPDATE), передаёт копию в fn
	// и сохраняет счётчики, если fn вернула true. Всё выполняется в одной транзакции.
	// Отсутствующий ключ — ErrNotFound, fn не вызывается.
	UpdateLocked(ctx context.Context, key string, fn func(rec *model.QuotaRecord) bool) (*model.QuotaRecord, error)
	// Create добавляет новый ключ.
	Create(ctx context.Context, rec *model.QuotaRecord) error
}

// apiKeyRepo — реализация APIKeyRepository через pgx.
type apiKeyRepo struct {
	db DBTX
	tx *TxRunner
}

// NewAPIKeyRepository создаёт репозиторий ключей.
// db используется для чтения, tx — для атомарных обновлений счётчиков.
func NewAPIKeyRepository(db DBTX, tx *TxRunner) APIKeyRepository {
	return &apiKeyRepo{db: db, tx: tx}
}

// GetByKey возвращает запись ключа без блокировки.
func (r *apiKeyRepo) GetByKey(ctx context.Context, key string) (*model.QuotaRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM api_keys WHERE api_key = $1`, apiKeyColumns)

	rec, err := scanQuotaRecord(r.db.QueryRow(ctx, query, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения ключа: %w", err)
	}
	return rec, nil
}

// UpdateLocked — read-modify-write счётчиков под блокировкой строки.
func (r *apiKeyRepo) UpdateLocked(
	ctx context.Context,
	key string,
	fn func(rec *model.QuotaRecord) bool,
) (*model.QuotaRecord, error) {
	var result *model.QuotaRecord

	err := r.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		query := fmt.Sprintf(`SELECT %s FROM api_keys WHERE api_key = $1 FOR UPDATE`, apiKeyColumns)

		rec, err := scanQuotaRecord(tx.QueryRow(ctx, query, key))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("ошибка блокировки ключа: %w", err)
		}

		if !fn(rec) {
			result = rec
			return nil
		}

		_, err = tx.Exec(ctx, `
			UPDATE api_keys
			SET used_today = $2, last_reset = $3, total_usage = $4
			WHERE api_key = $1`,
			rec.APIKey, rec.UsedToday, rec.LastReset, rec.TotalUsage,
		)
		if err != nil {
			return fmt.Errorf("ошибка обновления счётчиков ключа: %w", err)
		}
		result = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Create добавляет новый ключ.
func (r *apiKeyRepo) Create(ctx context.Context, rec *model.QuotaRecord) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO api_keys (api_key, owner, plan, active, daily_limit, used_today, last_reset, total_usage)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.APIKey, rec.Owner, rec.Plan, rec.Active, rec.DailyLimit,
		rec.UsedToday, rec.LastReset, rec.TotalUsage,
	)
	if err != nil {
		return fmt.Errorf("ошибка создания ключа: %w", err)
	}
	return nil
}

// scanQuotaRecord сканирует одну строку api_keys.
func scanQuotaRecord(row pgx.Row) (*model.QuotaRecord, error) {
	var rec model.QuotaRecord
	err := row.Scan(
		&rec.APIKey, &rec.Owner, &rec.Plan, &rec.Active, &rec.DailyLimit, &rec.UsedToday,
		&rec.LastReset, &rec.TotalUsage, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
