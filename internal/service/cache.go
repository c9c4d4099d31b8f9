// cache.go — CacheStore: двухуровневый кэш медиа-записей и отображений запросов.
// Memory-уровень — hashicorp/golang-lru/v2/expirable, персистентный — PostgreSQL.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/mediagate/internal/domain/model"
	"github.com/bigkaa/mediagate/internal/repository"
)

var cacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mg_cache_lookups_total",
	Help: "Обращения к кэшу по типу ключа и уровню, давшему ответ.",
}, []string{"kind", "tier"})

// CacheStore — кэш с memory-уровнем перед PostgreSQL.
// Запись идёт сначала в PostgreSQL, memory-уровень обновляется только после успеха.
// Ошибка хранилища возвращается как ErrStorage и никогда не считается промахом.
type CacheStore struct {
	repo     repository.MediaRepository
	records  *expirable.LRU[string, *model.MediaRecord]
	mappings *expirable.LRU[string, string]
}

// NewCacheStore создаёт кэш. maxSize и ttl относятся к каждому из LRU.
func NewCacheStore(repo repository.MediaRepository, maxSize int, ttl time.Duration) *CacheStore {
	return &CacheStore{
		repo:     repo,
		records:  expirable.NewLRU[string, *model.MediaRecord](maxSize, nil, ttl),
		mappings: expirable.NewLRU[string, string](maxSize, nil, ttl),
	}
}

// GetByQuery возвращает идентификатор для нормализованного запроса.
func (c *CacheStore) GetByQuery(ctx context.Context, normalized string) (string, bool, error) {
	if id, ok := c.mappings.Get(normalized); ok {
		cacheLookupsTotal.WithLabelValues("query", "memory").Inc()
		return id, true, nil
	}

	id, err := c.repo.GetQueryMapping(ctx, normalized)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			cacheLookupsTotal.WithLabelValues("query", "miss").Inc()
			return "", false, nil
		}
		return "", false, storageError("чтение отображения запроса", err)
	}

	cacheLookupsTotal.WithLabelValues("query", "persistent").Inc()
	c.mappings.Add(normalized, id)
	return id, true, nil
}

// GetByID возвращает запись по идентификатору. Отсутствие — (nil, nil).
func (c *CacheStore) GetByID(ctx context.Context, id string) (*model.MediaRecord, error) {
	if rec, ok := c.records.Get(id); ok {
		cacheLookupsTotal.WithLabelValues("id", "memory").Inc()
		return cloneRecord(rec), nil
	}

	rec, err := c.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			cacheLookupsTotal.WithLabelValues("id", "miss").Inc()
			return nil, nil
		}
		return nil, storageError("чтение медиа-записи", err)
	}

	cacheLookupsTotal.WithLabelValues("id", "persistent").Inc()
	c.records.Add(id, rec)
	return cloneRecord(rec), nil
}

// PutQueryMapping сохраняет отображение (первая запись побеждает)
// и возвращает фактически сохранённый идентификатор.
func (c *CacheStore) PutQueryMapping(ctx context.Context, normalized, id string) (string, error) {
	stored, err := c.repo.PutQueryMapping(ctx, normalized, id)
	if err != nil {
		return "", storageError("сохранение отображения запроса", err)
	}
	c.mappings.Add(normalized, stored)
	return stored, nil
}

// UpsertRecord сливает rec с сохранённой записью и возвращает результат слияния.
func (c *CacheStore) UpsertRecord(ctx context.Context, rec *model.MediaRecord) (*model.MediaRecord, error) {
	merged, err := c.repo.Upsert(ctx, rec)
	if err != nil {
		return nil, storageError("сохранение медиа-записи", err)
	}
	c.records.Add(merged.ID, merged)
	return cloneRecord(merged), nil
}

// Len — количество записей в memory-уровне (для health).
func (c *CacheStore) Len() int {
	return c.records.Len() + c.mappings.Len()
}

// cloneRecord отдаёт копию, чтобы вызывающий код не менял содержимое LRU.
func cloneRecord(rec *model.MediaRecord) *model.MediaRecord {
	cp := *rec
	return &cp
}
