package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bigkaa/mediagate/internal/domain/model"
	"github.com/bigkaa/mediagate/internal/repository"
)

var errStorageDown = errors.New("connection refused")

// testLogger — логгер, не засоряющий вывод тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- in-memory MediaRepository ---

type memMediaRepo struct {
	mu       sync.Mutex
	records  map[string]*model.MediaRecord
	mappings map[string]string

	// failWith — если задано, все операции возвращают эту ошибку
	failWith error
	gets     atomic.Int32
}

func newMemMediaRepo() *memMediaRepo {
	return &memMediaRepo{
		records:  make(map[string]*model.MediaRecord),
		mappings: make(map[string]string),
	}
}

func (r *memMediaRepo) GetByID(_ context.Context, id string) (*model.MediaRecord, error) {
	r.gets.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return nil, r.failWith
	}
	rec, ok := r.records[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *memMediaRepo) Upsert(_ context.Context, rec *model.MediaRecord) (*model.MediaRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return nil, r.failWith
	}
	cur, ok := r.records[rec.ID]
	if !ok {
		cur = &model.MediaRecord{ID: rec.ID, CreatedAt: time.Now()}
		r.records[rec.ID] = cur
	}
	if rec.Title != "" {
		cur.Title = rec.Title
	}
	if rec.Duration != "" {
		cur.Duration = rec.Duration
	}
	if rec.Thumbnail != "" {
		cur.Thumbnail = rec.Thumbnail
	}
	if rec.BlobLink != "" {
		cur.BlobLink = rec.BlobLink
	}
	if rec.SizeBytes != 0 {
		cur.SizeBytes = rec.SizeBytes
	}
	if rec.CachedAt != nil {
		cur.CachedAt = rec.CachedAt
	}
	cur.UpdatedAt = time.Now()
	cp := *cur
	return &cp, nil
}

func (r *memMediaRepo) GetQueryMapping(_ context.Context, query string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return "", r.failWith
	}
	id, ok := r.mappings[query]
	if !ok {
		return "", repository.ErrNotFound
	}
	return id, nil
}

func (r *memMediaRepo) PutQueryMapping(_ context.Context, query, id string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return "", r.failWith
	}
	if stored, ok := r.mappings[query]; ok {
		return stored, nil
	}
	r.mappings[query] = id
	return id, nil
}

func (r *memMediaRepo) setFail(err error) {
	r.mu.Lock()
	r.failWith = err
	r.mu.Unlock()
}

// --- in-memory APIKeyRepository ---

type memKeyRepo struct {
	mu       sync.Mutex
	keys     map[string]*model.QuotaRecord
	failWith error
	writes   int
}

func newMemKeyRepo(recs ...*model.QuotaRecord) *memKeyRepo {
	r := &memKeyRepo{keys: make(map[string]*model.QuotaRecord)}
	for _, rec := range recs {
		r.keys[rec.APIKey] = rec
	}
	return r
}

func (r *memKeyRepo) GetByKey(_ context.Context, key string) (*model.QuotaRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return nil, r.failWith
	}
	rec, ok := r.keys[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *memKeyRepo) UpdateLocked(
	_ context.Context,
	key string,
	fn func(rec *model.QuotaRecord) bool,
) (*model.QuotaRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return nil, r.failWith
	}
	rec, ok := r.keys[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *rec
	if fn(&cp) {
		r.keys[key] = &cp
		r.writes++
	}
	out := cp
	return &out, nil
}

func (r *memKeyRepo) Create(_ context.Context, rec *model.QuotaRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	r.keys[rec.APIKey] = &cp
	return nil
}

func (r *memKeyRepo) get(key string) model.QuotaRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.keys[key]
}

// --- внешние возможности ---

type fakeEgress struct {
	mu      sync.Mutex
	proxies []string
	evicts  int
}

func (e *fakeEgress) Next(context.Context) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.proxies) == 0 {
		return ""
	}
	return e.proxies[0]
}

func (e *fakeEgress) Evict() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.evicts++
}

func (e *fakeEgress) evictCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.evicts
}

type fakeSearcher struct {
	fn    func(ctx context.Context, query, proxy string) (*model.MediaInfo, error)
	calls atomic.Int32
}

func (s *fakeSearcher) Search(ctx context.Context, query, proxy string) (*model.MediaInfo, error) {
	s.calls.Add(1)
	return s.fn(ctx, query, proxy)
}

// fakeRetriever — AttemptFetch вызывает fn; по умолчанию пишет файл size байт.
type fakeRetriever struct {
	fn    func(ctx context.Context, id, proxy, outPath string) (*model.MediaInfo, error)
	calls atomic.Int32
	paths []string
	mu    sync.Mutex
}

func (r *fakeRetriever) AttemptFetch(ctx context.Context, id, proxy, outPath string) (*model.MediaInfo, error) {
	r.calls.Add(1)
	r.mu.Lock()
	r.paths = append(r.paths, outPath)
	r.mu.Unlock()
	return r.fn(ctx, id, proxy, outPath)
}

// writeFile — поведение успешного инструмента загрузки.
func writeFile(size int, info *model.MediaInfo) func(context.Context, string, string, string) (*model.MediaInfo, error) {
	return func(_ context.Context, _, _, outPath string) (*model.MediaInfo, error) {
		if err := os.WriteFile(outPath, []byte(strings.Repeat("v", size)), 0o600); err != nil {
			return nil, err
		}
		return info, nil
	}
}

type fakePublisher struct {
	fn    func(ctx context.Context, path string) (string, error)
	calls atomic.Int32
	seen  []string
	mu    sync.Mutex
}

func (p *fakePublisher) Publish(ctx context.Context, path string) (string, error) {
	p.calls.Add(1)
	p.mu.Lock()
	p.seen = append(p.seen, path)
	p.mu.Unlock()
	return p.fn(ctx, path)
}

type fakeNotifier struct {
	mu   sync.Mutex
	recs []*model.MediaRecord
}

func (n *fakeNotifier) NotifyPublished(_ context.Context, rec *model.MediaRecord) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.recs = append(n.recs, rec)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.recs)
}
