package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/mediagate/internal/domain/model"
)

func TestExtractID(t *testing.T) {
	tests := []struct {
		query  string
		wantID string
		wantOK bool
	}{
		{"dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"  dQw4w9WgXcQ  ", "dQw4w9WgXcQ", true},
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"https://www.youtube.com/watch?feature=share&v=dQw4w9WgXcQ&t=42", "dQw4w9WgXcQ", true},
		{"https://youtu.be/dQw4w9WgXcQ?si=abc", "dQw4w9WgXcQ", true},
		{"https://youtube.com/shorts/aBcDeFgHiJk", "aBcDeFgHiJk", true},
		{"https://www.youtube.com/embed/aBcDeFgHiJk", "aBcDeFgHiJk", true},
		{"https://www.youtube.com/live/aBcDeFgHiJk?feature=share", "aBcDeFgHiJk", true},
		{"HTTPS://YOUTU.BE/dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"never gonna give you up", "", false},
		{"dQw4w9WgXc", "", false},
		{"dQw4w9WgXcQQ", "", false},
		{"https://youtu.be/dQw4w9WgXcQQ", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			id, ok := ExtractID(tt.query)
			if ok != tt.wantOK || id != tt.wantID {
				t.Errorf("ExtractID(%q) = %q, %v; ожидается %q, %v", tt.query, id, ok, tt.wantID, tt.wantOK)
			}
		})
	}
}

func TestNormalizeQuery(t *testing.T) {
	tests := map[string]string{
		"Never Gonna Give You Up":         "never gonna give you up",
		"  never   gonna\tgive you up \n": "never gonna give you up",
		"":                                "",
	}
	for in, want := range tests {
		if got := NormalizeQuery(in); got != want {
			t.Errorf("NormalizeQuery(%q) = %q, ожидается %q", in, got, want)
		}
	}
}

func newTestResolver(s *fakeSearcher, e *fakeEgress) *QueryResolver {
	return NewQueryResolver(s, e, 3, time.Millisecond, 0, testLogger())
}

func TestResolve_DirectIDSkipsSearch(t *testing.T) {
	s := &fakeSearcher{fn: func(context.Context, string, string) (*model.MediaInfo, error) {
		t.Error("поиск не должен вызываться для прямого идентификатора")
		return nil, nil
	}}
	r := newTestResolver(s, &fakeEgress{})

	info, err := r.Resolve(context.Background(), "dQw4w9WgXcQ")
	if err != nil || info.ID != "dQw4w9WgXcQ" {
		t.Errorf("Resolve() = %+v, %v", info, err)
	}
}

func TestResolve_RetriesThenSucceeds(t *testing.T) {
	e := &fakeEgress{proxies: []string{"http://p:1"}}
	var seenProxies []string
	s := &fakeSearcher{}
	s.fn = func(_ context.Context, _, proxy string) (*model.MediaInfo, error) {
		seenProxies = append(seenProxies, proxy)
		if s.calls.Load() < 3 {
			return nil, errors.New("HTTP Error 429")
		}
		return &model.MediaInfo{ID: "dQw4w9WgXcQ", Title: "Song"}, nil
	}
	r := newTestResolver(s, e)

	info, err := r.Resolve(context.Background(), "never gonna give you up")
	if err != nil {
		t.Fatalf("Resolve() ошибка: %v", err)
	}
	if info.ID != "dQw4w9WgXcQ" || info.Title != "Song" {
		t.Errorf("Resolve() = %+v", info)
	}
	if s.calls.Load() != 3 {
		t.Errorf("попыток поиска = %d, ожидается 3", s.calls.Load())
	}
	if e.evictCount() != 2 {
		t.Errorf("сбросов пула = %d, ожидается 2", e.evictCount())
	}
	for _, p := range seenProxies {
		if p != "http://p:1" {
			t.Errorf("поиск получил прокси %q", p)
		}
	}
}

func TestResolve_ExhaustionIsNotFound(t *testing.T) {
	s := &fakeSearcher{fn: func(context.Context, string, string) (*model.MediaInfo, error) {
		return nil, errors.New("network unreachable")
	}}
	r := newTestResolver(s, &fakeEgress{})

	_, err := r.Resolve(context.Background(), "some query")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Resolve() ошибка = %v, ожидается ErrNotFound", err)
	}
	if s.calls.Load() != 3 {
		t.Errorf("попыток поиска = %d, ожидается 3", s.calls.Load())
	}
}

func TestResolve_NoMatchIsTerminal(t *testing.T) {
	s := &fakeSearcher{fn: func(context.Context, string, string) (*model.MediaInfo, error) {
		return nil, model.ErrNoMatch
	}}
	r := newTestResolver(s, &fakeEgress{})

	_, err := r.Resolve(context.Background(), "asdkjhaskjdh")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Resolve() ошибка = %v, ожидается ErrNotFound", err)
	}
	if s.calls.Load() != 1 {
		t.Errorf("попыток поиска = %d, ожидается 1 (пустая выдача не повторяется)", s.calls.Load())
	}
}

func TestResolve_CoalescesConcurrentQueries(t *testing.T) {
	release := make(chan struct{})
	s := &fakeSearcher{fn: func(context.Context, string, string) (*model.MediaInfo, error) {
		<-release
		return &model.MediaInfo{ID: "dQw4w9WgXcQ"}, nil
	}}
	r := newTestResolver(s, &fakeEgress{})

	var wg sync.WaitGroup
	queries := []string{"Never Gonna", "never gonna", "  NEVER  gonna "}
	for _, q := range queries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			info, err := r.Resolve(context.Background(), q)
			if err != nil || info.ID != "dQw4w9WgXcQ" {
				t.Errorf("Resolve(%q) = %+v, %v", q, info, err)
			}
		}()
	}

	// Даём горутинам встать в singleflight
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if s.calls.Load() != 1 {
		t.Errorf("вызовов поиска = %d, ожидается 1", s.calls.Load())
	}
}
