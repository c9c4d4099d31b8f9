package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestJanitorRunOnce_RemovesOnlyStaleFiles(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	stale := filepath.Join(dir, "stale.mp4")
	fresh := filepath.Join(dir, "fresh.mp4")
	sub := filepath.Join(dir, "keep")
	for _, p := range []string{stale, fresh} {
		if err := os.WriteFile(p, []byte("data"), 0o600); err != nil {
			t.Fatalf("Ошибка создания файла: %v", err)
		}
	}
	if err := os.Mkdir(sub, 0o750); err != nil {
		t.Fatalf("Ошибка создания каталога: %v", err)
	}
	old := now.Add(-2 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
	if err := os.Chtimes(sub, old, old); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	j := NewJanitor(dir, time.Hour, time.Hour, testLogger())
	j.now = func() time.Time { return now }
	result := j.RunOnce()

	if result.Removed != 1 || result.Errors != 0 {
		t.Errorf("Removed=%d Errors=%d, ожидается 1 и 0", result.Removed, result.Errors)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("устаревший файл не удалён")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("свежий файл удалён")
	}
	if _, err := os.Stat(sub); err != nil {
		t.Error("подкаталог удалён")
	}
}

func TestJanitorRunOnce_MissingDir(t *testing.T) {
	j := NewJanitor(filepath.Join(t.TempDir(), "absent"), time.Hour, time.Hour, testLogger())
	result := j.RunOnce()
	if result.Removed != 0 || result.Errors != 0 {
		t.Errorf("для отсутствующего каталога Removed=%d Errors=%d", result.Removed, result.Errors)
	}
}

func TestJanitorStartStop(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "stale.mp4")
	if err := os.WriteFile(stale, []byte("x"), 0o600); err != nil {
		t.Fatalf("Ошибка создания файла: %v", err)
	}
	old := time.Now().Add(-time.Hour)
	_ = os.Chtimes(stale, old, old)

	j := NewJanitor(dir, time.Hour, time.Minute, testLogger())
	j.Start(context.Background())
	j.Stop()

	// Первый проход выполняется сразу при старте
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("первый проход janitor не выполнен")
	}
}
