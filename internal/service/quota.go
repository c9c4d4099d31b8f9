// quota.go — Quota Ledger: admission по дневному лимиту ключа.
// Ленивый сброс счётчика, проверка лимита и инкремент выполняются одной
// транзакцией под блокировкой строки ключа.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/mediagate/internal/domain/model"
	"github.com/bigkaa/mediagate/internal/repository"
)

var admissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mg_quota_admissions_total",
	Help: "Решения admission (по результату).",
}, []string{"result"})

// Decision — результат admission.
type Decision struct {
	Allowed bool
	Reason  string
}

// QuotaLedger — учёт дневного использования ключей.
type QuotaLedger struct {
	repo   repository.APIKeyRepository
	loc    *time.Location
	now    func() time.Time
	logger *slog.Logger
}

// NewQuotaLedger создаёт леджер. loc — часовой пояс календарного дня.
func NewQuotaLedger(repo repository.APIKeyRepository, loc *time.Location, logger *slog.Logger) *QuotaLedger {
	if loc == nil {
		loc = time.UTC
	}
	return &QuotaLedger{
		repo:   repo,
		loc:    loc,
		now:    time.Now,
		logger: logger.With(slog.String("component", "quota_ledger")),
	}
}

// Admit проверяет ключ и атомарно списывает одну единицу дневного лимита.
// Ошибка хранилища — отказ с причиной "verification error".
func (l *QuotaLedger) Admit(ctx context.Context, key string) Decision {
	key = strings.TrimSpace(key)
	if key == "" {
		return l.deny("invalid", ReasonInvalidKey)
	}

	today := model.DateOf(l.now(), l.loc)
	var decision Decision

	_, err := l.repo.UpdateLocked(ctx, key, func(rec *model.QuotaRecord) bool {
		var changed bool
		decision, changed = admit(rec, today)
		return changed
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return l.deny("invalid", ReasonInvalidKey)
		}
		l.logger.Error("Ошибка admission, запрос отклонён",
			slog.String("error", err.Error()),
		)
		return l.deny("error", ReasonVerification)
	}

	switch {
	case decision.Allowed:
		admissionsTotal.WithLabelValues("allowed").Inc()
	case decision.Reason == ReasonInvalidKey:
		admissionsTotal.WithLabelValues("invalid").Inc()
	default:
		admissionsTotal.WithLabelValues("limit").Inc()
	}
	return decision
}

// Stats возвращает read-only проекцию квоты. Устаревший last_reset
// отображается как used_today=0 без записи в хранилище.
func (l *QuotaLedger) Stats(ctx context.Context, key string) (*model.QuotaStats, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, &AuthError{Reason: ReasonInvalidKey}
	}

	rec, err := l.repo.GetByKey(ctx, key)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &AuthError{Reason: ReasonInvalidKey}
		}
		return nil, storageError("чтение квоты", err)
	}
	if !rec.Active {
		return nil, &AuthError{Reason: ReasonInvalidKey}
	}

	used := rec.UsedToday
	if !model.SameDate(rec.LastReset, model.DateOf(l.now(), l.loc)) {
		used = 0
	}
	remaining := rec.DailyLimit - used
	if remaining < 0 {
		remaining = 0
	}

	return &model.QuotaStats{
		Owner:      rec.Owner,
		Plan:       rec.Plan,
		DailyLimit: rec.DailyLimit,
		UsedToday:  used,
		Remaining:  remaining,
		TotalUsage: rec.TotalUsage,
	}, nil
}

func (l *QuotaLedger) deny(label, reason string) Decision {
	admissionsTotal.WithLabelValues(label).Inc()
	return Decision{Allowed: false, Reason: reason}
}

// admit — чистая логика admission над заблокированной записью.
// Мутирует rec (сброс дня, инкремент); changed=true, если запись нужно сохранить.
func admit(rec *model.QuotaRecord, today time.Time) (d Decision, changed bool) {
	if !rec.Active {
		return Decision{Reason: ReasonInvalidKey}, false
	}
	if !model.SameDate(rec.LastReset, today) {
		rec.UsedToday = 0
		rec.LastReset = today
		changed = true
	}
	if rec.UsedToday >= rec.DailyLimit {
		return Decision{Reason: ReasonLimitReached}, changed
	}
	rec.UsedToday++
	rec.TotalUsage++
	return Decision{Allowed: true}, true
}
