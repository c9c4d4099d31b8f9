package model

import "time"

// QuotaRecord — ключ вызывающего и его дневная квота.
// used_today ≤ daily_limit проверяется при admission, до инкремента.
type QuotaRecord struct {
	APIKey     string
	Owner      string
	Plan       string
	Active     bool
	DailyLimit int
	UsedToday  int
	// LastReset — календарная дата последнего сброса (время 00:00 UTC).
	LastReset  time.Time
	TotalUsage int64
	CreatedAt  time.Time
}

// QuotaStats — read-only проекция QuotaRecord для endpoint stats.
type QuotaStats struct {
	Owner      string
	Plan       string
	DailyLimit int
	UsedToday  int
	Remaining  int
	TotalUsage int64
}

// DateOf возвращает календарную дату момента t в часовом поясе loc,
// нормализованную к полуночи UTC (так PostgreSQL DATE сканируется в time.Time).
func DateOf(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SameDate сравнивает две даты без учёта времени и часового пояса записи.
func SameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
