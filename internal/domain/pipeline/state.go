// Пакет pipeline — конечный автомат обработки одного запроса resolve.
//
//	NEW → ADMITTED → RESOLVING → CACHE_CHECK → DONE
//	                                        ↘ FETCHING → PUBLISHING → PERSISTING → DONE
//
// FAILED достижим из любого нетерминального состояния.
// Tracker принадлежит одному запросу; мьютекс нужен только потому,
// что при политике async хвост pipeline уходит в фоновую горутину.
package pipeline

import (
	"fmt"
	"sync"
	"time"
)

// State — состояние обработки запроса.
type State string

const (
	StateNew        State = "NEW"
	StateAdmitted   State = "ADMITTED"
	StateResolving  State = "RESOLVING"
	StateCacheCheck State = "CACHE_CHECK"
	StateFetching   State = "FETCHING"
	StatePublishing State = "PUBLISHING"
	StatePersisting State = "PERSISTING"
	StateDone       State = "DONE"
	StateFailed     State = "FAILED"
)

// validTransitions — матрица допустимых переходов (кроме перехода в FAILED).
var validTransitions = map[State]map[State]bool{
	StateNew:        {StateAdmitted: true},
	StateAdmitted:   {StateResolving: true},
	StateResolving:  {StateCacheCheck: true},
	StateCacheCheck: {StateDone: true, StateFetching: true},
	StateFetching:   {StatePublishing: true},
	StatePublishing: {StatePersisting: true},
	StatePersisting: {StateDone: true},
	StateDone:       {},
	StateFailed:     {},
}

// TransitionRecord — запись о переходе.
type TransitionRecord struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// TransitionError — недопустимый переход.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("переход %s → %s недопустим", e.From, e.To)
}

// Tracker — состояние и история одного запроса.
type Tracker struct {
	mu      sync.Mutex
	current State
	history []TransitionRecord
	now     func() time.Time
}

// NewTracker создаёт автомат в состоянии NEW.
func NewTracker() *Tracker {
	return &Tracker{
		current: StateNew,
		history: make([]TransitionRecord, 0, 8),
		now:     time.Now,
	}
}

// Current возвращает текущее состояние.
func (t *Tracker) Current() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// To выполняет переход в target.
func (t *Tracker) To(target State) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !validTransitions[t.current][target] {
		return &TransitionError{From: t.current, To: target}
	}
	t.record(target, "")
	return nil
}

// Fail переводит автомат в FAILED с указанной причиной.
// Из терминальных состояний переход запрещён.
func (t *Tracker) Fail(reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if IsTerminal(t.current) {
		return &TransitionError{From: t.current, To: StateFailed}
	}
	t.record(StateFailed, reason)
	return nil
}

// History возвращает копию истории переходов.
func (t *Tracker) History() []TransitionRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	result := make([]TransitionRecord, len(t.history))
	copy(result, t.history)
	return result
}

// Path возвращает последовательность состояний для логов: "NEW>ADMITTED>...".
func (t *Tracker) Path() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	path := string(StateNew)
	for _, rec := range t.history {
		path += ">" + string(rec.To)
	}
	return path
}

func (t *Tracker) record(target State, reason string) {
	t.history = append(t.history, TransitionRecord{
		From:      t.current,
		To:        target,
		Reason:    reason,
		Timestamp: t.now().UTC(),
	})
	t.current = target
}

// IsTerminal сообщает, завершён ли автомат.
func IsTerminal(s State) bool {
	return s == StateDone || s == StateFailed
}
