package service

import (
	"context"
	"sync"
)

// keyedLock — мьютекс на ключ. Слот ключа создаётся при первом обращении
// и удаляется, когда на него не остаётся ссылок.
type keyedLock struct {
	mu    sync.Mutex
	slots map[string]*lockSlot
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

func newKeyedLock() *keyedLock {
	return &keyedLock{slots: make(map[string]*lockSlot)}
}

// Lock захватывает ключ, ожидая с учётом ctx. Возвращает функцию освобождения.
func (k *keyedLock) Lock(ctx context.Context, key string) (func(), error) {
	slot := k.acquireSlot(key)

	select {
	case slot.ch <- struct{}{}:
		return k.unlocker(key, slot), nil
	case <-ctx.Done():
		k.releaseSlot(key, slot)
		return nil, ctx.Err()
	}
}

// TryLock захватывает ключ без ожидания.
func (k *keyedLock) TryLock(key string) (func(), bool) {
	slot := k.acquireSlot(key)

	select {
	case slot.ch <- struct{}{}:
		return k.unlocker(key, slot), true
	default:
		k.releaseSlot(key, slot)
		return nil, false
	}
}

// Len — количество живых слотов.
func (k *keyedLock) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.slots)
}

func (k *keyedLock) acquireSlot(key string) *lockSlot {
	k.mu.Lock()
	defer k.mu.Unlock()

	slot, ok := k.slots[key]
	if !ok {
		slot = &lockSlot{ch: make(chan struct{}, 1)}
		k.slots[key] = slot
	}
	slot.refs++
	return slot
}

func (k *keyedLock) releaseSlot(key string, slot *lockSlot) {
	k.mu.Lock()
	defer k.mu.Unlock()

	slot.refs--
	if slot.refs == 0 {
		delete(k.slots, key)
	}
}

func (k *keyedLock) unlocker(key string, slot *lockSlot) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-slot.ch
			k.releaseSlot(key, slot)
		})
	}
}
