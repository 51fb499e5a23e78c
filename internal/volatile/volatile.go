package volatile

import (
	"sync"
)

// Value is a mutex guarded value that is safe to share between goroutines.
type Value[T any] struct {
	mu    sync.RWMutex
	value T
}

func NewValue[T any](value T) *Value[T] {
	return &Value[T]{value: value}
}

func (v *Value[T]) Load() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.value
}

func (v *Value[T]) Store(value T) {
	v.mu.Lock()
	v.value = value
	v.mu.Unlock()
}

// Swap stores value and returns the previous one.
func (v *Value[T]) Swap(value T) T {
	v.mu.Lock()
	defer v.mu.Unlock()
	old := v.value
	v.value = value
	return old
}

// CompareAndSwap stores value only if the current value equals old.
func CompareAndSwap[T comparable](v *Value[T], old, value T) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.value != old {
		return false
	}
	v.value = value
	return true
}
