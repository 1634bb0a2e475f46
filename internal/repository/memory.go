package repository

import (
	"context"
	"sync"
	"time"
)

type lockEntry struct {
	token     string
	expiresAt time.Time
}

// MemoryCoordinationRepository is the single-instance fallback.
type MemoryCoordinationRepository struct {
	mu          sync.Mutex
	locks       map[string]lockEntry
	marks       map[string]time.Time
	deadLetters map[string][][]byte
}

func NewMemoryCoordinationRepository() *MemoryCoordinationRepository {
	return &MemoryCoordinationRepository{
		locks:       make(map[string]lockEntry),
		marks:       make(map[string]time.Time),
		deadLetters: make(map[string][][]byte),
	}
}

func (r *MemoryCoordinationRepository) AcquireLock(_ context.Context, key, token string, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if entry, ok := r.locks[key]; ok && now.Before(entry.expiresAt) {
		return false, nil
	}
	r.locks[key] = lockEntry{token: token, expiresAt: now.Add(ttl)}
	return true, nil
}

func (r *MemoryCoordinationRepository) ReleaseLock(_ context.Context, key, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.locks[key]; ok && entry.token == token {
		delete(r.locks, key)
	}
	return nil
}

func (r *MemoryCoordinationRepository) MarkOnce(_ context.Context, key string, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if expiresAt, ok := r.marks[key]; ok && now.Before(expiresAt) {
		return false, nil
	}
	r.marks[key] = now.Add(ttl)
	return true, nil
}

func (r *MemoryCoordinationRepository) Unmark(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.marks, key)
	return nil
}

func (r *MemoryCoordinationRepository) PushDeadLetter(_ context.Context, queue string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.deadLetters[queue] = append(r.deadLetters[queue], append([]byte(nil), payload...))
	return nil
}

// DeadLetters returns a copy of what was pushed to queue.
func (r *MemoryCoordinationRepository) DeadLetters(queue string) [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([][]byte, len(r.deadLetters[queue]))
	copy(out, r.deadLetters[queue])
	return out
}
