package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used in tests and for local
// development without object storage. It honors the same write
// conditions as the MinIO backend.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

type memoryObject struct {
	data        []byte
	etag        string
	contentType string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memoryObject)}
}

func (s *MemoryStore) Download(_ context.Context, path string) ([]byte, Stat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[path]
	if !ok {
		return nil, Stat{}, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	data := make([]byte, len(obj.data))
	copy(data, obj.data)
	return data, Stat{ETag: obj.etag, Size: int64(len(obj.data))}, nil
}

func (s *MemoryStore) Upload(_ context.Context, path string, data []byte, contentType string, cond WriteCondition) (Stat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.objects[path]
	if cond.IfAbsent && exists {
		return Stat{}, fmt.Errorf("%s: %w", path, ErrPreconditionFailed)
	}
	if cond.IfMatch != "" && (!exists || current.etag != cond.IfMatch) {
		return Stat{}, fmt.Errorf("%s: %w", path, ErrPreconditionFailed)
	}

	stored := make([]byte, len(data))
	copy(stored, data)
	sum := sha256.Sum256(stored)
	obj := memoryObject{data: stored, etag: hex.EncodeToString(sum[:8]), contentType: contentType}
	s.objects[path] = obj
	return Stat{ETag: obj.etag, Size: int64(len(stored))}, nil
}

func (s *MemoryStore) Exists(_ context.Context, path string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[path]
	return ok, nil
}

func (s *MemoryStore) PresignGet(_ context.Context, path string, expiry time.Duration) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.objects[path]; !ok {
		return "", fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	return "memory://" + path, nil
}
