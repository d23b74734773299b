package storage

import (
	"context"
	"net/url"
	"sync"
	"time"
)

var _ BlobStore = (*MemoryBlobStore)(nil)

// MemoryBlobStore keeps artifacts in process memory.
// Use it for development and tests when no S3 endpoint is available.
type MemoryBlobStore struct {
	// BaseURL prefixes generated links.
	// Defaults to "https://storage.example.com" if not set
	BaseURL string

	mu      sync.RWMutex
	objects map[string]memoryObject
}

type memoryObject struct {
	contentType string
	body        []byte
}

// NewMemoryBlobStore creates an empty MemoryBlobStore
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{
		BaseURL: "https://storage.example.com",
		objects: make(map[string]memoryObject),
	}
}

// Put stores a copy of body
func (s *MemoryBlobStore) Put(ctx context.Context, key, contentType string, body []byte) error {
	if key == "" {
		return errEmptyKey
	}
	cp := make([]byte, len(body))
	copy(cp, body)

	s.mu.Lock()
	s.objects[key] = memoryObject{contentType: contentType, body: cp}
	s.mu.Unlock()
	return nil
}

// Get returns a copy of the stored body
func (s *MemoryBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, errEmptyKey
	}
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrObjectNotFound
	}
	cp := make([]byte, len(obj.body))
	copy(cp, obj.body)
	return cp, nil
}

// PresignInline builds a fake link; it does not check that the key exists.
func (s *MemoryBlobStore) PresignInline(ctx context.Context, key string, expiresIn time.Duration) (string, time.Time, error) {
	if key == "" {
		return "", time.Time{}, errEmptyKey
	}
	if expiresIn <= 0 {
		expiresIn = 15 * time.Minute
	}
	expiresAt := time.Now().Add(expiresIn)

	q := url.Values{}
	q.Set("disposition", "inline")
	q.Set("expires", expiresAt.UTC().Format(time.RFC3339))
	return s.BaseURL + "/" + key + "?" + q.Encode(), expiresAt, nil
}

// ContentType returns the content type recorded for key
func (s *MemoryBlobStore) ContentType(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.objects[key].contentType
}
